// Package main applies the account, entity, approval, and narrative schema
// migrations to the configured PostgreSQL database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/config"
	"github.com/cory-johannsen/actioncards/internal/observability"
)

// zapMigrateLogger adapts zap to migrate.Logger.
type zapMigrateLogger struct {
	sugar   *zap.SugaredLogger
	verbose bool
}

func (l zapMigrateLogger) Printf(format string, v ...interface{}) {
	l.sugar.Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (l zapMigrateLogger) Verbose() bool { return l.verbose }

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	direction := flag.String("direction", "up", "migration direction: up, down, or version")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	force := flag.Int("force", -1, "mark the schema as this version and clear the dirty flag")
	migrationsDir := flag.String("migrations", "migrations", "path to migration files")
	verbose := flag.Bool("verbose", false, "log each applied migration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging, "migrate")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	m, err := migrate.New("file://"+*migrationsDir, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("creating migrator", zap.String("migrations", *migrationsDir), zap.Error(err))
	}
	defer m.Close()
	m.Log = zapMigrateLogger{sugar: logger.Sugar(), verbose: *verbose}

	if *force >= 0 {
		if err := m.Force(*force); err != nil {
			logger.Fatal("forcing version", zap.Int("version", *force), zap.Error(err))
		}
		fmt.Fprintf(os.Stdout, "forced version=%d [%s]\n", *force, time.Since(start))
		return
	}

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
	default:
		logger.Fatal("invalid direction", zap.String("direction", *direction))
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migration failed", zap.String("direction", *direction), zap.Error(err))
	}

	version, dirty, verr := m.Version()
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		fmt.Fprintf(os.Stdout, "schema empty [%s]\n", time.Since(start))
	case verr != nil:
		logger.Fatal("reading schema version", zap.Error(verr))
	case *direction == "version" || errors.Is(err, migrate.ErrNoChange):
		fmt.Fprintf(os.Stdout, "version=%d dirty=%v [%s]\n", version, dirty, time.Since(start))
	default:
		fmt.Fprintf(os.Stdout, "migrated %s to version=%d dirty=%v [%s]\n", *direction, version, dirty, time.Since(start))
	}
}
