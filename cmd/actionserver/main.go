// Package main runs the action card engine as a long-lived service: it loads
// content and table rosters, serves gRPC health, and sweeps the approval
// mailbox.
package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/config"
	"github.com/cory-johannsen/actioncards/internal/engine"
	"github.com/cory-johannsen/actioncards/internal/observability"
	"github.com/cory-johannsen/actioncards/internal/server"
	"github.com/cory-johannsen/actioncards/internal/storage/postgres"
	redisstore "github.com/cory-johannsen/actioncards/internal/storage/redis"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	healthInterval := flag.Duration("health-interval", 30*time.Second, "database health check interval")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "actionserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting action server",
		zap.String("grpc_addr", cfg.Server.Addr()),
		zap.String("approval_backend", cfg.Engine.ApprovalBackend),
		zap.Strings("tables", cfg.Server.Tables),
	)

	lifecycle := server.NewLifecycle(logger, server.WithStopTimeout(cfg.Server.StopTimeout))

	var (
		opts  engine.Options
		pool  *postgres.Pool
		repos postgres.Repositories
	)
	switch cfg.Engine.ApprovalBackend {
	case config.BackendPostgres:
		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		repos = pool.Repositories()
		opts.Approvals = repos.Approvals
		opts.Sink = repos.Narrative
	case config.BackendRedis:
		client, err := redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
		opts.Approvals = redisstore.NewApprovalStore(client, cfg.Redis.KeyPrefix, logger)
		lifecycle.Add("redis", &server.FuncService{
			StartFn: func() error { return nil },
			StopFn: func() {
				if err := client.Close(); err != nil {
					logger.Warn("closing redis client", zap.Error(err))
				}
			},
		})
	}

	eng, err := engine.New(cfg, logger, opts)
	if err != nil {
		logger.Fatal("assembling engine", zap.Error(err))
	}
	defer eng.Close()

	if pool != nil {
		entities := repos.Entities
		seats := make(map[string]string)
		for _, table := range cfg.Server.Tables {
			roster, err := entities.LoadTable(ctx, table)
			if err != nil {
				logger.Fatal("loading table roster", zap.String("table", table), zap.Error(err))
			}
			if err := eng.LoadRoster(roster); err != nil {
				logger.Fatal("seating table roster", zap.String("table", table), zap.Error(err))
			}
			for _, e := range roster {
				seats[e.ID] = table
			}
			logger.Info("table roster loaded", zap.String("table", table), zap.Int("entities", len(roster)))
		}

		stop := make(chan struct{})
		var once sync.Once
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(*healthInterval)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return nil
					case <-ticker.C:
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
						}
					}
				}
			},
			StopFn: func() {
				once.Do(func() { close(stop) })
				saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				for _, e := range eng.Roster() {
					table, ok := seats[e.ID]
					if !ok {
						continue
					}
					if err := entities.Save(saveCtx, table, e); err != nil {
						logger.Warn("saving entity", zap.String("entity", e.ID), zap.Error(err))
					}
				}
				pool.Close()
			},
		})
	}

	sweeper := server.NewSweeper(cfg.Server.SweepInterval, cfg.Server.Tables, eng.Mailbox, logger)
	lifecycle.Add("sweeper", sweeper)

	grpcService := server.NewGRPCService(cfg.Server.Addr(), logger)
	lifecycle.Add("grpc", grpcService)
	grpcService.SetServing(true)

	logger.Info("action server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Strings("cards", eng.Cards.IDs()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
