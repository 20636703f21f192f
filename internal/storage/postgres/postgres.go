// Package postgres persists accounts, table rosters, pending approval
// requests, and the narrative log in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/actioncards/internal/config"
)

// Pool owns the connection pool shared by every repository.
type Pool struct {
	pool *pgxpool.Pool
}

// Repositories bundles the repositories backed by one Pool.
type Repositories struct {
	Accounts  *AccountRepository
	Entities  *EntityRepository
	Approvals *ApprovalRepository
	Narrative *NarrativeRepository
}

// PoolConfig translates cfg into a pgx pool configuration without connecting.
//
// Postcondition: Returns a config whose limits match cfg, or a parse error.
func PoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	return pc, nil
}

// NewPool connects to the database described by cfg.
//
// Postcondition: Returns a pool that has answered a ping, or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	pc, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Pool{pool: pool}, nil
}

// Health pings the database, giving up after timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		s := p.pool.Stat()
		return fmt.Errorf("database unreachable (%d/%d connections in use): %w", s.AcquiredConns(), s.MaxConns(), err)
	}
	return nil
}

// Repositories returns every repository backed by p.
func (p *Pool) Repositories() Repositories {
	return Repositories{
		Accounts:  NewAccountRepository(p.pool),
		Entities:  NewEntityRepository(p.pool),
		Approvals: NewApprovalRepository(p.pool),
		Narrative: NewNarrativeRepository(p.pool),
	}
}

// Close releases every connection. The pool is unusable afterwards.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgx pool.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
