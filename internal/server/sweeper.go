package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/game/approval"
)

// PendingLister lists the approval requests waiting at a table.
type PendingLister interface {
	Pending(ctx context.Context, tableID string) ([]approval.Request, error)
}

// Sweeper periodically reports the approval requests still waiting at each
// table. Requests never expire, so the sweep only surfaces them; it removes
// nothing.
//
// Invariant: each table is reported at most once per interval.
type Sweeper struct {
	interval time.Duration
	tables   []string
	mailbox  PendingLister
	logger   *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSweeper returns a Sweeper that reports tables every interval.
//
// Precondition: interval must be > 0; mailbox and logger must be non-nil.
func NewSweeper(interval time.Duration, tables []string, mailbox PendingLister, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		panic("server.NewSweeper: interval must be > 0")
	}
	return &Sweeper{
		interval: interval,
		tables:   append([]string(nil), tables...),
		mailbox:  mailbox,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs the sweep loop and blocks until Stop.
func (s *Sweeper) Start() error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return nil
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Stop ends the sweep loop. It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Sweep reports every table once.
//
// Postcondition: Tables with no pending requests are not logged.
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, table := range s.tables {
		reqs, err := s.mailbox.Pending(ctx, table)
		if err != nil {
			s.logger.Warn("listing pending approvals failed", zap.String("table", table), zap.Error(err))
			continue
		}
		if len(reqs) == 0 {
			continue
		}
		oldest := reqs[0].CreatedAt
		for _, r := range reqs[1:] {
			if r.CreatedAt.Before(oldest) {
				oldest = r.CreatedAt
			}
		}
		s.logger.Info("pending approvals",
			zap.String("table", table),
			zap.Int("count", len(reqs)),
			zap.Duration("oldest_age", time.Since(oldest)),
		)
	}
}
