// Package server runs the engine's long-lived services: the gRPC health
// endpoint, the approval mailbox sweeper, and storage health checks, under a
// lifecycle with graceful shutdown on signal.
package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultStopTimeout bounds how long shutdown waits on one service's Stop.
const DefaultStopTimeout = 10 * time.Second

// Service is a long-running component. Start blocks until the service stops
// or fails; a Start returning nil early is not a failure.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop function pair to Service. A nil StopFn is
// a no-op.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls StartFn.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls StopFn when set.
func (f *FuncService) Stop() {
	if f.StopFn != nil {
		f.StopFn()
	}
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithStopTimeout replaces DefaultStopTimeout. Non-positive values are ignored.
func WithStopTimeout(d time.Duration) Option {
	return func(l *Lifecycle) {
		if d > 0 {
			l.stopTimeout = d
		}
	}
}

type namedService struct {
	name    string
	service Service
}

// Lifecycle starts services concurrently in registration order and stops them
// in reverse order.
type Lifecycle struct {
	logger      *zap.Logger
	stopTimeout time.Duration
	ready       chan struct{}

	mu       sync.Mutex
	services []namedService
}

// NewLifecycle creates a Lifecycle.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		logger:      logger,
		stopTimeout: DefaultStopTimeout,
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add registers svc under name. Services added after Run has begun are
// ignored.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Ready is closed once every registered service has been launched.
func (l *Lifecycle) Ready() <-chan struct{} { return l.ready }

// Run launches every service and blocks until SIGINT or SIGTERM arrives, ctx
// is cancelled, or a service fails.
//
// Postcondition: Stop has been called on every service, newest first. The
// error is the first service failure, or nil after a signal or cancellation.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	failed := make(chan error, len(services))
	for _, ns := range services {
		go l.start(ns, failed)
	}
	close(l.ready)
	l.logger.Info("services launched", zap.Int("count", len(services)))

	var runErr error
	select {
	case runErr = <-failed:
		l.logger.Error("service failed, shutting down", zap.Error(runErr))
	case <-ctx.Done():
		l.logger.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)))
	}

	l.stopAll(services)
	l.logger.Info("shutdown complete", zap.Duration("uptime", time.Since(start)))
	return runErr
}

func (l *Lifecycle) start(ns namedService, failed chan<- error) {
	began := time.Now()
	l.logger.Info("starting service", zap.String("service", ns.name))
	if err := ns.service.Start(); err != nil {
		failed <- fmt.Errorf("service %s: %w", ns.name, err)
		return
	}
	l.logger.Info("service exited", zap.String("service", ns.name), zap.Duration("uptime", time.Since(began)))
}

// stopAll stops services newest first. A Stop exceeding the stop timeout is
// abandoned so one stuck service cannot hold the process open.
func (l *Lifecycle) stopAll(services []namedService) {
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		began := time.Now()
		done := make(chan struct{})
		go func() {
			defer close(done)
			ns.service.Stop()
		}()
		select {
		case <-done:
			l.logger.Info("service stopped", zap.String("service", ns.name), zap.Duration("elapsed", time.Since(began)))
		case <-time.After(l.stopTimeout):
			l.logger.Warn("service stop timed out", zap.String("service", ns.name), zap.Duration("timeout", l.stopTimeout))
		}
	}
}
