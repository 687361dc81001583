// Package server coordinates process shutdown: it stops accepting work,
// waits for in-flight queries, then closes registered resources in reverse
// order of registration.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/arkilian/cubecore/internal/logging"
	"github.com/rs/zerolog"
)

// ShutdownConfig bounds the shutdown phases.
type ShutdownConfig struct {
	// DrainTimeout is how long in-flight requests may run after shutdown
	// starts. Default 15s.
	DrainTimeout time.Duration

	// CloseTimeout bounds each HTTP server's graceful stop. Default 10s.
	CloseTimeout time.Duration

	Logger *zerolog.Logger
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		DrainTimeout: 15 * time.Second,
		CloseTimeout: 10 * time.Second,
	}
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// ShutdownManager tracks in-flight requests and owns the resources to
// release on shutdown.
type ShutdownManager struct {
	cfg    ShutdownConfig
	logger zerolog.Logger

	inFlight atomic.Int64
	stopping atomic.Bool
	done     chan struct{}
	once     sync.Once
	err      error

	mu      sync.Mutex
	closers []namedCloser
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	def := DefaultShutdownConfig()
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	logger := logging.Component("shutdown")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &ShutdownManager{cfg: cfg, logger: logger, done: make(chan struct{})}
}

// Register adds a resource to close on shutdown.
func (sm *ShutdownManager) Register(name string, c io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, closer: c})
}

// RegisterServer stops srv gracefully on shutdown.
func (sm *ShutdownManager) RegisterServer(name string, srv *http.Server) {
	sm.Register(name, CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sm.cfg.CloseTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
}

// WaitForSignal blocks until SIGINT, SIGTERM, ctx cancellation or another
// caller's Shutdown, then shuts down.
func (sm *ShutdownManager) WaitForSignal(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		return sm.Shutdown(context.Background(), "signal or context done")
	case <-sm.done:
		return sm.err
	}
}

// Shutdown drains in-flight requests and closes resources, newest first.
// Only the first call does work; later calls return its result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		sm.stopping.Store(true)
		sm.logger.Info().Str("reason", reason).Int64("in_flight", sm.inFlight.Load()).Msg("shutting down")

		var errs []error
		if err := sm.drain(ctx); err != nil {
			errs = append(errs, err)
		}

		sm.mu.Lock()
		closers := append([]namedCloser(nil), sm.closers...)
		sm.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			if err := c.closer.Close(); err != nil {
				sm.logger.Error().Err(err).Str("resource", c.name).Msg("close failed")
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}

		sm.err = errors.Join(errs...)
		close(sm.done)
		sm.logger.Info().Msg("shutdown complete")
	})
	<-sm.done
	return sm.err
}

func (sm *ShutdownManager) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for sm.inFlight.Load() > 0 {
		select {
		case <-ctx.Done():
			if n := sm.inFlight.Load(); n > 0 {
				return fmt.Errorf("%d requests still in flight after %s", n, sm.cfg.DrainTimeout)
			}
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// TrackRequest counts a request in. It returns false once shutdown started.
func (sm *ShutdownManager) TrackRequest() bool {
	if sm.stopping.Load() {
		return false
	}
	sm.inFlight.Add(1)
	return true
}

func (sm *ShutdownManager) UntrackRequest()       { sm.inFlight.Add(-1) }
func (sm *ShutdownManager) InFlight() int64       { return sm.inFlight.Load() }
func (sm *ShutdownManager) IsShuttingDown() bool  { return sm.stopping.Load() }
func (sm *ShutdownManager) Done() <-chan struct{} { return sm.done }

// Middleware rejects requests with 503 once shutdown has started.
func (sm *ShutdownManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sm.TrackRequest() {
			w.Header().Set("Connection", "close")
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer sm.UntrackRequest()
		next.ServeHTTP(w, r)
	})
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
