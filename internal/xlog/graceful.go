package xlog

import (
	"context"
	"errors"
	"sync"
	"time"
)

// GracefulShutdown runs registered cleanup functions in LIFO order with a
// deadline, logging failures instead of losing them.
type GracefulShutdown struct {
	mu      sync.Mutex
	fns     []func() error
	timeout time.Duration
	logger  *Logger
}

// NewGracefulShutdown creates a shutdown manager with the given deadline.
func NewGracefulShutdown(timeout time.Duration, logger *Logger) *GracefulShutdown {
	if logger == nil {
		logger = Default("shutdown")
	}
	return &GracefulShutdown{timeout: timeout, logger: logger}
}

// Register adds a cleanup function, run in reverse registration order.
func (g *GracefulShutdown) Register(fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fns = append(g.fns, fn)
}

// Shutdown runs all registered functions, returning the first error (if any)
// or a timeout error if the deadline elapses first.
func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	fns := make([]func() error, len(g.fns))
	copy(fns, g.fns)
	g.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var first error
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](); err != nil {
				g.logger.Error("shutdown hook failed", Int("index", i), Err(err))
				if first == nil {
					first = err
				}
			}
		}
		done <- first
	}()

	select {
	case err := <-done:
		return err
	case <-shutdownCtx.Done():
		return errors.New("graceful shutdown timed out")
	}
}
