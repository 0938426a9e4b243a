// Package shutdown coordinates graceful shutdown of long-running commands
// such as serve: it turns signals into cancellation and runs registered
// cleanups in reverse order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"focuslist/internal/utils"
)

// CleanupFunc releases one resource. ctx expires when the shutdown
// deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager handles graceful shutdown coordination.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	cleanupOnce sync.Once
	cleanupErr  error
	cleanupDone chan struct{}
}

// NewManager creates a new shutdown manager.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:         ctx,
		cancel:      cancel,
		cleanupDone: make(chan struct{}),
	}
}

// RegisterCleanup adds fn to run on shutdown. Cleanups run last registered
// first, so register resources in the order they are opened.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Shutdown cancels Context. Safe to call many times.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()
		m.cancel()
	})
}

// NotifyOn calls Shutdown when one of sigs arrives. The returned function
// stops listening.
func (m *Manager) NotifyOn(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			utils.Infof("Received %s, shutting down", sig)
			m.Shutdown()
		case <-quit:
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}

// Wait runs the cleanups once and returns their joined errors, or ctx's
// error when the deadline passes first.
func (m *Manager) Wait(ctx context.Context) error {
	m.cleanupOnce.Do(func() {
		go func() {
			m.cleanupErr = m.runCleanups(ctx)
			close(m.cleanupDone)
		}()
	})

	select {
	case <-m.cleanupDone:
		return m.cleanupErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runCleanups(ctx context.Context) error {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(ctx); err != nil {
			utils.Warnf("Cleanup %s failed: %v", c.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		utils.Debugf("Cleanup %s done", c.name)
	}
	return errors.Join(errs...)
}

// IsShutdown returns true if shutdown has been initiated.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Context is cancelled when shutdown is initiated.
func (m *Manager) Context() context.Context {
	return m.ctx
}
