// Package lifecycle decides whether this process may run rebuilds: it must
// own the data directory and have finished bootstrapping.
package lifecycle

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/listenupapp/indexbridge/internal/logger"
)

const lockFileName = ".indexbridge.lock"

// Gate tracks ownership and readiness.
//
// Ownership is an exclusive file lock on the data directory, so only one
// process sharing that directory runs rebuilds. Without a data directory the
// process owns its in-memory state outright.
type Gate struct {
	lock   *flock.Flock
	logger *slog.Logger

	mu    sync.Mutex
	owner atomic.Bool
	ready atomic.Bool
}

// NewGate creates a gate for dataPath. An empty path means in-memory.
func NewGate(dataPath string, log *slog.Logger) *Gate {
	g := &Gate{logger: logger.Component(log, "lifecycle")}
	if dataPath != "" {
		g.lock = flock.New(filepath.Join(dataPath, lockFileName))
	}
	return g
}

// Acquire tries to become the owner without blocking. It reports whether this
// process now owns the data directory.
func (g *Gate) Acquire() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.owner.Load() {
		return true, nil
	}
	if g.lock == nil {
		g.owner.Store(true)
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(g.lock.Path()), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := g.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire ownership lock: %w", err)
	}
	if !acquired {
		g.logger.Warn("another process owns the data directory, rebuilds disabled", "lock", g.lock.Path())
		return false, nil
	}

	g.owner.Store(true)
	g.logger.Info("acquired ownership", "lock", g.lock.Path())
	return true, nil
}

// MarkReady records that bootstrapping has finished.
func (g *Gate) MarkReady() {
	if !g.ready.Swap(true) {
		g.logger.Info("runtime ready")
	}
}

// IsOwner reports whether this process owns the data directory.
func (g *Gate) IsOwner() bool {
	return g.owner.Load()
}

// IsReady reports whether bootstrapping has finished.
func (g *Gate) IsReady() bool {
	return g.ready.Load()
}

// Release gives up ownership and readiness.
func (g *Gate) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ready.Store(false)
	if !g.owner.Swap(false) || g.lock == nil {
		return nil
	}
	if err := g.lock.Unlock(); err != nil {
		return fmt.Errorf("release ownership lock: %w", err)
	}
	g.logger.Info("released ownership")
	return nil
}
