package search

import (
	"context"
	"log/slog"
	"sync"

	"github.com/listenupapp/indexbridge/internal/engine"
	"github.com/listenupapp/indexbridge/internal/index"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/query"
	"github.com/listenupapp/indexbridge/internal/schema"
	"github.com/listenupapp/indexbridge/internal/writer"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Backend  engine.Backend
	States   *index.Service
	Executor *query.Executor
	Writer   writer.Options
	Logger   *slog.Logger
}

// Manager is the registry of logical indices. It shares, but does not own,
// the backend client.
type Manager struct {
	backend  engine.Backend
	states   *index.Service
	executor *query.Executor
	opts     writer.Options
	logger   *slog.Logger

	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewManager creates an empty registry.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		backend:  opts.Backend,
		states:   opts.States,
		executor: opts.Executor,
		opts:     opts.Writer,
		logger:   logger.Component(opts.Logger, "search"),
		indexes:  make(map[string]*Index),
	}
}

// Register declares the schema of a logical index and returns it. Registering
// an existing name updates its schema for the next rebuild.
func (m *Manager) Register(ctx context.Context, name string, fields schema.Schema, keywordFields []string) (*Index, error) {
	d, err := m.states.Register(ctx, name, fields, keywordFields)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexFor(d.Name), nil
}

// indexFor returns the Index of key, creating it. Caller holds m.mu.
func (m *Manager) indexFor(key string) *Index {
	if idx, ok := m.indexes[key]; ok {
		return idx
	}
	idx := &Index{
		name:     key,
		states:   m.states,
		backend:  m.backend,
		executor: m.executor,
		opts:     m.opts,
		logger:   m.logger.With("index", key),
	}
	m.indexes[key] = idx
	return idx
}

// Get returns the index named name. Indices restored from persisted
// descriptors are served even if they were not registered in this process.
func (m *Manager) Get(name string) (*Index, error) {
	d, err := m.states.Descriptor(name)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	idx, ok := m.indexes[d.Name]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexFor(d.Name), nil
}

// Names returns the known logical index names, sorted.
func (m *Manager) Names() []string {
	return m.states.Names()
}

// WriterFor returns the writer of the index named name.
func (m *Manager) WriterFor(name string) (*writer.Writer, error) {
	idx, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return idx.Writer()
}

// Invalidate drops cached query state of name. Call it after a swap.
func (m *Manager) Invalidate(name string) {
	idx, err := m.Get(name)
	if err != nil {
		m.logger.Debug("invalidate skipped", "index", name, "error", err)
		return
	}
	idx.invalidate()
	m.logger.Debug("invalidated field inventory", "index", name)
}

// Delete drops an index and forgets it.
func (m *Manager) Delete(ctx context.Context, name string) error {
	idx, err := m.Get(name)
	if err != nil {
		return err
	}
	if err := m.states.Delete(ctx, idx.name); err != nil {
		return err
	}
	idx.invalidate()

	m.mu.Lock()
	delete(m.indexes, idx.name)
	m.mu.Unlock()
	return nil
}

// Health checks the backend shared by every index.
func (m *Manager) Health(ctx context.Context) query.Health {
	return m.executor.Health(ctx)
}
