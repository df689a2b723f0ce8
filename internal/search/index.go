// Package search exposes logical indices: each Index composes the index
// state service, a document writer and the query executor behind one name,
// and the Manager keeps the registry of indices served by the process.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/indexbridge/internal/engine"
	"github.com/listenupapp/indexbridge/internal/index"
	"github.com/listenupapp/indexbridge/internal/query"
	"github.com/listenupapp/indexbridge/internal/schema"
	"github.com/listenupapp/indexbridge/internal/writer"
)

// Index is one logical search index.
//
// Thread safety: All public methods are safe for concurrent use.
type Index struct {
	name     string
	states   *index.Service
	backend  engine.Backend
	executor *query.Executor
	opts     writer.Options
	logger   *slog.Logger

	mu        sync.Mutex
	writer    *writer.Writer
	writerFor *schema.Mapping // Mapping the cached writer was built from
}

// Metadata describes an index for diagnostics.
type Metadata struct {
	Name          string            `json:"name"`
	Alias         string            `json:"alias"`
	Primary       string            `json:"primary"`
	Shadow        string            `json:"shadow"`
	State         index.State       `json:"state"`
	DocumentCount uint64            `json:"document_count"`
	Analyzer      string            `json:"analyzer"`
	Fields        []schema.Property `json:"fields"`
	KeywordFields []string          `json:"keyword_fields,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Name returns the logical name.
func (i *Index) Name() string {
	return i.name
}

// EnsureExists provisions the physical indices behind the alias.
func (i *Index) EnsureExists(ctx context.Context) error {
	return i.states.EnsureExists(ctx, i.name)
}

// Exists reports whether the alias resolves to a physical index.
func (i *Index) Exists(ctx context.Context) (bool, error) {
	return i.states.Exists(ctx, i.name)
}

// State returns the lifecycle state.
func (i *Index) State() (index.State, error) {
	return i.states.GetState(i.name)
}

// DocumentCount returns the number of searchable documents.
func (i *Index) DocumentCount(ctx context.Context) (uint64, error) {
	return i.states.DocumentCount(ctx, i.name)
}

// Writer returns a writer for the current schema of the index.
func (i *Index) Writer() (*writer.Writer, error) {
	d, err := i.states.Descriptor(i.name)
	if err != nil {
		return nil, err
	}
	m, err := i.states.Mapping(i.name)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.writer == nil || i.writerFor != m {
		i.writer = writer.New(i.backend, d.Schema, m, i.opts)
		i.writerFor = m
	}
	return i.writer, nil
}

// targets returns the physical indices live writes go to: the primary, and
// the shadow as well while a rebuild is filling it.
func (i *Index) targets(ctx context.Context) ([]string, error) {
	if err := i.states.EnsureExists(ctx, i.name); err != nil {
		return nil, err
	}
	d, err := i.states.Descriptor(i.name)
	if err != nil {
		return nil, err
	}

	targets := []string{d.Primary}
	if d.State.Rebuilding() {
		targets = append(targets, d.Shadow)
	}
	return targets, nil
}

// Upsert writes docs to the index. Per-document failures are reported in the
// result; the call fails only when the backend cannot be reached.
func (i *Index) Upsert(ctx context.Context, docs []writer.Document, c writer.Consistency) (*writer.Result, error) {
	w, err := i.Writer()
	if err != nil {
		return nil, err
	}
	targets, err := i.targets(ctx)
	if err != nil {
		return nil, err
	}

	result, err := w.Upsert(ctx, targets[0], docs, c)
	if err != nil {
		return result, err
	}
	for _, shadow := range targets[1:] {
		if _, err := w.Upsert(ctx, shadow, docs, c); err != nil {
			i.logger.Warn("live write to rebuilding shadow failed", "index", i.name, "error", err)
		}
	}
	return result, nil
}

// Delete removes ids from the index.
func (i *Index) Delete(ctx context.Context, ids []string, c writer.Consistency) (*writer.Result, error) {
	w, err := i.Writer()
	if err != nil {
		return nil, err
	}
	targets, err := i.targets(ctx)
	if err != nil {
		return nil, err
	}

	result, err := w.Delete(ctx, targets[0], ids, c)
	if err != nil {
		return result, err
	}
	for _, shadow := range targets[1:] {
		if _, err := w.Delete(ctx, shadow, ids, c); err != nil {
			i.logger.Warn("live delete from rebuilding shadow failed", "index", i.name, "error", err)
		}
	}
	return result, nil
}

// Search runs a query-language search.
func (i *Index) Search(ctx context.Context, req query.Request) (*query.Results, error) {
	return i.executor.Search(ctx, i.alias(), req)
}

// SearchText runs a free-text search across every analyzed field.
func (i *Index) SearchText(ctx context.Context, text string, req query.Request) (*query.Results, error) {
	return i.executor.SearchText(ctx, i.alias(), text, req)
}

// Health checks the backend.
func (i *Index) Health(ctx context.Context) query.Health {
	return i.executor.Health(ctx)
}

// Fields returns the declared fields of the index, reserved ones included.
func (i *Index) Fields() ([]schema.Property, error) {
	m, err := i.states.Mapping(i.name)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	out := make([]schema.Property, len(m.Properties))
	copy(out, m.Properties)
	return out, nil
}

// Metadata gathers diagnostics. The document count is zero when the index
// has not been provisioned yet.
func (i *Index) Metadata(ctx context.Context) (*Metadata, error) {
	d, err := i.states.Descriptor(i.name)
	if err != nil {
		return nil, err
	}
	fields, err := i.Fields()
	if err != nil {
		return nil, err
	}

	md := &Metadata{
		Name:          d.Name,
		Alias:         d.Alias,
		Primary:       d.Primary,
		Shadow:        d.Shadow,
		State:         d.State,
		Analyzer:      d.Analyzer,
		Fields:        fields,
		KeywordFields: d.KeywordFields,
		UpdatedAt:     d.UpdatedAt,
	}

	exists, err := i.states.Exists(ctx, i.name)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", i.name, err)
	}
	if exists {
		if md.DocumentCount, err = i.states.DocumentCount(ctx, i.name); err != nil {
			return nil, fmt.Errorf("count %s: %w", i.name, err)
		}
	}
	return md, nil
}

// invalidate drops cached state that depends on the physical index.
func (i *Index) invalidate() {
	i.executor.Invalidate(i.alias())
}

func (i *Index) alias() string {
	d, err := i.states.Descriptor(i.name)
	if err != nil || d.Alias == "" {
		return i.name
	}
	return d.Alias
}
