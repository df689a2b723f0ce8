package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/logger"
)

const indexSuffix = ".bleve"

// errClosed is the cause reported once the backend has been closed.
var errClosed = errors.New("backend closed")

// Options configures the bleve backend.
type Options struct {
	DataPath string       // Directory for physical indices (unused in memory)
	InMemory bool         // Keep every index in memory
	Logger   *slog.Logger // Logger for operations (uses discard if nil)
}

type aliasEntry struct {
	alias  bleve.IndexAlias
	target string
}

// Bleve implements Backend with bleve indices. Aliases are bleve index
// aliases, so repointing one is atomic for concurrent searches.
//
// Thread safety: All public methods are safe for concurrent use. Searches
// run outside the backend lock so a swap never waits for slow queries
// other than those already running against the alias.
type Bleve struct {
	mu       sync.RWMutex
	root     string
	inMemory bool
	indexes  map[string]bleve.Index
	aliases  map[string]*aliasEntry
	closed   bool
	logger   *slog.Logger
}

// NewBleve creates the backend and opens any physical indices found on disk.
// Indices that fail to open are removed so they can be recreated.
func NewBleve(opts Options) (*Bleve, error) {
	b := &Bleve{
		inMemory: opts.InMemory,
		indexes:  make(map[string]bleve.Index),
		aliases:  make(map[string]*aliasEntry),
		logger:   logger.Component(opts.Logger, "engine"),
	}

	if b.inMemory {
		return b, nil
	}
	if opts.DataPath == "" {
		return nil, errors.New("data path is required for an on-disk backend")
	}

	b.root = filepath.Join(opts.DataPath, "indices")
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("read index directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), indexSuffix) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), indexSuffix)
		path := b.path(name)

		idx, openErr := bleve.Open(path)
		if openErr != nil {
			b.logger.Warn("failed to open existing index, removing",
				"index", name,
				"error", openErr,
			)
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("remove unreadable index %s: %w", name, removeErr)
			}
			continue
		}
		idx.SetName(name)
		b.indexes[name] = idx
	}

	b.logger.Info("opened search backend", "path", b.root, "indexes", len(b.indexes))
	return b, nil
}

func (b *Bleve) path(name string) string {
	return filepath.Join(b.root, name+indexSuffix)
}

// CreateIndex creates a physical index with the given mapping.
func (b *Bleve) CreateIndex(ctx context.Context, name string, m mapping.IndexMapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domainerrors.Connectivity(errClosed)
	}
	if _, ok := b.indexes[name]; ok {
		return domainerrors.AlreadyExistsf("index %q already exists", name)
	}
	if _, ok := b.aliases[name]; ok {
		return domainerrors.Conflictf("%q is already used as an alias", name)
	}

	var (
		idx bleve.Index
		err error
	)
	if b.inMemory {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.New(b.path(name), m)
	}
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	idx.SetName(name)
	b.indexes[name] = idx

	b.logger.Debug("created index", "index", name)
	return nil
}

// DropIndex closes and removes a physical index and detaches it from any alias.
func (b *Bleve) DropIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domainerrors.Connectivity(errClosed)
	}
	idx, ok := b.indexes[name]
	if !ok {
		return nil
	}

	for aliasName, entry := range b.aliases {
		if entry.target == name {
			entry.alias.Remove(idx)
			entry.target = ""
			b.logger.Warn("dropped index still behind alias", "index", name, "alias", aliasName)
		}
	}

	delete(b.indexes, name)
	if err := idx.Close(); err != nil {
		b.logger.Warn("failed to close index", "index", name, "error", err)
	}
	if !b.inMemory {
		if err := os.RemoveAll(b.path(name)); err != nil {
			return fmt.Errorf("remove index %s: %w", name, err)
		}
	}

	b.logger.Debug("dropped index", "index", name)
	return nil
}

// IndexExists reports whether a physical index or an alias with a target exists.
func (b *Bleve) IndexExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, domainerrors.Connectivity(errClosed)
	}
	if _, ok := b.indexes[name]; ok {
		return true, nil
	}
	entry, ok := b.aliases[name]
	return ok && entry.target != "", nil
}

// PointAlias atomically repoints alias to physical.
func (b *Bleve) PointAlias(ctx context.Context, alias, physical string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domainerrors.Connectivity(errClosed)
	}
	idx, ok := b.indexes[physical]
	if !ok {
		return domainerrors.NotFoundf("index %q not found", physical)
	}
	if _, clash := b.indexes[alias]; clash {
		return domainerrors.Conflictf("%q is a physical index, not an alias", alias)
	}

	entry, ok := b.aliases[alias]
	if !ok {
		b.aliases[alias] = &aliasEntry{alias: bleve.NewIndexAlias(idx), target: physical}
		b.logger.Debug("created alias", "alias", alias, "index", physical)
		return nil
	}
	if entry.target == physical {
		return nil
	}

	if old, ok := b.indexes[entry.target]; ok {
		entry.alias.Swap([]bleve.Index{idx}, []bleve.Index{old})
	} else {
		entry.alias.Add(idx)
	}
	b.logger.Debug("repointed alias", "alias", alias, "from", entry.target, "to", physical)
	entry.target = physical

	return nil
}

// ResolveAlias returns the physical index behind alias, or "" if unset.
func (b *Bleve) ResolveAlias(ctx context.Context, alias string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", domainerrors.Connectivity(errClosed)
	}
	if entry, ok := b.aliases[alias]; ok {
		return entry.target, nil
	}
	return "", nil
}

// physical resolves name (alias or physical) to a concrete index.
func (b *Bleve) physical(name string) (bleve.Index, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, domainerrors.Connectivity(errClosed)
	}
	if entry, ok := b.aliases[name]; ok && entry.target != "" {
		name = entry.target
	}
	idx, ok := b.indexes[name]
	if !ok {
		return nil, domainerrors.NotFoundf("index %q not found", name)
	}
	return idx, nil
}

// searchable resolves name to the alias object when it is an alias so
// searches observe swaps atomically.
func (b *Bleve) searchable(name string) (bleve.Index, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, domainerrors.Connectivity(errClosed)
	}
	if entry, ok := b.aliases[name]; ok && entry.target != "" {
		return entry.alias, nil
	}
	idx, ok := b.indexes[name]
	if !ok {
		return nil, domainerrors.NotFoundf("index %q not found", name)
	}
	return idx, nil
}

func (b *Bleve) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Bulk applies ops in a single bleve batch. Operations that cannot be added
// to the batch fail individually; a failed commit fails every pending item.
// Writes are searchable when Batch returns, so both refresh policies behave
// the same here.
func (b *Bleve) Bulk(ctx context.Context, name string, ops []BulkOp, _ Refresh) (*BulkResponse, error) {
	idx, err := b.physical(name)
	if err != nil {
		return nil, err
	}

	resp := &BulkResponse{Items: make([]BulkItem, len(ops))}
	batch := idx.NewBatch()
	pending := make([]int, 0, len(ops))

	for i, op := range ops {
		resp.Items[i].ID = op.ID
		if strings.TrimSpace(op.ID) == "" {
			resp.Items[i].Err = errors.New("document id is required")
			continue
		}

		switch op.Type {
		case OpIndex:
			if err := batch.Index(op.ID, op.Body); err != nil {
				resp.Items[i].Err = err
				continue
			}
		case OpDelete:
			batch.Delete(op.ID)
		default:
			resp.Items[i].Err = fmt.Errorf("unsupported bulk operation %q", op.Type)
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return resp, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := idx.Batch(batch); err != nil {
		if b.isClosed() {
			return nil, domainerrors.Connectivity(err)
		}
		for _, i := range pending {
			resp.Items[i].Err = err
		}
	}

	return resp, nil
}

// Mapping returns the live mapping of a physical index or alias target.
func (b *Bleve) Mapping(ctx context.Context, name string) (mapping.IndexMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := b.physical(name)
	if err != nil {
		return nil, err
	}
	return idx.Mapping(), nil
}

// DocCount returns the number of documents in a physical index or alias target.
func (b *Bleve) DocCount(ctx context.Context, name string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	idx, err := b.physical(name)
	if err != nil {
		return 0, err
	}
	count, err := idx.DocCount()
	if err != nil {
		if b.isClosed() {
			return 0, domainerrors.Connectivity(err)
		}
		return 0, fmt.Errorf("count documents in %s: %w", name, err)
	}
	return count, nil
}

// Search executes req against a physical index or alias.
func (b *Bleve) Search(ctx context.Context, name string, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	idx, err := b.searchable(name)
	if err != nil {
		return nil, err
	}

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if b.isClosed() {
			return nil, domainerrors.Connectivity(err)
		}
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	return result, nil
}

// Ping reports whether the backend is open and its storage is reachable.
func (b *Bleve) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.Connectivity(err)
	}
	if b.isClosed() {
		return domainerrors.Connectivity(errClosed)
	}
	if b.inMemory {
		return nil
	}
	if _, err := os.Stat(b.root); err != nil {
		return domainerrors.Connectivity(err)
	}
	return nil
}

// Indexes returns the names of all physical indices, sorted.
func (b *Bleve) Indexes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.indexes))
	for name := range b.indexes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close closes every physical index. Further calls report CONNECTIVITY.
func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for name, idx := range b.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	b.indexes = make(map[string]bleve.Index)
	b.aliases = make(map[string]*aliasEntry)

	return errors.Join(errs...)
}
