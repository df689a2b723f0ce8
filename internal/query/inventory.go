package query

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/blevesearch/bleve/v2/mapping"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/schema"
)

// DefaultInventoryCacheSize bounds the number of cached inventories.
const DefaultInventoryCacheSize = 128

// Inventory maps each searchable field to its class.
type Inventory map[string]schema.FieldClass

// AnalyzedFields returns the analyzed fields, sorted.
func (inv Inventory) AnalyzedFields() []string {
	var fields []string
	for _, name := range slices.Sorted(maps.Keys(inv)) {
		if inv[name] == schema.ClassAnalyzed {
			fields = append(fields, name)
		}
	}
	return fields
}

// MappingSource reads the live mapping of an index or alias.
type MappingSource interface {
	Mapping(ctx context.Context, name string) (mapping.IndexMapping, error)
}

// Resolver resolves and caches field inventories per alias. Lookups never
// block on each other; a miss is fetched once no matter how many callers
// wait for it.
type Resolver struct {
	source MappingSource
	cache  *lru.Cache[string, Inventory]
	group  singleflight.Group
	logger *slog.Logger

	mu    sync.Mutex
	epoch map[string]uint64 // Bumped by Invalidate so in-flight loads are not cached
}

// NewResolver creates a resolver caching up to size inventories.
func NewResolver(source MappingSource, size int, log *slog.Logger) (*Resolver, error) {
	if size <= 0 {
		size = DefaultInventoryCacheSize
	}
	cache, err := lru.New[string, Inventory](size)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		source: source,
		cache:  cache,
		logger: logger.Component(log, "inventory"),
		epoch:  make(map[string]uint64),
	}, nil
}

// Resolve returns the inventory of alias. A missing index resolves to an
// empty inventory, which is not cached.
func (r *Resolver) Resolve(ctx context.Context, alias string) (Inventory, error) {
	if inv, ok := r.cache.Get(alias); ok {
		return inv, nil
	}

	v, err, _ := r.group.Do(alias, func() (any, error) {
		if inv, ok := r.cache.Get(alias); ok {
			return inv, nil
		}

		epoch := r.currentEpoch(alias)
		m, err := r.source.Mapping(ctx, alias)
		if err != nil {
			if domainerrors.Is(err, domainerrors.ErrNotFound) {
				r.logger.Debug("mapping unavailable, using empty inventory",
					"alias", alias,
					"error", domainerrors.MappingUnavailablef("no index behind %q", alias),
				)
				return Inventory{}, nil
			}
			return nil, err
		}

		inv := Inventory(schema.Classify(m))
		if r.currentEpoch(alias) == epoch {
			r.cache.Add(alias, inv)
		}
		return inv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Inventory), nil
}

// Invalidate drops the cached inventory of alias.
func (r *Resolver) Invalidate(alias string) {
	r.mu.Lock()
	r.epoch[alias]++
	r.mu.Unlock()

	r.cache.Remove(alias)
	r.group.Forget(alias)
	r.logger.Debug("invalidated inventory", "alias", alias)
}

func (r *Resolver) currentEpoch(alias string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch[alias]
}
