package index

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/listenupapp/indexbridge/internal/engine"
	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/id"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/schema"
	"github.com/listenupapp/indexbridge/internal/store"
	"github.com/listenupapp/indexbridge/internal/validation"
)

// DescriptorPrefix prefixes descriptor keys in the store.
const DescriptorPrefix = "index:"

// Options configures the state service.
type Options struct {
	Backend  engine.Backend
	Store    *store.Store // Descriptor persistence (memory only if nil)
	Analyzer string       // Analyzer for text fields (default: text)
	Logger   *slog.Logger
}

// Service owns index descriptors and the physical indices behind them.
//
// Thread safety: All public methods are safe for concurrent use.
// Provisioning, swaps and shadow resets are serialized by the service lock.
type Service struct {
	backend  engine.Backend
	records  *store.Entity[Descriptor]
	analyzer string
	logger   *slog.Logger

	mu          sync.RWMutex
	descriptors map[string]*Descriptor
	mappings    map[string]*schema.Mapping
}

// NewService creates a state service.
func NewService(opts Options) *Service {
	s := &Service{
		backend:     opts.Backend,
		analyzer:    opts.Analyzer,
		logger:      logger.Component(opts.Logger, "index"),
		descriptors: make(map[string]*Descriptor),
		mappings:    make(map[string]*schema.Mapping),
	}
	if s.analyzer == "" {
		s.analyzer = schema.DefaultAnalyzer
	}
	if opts.Store != nil {
		s.records = store.NewEntity[Descriptor](opts.Store, DescriptorPrefix)
	}
	return s
}

// Normalize lowercases name and checks it is usable as a logical index name.
func Normalize(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if !validation.IsIndexName(key) {
		return "", domainerrors.Statef("invalid or reserved index name %q", name)
	}
	return key, nil
}

// Load restores persisted descriptors. Rebuilds interrupted by a restart are
// marked failed; their primary keeps serving reads.
func (s *Service) Load(ctx context.Context) error {
	if s.records == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for d, err := range s.records.List(ctx) {
		if err != nil {
			return fmt.Errorf("load descriptors: %w", err)
		}

		m, err := schema.BuildMapping(d.Schema, d.KeywordFields, schema.WithAnalyzer(d.Analyzer))
		if err != nil {
			s.logger.Warn("skipping descriptor with invalid schema", "index", d.Name, "error", err)
			continue
		}

		if d.State.Rebuilding() {
			s.logger.Warn("rebuild was interrupted, marking failed", "index", d.Name, "state", d.State)
			d.State = StateFailed
			d.UpdatedAt = time.Now()
			if err := s.records.Put(ctx, d.Name, d); err != nil {
				return fmt.Errorf("persist descriptor %s: %w", d.Name, err)
			}
		}

		s.descriptors[d.Name] = d
		s.mappings[d.Name] = m
	}

	s.logger.Info("loaded index descriptors", "count", len(s.descriptors))
	return nil
}

// Register declares or updates the schema of a logical index. A changed
// schema applies to physical indices created afterwards, i.e. on the next
// rebuild.
func (s *Service) Register(ctx context.Context, name string, fields schema.Schema, keywordFields []string) (Descriptor, error) {
	key, err := Normalize(name)
	if err != nil {
		return Descriptor{}, err
	}

	m, err := schema.BuildMapping(fields, keywordFields, schema.WithAnalyzer(s.analyzer))
	if err != nil {
		return Descriptor{}, fmt.Errorf("build mapping for %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.getOrCreate(key)
	d.Schema = slices.Clone(fields)
	d.KeywordFields = slices.Clone(keywordFields)
	d.Analyzer = s.analyzer
	d.UpdatedAt = time.Now()
	s.mappings[key] = m

	if err := s.persist(ctx, d); err != nil {
		return Descriptor{}, err
	}
	return d.clone(), nil
}

// getOrCreate returns the descriptor for key, creating an uninitialized one
// with an empty schema. Caller holds s.mu.
func (s *Service) getOrCreate(key string) *Descriptor {
	if d, ok := s.descriptors[key]; ok {
		return d
	}

	d := &Descriptor{
		Name:      key,
		Alias:     key,
		Analyzer:  s.analyzer,
		State:     StateUninitialized,
		UpdatedAt: time.Now(),
	}
	s.descriptors[key] = d
	if _, ok := s.mappings[key]; !ok {
		// An empty schema always translates.
		m, _ := schema.BuildMapping(nil, nil, schema.WithAnalyzer(s.analyzer))
		s.mappings[key] = m
	}
	return d
}

func (s *Service) persist(ctx context.Context, d *Descriptor) error {
	if s.records == nil {
		return nil
	}
	if err := s.records.Put(ctx, d.Name, d); err != nil {
		return fmt.Errorf("persist descriptor %s: %w", d.Name, err)
	}
	return nil
}

// lookup returns the descriptor for name. Caller holds s.mu.
func (s *Service) lookup(name string) (*Descriptor, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	d, ok := s.descriptors[key]
	if !ok {
		return nil, domainerrors.NotFoundf("index %q not found", name)
	}
	return d, nil
}

// EnsureExists idempotently provisions the primary and shadow physical
// indices of name and points its alias at the primary. Unknown names are
// created with an empty schema.
func (s *Service) EnsureExists(ctx context.Context, name string) error {
	key, err := Normalize(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.getOrCreate(key)
	m := s.mappings[key]
	changed := false

	for _, slot := range []*string{&d.Primary, &d.Shadow} {
		if *slot == "" {
			physical, err := id.Physical(d.Alias)
			if err != nil {
				return err
			}
			*slot = physical
			changed = true
		}

		exists, err := s.backend.IndexExists(ctx, *slot)
		if err != nil {
			return fmt.Errorf("check index %s: %w", *slot, err)
		}
		if !exists {
			if err := s.backend.CreateIndex(ctx, *slot, m.IndexMapping()); err != nil {
				return fmt.Errorf("create index %s: %w", *slot, err)
			}
			s.logger.Info("created physical index", "index", key, "physical", *slot)
		}
	}

	target, err := s.backend.ResolveAlias(ctx, d.Alias)
	if err != nil {
		return fmt.Errorf("resolve alias %s: %w", d.Alias, err)
	}
	if target != d.Primary {
		if err := s.backend.PointAlias(ctx, d.Alias, d.Primary); err != nil {
			return fmt.Errorf("point alias %s: %w", d.Alias, err)
		}
		s.logger.Info("pointed alias at primary", "alias", d.Alias, "primary", d.Primary)
	}

	if changed {
		d.UpdatedAt = time.Now()
		return s.persist(ctx, d)
	}
	return nil
}

// Exists reports whether the alias of name resolves to a live physical index.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	d, err := s.lookup(name)
	var alias string
	if err == nil {
		alias = d.Alias
	}
	s.mu.RUnlock()

	if err != nil {
		return false, nil
	}
	return s.backend.IndexExists(ctx, alias)
}

// GetState returns the lifecycle state of name.
func (s *Service) GetState(name string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.lookup(name)
	if err != nil {
		return "", domainerrors.Statef("unknown index %q", name)
	}
	return d.State, nil
}

// Transition moves name to the next state. Invalid transitions leave the
// state unchanged.
func (s *Service) Transition(name string, next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.lookup(name)
	if err != nil {
		return domainerrors.Statef("unknown index %q", name)
	}
	if !d.State.CanTransition(next) {
		return domainerrors.Statef("index %q cannot move from %s to %s", d.Name, d.State, next)
	}

	prev := d.State
	d.State = next
	d.UpdatedAt = time.Now()
	if err := s.persist(context.Background(), d); err != nil {
		d.State = prev
		return err
	}

	s.logger.Debug("index state changed", "index", d.Name, "from", prev, "to", next)
	return nil
}

// IsRebuildInProgress reports whether a rebuild currently owns name.
func (s *Service) IsRebuildInProgress(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.lookup(name)
	return err == nil && d.State.Rebuilding()
}

// Swap repoints the alias of name from the primary to the shadow and
// relabels the old primary as the new shadow. Readers see either the old or
// the new primary, never a mix.
func (s *Service) Swap(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.lookup(name)
	if err != nil {
		return err
	}

	exists, err := s.backend.IndexExists(ctx, d.Shadow)
	if err != nil {
		return fmt.Errorf("check shadow %s: %w", d.Shadow, err)
	}
	if d.Shadow == "" || !exists {
		return domainerrors.Statef("index %q has no shadow to swap in", d.Name)
	}

	if err := s.backend.PointAlias(ctx, d.Alias, d.Shadow); err != nil {
		return fmt.Errorf("swap alias %s: %w", d.Alias, err)
	}

	d.Primary, d.Shadow = d.Shadow, d.Primary
	d.UpdatedAt = time.Now()
	s.logger.Info("swapped index", "index", d.Name, "primary", d.Primary, "shadow", d.Shadow)

	return s.persist(ctx, d)
}

// ClearShadow drops and recreates the shadow of name with the current mapping.
func (s *Service) ClearShadow(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.clearShadow(ctx, d)
}

// BeginRebuild clears the shadow of name and moves it to populating in one
// step, so live writes routed to the shadow always land in the cleared one.
func (s *Service) BeginRebuild(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.lookup(name)
	if err != nil {
		return domainerrors.Statef("unknown index %q", name)
	}
	if !d.State.CanTransition(StatePopulating) {
		return domainerrors.Statef("index %q cannot move from %s to %s", d.Name, d.State, StatePopulating)
	}
	if err := s.clearShadow(ctx, d); err != nil {
		return err
	}

	prev := d.State
	d.State = StatePopulating
	d.UpdatedAt = time.Now()
	if err := s.persist(ctx, d); err != nil {
		d.State = prev
		return err
	}

	s.logger.Debug("index state changed", "index", d.Name, "from", prev, "to", StatePopulating)
	return nil
}

func (s *Service) clearShadow(ctx context.Context, d *Descriptor) error {
	if d.Shadow == "" {
		physical, err := id.Physical(d.Alias)
		if err != nil {
			return err
		}
		d.Shadow = physical
		if err := s.persist(ctx, d); err != nil {
			return err
		}
	}

	if err := s.backend.DropIndex(ctx, d.Shadow); err != nil {
		return fmt.Errorf("drop shadow %s: %w", d.Shadow, err)
	}
	if err := s.backend.CreateIndex(ctx, d.Shadow, s.mappings[d.Name].IndexMapping()); err != nil {
		return fmt.Errorf("create shadow %s: %w", d.Shadow, err)
	}

	s.logger.Debug("cleared shadow", "index", d.Name, "shadow", d.Shadow)
	return nil
}

// Delete drops both physical indices of name and forgets its descriptor.
func (s *Service) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.lookup(name)
	if err != nil {
		return err
	}
	if d.State.Rebuilding() {
		return domainerrors.Statef("index %q is being rebuilt", d.Name)
	}

	for _, physical := range []string{d.Primary, d.Shadow} {
		if physical == "" {
			continue
		}
		if err := s.backend.DropIndex(ctx, physical); err != nil {
			return fmt.Errorf("drop index %s: %w", physical, err)
		}
	}

	delete(s.descriptors, d.Name)
	delete(s.mappings, d.Name)
	if s.records != nil {
		if err := s.records.Delete(ctx, d.Name); err != nil {
			return fmt.Errorf("delete descriptor %s: %w", d.Name, err)
		}
	}

	s.logger.Info("deleted index", "index", d.Name)
	return nil
}

// Descriptor returns a copy of the descriptor of name.
func (s *Service) Descriptor(name string) (Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.lookup(name)
	if err != nil {
		return Descriptor{}, err
	}
	return d.clone(), nil
}

// Mapping returns the translated mapping of name.
func (s *Service) Mapping(name string) (*schema.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return s.mappings[d.Name], nil
}

// EnsureAll provisions every known logical index, including descriptors
// restored by Load that nothing has registered since.
func (s *Service) EnsureAll(ctx context.Context) error {
	for _, name := range s.Names() {
		if err := s.EnsureExists(ctx, name); err != nil {
			return fmt.Errorf("provision index %s: %w", name, err)
		}
	}
	return nil
}

// Names returns every known logical index name, sorted.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.descriptors))
	for name := range s.descriptors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DocumentCount returns the number of documents visible through the alias.
func (s *Service) DocumentCount(ctx context.Context, name string) (uint64, error) {
	s.mu.RLock()
	d, err := s.lookup(name)
	var alias string
	if err == nil {
		alias = d.Alias
	}
	s.mu.RUnlock()

	if err != nil {
		return 0, err
	}
	return s.backend.DocCount(ctx, alias)
}
