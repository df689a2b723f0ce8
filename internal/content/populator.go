package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gobwas/glob"

	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/rebuild"
	"github.com/listenupapp/indexbridge/internal/writer"
)

// DefaultPageSize is the number of items read per page during population.
const DefaultPageSize = 500

// Lister reads content items page by page.
type Lister interface {
	List(ctx context.Context, category, after string, limit int) ([]*Item, error)
}

// PopulatorOptions configures a Populator.
type PopulatorOptions struct {
	Name     string
	Category string   // Content category read from the store
	Indexes  []string // Glob patterns of logical index names fed by this source
	PageSize int      // Items per page (default: DefaultPageSize)

	// HTMLFields are rich-text fields whose markup is stripped before indexing.
	HTMLFields []string
	Logger   *slog.Logger
}

// Populator feeds one content category into every index matching its patterns.
type Populator struct {
	name       string
	category   string
	patterns   []glob.Glob
	htmlFields []string
	source   Lister
	pageSize int
	logger   *slog.Logger
}

// NewPopulator compiles the index patterns of opts.
func NewPopulator(source Lister, opts PopulatorOptions) (*Populator, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Name == "" {
		opts.Name = opts.Category
	}

	patterns := make([]glob.Glob, 0, len(opts.Indexes))
	for _, p := range opts.Indexes {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("compile index pattern %q: %w", p, err)
		}
		patterns = append(patterns, g)
	}

	return &Populator{
		name:       opts.Name,
		category:   opts.Category,
		patterns:   patterns,
		htmlFields: opts.HTMLFields,
		source:     source,
		pageSize:   opts.PageSize,
		logger:     logger.Component(opts.Logger, "populator").With("populator", opts.Name),
	}, nil
}

// Name identifies the populator.
func (p *Populator) Name() string {
	return p.name
}

// Supports reports whether index matches one of the patterns.
func (p *Populator) Supports(index string) bool {
	index = strings.ToLower(index)
	for _, g := range p.patterns {
		if g.Match(index) {
			return true
		}
	}
	return false
}

// Populate pages through the category once and writes every page to all
// targets. A target that fails to accept a page is dropped for the rest of
// the run and reported as a *rebuild.TargetError.
func (p *Populator) Populate(ctx context.Context, targets []rebuild.Target) error {
	active := make([]rebuild.Target, len(targets))
	copy(active, targets)

	var (
		errs  []error
		after string
		total int
	)
	for len(active) > 0 {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		items, err := p.source.List(ctx, p.category, after, p.pageSize)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("list %s: %w", p.category, err))...)
		}
		if len(items) == 0 {
			break
		}

		docs := make([]writer.Document, len(items))
		for i, item := range items {
			docs[i] = item.Document()
			docs[i].Fields = stripFields(docs[i].Fields, p.htmlFields)
		}

		remaining := active[:0]
		for _, t := range active {
			result, err := t.Upsert(ctx, docs)
			if err != nil {
				errs = append(errs, &rebuild.TargetError{Index: t.Index, Err: err})
				continue
			}
			if len(result.Failures) > 0 {
				p.logger.Warn("items rejected",
					"index", t.Index,
					"failed", len(result.Failures),
				)
			}
			remaining = append(remaining, t)
		}
		active = remaining

		total += len(items)
		after = items[len(items)-1].ID
		if len(items) < p.pageSize {
			break
		}
	}

	p.logger.Info("population finished",
		"category", p.category,
		"items", total,
		"targets", len(targets),
	)
	return errors.Join(errs...)
}
