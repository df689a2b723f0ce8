package query

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/text/unicode/norm"

	"github.com/listenupapp/indexbridge/internal/engine"
	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/schema"
)

// DefaultTake is the page size used when a request does not set one.
const DefaultTake = 100

// DefaultPhraseSlop is the slop applied to phrases without an explicit ~N.
const DefaultPhraseSlop = 2

// Request describes one search.
type Request struct {
	Query    string   `json:"query"`
	Category string   `json:"category,omitempty"` // Restrict to one category
	Skip     int      `json:"skip,omitempty"`
	Take     int      `json:"take,omitempty"`
	Sort     []string `json:"sort,omitempty"` // "field", "-field" or "_score"
	Explain  bool     `json:"explain,omitempty"`
	Fields   []string `json:"fields,omitempty"` // Stored fields to return (default all)
}

// Hit is one normalized search result.
type Hit struct {
	ID          string              `json:"id"`
	Score       float64             `json:"score"`
	Fields      map[string]any      `json:"fields,omitempty"`
	Explanation *search.Explanation `json:"explanation,omitempty"`
}

// Results is a normalized page of hits.
type Results struct {
	Hits  []Hit         `json:"hits"`
	Total uint64        `json:"total"`
	Took  time.Duration `json:"took"`
}

// HealthStatus is the outcome of a health check.
type HealthStatus string

// Health statuses.
const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
)

// Health reports backend reachability.
type Health struct {
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// Options configures an Executor.
type Options struct {
	DefaultOperator Operator     // Connector for adjacent terms (default AND)
	PhraseSlop      int          // Slop for phrases without ~N (see DefaultPhraseSlop)
	Logger          *slog.Logger // Logger for operations (uses discard if nil)
}

// Executor parses, renders and runs queries against aliases.
//
// Thread safety: All public methods are safe for concurrent use.
type Executor struct {
	backend   engine.Backend
	inventory *Resolver
	defaultOp Operator
	slop      int
	logger    *slog.Logger
}

// NewExecutor creates an executor reading field inventories from inventory.
func NewExecutor(backend engine.Backend, inventory *Resolver, opts Options) *Executor {
	e := &Executor{
		backend:   backend,
		inventory: inventory,
		defaultOp: opts.DefaultOperator,
		slop:      opts.PhraseSlop,
		logger:    logger.Component(opts.Logger, "query"),
	}
	if e.defaultOp == "" {
		e.defaultOp = OpAnd
	}
	if e.slop < 0 {
		e.slop = 0
	}
	return e
}

// Search parses req.Query and runs it against alias. An empty query matches
// every document; a missing index yields no hits.
func (e *Executor) Search(ctx context.Context, alias string, req Request) (*Results, error) {
	node, err := Parse(req.Query, e.defaultOp)
	if err != nil {
		return nil, err
	}

	inv, err := e.inventory.Resolve(ctx, alias)
	if err != nil {
		return nil, err
	}

	q, err := Render(node, inv, RenderOptions{PhraseSlop: e.slop})
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, alias, q, req)
}

// SearchText runs a free-text phrase search with slop across every analyzed
// field, without interpreting query syntax.
func (e *Executor) SearchText(ctx context.Context, alias, text string, req Request) (*Results, error) {
	text = norm.NFC.String(strings.TrimSpace(text))
	if text == "" {
		return e.execute(ctx, alias, bleve.NewMatchAllQuery(), req)
	}

	inv, err := e.inventory.Resolve(ctx, alias)
	if err != nil {
		return nil, err
	}

	r := renderer{inv: inv, opts: RenderOptions{PhraseSlop: e.slop}}
	q, err := r.unqualified(&Leaf{Value: text, Kind: KindPhrase, Slop: -1})
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, alias, q, req)
}

// Invalidate drops the cached field inventory of alias.
func (e *Executor) Invalidate(alias string) {
	e.inventory.Invalidate(alias)
}

func (e *Executor) execute(ctx context.Context, alias string, q blevequery.Query, req Request) (*Results, error) {
	if req.Category != "" {
		category := bleve.NewTermQuery(req.Category)
		category.SetField(schema.CategoryFieldName)
		q = bleve.NewConjunctionQuery(q, category)
	}

	take := req.Take
	if take <= 0 {
		take = DefaultTake
	}
	skip := max(req.Skip, 0)

	sr := bleve.NewSearchRequestOptions(q, take, skip, req.Explain)
	if len(req.Sort) > 0 {
		sr.SortBy(req.Sort)
	}
	sr.Fields = req.Fields
	if len(sr.Fields) == 0 {
		sr.Fields = []string{"*"}
	}

	res, err := e.backend.Search(ctx, alias, sr)
	if err != nil {
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			return &Results{Hits: []Hit{}}, nil
		}
		e.logger.Error("search failed", "alias", alias, "error", err)
		return nil, err
	}

	results := &Results{
		Hits:  make([]Hit, 0, len(res.Hits)),
		Total: res.Total,
		Took:  res.Took,
	}
	for _, h := range res.Hits {
		hit := Hit{
			ID:     h.ID,
			Score:  h.Score,
			Fields: h.Fields,
		}
		if req.Explain {
			hit.Explanation = h.Expl
		}
		results.Hits = append(results.Hits, hit)
	}
	return results, nil
}

// Health checks the backend. It is the one place connectivity failures are
// reported as a value rather than an error.
func (e *Executor) Health(ctx context.Context) Health {
	if err := e.backend.Ping(ctx); err != nil {
		e.logger.Warn("backend health check failed", "error", err)
		return Health{Status: StatusDegraded, Detail: err.Error()}
	}
	return Health{Status: StatusHealthy}
}
