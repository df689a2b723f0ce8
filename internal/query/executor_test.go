package query

import (
	"context"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/indexbridge/internal/engine"
	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/schema"
)

const testAlias = "articles"

var articleSchema = schema.Schema{
	{Name: "title", Kind: schema.KindText},
	{Name: "status", Kind: schema.KindKeyword},
	{Name: "year", Kind: schema.KindNumber},
}

func setupExecutor(t *testing.T, op Operator) (*Executor, *engine.Bleve) {
	t.Helper()
	ctx := context.Background()

	backend, err := engine.NewBleve(engine.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	m, err := schema.BuildMapping(articleSchema, nil)
	require.NoError(t, err)
	require.NoError(t, backend.CreateIndex(ctx, "articles-a", m.IndexMapping()))
	require.NoError(t, backend.PointAlias(ctx, testAlias, "articles-a"))

	docs := []struct {
		id, category, title, status string
		year                        float64
	}{
		{"1", "content", "hello world", "published", 2001},
		{"2", "content", "hello there", "draft", 2002},
		{"3", "content", "goodbye world", "published", 2003},
		{"4", "media", "Hello again", "published", 2004},
	}
	ops := make([]engine.BulkOp, len(docs))
	for i, d := range docs {
		ops[i] = engine.BulkOp{Type: engine.OpIndex, ID: d.id, Body: map[string]any{
			schema.IDFieldName:       d.id,
			schema.CategoryFieldName: d.category,
			"title":                  d.title,
			"status":                 d.status,
			"year":                   d.year,
		}}
	}
	resp, err := backend.Bulk(ctx, "articles-a", ops, engine.RefreshWaitFor)
	require.NoError(t, err)
	require.Empty(t, resp.Failed())

	resolver, err := NewResolver(backend, 0, nil)
	require.NoError(t, err)

	return NewExecutor(backend, resolver, Options{DefaultOperator: op, PhraseSlop: DefaultPhraseSlop}), backend
}

func hitIDs(r *Results) []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.ID
	}
	slices.Sort(ids)
	return ids
}

func TestExecutor_ExactAndAnalyzedHitSet(t *testing.T) {
	e, _ := setupExecutor(t, OpAnd)

	res, err := e.Search(context.Background(), testAlias, Request{Query: "status:published AND title:hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4"}, hitIDs(res))
	assert.Equal(t, uint64(2), res.Total)
}

func TestExecutor_ExplicitOrOverridesDefaultAnd(t *testing.T) {
	e, _ := setupExecutor(t, OpAnd)
	ctx := context.Background()

	res, err := e.Search(ctx, testAlias, Request{Query: "hello OR goodbye"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, hitIDs(res))

	res, err = e.Search(ctx, testAlias, Request{Query: "hello goodbye"})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestExecutor_DefaultOr(t *testing.T) {
	e, _ := setupExecutor(t, OpOr)

	res, err := e.Search(context.Background(), testAlias, Request{Query: "there goodbye"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, hitIDs(res))
}

func TestExecutor_StopWordTermsMatch(t *testing.T) {
	e, _ := setupExecutor(t, OpAnd)
	ctx := context.Background()

	for _, q := range []string{"hello there", "title:hello AND title:there", "there"} {
		res, err := e.Search(ctx, testAlias, Request{Query: q})
		require.NoError(t, err, q)
		assert.Equal(t, []string{"2"}, hitIDs(res), q)
	}
}

func TestExecutor_PhraseSlopIsPositional(t *testing.T) {
	e, backend := setupExecutor(t, OpAnd)
	ctx := context.Background()

	resp, err := backend.Bulk(ctx, "articles-a", []engine.BulkOp{{Type: engine.OpIndex, ID: "9", Body: map[string]any{
		schema.IDFieldName:       "9",
		schema.CategoryFieldName: "content",
		"title":                  "quick brown fox jumps over a lazy dog",
	}}}, engine.RefreshWaitFor)
	require.NoError(t, err)
	require.Empty(t, resp.Failed())

	tests := []struct {
		query string
		want  []string
	}{
		{`title:"quick dog"`, nil},
		{`title:"dog quick"`, nil},
		{`title:"quick fox"`, []string{"9"}},
		{`title:"quick fox"~0`, nil},
		{`title:"fox brown"`, []string{"9"}},
		{`title:"fox brown"~1`, nil},
		{`title:"quick brown fox"`, []string{"9"}},
	}
	for _, tt := range tests {
		res, err := e.Search(ctx, testAlias, Request{Query: tt.query})
		require.NoError(t, err, tt.query)
		if tt.want == nil {
			assert.Empty(t, res.Hits, tt.query)
			continue
		}
		assert.Equal(t, tt.want, hitIDs(res), tt.query)
	}
}

func TestExecutor_CategoryPagingAndSort(t *testing.T) {
	e, _ := setupExecutor(t, OpAnd)
	ctx := context.Background()

	res, err := e.Search(ctx, testAlias, Request{Query: "title:hello", Category: "content"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, hitIDs(res))

	res, err = e.Search(ctx, testAlias, Request{Sort: []string{"-year"}, Skip: 1, Take: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Total)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "3", res.Hits[0].ID)
	assert.Equal(t, "2", res.Hits[1].ID)
	assert.Equal(t, "draft", res.Hits[1].Fields["status"])
}

func TestExecutor_NumericAndNot(t *testing.T) {
	e, _ := setupExecutor(t, OpAnd)
	ctx := context.Background()

	res, err := e.Search(ctx, testAlias, Request{Query: "year:[2002 TO 2003]"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, hitIDs(res))

	res, err = e.Search(ctx, testAlias, Request{Query: "world NOT status:draft NOT goodbye"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, hitIDs(res))
}

func TestExecutor_SearchText(t *testing.T) {
	e, _ := setupExecutor(t, OpAnd)
	ctx := context.Background()

	res, err := e.SearchText(ctx, testAlias, "world hello", Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, hitIDs(res))

	res, err = e.SearchText(ctx, testAlias, "  ", Request{})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Total)
}

func TestExecutor_Explain(t *testing.T) {
	e, _ := setupExecutor(t, OpAnd)

	res, err := e.Search(context.Background(), testAlias, Request{Query: "title:hello", Explain: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.NotNil(t, res.Hits[0].Explanation)
}

func TestExecutor_MissingIndexIsEmpty(t *testing.T) {
	e, _ := setupExecutor(t, OpAnd)

	res, err := e.Search(context.Background(), "missing", Request{Query: "hello"})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Zero(t, res.Total)
}

func TestExecutor_SyntaxErrorSurfaces(t *testing.T) {
	e, _ := setupExecutor(t, OpAnd)

	_, err := e.Search(context.Background(), testAlias, Request{Query: "(hello"})
	assert.ErrorIs(t, err, domainerrors.ErrQuerySyntax)
}

func TestExecutor_Health(t *testing.T) {
	e, backend := setupExecutor(t, OpAnd)
	ctx := context.Background()

	assert.Equal(t, Health{Status: StatusHealthy}, e.Health(ctx))

	require.NoError(t, backend.Close())
	h := e.Health(ctx)
	assert.Equal(t, StatusDegraded, h.Status)
	assert.NotEmpty(t, h.Detail)

	_, err := e.Search(ctx, testAlias, Request{Query: "status:published"})
	assert.ErrorIs(t, err, domainerrors.ErrConnectivity)
}

type countingSource struct {
	calls   atomic.Int32
	mapping mapping.IndexMapping
}

func (s *countingSource) Mapping(_ context.Context, name string) (mapping.IndexMapping, error) {
	s.calls.Add(1)
	if s.mapping == nil {
		return nil, domainerrors.NotFoundf("index %q not found", name)
	}
	return s.mapping, nil
}

func TestResolver_CachesAndInvalidates(t *testing.T) {
	m, err := schema.BuildMapping(articleSchema, nil)
	require.NoError(t, err)
	source := &countingSource{mapping: m.IndexMapping()}

	r, err := NewResolver(source, 4, nil)
	require.NoError(t, err)
	ctx := context.Background()

	inv, err := r.Resolve(ctx, testAlias)
	require.NoError(t, err)
	assert.Equal(t, schema.ClassAnalyzed, inv["title"])
	assert.Equal(t, schema.ClassExact, inv["status"])
	assert.Equal(t, schema.ClassNumeric, inv["year"])
	assert.Equal(t, schema.ClassExact, inv[schema.IDFieldName])

	_, err = r.Resolve(ctx, testAlias)
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.calls.Load())

	r.Invalidate(testAlias)
	_, err = r.Resolve(ctx, testAlias)
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestResolver_MissingIndexNotCached(t *testing.T) {
	source := &countingSource{}
	r, err := NewResolver(source, 4, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for range 3 {
		inv, err := r.Resolve(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, inv)
	}
	assert.Equal(t, int32(3), source.calls.Load())
}
