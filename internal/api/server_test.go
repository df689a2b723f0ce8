package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/indexbridge/internal/content"
	"github.com/listenupapp/indexbridge/internal/engine"
	"github.com/listenupapp/indexbridge/internal/index"
	"github.com/listenupapp/indexbridge/internal/query"
	"github.com/listenupapp/indexbridge/internal/ratelimit"
	"github.com/listenupapp/indexbridge/internal/rebuild"
	"github.com/listenupapp/indexbridge/internal/schema"
	"github.com/listenupapp/indexbridge/internal/search"
)

type fakeGate struct {
	owner, ready bool
}

func (g fakeGate) IsOwner() bool { return g.owner }
func (g fakeGate) IsReady() bool { return g.ready }

// testServer bundles a server with its test client.
type testServer struct {
	*Server
	api     humatest.TestAPI
	states  *index.Service
	content *content.Store
}

var articleSchema = schema.Schema{
	{Name: "title", Kind: schema.KindText},
	{Name: "status", Kind: schema.KindKeyword},
	{Name: "year", Kind: schema.KindNumber},
}

// setupTestServer creates a server backed by an in-memory search backend and
// a temporary content database. The "articles" index is fed from the content
// category; "orphans" has no populator.
func setupTestServer(t *testing.T, limiter *ratelimit.KeyedRateLimiter) *testServer {
	t.Helper()
	ctx := context.Background()

	// Create a no-op logger for tests (discards all logs).
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := engine.NewBleve(engine.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	states := index.NewService(index.Options{Backend: backend, Logger: logger})
	resolver, err := query.NewResolver(backend, 0, logger)
	require.NoError(t, err)
	executor := query.NewExecutor(backend, resolver, query.Options{PhraseSlop: query.DefaultPhraseSlop})

	manager := search.NewManager(search.ManagerOptions{
		Backend:  backend,
		States:   states,
		Executor: executor,
		Logger:   logger,
	})
	for _, name := range []string{"articles", "orphans"} {
		idx, err := manager.Register(ctx, name, articleSchema, nil)
		require.NoError(t, err)
		require.NoError(t, idx.EnsureExists(ctx))
	}

	store, err := content.Open(filepath.Join(t.TempDir(), "content.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	populator, err := content.NewPopulator(store, content.PopulatorOptions{
		Name:     "content",
		Category: "content",
		Indexes:  []string{"articles"},
		Logger:   logger,
	})
	require.NoError(t, err)

	gate := fakeGate{owner: true, ready: true}
	rebuilds := rebuild.New(rebuild.Options{
		States:     states,
		Writers:    manager,
		Gate:       gate,
		Populators: []rebuild.Populator{populator},
		Logger:     logger,
	})
	rebuilds.OnSwapped(manager.Invalidate)

	s := NewServer(Options{
		Services: Services{
			Indexes:  manager,
			Rebuilds: rebuilds,
			Gate:     gate,
			Content:  store,
		},
		RebuildLimiter: limiter,
		Logger:         logger,
	})

	return &testServer{
		Server:  s,
		api:     humatest.Wrap(t, s.API()),
		states:  states,
		content: store,
	}
}

func (ts *testServer) seedContent(t *testing.T, items ...*content.Item) {
	t.Helper()
	require.NoError(t, ts.content.Put(context.Background(), items...))
}

func contentItem(id, title, status string) *content.Item {
	return &content.Item{
		ID:       id,
		Category: "content",
		ItemType: "article",
		Fields: map[string][]any{
			"title":  {title},
			"status": {status},
		},
	}
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestListIndexes(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Get("/api/v1/indexes")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	body := decode[ListIndexesResponse](t, resp.Body.Bytes())
	require.Len(t, body.Indexes, 2)
	assert.Equal(t, "articles", body.Indexes[0].Name)
	assert.Equal(t, "orphans", body.Indexes[1].Name)
}

func TestGetIndex(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Get("/api/v1/indexes/Articles")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	md := decode[search.Metadata](t, resp.Body.Bytes())
	assert.Equal(t, "articles", md.Name)
	assert.Equal(t, index.StateUninitialized, md.State)
	assert.NotEmpty(t, md.Primary)
	assert.NotEmpty(t, md.Fields)
}

func TestGetIndex_NotFound(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Get("/api/v1/indexes/missing")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	apiErr := decode[APIError](t, resp.Body.Bytes())
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestRebuildIndex_Wait(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.seedContent(t,
		contentItem("1", "Hello world", "published"),
		contentItem("2", "Goodbye world", "draft"),
	)

	resp := ts.api.Post("/api/v1/indexes/articles/rebuild?wait=true")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	body := decode[RebuildResponse](t, resp.Body.Bytes())
	assert.NotEmpty(t, body.JobID)
	assert.False(t, body.Queued)
	require.NotNil(t, body.Report)

	ir, ok := body.Report.Index("articles")
	require.True(t, ok)
	assert.Equal(t, rebuild.OutcomeSwapped, ir.Outcome)
	assert.Empty(t, ir.Failures)

	resp = ts.api.Get("/api/v1/indexes/articles/search?q=status:published")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	results := decode[SearchResponse](t, resp.Body.Bytes())
	assert.Equal(t, uint64(1), results.Total)
	require.Len(t, results.Hits, 1)
	assert.Equal(t, "1", results.Hits[0].ID)
}

func TestRebuildIndex_Background(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.seedContent(t, contentItem("1", "Hello world", "published"))

	resp := ts.api.Post("/api/v1/indexes/articles/rebuild")
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	body := decode[RebuildResponse](t, resp.Body.Bytes())
	assert.True(t, body.Queued)
	assert.NotEmpty(t, body.JobID)
	assert.Nil(t, body.Report)

	assert.Eventually(t, func() bool {
		state, err := ts.states.GetState("articles")
		if err != nil || state != index.StateReady {
			return false
		}
		n, err := ts.states.DocumentCount(context.Background(), "articles")
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRebuildIndex_NoPopulator(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Post("/api/v1/indexes/orphans/rebuild?wait=true")
	assert.Equal(t, http.StatusConflict, resp.Code)

	apiErr := decode[APIError](t, resp.Body.Bytes())
	assert.Equal(t, "CONFLICT", apiErr.Code)
}

func TestRebuildIndex_UnknownIndex(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Post("/api/v1/indexes/missing/rebuild?wait=true")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRebuildAll_Wait(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.seedContent(t, contentItem("1", "Hello world", "published"))

	resp := ts.api.Post("/api/v1/indexes/rebuild?only_empty=true&wait=true")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	body := decode[RebuildResponse](t, resp.Body.Bytes())
	require.NotNil(t, body.Report)
	ir, ok := body.Report.Index("articles")
	require.True(t, ok)
	assert.Equal(t, rebuild.OutcomeSwapped, ir.Outcome)
}

func TestRebuild_RateLimited(t *testing.T) {
	limiter := ratelimit.New(1, time.Hour, 1)
	t.Cleanup(limiter.Stop)
	ts := setupTestServer(t, limiter)

	resp := ts.api.Post("/api/v1/indexes/articles/rebuild?wait=true")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.api.Post("/api/v1/indexes/articles/rebuild?wait=true")
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Contains(t, resp.Body.String(), "RATE_LIMITED")

	// Reads are never limited.
	resp = ts.api.Get("/api/v1/indexes/articles")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestDocuments_UpsertReportsFailures(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Put("/api/v1/indexes/articles/documents", map[string]any{
		"documents": []map[string]any{
			{"id": "1", "category": "content", "fields": map[string]any{"title": []any{"Hello world"}, "year": []any{2001}}},
			{"id": "3", "category": "content", "fields": map[string]any{"title": []any{"Broken"}, "year": []any{"soon"}}},
		},
		"wait": true,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	written := decode[WriteResponse](t, resp.Body.Bytes())
	assert.Equal(t, 1, written.Succeeded)
	require.Len(t, written.Failures, 1)
	assert.Equal(t, "3", written.Failures[0].ID)
	assert.Contains(t, written.Failures[0].Reason, "year")
}

func TestDocuments_UpsertSearchDelete(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Put("/api/v1/indexes/articles/documents", map[string]any{
		"documents": []map[string]any{
			{"id": "1", "category": "content", "fields": map[string]any{"title": []any{"Hello world"}, "status": []any{"published"}}},
			{"id": "2", "category": "content", "fields": map[string]any{"title": []any{"Goodbye world"}, "status": []any{"draft"}}},
		},
		"wait": true,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	written := decode[WriteResponse](t, resp.Body.Bytes())
	assert.Equal(t, 2, written.Succeeded)
	assert.Empty(t, written.Failures)

	resp = ts.api.Get("/api/v1/indexes/articles/search?q=world&take=10")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	results := decode[SearchResponse](t, resp.Body.Bytes())
	assert.Equal(t, uint64(2), results.Total)

	resp = ts.api.Get("/api/v1/indexes/articles/search?mode=text&q=goodbye+world")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	results = decode[SearchResponse](t, resp.Body.Bytes())
	require.Len(t, results.Hits, 1)
	assert.Equal(t, "2", results.Hits[0].ID)

	resp = ts.api.Delete("/api/v1/indexes/articles/documents?ids=2&wait=true")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	n, err := ts.states.DocumentCount(context.Background(), "articles")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestDocuments_UnknownIndex(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Delete("/api/v1/indexes/missing/documents?ids=1")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSearch_QuerySyntaxError(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := ts.api.Get(`/api/v1/indexes/articles/search?q=title:%22unterminated`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	apiErr := decode[APIError](t, resp.Body.Bytes())
	assert.Equal(t, "QUERY_SYNTAX", apiErr.Code)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
}
