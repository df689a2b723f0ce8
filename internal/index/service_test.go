package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/indexbridge/internal/engine"
	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/schema"
	"github.com/listenupapp/indexbridge/internal/store"
)

func setupService(t *testing.T) (*Service, *engine.Bleve) {
	t.Helper()

	backend, err := engine.NewBleve(engine.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	st, err := store.New(store.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return NewService(Options{Backend: backend, Store: st}), backend
}

var articleSchema = schema.Schema{
	{Name: "title", Kind: schema.KindText},
	{Name: "status", Kind: schema.KindKeyword},
}

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateUninitialized, StatePopulating, true},
		{StatePopulating, StateSwapping, true},
		{StateSwapping, StateReady, true},
		{StateReady, StatePopulating, true},
		{StateFailed, StatePopulating, true},
		{StateReady, StateFailed, true},
		{StateUninitialized, StateFailed, true},
		{StateSwapping, StatePopulating, false},
		{StateUninitialized, StateReady, false},
		{StatePopulating, StateReady, false},
		{StateReady, StateSwapping, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestService_EnsureExists(t *testing.T) {
	svc, backend := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "External", articleSchema, nil)
	require.NoError(t, err)
	require.NoError(t, svc.EnsureExists(ctx, "External"))

	d, err := svc.Descriptor("external")
	require.NoError(t, err)
	assert.Equal(t, "external", d.Alias)
	assert.NotEmpty(t, d.Primary)
	assert.NotEmpty(t, d.Shadow)
	assert.NotEqual(t, d.Primary, d.Shadow)
	assert.Equal(t, StateUninitialized, d.State)

	target, err := backend.ResolveAlias(ctx, "external")
	require.NoError(t, err)
	assert.Equal(t, d.Primary, target)

	// Idempotent.
	require.NoError(t, svc.EnsureExists(ctx, "external"))
	again, err := svc.Descriptor("external")
	require.NoError(t, err)
	assert.Equal(t, d.Primary, again.Primary)
	assert.Equal(t, d.Shadow, again.Shadow)
	assert.Len(t, backend.Indexes(), 2)

	exists, err := svc.Exists(ctx, "external")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestService_EnsureExistsRejectsReservedNames(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	for _, name := range []string{"", "_internal", "all", "_all", "bad name", "a/b"} {
		err := svc.EnsureExists(ctx, name)
		assert.ErrorIs(t, err, domainerrors.ErrState, "name %q", name)
	}
	assert.Empty(t, svc.Names())
}

func TestService_EnsureExistsUnregisteredUsesEmptySchema(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureExists(ctx, "members"))

	m, err := svc.Mapping("members")
	require.NoError(t, err)
	assert.Contains(t, m.FieldNames(), schema.IDFieldName)
}

func TestService_TransitionRejectsInvalid(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureExists(ctx, "external"))

	err := svc.Transition("external", StateSwapping)
	assert.ErrorIs(t, err, domainerrors.ErrState)

	state, err := svc.GetState("external")
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, state)

	require.NoError(t, svc.Transition("external", StatePopulating))
	assert.True(t, svc.IsRebuildInProgress("external"))

	err = svc.Transition("external", StatePopulating)
	assert.ErrorIs(t, err, domainerrors.ErrState)

	_, err = svc.GetState("missing")
	assert.ErrorIs(t, err, domainerrors.ErrState)
	assert.ErrorIs(t, svc.Transition("missing", StatePopulating), domainerrors.ErrState)
	assert.False(t, svc.IsRebuildInProgress("missing"))
}

func TestService_SwapRelabelsPrimaryAndShadow(t *testing.T) {
	svc, backend := setupService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureExists(ctx, "external"))

	before, err := svc.Descriptor("external")
	require.NoError(t, err)

	resp, err := backend.Bulk(ctx, before.Shadow, []engine.BulkOp{
		{Type: engine.OpIndex, ID: "1", Body: map[string]any{"__NodeId": "1"}},
	}, engine.RefreshWaitFor)
	require.NoError(t, err)
	require.Empty(t, resp.Failed())

	count, err := svc.DocumentCount(ctx, "external")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, svc.Swap(ctx, "external"))

	after, err := svc.Descriptor("external")
	require.NoError(t, err)
	assert.Equal(t, before.Shadow, after.Primary)
	assert.Equal(t, before.Primary, after.Shadow)

	count, err = svc.DocumentCount(ctx, "external")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestService_ClearShadow(t *testing.T) {
	svc, backend := setupService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureExists(ctx, "external"))

	d, err := svc.Descriptor("external")
	require.NoError(t, err)

	_, err = backend.Bulk(ctx, d.Shadow, []engine.BulkOp{
		{Type: engine.OpIndex, ID: "stale", Body: map[string]any{"__NodeId": "stale"}},
	}, engine.RefreshWaitFor)
	require.NoError(t, err)

	require.NoError(t, svc.ClearShadow(ctx, "external"))

	count, err := backend.DocCount(ctx, d.Shadow)
	require.NoError(t, err)
	assert.Zero(t, count)

	target, err := backend.ResolveAlias(ctx, "external")
	require.NoError(t, err)
	assert.Equal(t, d.Primary, target)
}

func TestService_BeginRebuildClearsShadowBeforePopulating(t *testing.T) {
	svc, backend := setupService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureExists(ctx, "external"))

	d, err := svc.Descriptor("external")
	require.NoError(t, err)
	_, err = backend.Bulk(ctx, d.Shadow, []engine.BulkOp{
		{Type: engine.OpIndex, ID: "stale", Body: map[string]any{"__NodeId": "stale"}},
	}, engine.RefreshWaitFor)
	require.NoError(t, err)

	require.NoError(t, svc.BeginRebuild(ctx, "external"))

	d, err = svc.Descriptor("external")
	require.NoError(t, err)
	assert.Equal(t, StatePopulating, d.State)
	count, err := backend.DocCount(ctx, d.Shadow)
	require.NoError(t, err)
	assert.Zero(t, count)

	// A write routed to the shadow once populating survives until the swap.
	_, err = backend.Bulk(ctx, d.Shadow, []engine.BulkOp{
		{Type: engine.OpIndex, ID: "live", Body: map[string]any{"__NodeId": "live"}},
	}, engine.RefreshWaitFor)
	require.NoError(t, err)

	err = svc.BeginRebuild(ctx, "external")
	assert.ErrorIs(t, err, domainerrors.ErrState)
	count, err = backend.DocCount(ctx, d.Shadow)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestService_Delete(t *testing.T) {
	svc, backend := setupService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureExists(ctx, "external"))

	require.NoError(t, svc.Delete(ctx, "external"))
	assert.Empty(t, backend.Indexes())
	assert.Empty(t, svc.Names())

	_, err := svc.Descriptor("external")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "external"), domainerrors.ErrNotFound)
}

func TestService_LoadMarksInterruptedRebuildsFailed(t *testing.T) {
	backend, err := engine.NewBleve(engine.Options{InMemory: true})
	require.NoError(t, err)
	defer backend.Close()

	st, err := store.New(store.Options{Path: t.TempDir()})
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	first := NewService(Options{Backend: backend, Store: st})
	_, err = first.Register(ctx, "external", articleSchema, []string{"title"})
	require.NoError(t, err)
	require.NoError(t, first.EnsureExists(ctx, "external"))
	require.NoError(t, first.Transition("external", StatePopulating))
	original, err := first.Descriptor("external")
	require.NoError(t, err)

	second := NewService(Options{Backend: backend, Store: st})
	require.NoError(t, second.Load(ctx))

	d, err := second.Descriptor("external")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, d.State)
	assert.Equal(t, original.Primary, d.Primary)
	assert.Equal(t, original.Shadow, d.Shadow)
	assert.Equal(t, []string{"title"}, d.KeywordFields)
	assert.Equal(t, articleSchema, d.Schema)

	m, err := second.Mapping("external")
	require.NoError(t, err)
	prop, ok := m.Property("title")
	require.True(t, ok)
	assert.Equal(t, schema.KindKeyword, prop.Kind)

	require.NoError(t, second.EnsureExists(ctx, "external"))
	assert.Len(t, backend.Indexes(), 2)
}

func TestService_EnsureAllRestoresAliasesAfterRestart(t *testing.T) {
	dataPath := t.TempDir()
	ctx := context.Background()

	st, err := store.New(store.Options{Path: t.TempDir()})
	require.NoError(t, err)
	defer st.Close()

	backend, err := engine.NewBleve(engine.Options{DataPath: dataPath})
	require.NoError(t, err)

	first := NewService(Options{Backend: backend, Store: st})
	_, err = first.Register(ctx, "external", articleSchema, nil)
	require.NoError(t, err)
	require.NoError(t, first.EnsureExists(ctx, "external"))
	d, err := first.Descriptor("external")
	require.NoError(t, err)

	resp, err := backend.Bulk(ctx, d.Primary, []engine.BulkOp{{Type: engine.OpIndex, ID: "1", Body: map[string]any{
		schema.IDFieldName: "1",
		"title":            "hello",
	}}}, engine.RefreshWaitFor)
	require.NoError(t, err)
	require.Empty(t, resp.Failed())
	require.NoError(t, backend.Close())

	reopened, err := engine.NewBleve(engine.Options{DataPath: dataPath})
	require.NoError(t, err)
	defer reopened.Close()

	second := NewService(Options{Backend: reopened, Store: st})
	require.NoError(t, second.Load(ctx))
	require.NoError(t, second.EnsureAll(ctx))

	n, err := second.DocumentCount(ctx, "external")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.Len(t, reopened.Indexes(), 2)
}

func TestService_NamesSorted(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	for _, name := range []string{"members", "external", "internal"} {
		require.NoError(t, svc.EnsureExists(ctx, name))
	}
	assert.Equal(t, []string{"external", "internal", "members"}, svc.Names())
}
