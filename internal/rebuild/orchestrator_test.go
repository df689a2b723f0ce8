package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/indexbridge/internal/engine"
	"github.com/listenupapp/indexbridge/internal/index"
	"github.com/listenupapp/indexbridge/internal/schema"
	"github.com/listenupapp/indexbridge/internal/worker"
	"github.com/listenupapp/indexbridge/internal/writer"
)

type fakeGate struct {
	owner, ready bool
}

func (g fakeGate) IsOwner() bool { return g.owner }
func (g fakeGate) IsReady() bool { return g.ready }

// stubPopulator writes count documents to every supported target.
type stubPopulator struct {
	name    string
	indexes []string
	count   int
	err     func(targets []Target) error
	block   chan struct{} // Populate waits on it when set
	started chan struct{}
	panics  bool

	calls atomic.Int32
	seen  sync.Map
}

func (p *stubPopulator) Name() string { return p.name }

func (p *stubPopulator) Supports(idx string) bool {
	for _, name := range p.indexes {
		if name == idx {
			return true
		}
	}
	return false
}

func (p *stubPopulator) Populate(ctx context.Context, targets []Target) error {
	p.calls.Add(1)
	for _, t := range targets {
		p.seen.Store(t.Index, true)
	}
	if p.started != nil {
		close(p.started)
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
		}
	}
	if p.panics {
		panic("boom")
	}

	for _, t := range targets {
		docs := make([]writer.Document, 0, p.count)
		for i := range p.count {
			docs = append(docs, writer.Document{
				ID:       fmt.Sprintf("%s-%d", p.name, i),
				Category: "content",
				Fields:   map[string][]any{"title": {"doc"}},
			})
		}
		if _, err := t.Upsert(ctx, docs); err != nil {
			return err
		}
	}
	if p.err != nil {
		return p.err(targets)
	}
	return nil
}

type fixture struct {
	states  *index.Service
	backend *engine.Bleve
	orch    *Orchestrator
}

func setup(t *testing.T, gate Gate, queue WorkQueue, names ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	backend, err := engine.NewBleve(engine.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	states := index.NewService(index.Options{Backend: backend})
	fields := schema.Schema{{Name: "title", Kind: schema.KindText}}
	for _, name := range names {
		_, err := states.Register(ctx, name, fields, nil)
		require.NoError(t, err)
		require.NoError(t, states.EnsureExists(ctx, name))
	}

	writers := WritersFunc(func(name string) (*writer.Writer, error) {
		m, err := states.Mapping(name)
		if err != nil {
			return nil, err
		}
		return writer.New(backend, fields, m, writer.Options{}), nil
	})

	if gate == nil {
		gate = fakeGate{owner: true, ready: true}
	}
	orch := New(Options{States: states, Writers: writers, Gate: gate, Queue: queue})
	return &fixture{states: states, backend: backend, orch: orch}
}

func (f *fixture) count(t *testing.T, name string) uint64 {
	t.Helper()
	n, err := f.states.DocumentCount(context.Background(), name)
	require.NoError(t, err)
	return n
}

func TestRebuildOne_PopulatesAndSwaps(t *testing.T) {
	f := setup(t, nil, nil, "external")
	before, err := f.states.Descriptor("external")
	require.NoError(t, err)

	f.orch.Register(&stubPopulator{name: "content", indexes: []string{"external"}, count: 3})

	var swapped []string
	f.orch.OnSwapped(func(name string) { swapped = append(swapped, name) })

	h, err := f.orch.RebuildOne(context.Background(), "External", 0, false)
	require.NoError(t, err)

	r, ok := h.Result()
	require.True(t, ok)
	ir, ok := r.Index("external")
	require.True(t, ok)
	assert.Equal(t, OutcomeSwapped, ir.Outcome)
	assert.Empty(t, ir.Failures)

	assert.Equal(t, uint64(3), f.count(t, "external"))
	assert.Equal(t, []string{"external"}, swapped)

	after, err := f.states.Descriptor("external")
	require.NoError(t, err)
	assert.Equal(t, index.StateReady, after.State)
	assert.Equal(t, before.Shadow, after.Primary)
	assert.Equal(t, before.Primary, after.Shadow)
}

func TestRebuildOne_ConcurrentRequestIsSkipped(t *testing.T) {
	f := setup(t, nil, nil, "external")

	p := &stubPopulator{
		name:    "content",
		indexes: []string{"external"},
		count:   1,
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	f.orch.Register(p)

	first, err := f.orch.RebuildOne(context.Background(), "external", 0, true)
	require.NoError(t, err)
	<-p.started

	second, err := f.orch.RebuildOne(context.Background(), "external", 0, false)
	require.NoError(t, err)
	r, _ := second.Result()
	ir, ok := r.Index("external")
	require.True(t, ok)
	assert.Equal(t, OutcomeSkipped, ir.Outcome)
	assert.Equal(t, int32(1), p.calls.Load())

	close(p.block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err = first.Wait(ctx)
	require.NoError(t, err)
	ir, _ = r.Index("external")
	assert.Equal(t, OutcomeSwapped, ir.Outcome)
	assert.Equal(t, uint64(1), f.count(t, "external"))
}

func TestRebuildOne_CancelLeavesPrimaryUntouched(t *testing.T) {
	f := setup(t, nil, nil, "external")
	ctx := context.Background()

	f.orch.Register(&stubPopulator{name: "content", indexes: []string{"external"}, count: 2})
	_, err := f.orch.RebuildOne(ctx, "external", 0, false)
	require.NoError(t, err)
	require.Equal(t, uint64(2), f.count(t, "external"))
	before, err := f.states.Descriptor("external")
	require.NoError(t, err)

	blocking := &stubPopulator{
		name:    "slow",
		indexes: []string{"external"},
		count:   5,
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	f.orch.Register(blocking)

	h, err := f.orch.RebuildOne(ctx, "external", 0, true)
	require.NoError(t, err)
	<-blocking.started
	h.Cancel()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r, err := h.Wait(waitCtx)
	require.NoError(t, err)

	ir, ok := r.Index("external")
	require.True(t, ok)
	assert.Equal(t, OutcomeCancelled, ir.Outcome)
	assert.Equal(t, uint64(2), f.count(t, "external"))

	after, err := f.states.Descriptor("external")
	require.NoError(t, err)
	assert.Equal(t, index.StateFailed, after.State)
	assert.Equal(t, before.Primary, after.Primary)
}

func TestRebuildOne_PopulatorFailureDoesNotStopPipeline(t *testing.T) {
	f := setup(t, nil, nil, "external")

	f.orch.Register(&stubPopulator{
		name:    "broken",
		indexes: []string{"external"},
		err:     func([]Target) error { return errors.New("source unavailable") },
	})
	f.orch.Register(&stubPopulator{name: "panicky", indexes: []string{"external"}, panics: true})
	f.orch.Register(&stubPopulator{name: "content", indexes: []string{"external"}, count: 4})

	h, err := f.orch.RebuildOne(context.Background(), "external", 0, false)
	require.NoError(t, err)

	r, _ := h.Result()
	ir, ok := r.Index("external")
	require.True(t, ok)
	assert.Equal(t, OutcomeSwapped, ir.Outcome)
	require.Len(t, ir.Failures, 2)
	assert.Equal(t, "broken", ir.Failures[0].Populator)
	assert.Contains(t, ir.Failures[0].Error, "source unavailable")
	assert.Equal(t, "panicky", ir.Failures[1].Populator)
	assert.Contains(t, ir.Failures[1].Error, "boom")

	assert.Equal(t, uint64(4), f.count(t, "external"))
}

func TestRebuildOne_GateSkips(t *testing.T) {
	tests := []struct {
		name   string
		gate   fakeGate
		reason string
	}{
		{"not owner", fakeGate{owner: false, ready: true}, SkipNotOwner},
		{"not ready", fakeGate{owner: true, ready: false}, SkipNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, tt.gate, nil, "external")
			p := &stubPopulator{name: "content", indexes: []string{"external"}, count: 1}
			f.orch.Register(p)

			h, err := f.orch.RebuildOne(context.Background(), "external", 0, false)
			require.NoError(t, err)

			r, _ := h.Result()
			assert.Equal(t, tt.reason, r.Skipped)
			assert.Empty(t, r.Indexes)
			assert.Zero(t, p.calls.Load())
		})
	}
}

func TestRebuildOne_InvalidName(t *testing.T) {
	f := setup(t, nil, nil)
	_, err := f.orch.RebuildOne(context.Background(), "bad name!", 0, false)
	assert.Error(t, err)
}

func TestRebuildAll_OnlyEmpty(t *testing.T) {
	f := setup(t, nil, nil, "external", "members")
	ctx := context.Background()

	seed := &stubPopulator{name: "seed", indexes: []string{"external"}, count: 2}
	f.orch.Register(seed)
	_, err := f.orch.RebuildOne(ctx, "external", 0, false)
	require.NoError(t, err)
	external, err := f.states.Descriptor("external")
	require.NoError(t, err)

	content := &stubPopulator{name: "content", indexes: []string{"external", "members"}, count: 1}
	f.orch.Register(content)

	h, err := f.orch.RebuildAll(ctx, true, 0, false)
	require.NoError(t, err)

	r, _ := h.Result()
	require.Len(t, r.Indexes, 1)
	assert.Equal(t, "members", r.Indexes[0].Index)
	assert.Equal(t, OutcomeSwapped, r.Indexes[0].Outcome)

	_, touched := content.seen.Load("external")
	assert.False(t, touched)
	assert.Equal(t, int32(1), content.calls.Load())

	after, err := f.states.Descriptor("external")
	require.NoError(t, err)
	assert.Equal(t, external.Primary, after.Primary)
	assert.Equal(t, uint64(2), f.count(t, "external"))
}

func TestRebuildAll_RunsEachPopulatorOnce(t *testing.T) {
	f := setup(t, nil, nil, "external", "members")

	p := &stubPopulator{
		name:    "content",
		indexes: []string{"external", "members"},
		count:   2,
		err: func([]Target) error {
			return errors.Join(&TargetError{Index: "members", Err: errors.New("bad row")})
		},
	}
	f.orch.Register(p)

	h, err := f.orch.RebuildAll(context.Background(), false, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())

	r, _ := h.Result()
	external, ok := r.Index("external")
	require.True(t, ok)
	assert.Equal(t, OutcomeSwapped, external.Outcome)
	assert.Empty(t, external.Failures)

	members, ok := r.Index("members")
	require.True(t, ok)
	assert.Equal(t, OutcomeSwapped, members.Outcome)
	require.Len(t, members.Failures, 1)
	assert.Contains(t, members.Failures[0].Error, "bad row")

	assert.Equal(t, uint64(2), f.count(t, "external"))
	assert.Equal(t, uint64(2), f.count(t, "members"))
}

func TestRebuild_BackgroundOnQueue(t *testing.T) {
	q := worker.New(worker.Options{Workers: 1, QueueSize: 4})
	q.Start()
	t.Cleanup(q.Stop)

	f := setup(t, nil, q, "external")
	f.orch.Register(&stubPopulator{name: "content", indexes: []string{"external"}, count: 3})

	callerCtx, cancelCaller := context.WithCancel(context.Background())
	h, err := f.orch.RebuildOne(callerCtx, "external", 10*time.Millisecond, true)
	require.NoError(t, err)
	cancelCaller()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := h.Wait(ctx)
	require.NoError(t, err)

	ir, ok := r.Index("external")
	require.True(t, ok)
	assert.Equal(t, OutcomeSwapped, ir.Outcome)
	assert.Equal(t, uint64(3), f.count(t, "external"))
}

func TestRebuild_StoppedQueueFinishesPendingHandles(t *testing.T) {
	q := worker.New(worker.Options{Workers: 1, QueueSize: 4})
	q.Start()

	f := setup(t, nil, q, "external", "members")
	blocking := &stubPopulator{
		name:    "slow",
		indexes: []string{"external"},
		count:   1,
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	f.orch.Register(blocking)
	f.orch.Register(&stubPopulator{name: "members", indexes: []string{"members"}, count: 1})

	ctx := context.Background()
	running, err := f.orch.RebuildOne(ctx, "external", 0, true)
	require.NoError(t, err)
	<-blocking.started

	pending, err := f.orch.RebuildOne(ctx, "members", 0, true)
	require.NoError(t, err)

	q.Stop()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r, err := running.Wait(waitCtx)
	require.NoError(t, err)
	ir, ok := r.Index("external")
	require.True(t, ok)
	assert.Equal(t, OutcomeCancelled, ir.Outcome)

	r, err = pending.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, SkipCancelled, r.Skipped)
	assert.Zero(t, f.count(t, "members"))
}

func TestCanRebuild(t *testing.T) {
	f := setup(t, nil, nil, "external", "members")
	f.orch.Register(&stubPopulator{name: "content", indexes: []string{"external"}})

	ok, err := f.orch.CanRebuild("external")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.orch.CanRebuild("members")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.orch.CanRebuild("missing")
	assert.Error(t, err)
}

func TestAttribute(t *testing.T) {
	targets := []Target{{Index: "a"}, {Index: "b"}}

	assert.Empty(t, attribute(nil, targets))

	shared := attribute(errors.New("down"), targets)
	assert.Len(t, shared, 2)

	mixed := attribute(errors.Join(
		&TargetError{Index: "a", Err: errors.New("bad a")},
		errors.New("down"),
	), targets)
	assert.ErrorContains(t, mixed["a"], "bad a")
	assert.ErrorContains(t, mixed["a"], "down")
	assert.NotContains(t, mixed["b"].Error(), "bad a")
}
