package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/id"
	"github.com/listenupapp/indexbridge/internal/index"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/worker"
	"github.com/listenupapp/indexbridge/internal/writer"
)

// States is the part of the index state service a rebuild drives.
type States interface {
	Names() []string
	EnsureExists(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	DocumentCount(ctx context.Context, name string) (uint64, error)
	Descriptor(name string) (index.Descriptor, error)
	IsRebuildInProgress(name string) bool
	Transition(name string, next index.State) error
	BeginRebuild(ctx context.Context, name string) error
	Swap(ctx context.Context, name string) error
}

// Writers resolves the document writer of a logical index.
type Writers interface {
	WriterFor(name string) (*writer.Writer, error)
}

// WritersFunc adapts a function to Writers.
type WritersFunc func(name string) (*writer.Writer, error)

// WriterFor calls f.
func (f WritersFunc) WriterFor(name string) (*writer.Writer, error) {
	return f(name)
}

// Gate reports whether this process may run rebuilds.
type Gate interface {
	IsOwner() bool
	IsReady() bool
}

// WorkQueue runs jobs detached from the caller.
type WorkQueue interface {
	Enqueue(job worker.Job) error
}

// Options configures an Orchestrator.
type Options struct {
	States     States
	Writers    Writers
	Gate       Gate
	Queue      WorkQueue // Runs background rebuilds (plain goroutines if nil)
	Populators []Populator
	Logger     *slog.Logger
}

// Orchestrator rebuilds logical indices without interrupting searches.
//
// At most one rebuild runs per logical index in this process; a request for an
// index that is already being rebuilt is skipped, never queued.
type Orchestrator struct {
	states  States
	writers Writers
	gate    Gate
	queue   WorkQueue
	logger  *slog.Logger

	mu         sync.RWMutex
	populators []Populator
	onSwapped  []func(name string)
	locks      map[string]*sync.Mutex
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		states:     opts.States,
		writers:    opts.Writers,
		gate:       opts.Gate,
		queue:      opts.Queue,
		logger:     logger.Component(opts.Logger, "rebuild"),
		populators: slices.Clone(opts.Populators),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Register appends p to the populator pipeline.
func (o *Orchestrator) Register(p Populator) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.populators = append(o.populators, p)
}

// OnSwapped registers fn to run after an index has been swapped.
func (o *Orchestrator) OnSwapped(fn func(name string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSwapped = append(o.onSwapped, fn)
}

// CanRebuild reports whether any populator supports name.
func (o *Orchestrator) CanRebuild(name string) (bool, error) {
	d, err := o.states.Descriptor(name)
	if err != nil {
		return false, err
	}
	return len(o.populatorsFor(d.Name)) > 0, nil
}

func (o *Orchestrator) populatorsFor(name string) []Populator {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var supported []Populator
	for _, p := range o.populators {
		if p.Supports(name) {
			supported = append(supported, p)
		}
	}
	return supported
}

func (o *Orchestrator) pipeline() []Populator {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.populators)
}

func (o *Orchestrator) lockFor(name string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.locks[name]
	if !ok {
		l = &sync.Mutex{}
		o.locks[name] = l
	}
	return l
}

// tryLock takes the rebuild lock of name without blocking.
func (o *Orchestrator) tryLock(name string) (*sync.Mutex, error) {
	if o.states.IsRebuildInProgress(name) {
		return nil, domainerrors.LockContentionf("rebuild of %q already in progress", name)
	}
	l := o.lockFor(name)
	if !l.TryLock() {
		return nil, domainerrors.LockContentionf("rebuild of %q already in progress", name)
	}
	return l, nil
}

// RebuildOne rebuilds a single logical index. With background set the work
// runs on the work queue under its own cancellation and the returned handle
// completes later; otherwise it runs before RebuildOne returns.
func (o *Orchestrator) RebuildOne(ctx context.Context, name string, delay time.Duration, background bool) (*Handle, error) {
	key, err := index.Normalize(name)
	if err != nil {
		return nil, err
	}
	return o.dispatch(ctx, delay, background, func(ctx context.Context, r *Report) {
		o.rebuildOne(ctx, key, r)
	})
}

// RebuildAll rebuilds every known logical index, or with onlyEmpty set only
// those that do not exist yet or hold no documents. Each populator runs once
// across all candidates it supports before the next one starts.
func (o *Orchestrator) RebuildAll(ctx context.Context, onlyEmpty bool, delay time.Duration, background bool) (*Handle, error) {
	return o.dispatch(ctx, delay, background, func(ctx context.Context, r *Report) {
		o.rebuildAll(ctx, onlyEmpty, r)
	})
}

func (o *Orchestrator) dispatch(ctx context.Context, delay time.Duration, background bool, run func(context.Context, *Report)) (*Handle, error) {
	if !background {
		jobCtx, cancel := context.WithCancel(ctx)
		h := newHandle(id.Job(), cancel)
		h.finish(o.execute(jobCtx, h.ID, delay, run))
		return h, nil
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := newHandle(id.Job(), cancel)
	job := func(queueCtx context.Context) {
		stop := context.AfterFunc(queueCtx, cancel)
		defer stop()
		if queueCtx.Err() != nil {
			cancel()
		}
		h.finish(o.execute(jobCtx, h.ID, delay, run))
	}

	if o.queue == nil {
		go job(context.Background())
		return h, nil
	}
	if err := o.queue.Enqueue(job); err != nil {
		cancel()
		return nil, fmt.Errorf("enqueue rebuild: %w", err)
	}
	o.logger.Debug("rebuild queued", "job_id", h.ID, "delay", delay)
	return h, nil
}

func (o *Orchestrator) execute(ctx context.Context, jobID string, delay time.Duration, run func(context.Context, *Report)) *Report {
	r := &Report{JobID: jobID, Indexes: []IndexReport{}, StartedAt: time.Now()}
	defer func() { r.FinishedAt = time.Now() }()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			r.Skipped = SkipCancelled
			return r
		}
	}

	switch {
	case ctx.Err() != nil:
		r.Skipped = SkipCancelled
	case !o.gate.IsOwner():
		r.Skipped = SkipNotOwner
	case !o.gate.IsReady():
		r.Skipped = SkipNotReady
	}
	if r.Skipped != "" {
		o.logger.Debug("rebuild skipped", "job_id", jobID, "reason", r.Skipped)
		return r
	}

	run(ctx, r)
	return r
}

func (o *Orchestrator) rebuildOne(ctx context.Context, name string, r *Report) {
	lock, err := o.tryLock(name)
	if err != nil {
		o.logger.Warn("rebuild skipped", "index", name, "job_id", r.JobID, "error", err)
		r.Indexes = append(r.Indexes, IndexReport{Index: name, Outcome: OutcomeSkipped, Error: err.Error()})
		return
	}
	defer lock.Unlock()

	o.logger.Info("rebuild started", "index", name, "job_id", r.JobID)

	target, err := o.prepare(ctx, name)
	if err != nil {
		r.Indexes = append(r.Indexes, IndexReport{Index: name, Outcome: OutcomeFailed, Error: err.Error()})
		return
	}

	ir := IndexReport{Index: name}
	for _, p := range o.populatorsFor(name) {
		if ctx.Err() != nil {
			break
		}
		for idx, err := range o.populate(ctx, p, []Target{target}) {
			ir.Failures = append(ir.Failures, o.failure(p, idx, r.JobID, err))
		}
	}

	o.finish(ctx, &ir, r.JobID)
	r.Indexes = append(r.Indexes, ir)
}

func (o *Orchestrator) rebuildAll(ctx context.Context, onlyEmpty bool, r *Report) {
	candidates := o.candidates(ctx, onlyEmpty)
	o.logger.Info("rebuild started",
		"job_id", r.JobID,
		"only_empty", onlyEmpty,
		"candidates", len(candidates),
	)

	var (
		targets []Target
		reports = make(map[string]*IndexReport)
	)
	for _, name := range candidates {
		if ctx.Err() != nil {
			break
		}

		lock, err := o.tryLock(name)
		if err != nil {
			o.logger.Warn("rebuild skipped", "index", name, "job_id", r.JobID, "error", err)
			r.Indexes = append(r.Indexes, IndexReport{Index: name, Outcome: OutcomeSkipped, Error: err.Error()})
			continue
		}
		defer lock.Unlock()

		target, err := o.prepare(ctx, name)
		if err != nil {
			r.Indexes = append(r.Indexes, IndexReport{Index: name, Outcome: OutcomeFailed, Error: err.Error()})
			continue
		}
		targets = append(targets, target)
		reports[name] = &IndexReport{Index: name}
	}

	for _, p := range o.pipeline() {
		if ctx.Err() != nil {
			break
		}

		var supported []Target
		for _, t := range targets {
			if p.Supports(t.Index) {
				supported = append(supported, t)
			}
		}
		if len(supported) == 0 {
			continue
		}

		for idx, err := range o.populate(ctx, p, supported) {
			ir, ok := reports[idx]
			if !ok {
				o.logger.Warn("populator reported an error for an index it was not given",
					"populator", p.Name(),
					"index", idx,
					"error", err,
				)
				continue
			}
			ir.Failures = append(ir.Failures, o.failure(p, idx, r.JobID, err))
		}
	}

	for _, t := range targets {
		ir := reports[t.Index]
		o.finish(ctx, ir, r.JobID)
		r.Indexes = append(r.Indexes, *ir)
	}
}

// candidates lists the indices RebuildAll should touch.
func (o *Orchestrator) candidates(ctx context.Context, onlyEmpty bool) []string {
	names := o.states.Names()
	if !onlyEmpty {
		return names
	}

	var empty []string
	for _, name := range names {
		exists, err := o.states.Exists(ctx, name)
		if err != nil {
			o.logger.Warn("cannot check index, skipping", "index", name, "error", err)
			continue
		}
		if !exists {
			empty = append(empty, name)
			continue
		}
		count, err := o.states.DocumentCount(ctx, name)
		if err != nil {
			o.logger.Warn("cannot count documents, skipping", "index", name, "error", err)
			continue
		}
		if count == 0 {
			empty = append(empty, name)
		}
	}
	return empty
}

// prepare provisions name, clears its shadow and marks it populating.
func (o *Orchestrator) prepare(ctx context.Context, name string) (Target, error) {
	if err := o.states.EnsureExists(ctx, name); err != nil {
		o.logger.Error("cannot provision index", "index", name, "error", err)
		return Target{}, err
	}
	if err := o.states.BeginRebuild(ctx, name); err != nil {
		o.logger.Error("cannot start rebuild", "index", name, "error", err)
		return Target{}, err
	}

	d, err := o.states.Descriptor(name)
	var w *writer.Writer
	if err == nil {
		w, err = o.writers.WriterFor(name)
	}
	if err != nil {
		o.logger.Error("cannot prepare shadow", "index", name, "error", err)
		o.fail(name)
		return Target{}, err
	}

	return NewTarget(name, d.Shadow, w), nil
}

// populate runs p and attributes its errors to indices. Panics are
// converted to errors.
func (o *Orchestrator) populate(ctx context.Context, p Populator, targets []Target) map[string]error {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return p.Populate(ctx, targets)
	}()

	o.logger.Debug("populator finished",
		"populator", p.Name(),
		"targets", len(targets),
		"duration", time.Since(start),
	)
	return attribute(err, targets)
}

func (o *Orchestrator) failure(p Populator, idx, jobID string, err error) PopulatorFailure {
	perr := domainerrors.Populator(p.Name(), err)
	o.logger.Error("populator failed",
		"populator", p.Name(),
		"index", idx,
		"job_id", jobID,
		"error", perr,
	)
	return PopulatorFailure{Populator: p.Name(), Error: err.Error()}
}

// finish swaps a populated index in, or marks it failed when the job was
// cancelled. The primary is only replaced after a complete pass.
func (o *Orchestrator) finish(ctx context.Context, ir *IndexReport, jobID string) {
	if err := ctx.Err(); err != nil {
		o.logger.Warn("rebuild cancelled before swap, primary left untouched",
			"index", ir.Index,
			"job_id", jobID,
		)
		o.fail(ir.Index)
		ir.Outcome = OutcomeCancelled
		return
	}

	if err := o.states.Transition(ir.Index, index.StateSwapping); err != nil {
		o.fail(ir.Index)
		ir.Outcome, ir.Error = OutcomeFailed, err.Error()
		return
	}
	if err := o.states.Swap(ctx, ir.Index); err != nil {
		o.logger.Error("swap failed", "index", ir.Index, "job_id", jobID, "error", err)
		o.fail(ir.Index)
		ir.Outcome, ir.Error = OutcomeFailed, err.Error()
		return
	}
	if err := o.states.Transition(ir.Index, index.StateReady); err != nil {
		o.logger.Error("cannot mark index ready", "index", ir.Index, "error", err)
	}

	ir.Outcome = OutcomeSwapped
	o.logger.Info("rebuild completed",
		"index", ir.Index,
		"job_id", jobID,
		"populator_failures", len(ir.Failures),
	)

	o.mu.RLock()
	hooks := slices.Clone(o.onSwapped)
	o.mu.RUnlock()
	for _, fn := range hooks {
		fn(ir.Index)
	}
}

func (o *Orchestrator) fail(name string) {
	if err := o.states.Transition(name, index.StateFailed); err != nil {
		o.logger.Warn("cannot mark index failed", "index", name, "error", err)
	}
}
