// Package worker runs deferred jobs on a bounded pool of goroutines,
// detached from the context of whoever enqueued them.
package worker

import (
	"context"
	"log/slog"
	"sync"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/logger"
)

// Job is a unit of deferred work. Its context is cancelled when the queue stops.
type Job func(ctx context.Context)

// Options configures a Queue.
type Options struct {
	Workers   int          // Concurrent jobs (default 1)
	QueueSize int          // Pending jobs before Enqueue fails (default 16)
	Logger    *slog.Logger // Logger for operations (uses discard if nil)
}

// Queue is a bounded worker pool.
type Queue struct {
	workers int
	jobs    chan Job
	logger  *slog.Logger

	ctx    context.Context //nolint:containedctx // Context needed for worker lifecycle management
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// New creates a queue. Call Start before jobs can run.
func New(opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		workers: opts.Workers,
		jobs:    make(chan Job, opts.QueueSize),
		logger:  logger.Component(opts.Logger, "worker"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it again has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.stopped {
		return
	}
	q.started = true

	q.logger.Info("starting workers", "workers", q.workers, "queue_size", cap(q.jobs))
	for i := range q.workers {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Enqueue schedules job without blocking. It fails when the queue is full or
// stopped.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return domainerrors.Statef("work queue is stopped")
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return domainerrors.RateLimited("work queue is full")
	}
}

// Stop cancels running jobs and waits for the workers to exit. Pending jobs
// still run once, with an already cancelled context, so they can release
// whatever waits on them.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.logger.Info("stopping workers")
	q.cancel()
	q.wg.Wait()

	if drained := q.drain(); drained > 0 {
		q.logger.Warn("cancelled pending jobs", "count", drained)
	}
	q.logger.Info("workers stopped")
}

// drain runs every pending job with the cancelled queue context.
func (q *Queue) drain() int {
	n := 0
	for {
		select {
		case job := <-q.jobs:
			q.run(-1, job)
			n++
		default:
			return n
		}
	}
}

// Pending returns the number of jobs waiting for a worker.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	q.logger.Debug("worker started", "worker_id", id)
	for {
		select {
		case <-q.ctx.Done():
			q.logger.Debug("worker stopping", "worker_id", id)
			return
		case job := <-q.jobs:
			q.run(id, job)
		}
	}
}

func (q *Queue) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", "worker_id", id, "panic", r)
		}
	}()
	job(q.ctx)
}
