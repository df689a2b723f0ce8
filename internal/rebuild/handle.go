package rebuild

import (
	"context"
	"sync"
	"time"
)

// Outcome is what happened to one index during a rebuild.
type Outcome string

// Outcomes.
const (
	OutcomeSwapped   Outcome = "swapped"   // Shadow populated and made visible
	OutcomeCancelled Outcome = "cancelled" // Stopped before the swap; primary untouched
	OutcomeFailed    Outcome = "failed"    // Could not prepare or swap
	OutcomeSkipped   Outcome = "skipped"   // Another rebuild holds the index
)

// Reasons a whole job did nothing.
const (
	SkipNotOwner  = "not owner"
	SkipNotReady  = "not ready"
	SkipCancelled = "cancelled before start"
)

// PopulatorFailure records one populator error for one index.
type PopulatorFailure struct {
	Populator string `json:"populator"`
	Error     string `json:"error"`
}

// IndexReport is the outcome for one logical index.
type IndexReport struct {
	Index    string             `json:"index"`
	Outcome  Outcome            `json:"outcome"`
	Failures []PopulatorFailure `json:"failures,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Report summarizes a finished rebuild job.
type Report struct {
	JobID      string        `json:"job_id"`
	Skipped    string        `json:"skipped,omitempty"`
	Indexes    []IndexReport `json:"indexes"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Index returns the report for name.
func (r *Report) Index(name string) (IndexReport, bool) {
	for _, ir := range r.Indexes {
		if ir.Index == name {
			return ir, true
		}
	}
	return IndexReport{}, false
}

// Handle tracks a dispatched rebuild. Callers may ignore it.
type Handle struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	report *Report
}

func newHandle(id string, cancel context.CancelFunc) *Handle {
	return &Handle{ID: id, cancel: cancel, done: make(chan struct{})}
}

// Done is closed when the job has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-h.done:
		r, _ := h.Result()
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel asks the job to stop at its next checkpoint. A job cancelled before
// it starts does nothing.
func (h *Handle) Cancel() {
	h.cancel()
}

// Result returns the report once the job has finished.
func (h *Handle) Result() (*Report, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.report, h.report != nil
}

func (h *Handle) finish(r *Report) {
	h.mu.Lock()
	h.report = r
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}
