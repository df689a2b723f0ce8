// Package rebuild repopulates logical indices behind their alias: it fills
// the shadow index from the registered populators and swaps it in.
package rebuild

import (
	"context"
	"errors"
	"fmt"

	"github.com/listenupapp/indexbridge/internal/writer"
)

// Populator supplies documents for the indices it supports.
type Populator interface {
	// Name identifies the populator in logs and reports.
	Name() string
	// Supports reports whether the populator feeds the logical index.
	Supports(index string) bool
	// Populate writes every document for targets. Failures specific to one
	// target should be returned as *TargetError, joined with errors.Join;
	// any other error is attributed to every target.
	Populate(ctx context.Context, targets []Target) error
}

// Target is the shadow index of one logical index being rebuilt.
type Target struct {
	Index    string // Logical index name
	Physical string // Shadow physical index receiving documents
	writer   *writer.Writer
}

// NewTarget creates a target writing to physical through w.
func NewTarget(index, physical string, w *writer.Writer) Target {
	return Target{Index: index, Physical: physical, writer: w}
}

// Upsert writes docs to the shadow index.
func (t Target) Upsert(ctx context.Context, docs []writer.Document) (*writer.Result, error) {
	return t.writer.Upsert(ctx, t.Physical, docs, writer.Eventual)
}

// Delete removes ids from the shadow index.
func (t Target) Delete(ctx context.Context, ids []string) (*writer.Result, error) {
	return t.writer.Delete(ctx, t.Physical, ids, writer.Eventual)
}

// TargetError attributes a populator failure to one logical index.
type TargetError struct {
	Index string
	Err   error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Index, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// attribute splits a populator error into per-index errors.
func attribute(err error, targets []Target) map[string]error {
	out := make(map[string]error)
	if err == nil {
		return out
	}

	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}

	var shared []error
	for _, e := range errs {
		var te *TargetError
		if errors.As(e, &te) {
			out[te.Index] = errors.Join(out[te.Index], te.Err)
			continue
		}
		shared = append(shared, e)
	}

	if len(shared) > 0 {
		common := errors.Join(shared...)
		for _, t := range targets {
			out[t.Index] = errors.Join(out[t.Index], common)
		}
	}
	return out
}
