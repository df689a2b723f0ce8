package writer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/listenupapp/indexbridge/internal/engine"
	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/schema"
)

// DefaultBatchSize is the largest number of operations sent in one bulk request.
const DefaultBatchSize = 500

// Consistency controls when written documents become searchable.
type Consistency int

// Consistency levels.
const (
	Eventual  Consistency = iota // return once the write is accepted
	Immediate                    // return once the write is searchable
)

func (c Consistency) refresh() engine.Refresh {
	if c == Immediate {
		return engine.RefreshWaitFor
	}
	return engine.RefreshEventual
}

// ItemFailure describes a document that could not be written.
type ItemFailure = domainerrors.ItemFailure

// Result aggregates the outcome of a write.
type Result struct {
	Succeeded int
	Failures  []ItemFailure
}

// Err returns a PARTIAL_WRITE error listing the failures, or nil.
func (r *Result) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	return domainerrors.PartialWrite(r.Failures)
}

func (r *Result) merge(other *Result) {
	r.Succeeded += other.Succeeded
	r.Failures = append(r.Failures, other.Failures...)
}

// Options configures a Writer.
type Options struct {
	BatchSize int          // Operations per bulk request (default 500)
	Logger    *slog.Logger // Logger for operations (uses discard if nil)
}

// Writer writes documents of one logical index to any of its physical indices.
//
// Thread safety: A Writer holds no mutable state and is safe for concurrent use.
type Writer struct {
	backend    engine.Backend
	normalizer normalizer
	batchSize  int
	logger     *slog.Logger
}

// New creates a writer for documents shaped by fields. The mapping supplies
// the resolved kind of each field for value coercion and may be nil.
func New(backend engine.Backend, fields schema.Schema, m *schema.Mapping, opts Options) *Writer {
	w := &Writer{
		backend:    backend,
		normalizer: newNormalizer(fields, m),
		batchSize:  opts.BatchSize,
		logger:     logger.Component(opts.Logger, "writer"),
	}
	if w.batchSize <= 0 {
		w.batchSize = DefaultBatchSize
	}
	return w
}

// Upsert indexes docs into target. Documents that fail normalization or are
// rejected by the backend are reported in the result; the call itself fails
// only when the bulk request cannot be made at all.
func (w *Writer) Upsert(ctx context.Context, target string, docs []Document, c Consistency) (*Result, error) {
	result := &Result{}

	for start := 0; start < len(docs); start += w.batchSize {
		end := min(start+w.batchSize, len(docs))

		ops := make([]engine.BulkOp, 0, end-start)
		for _, doc := range docs[start:end] {
			if strings.TrimSpace(doc.ID) == "" {
				w.fail(result, target, doc.ID, "document id is required")
				continue
			}
			body, err := w.normalizer.body(doc)
			if err != nil {
				w.fail(result, target, doc.ID, err.Error())
				continue
			}
			ops = append(ops, engine.BulkOp{Type: engine.OpIndex, ID: doc.ID, Body: body})
		}

		chunk, err := w.submit(ctx, target, ops, c)
		if err != nil {
			return result, err
		}
		result.merge(chunk)
	}

	w.logger.Debug("upserted documents",
		"index", target,
		"succeeded", result.Succeeded,
		"failed", len(result.Failures),
	)
	return result, nil
}

// Delete removes ids from target. Blank ids are ignored.
func (w *Writer) Delete(ctx context.Context, target string, ids []string, c Consistency) (*Result, error) {
	ops := make([]engine.BulkOp, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		ops = append(ops, engine.BulkOp{Type: engine.OpDelete, ID: id})
	}

	result := &Result{}
	for start := 0; start < len(ops); start += w.batchSize {
		end := min(start+w.batchSize, len(ops))
		chunk, err := w.submit(ctx, target, ops[start:end], c)
		if err != nil {
			return result, err
		}
		result.merge(chunk)
	}

	w.logger.Debug("deleted documents",
		"index", target,
		"succeeded", result.Succeeded,
		"failed", len(result.Failures),
	)
	return result, nil
}

func (w *Writer) submit(ctx context.Context, target string, ops []engine.BulkOp, c Consistency) (*Result, error) {
	result := &Result{}
	if len(ops) == 0 {
		return result, nil
	}

	resp, err := w.backend.Bulk(ctx, target, ops, c.refresh())
	if err != nil {
		if domainerrors.Is(err, domainerrors.ErrConnectivity) {
			w.logger.Error("backend unreachable during bulk write", "index", target, "error", err)
			return nil, err
		}
		return nil, fmt.Errorf("bulk write to %s: %w", target, err)
	}

	for _, item := range resp.Items {
		if item.Err != nil {
			w.fail(result, target, item.ID, item.Err.Error())
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

func (w *Writer) fail(result *Result, target, id, reason string) {
	w.logger.Warn("failed to write document", "index", target, "id", id, "reason", reason)
	result.Failures = append(result.Failures, ItemFailure{ID: id, Reason: reason})
}
