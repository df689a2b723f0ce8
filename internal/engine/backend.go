// Package engine defines the document-search backend contract and its bleve implementation.
package engine

import (
	"context"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Refresh controls when bulk writes become visible to searches.
type Refresh int

// Refresh policies.
const (
	RefreshEventual Refresh = iota // return once accepted
	RefreshWaitFor                 // return once searchable
)

// OpType is the kind of a bulk operation.
type OpType string

// Bulk operation kinds.
const (
	OpIndex  OpType = "index"
	OpDelete OpType = "delete"
)

// BulkOp is one operation of a bulk request.
type BulkOp struct {
	Type OpType
	ID   string
	Body map[string]any // nil for deletes
}

// BulkItem is the outcome of one operation. Err is nil on success.
type BulkItem struct {
	ID  string
	Err error
}

// BulkResponse reports per-operation outcomes in request order.
type BulkResponse struct {
	Items []BulkItem
}

// Failed returns the items that did not succeed.
func (r *BulkResponse) Failed() []BulkItem {
	var failed []BulkItem
	for _, item := range r.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// Backend is the contract every search backend implements. Names may refer to
// a physical index or, where noted, to an alias.
//
// Unknown indices are reported with a NOT_FOUND domain error, transport or
// lifecycle failures with CONNECTIVITY.
type Backend interface {
	// CreateIndex creates a physical index with the given mapping.
	CreateIndex(ctx context.Context, name string, m mapping.IndexMapping) error
	// DropIndex removes a physical index. Dropping a missing index is not an error.
	DropIndex(ctx context.Context, name string) error
	// IndexExists reports whether a physical index or alias exists.
	IndexExists(ctx context.Context, name string) (bool, error)
	// PointAlias atomically repoints alias to physical, creating it if needed.
	PointAlias(ctx context.Context, alias, physical string) error
	// ResolveAlias returns the physical index behind alias, or "" if unset.
	ResolveAlias(ctx context.Context, alias string) (string, error)
	// Bulk applies ops to a physical index or alias.
	Bulk(ctx context.Context, name string, ops []BulkOp, refresh Refresh) (*BulkResponse, error)
	// Mapping returns the live mapping of a physical index or alias.
	Mapping(ctx context.Context, name string) (mapping.IndexMapping, error)
	// DocCount returns the number of documents in a physical index or alias.
	DocCount(ctx context.Context, name string) (uint64, error)
	// Search executes a request against a physical index or alias.
	Search(ctx context.Context, name string, req *bleve.SearchRequest) (*bleve.SearchResult, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases every open index.
	Close() error
}
