package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/indexbridge/internal/search"
)

func (s *Server) registerIndexRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listIndexes",
		Method:      http.MethodGet,
		Path:        "/api/v1/indexes",
		Summary:     "List indexes",
		Description: "Returns metadata for every logical index",
		Tags:        []string{"Indexes"},
	}, s.handleListIndexes)

	huma.Register(s.api, huma.Operation{
		OperationID: "getIndex",
		Method:      http.MethodGet,
		Path:        "/api/v1/indexes/{name}",
		Summary:     "Get index",
		Description: "Returns metadata for one logical index",
		Tags:        []string{"Indexes"},
	}, s.handleGetIndex)
}

// === DTOs ===

// IndexInput identifies a logical index in the path.
type IndexInput struct {
	Name string `path:"name" maxLength:"64" doc:"Logical index name"`
}

// ListIndexesResponse contains metadata for every index.
type ListIndexesResponse struct {
	Indexes []search.Metadata `json:"indexes" doc:"Index metadata"`
}

// ListIndexesOutput wraps the list response for Huma.
type ListIndexesOutput struct {
	Body ListIndexesResponse
}

// IndexOutput wraps index metadata for Huma.
type IndexOutput struct {
	Body search.Metadata
}

// === Handlers ===

func (s *Server) handleListIndexes(ctx context.Context, _ *struct{}) (*ListIndexesOutput, error) {
	names := s.services.Indexes.Names()
	resp := ListIndexesResponse{Indexes: make([]search.Metadata, 0, len(names))}

	for _, name := range names {
		md, err := s.metadata(ctx, name)
		if err != nil {
			return nil, err
		}
		resp.Indexes = append(resp.Indexes, *md)
	}
	return &ListIndexesOutput{Body: resp}, nil
}

func (s *Server) handleGetIndex(ctx context.Context, input *IndexInput) (*IndexOutput, error) {
	md, err := s.metadata(ctx, input.Name)
	if err != nil {
		return nil, err
	}
	return &IndexOutput{Body: *md}, nil
}

func (s *Server) metadata(ctx context.Context, name string) (*search.Metadata, error) {
	idx, err := s.services.Indexes.Get(name)
	if err != nil {
		return nil, err
	}
	return idx.Metadata(ctx)
}
