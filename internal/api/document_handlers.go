package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/indexbridge/internal/writer"
)

func (s *Server) registerDocumentRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "upsertDocuments",
		Method:      http.MethodPut,
		Path:        "/api/v1/indexes/{name}/documents",
		Summary:     "Upsert documents",
		Description: "Indexes or replaces documents. Per-document failures are reported without failing the request.",
		Tags:        []string{"Documents"},
	}, s.handleUpsertDocuments)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteDocuments",
		Method:      http.MethodDelete,
		Path:        "/api/v1/indexes/{name}/documents",
		Summary:     "Delete documents",
		Description: "Removes documents by ID",
		Tags:        []string{"Documents"},
	}, s.handleDeleteDocuments)
}

// === DTOs ===

// DocumentRequest is one document to index.
type DocumentRequest struct {
	ID       string           `json:"id" minLength:"1" maxLength:"512" doc:"Document ID"`
	Category string           `json:"category" minLength:"1" maxLength:"100" doc:"Document category"`
	ItemType string           `json:"item_type,omitempty" maxLength:"100" doc:"Item type alias"`
	Fields   map[string][]any `json:"fields" doc:"Field values; every field may hold several values"`
}

// UpsertDocumentsRequest is the request body for upserting documents.
type UpsertDocumentsRequest struct {
	Documents []DocumentRequest `json:"documents" minItems:"1" maxItems:"10000" doc:"Documents to index"`
	Wait      bool              `json:"wait,omitempty" doc:"Return once the documents are searchable"`
}

// UpsertDocumentsInput wraps the upsert request for Huma.
type UpsertDocumentsInput struct {
	Name string `path:"name" maxLength:"64" doc:"Logical index name"`
	Body UpsertDocumentsRequest
}

// DeleteDocumentsInput contains parameters for deleting documents.
type DeleteDocumentsInput struct {
	Name string `path:"name" maxLength:"64" doc:"Logical index name"`
	IDs  string `query:"ids" required:"true" minLength:"1" doc:"Comma-separated document IDs"`
	Wait bool   `query:"wait" doc:"Return once the deletions are searchable"`
}

// WriteResponse reports the outcome of a write.
type WriteResponse struct {
	Succeeded int                  `json:"succeeded" doc:"Documents written"`
	Failures  []writer.ItemFailure `json:"failures,omitempty" doc:"Documents that failed, with reasons"`
}

// WriteOutput wraps the write response for Huma.
type WriteOutput struct {
	Body WriteResponse
}

// === Handlers ===

func (s *Server) handleUpsertDocuments(ctx context.Context, input *UpsertDocumentsInput) (*WriteOutput, error) {
	idx, err := s.services.Indexes.Get(input.Name)
	if err != nil {
		return nil, err
	}

	docs := make([]writer.Document, len(input.Body.Documents))
	for i, d := range input.Body.Documents {
		docs[i] = writer.Document{
			ID:       d.ID,
			Category: d.Category,
			ItemType: d.ItemType,
			Fields:   d.Fields,
		}
	}

	result, err := idx.Upsert(ctx, docs, consistency(input.Body.Wait))
	if err != nil {
		return nil, err
	}
	return writeOutput(result), nil
}

func (s *Server) handleDeleteDocuments(ctx context.Context, input *DeleteDocumentsInput) (*WriteOutput, error) {
	idx, err := s.services.Indexes.Get(input.Name)
	if err != nil {
		return nil, err
	}

	result, err := idx.Delete(ctx, splitList(input.IDs), consistency(input.Wait))
	if err != nil {
		return nil, err
	}
	return writeOutput(result), nil
}

func consistency(wait bool) writer.Consistency {
	if wait {
		return writer.Immediate
	}
	return writer.Eventual
}

func writeOutput(r *writer.Result) *WriteOutput {
	return &WriteOutput{Body: WriteResponse{Succeeded: r.Succeeded, Failures: r.Failures}}
}
