package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/rebuild"
)

func (s *Server) registerRebuildRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "rebuildIndex",
		Method:      http.MethodPost,
		Path:        "/api/v1/indexes/{name}/rebuild",
		Summary:     "Rebuild index",
		Description: "Repopulates an index behind its alias and swaps it in. Runs in the background unless wait is set.",
		Tags:        []string{"Rebuild"},
	}, s.handleRebuildIndex)

	huma.Register(s.api, huma.Operation{
		OperationID: "rebuildIndexes",
		Method:      http.MethodPost,
		Path:        "/api/v1/indexes/rebuild",
		Summary:     "Rebuild all indexes",
		Description: "Rebuilds every index, or only those that are missing or empty",
		Tags:        []string{"Rebuild"},
	}, s.handleRebuildAll)
}

// === DTOs ===

// RebuildIndexInput contains parameters for rebuilding one index.
type RebuildIndexInput struct {
	Name string `path:"name" maxLength:"64" doc:"Logical index name"`
	Wait bool   `query:"wait" doc:"Run synchronously and return the report"`
}

// RebuildAllInput contains parameters for rebuilding every index.
type RebuildAllInput struct {
	OnlyEmpty bool `query:"only_empty" doc:"Only rebuild indexes that are missing or hold no documents"`
	Wait      bool `query:"wait" doc:"Run synchronously and return the report"`
}

// RebuildResponse describes a dispatched or finished rebuild.
type RebuildResponse struct {
	JobID  string          `json:"job_id" doc:"Rebuild job ID"`
	Queued bool            `json:"queued" doc:"True when the rebuild runs in the background"`
	Report *rebuild.Report `json:"report,omitempty" doc:"Outcome, present when waited for"`
}

// RebuildOutput wraps the rebuild response for Huma.
type RebuildOutput struct {
	Status int
	Body   RebuildResponse
}

// === Handlers ===

func (s *Server) handleRebuildIndex(ctx context.Context, input *RebuildIndexInput) (*RebuildOutput, error) {
	ok, err := s.services.Rebuilds.CanRebuild(input.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainerrors.Conflictf("no populator feeds index %q", input.Name)
	}

	h, err := s.services.Rebuilds.RebuildOne(ctx, input.Name, s.delay(input.Wait), !input.Wait)
	if err != nil {
		return nil, err
	}
	return s.rebuildOutput(h, input.Wait), nil
}

func (s *Server) handleRebuildAll(ctx context.Context, input *RebuildAllInput) (*RebuildOutput, error) {
	h, err := s.services.Rebuilds.RebuildAll(ctx, input.OnlyEmpty, s.delay(input.Wait), !input.Wait)
	if err != nil {
		return nil, err
	}
	return s.rebuildOutput(h, input.Wait), nil
}

func (s *Server) delay(wait bool) time.Duration {
	if wait {
		return 0
	}
	return s.rebuildDelay
}

func (s *Server) rebuildOutput(h *rebuild.Handle, waited bool) *RebuildOutput {
	if !waited {
		s.logger.Info("rebuild queued", "job_id", h.ID)
		return &RebuildOutput{
			Status: http.StatusAccepted,
			Body:   RebuildResponse{JobID: h.ID, Queued: true},
		}
	}

	report, _ := h.Result()
	return &RebuildOutput{
		Status: http.StatusOK,
		Body:   RebuildResponse{JobID: h.ID, Report: report},
	}
}
