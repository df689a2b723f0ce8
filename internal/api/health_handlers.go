package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/indexbridge/internal/query"
)

// Component statuses.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"backend":   s.checkBackend(ctx),
		"lifecycle": s.checkLifecycle(),
		"content":   s.checkContent(ctx),
	}

	overall := statusHealthy
	for _, c := range components {
		switch {
		case c.Status == statusUnhealthy:
			overall = statusUnhealthy
		case c.Status == statusDegraded && overall == statusHealthy:
			overall = statusDegraded
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
		},
	}, nil
}

// checkBackend pings the search backend.
func (s *Server) checkBackend(ctx context.Context) ComponentHealth {
	if s.services.Indexes == nil {
		return ComponentHealth{Status: statusDegraded, Message: "search backend not configured"}
	}

	start := time.Now()
	h := s.services.Indexes.Health(ctx)
	latency := time.Since(start)

	if h.Status != query.StatusHealthy {
		return ComponentHealth{
			Status:  statusUnhealthy,
			Latency: latency.String(),
			Message: h.Detail,
		}
	}
	return ComponentHealth{Status: statusHealthy, Latency: latency.String()}
}

// checkLifecycle reports whether this process may run rebuilds.
func (s *Server) checkLifecycle() ComponentHealth {
	switch {
	case s.services.Gate == nil:
		return ComponentHealth{Status: statusDegraded, Message: "lifecycle gate not configured"}
	case !s.services.Gate.IsOwner():
		return ComponentHealth{Status: statusDegraded, Message: "another process owns the data directory; rebuilds disabled"}
	case !s.services.Gate.IsReady():
		return ComponentHealth{Status: statusDegraded, Message: "bootstrapping"}
	default:
		return ComponentHealth{Status: statusHealthy}
	}
}

// checkContent verifies the content database is reachable.
func (s *Server) checkContent(ctx context.Context) ComponentHealth {
	if s.services.Content == nil {
		return ComponentHealth{Status: statusHealthy, Message: "no content database"}
	}

	start := time.Now()
	err := s.services.Content.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  statusUnhealthy,
			Latency: latency.String(),
			Message: "content database unreachable",
		}
	}
	return ComponentHealth{Status: statusHealthy, Latency: latency.String()}
}
