package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/listenupapp/indexbridge/internal/api"
	"github.com/listenupapp/indexbridge/internal/config"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/ratelimit"
	"github.com/listenupapp/indexbridge/internal/rebuild"
	"github.com/listenupapp/indexbridge/internal/search"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	limiter         *ratelimit.KeyedRateLimiter
	shutdownTimeout time.Duration
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	defer h.limiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	manager := do.MustInvoke[*search.Manager](i)
	orchestrator := do.MustInvoke[*rebuild.Orchestrator](i)
	gate := do.MustInvoke[*GateHandle](i)
	contentHandle := do.MustInvoke[*ContentStoreHandle](i)

	limiter := ratelimit.New(cfg.Rebuild.TriggersPerMinute, time.Minute, cfg.Rebuild.TriggersPerMinute)

	handler := api.NewServer(api.Options{
		Services: api.Services{
			Indexes:  manager,
			Rebuilds: orchestrator,
			Gate:     gate.Gate,
			Content:  contentHandle.Store,
		},
		RebuildLimiter: limiter,
		RebuildDelay:   cfg.Rebuild.Delay,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log.Logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr)

	return &HTTPServerHandle{Server: srv, limiter: limiter, shutdownTimeout: cfg.Server.ShutdownTimeout}, nil
}
