package providers

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/listenupapp/indexbridge/internal/config"
	"github.com/listenupapp/indexbridge/internal/index"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/rebuild"
	"github.com/listenupapp/indexbridge/internal/search"
)

// Bootstrap contains the startup result.
type Bootstrap struct {
	Indexes []string // Logical indices served after startup
}

// ProvideBootstrap restores persisted descriptors, registers the configured
// indices, provisions their physical indices and marks the runtime ready.
func ProvideBootstrap(i do.Injector) (*Bootstrap, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	gate := do.MustInvoke[*GateHandle](i)
	states := do.MustInvoke[*index.Service](i)
	manager := do.MustInvoke[*search.Manager](i)

	ctx := context.Background()

	if err := states.Load(ctx); err != nil {
		return nil, err
	}

	for _, def := range cfg.Definitions.Indexes {
		idx, err := manager.Register(ctx, def.Name, def.Schema(), def.KeywordFields)
		if err != nil {
			return nil, fmt.Errorf("register index %s: %w", def.Name, err)
		}
		if err := idx.EnsureExists(ctx); err != nil {
			return nil, fmt.Errorf("provision index %s: %w", def.Name, err)
		}
	}

	// Restored indices that are no longer configured keep serving their data.
	if err := states.EnsureAll(ctx); err != nil {
		return nil, err
	}

	names := manager.Names()
	gate.MarkReady()

	log.Info("Indexes ready", "count", len(names), "indexes", names)

	return &Bootstrap{Indexes: names}, nil
}

// TriggerStartupRebuild queues the startup rebuild selected by configuration.
// Should be called after all services are wired.
func TriggerStartupRebuild(i do.Injector) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	populators := do.MustInvoke[Populators](i)
	orchestrator := do.MustInvoke[*rebuild.Orchestrator](i)

	if cfg.Rebuild.OnStartup == config.RebuildNone {
		return
	}
	if len(populators) == 0 {
		log.Info("No populators configured, skipping startup rebuild")
		return
	}

	onlyEmpty := cfg.Rebuild.OnStartup == config.RebuildEmpty
	h, err := orchestrator.RebuildAll(context.Background(), onlyEmpty, cfg.Rebuild.Delay, true)
	if err != nil {
		log.Error("Startup rebuild could not be queued", "error", err)
		return
	}

	log.Info("Startup rebuild queued", "job_id", h.ID, "only_empty", onlyEmpty)
}
