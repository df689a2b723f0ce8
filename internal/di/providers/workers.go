package providers

import (
	"errors"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/listenupapp/indexbridge/internal/config"
	"github.com/listenupapp/indexbridge/internal/content"
	"github.com/listenupapp/indexbridge/internal/index"
	"github.com/listenupapp/indexbridge/internal/lifecycle"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/rebuild"
	"github.com/listenupapp/indexbridge/internal/search"
	"github.com/listenupapp/indexbridge/internal/worker"
)

// GateHandle wraps the lifecycle gate with shutdown capability.
type GateHandle struct {
	*lifecycle.Gate
}

// Shutdown implements do.Shutdownable.
func (h *GateHandle) Shutdown() error {
	return h.Release()
}

// ProvideGate acquires ownership of the data directory. The embedded backend
// and descriptor store lock their files exclusively, so a second process
// sharing the directory is refused instead of left waiting on those locks.
func ProvideGate(i do.Injector) (*GateHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	gate := lifecycle.NewGate(cfg.App.DataPath, log.Logger)
	owner, err := gate.Acquire()
	if err != nil {
		return nil, err
	}
	if !owner {
		return nil, fmt.Errorf("data directory %s is owned by another process", cfg.App.DataPath)
	}

	return &GateHandle{Gate: gate}, nil
}

// QueueHandle wraps the background work queue with shutdown capability.
type QueueHandle struct {
	*worker.Queue
}

// Shutdown implements do.Shutdownable.
func (h *QueueHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideWorkQueue provides the queue running background rebuilds.
func ProvideWorkQueue(i do.Injector) (*QueueHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	_ = do.MustInvoke[*BackendHandle](i) // Jobs write to the backend; stop them before it closes.

	q := worker.New(worker.Options{
		Workers:   cfg.Rebuild.Workers,
		QueueSize: cfg.Rebuild.QueueSize,
		Logger:    log.Logger,
	})
	q.Start()

	log.Info("Rebuild workers started", "workers", cfg.Rebuild.Workers)

	return &QueueHandle{Queue: q}, nil
}

// Populators lists the configured populators.
type Populators []rebuild.Populator

// ProvidePopulators builds one content populator per configured source.
func ProvidePopulators(i do.Injector) (Populators, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	contentHandle := do.MustInvoke[*ContentStoreHandle](i)

	if contentHandle.Store == nil {
		return nil, nil
	}

	var populators Populators
	var errs []error
	for _, src := range cfg.Definitions.Sources {
		p, err := content.NewPopulator(contentHandle.Store, content.PopulatorOptions{
			Name:       src.Name,
			Category:   src.Category,
			Indexes:    src.Indexes,
			HTMLFields: src.HTMLFields,
			Logger:     log.Logger,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name, err))
			continue
		}
		populators = append(populators, p)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	log.Info("Populators configured", "count", len(populators))
	return populators, nil
}

// ProvideRebuildOrchestrator provides the rebuild orchestrator.
func ProvideRebuildOrchestrator(i do.Injector) (*rebuild.Orchestrator, error) {
	log := do.MustInvoke[*logger.Logger](i)
	states := do.MustInvoke[*index.Service](i)
	manager := do.MustInvoke[*search.Manager](i)
	gate := do.MustInvoke[*GateHandle](i)
	queue := do.MustInvoke[*QueueHandle](i)
	populators := do.MustInvoke[Populators](i)

	o := rebuild.New(rebuild.Options{
		States:     states,
		Writers:    manager,
		Gate:       gate.Gate,
		Queue:      queue.Queue,
		Populators: populators,
		Logger:     log.Logger,
	})

	// Cached inventories describe the old physical index after a swap.
	o.OnSwapped(manager.Invalidate)

	return o, nil
}
