package providers

import (
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/listenupapp/indexbridge/internal/config"
	"github.com/listenupapp/indexbridge/internal/engine"
	"github.com/listenupapp/indexbridge/internal/index"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/query"
	"github.com/listenupapp/indexbridge/internal/search"
	"github.com/listenupapp/indexbridge/internal/writer"
)

// BackendHandle wraps the search backend with shutdown capability.
type BackendHandle struct {
	*engine.Bleve
}

// Shutdown implements do.Shutdownable.
func (h *BackendHandle) Shutdown() error {
	return h.Close()
}

// ProvideBackend provides the bleve search backend.
func ProvideBackend(i do.Injector) (*BackendHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	_ = do.MustInvoke[*GateHandle](i)

	dataPath := ""
	if !cfg.Backend.InMemory {
		dataPath = filepath.Join(cfg.App.DataPath, "indexes")
	}

	backend, err := engine.NewBleve(engine.Options{
		DataPath: dataPath,
		InMemory: cfg.Backend.InMemory,
		Logger:   log.Logger,
	})
	if err != nil {
		return nil, err
	}

	log.Info("Search backend initialized", "path", dataPath, "physical_indexes", len(backend.Indexes()))

	return &BackendHandle{Bleve: backend}, nil
}

// ProvideIndexService provides the index state service. Descriptors are
// loaded during bootstrap.
func ProvideIndexService(i do.Injector) (*index.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	backend := do.MustInvoke[*BackendHandle](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	return index.NewService(index.Options{
		Backend:  backend.Bleve,
		Store:    storeHandle.Store,
		Analyzer: cfg.Search.Analyzer,
		Logger:   log.Logger,
	}), nil
}

// ProvideSearchManager provides the registry of logical indices.
func ProvideSearchManager(i do.Injector) (*search.Manager, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	backend := do.MustInvoke[*BackendHandle](i)
	states := do.MustInvoke[*index.Service](i)

	resolver, err := query.NewResolver(backend.Bleve, cfg.Search.InventoryCacheSize, log.Logger)
	if err != nil {
		return nil, err
	}

	executor := query.NewExecutor(backend.Bleve, resolver, query.Options{
		DefaultOperator: query.Operator(cfg.Search.DefaultOperator),
		PhraseSlop:      cfg.Search.PhraseSlop,
		Logger:          log.Logger,
	})

	return search.NewManager(search.ManagerOptions{
		Backend:  backend.Bleve,
		States:   states,
		Executor: executor,
		Writer: writer.Options{
			BatchSize: cfg.Backend.BatchSize,
			Logger:    log.Logger,
		},
		Logger: log.Logger,
	}), nil
}
