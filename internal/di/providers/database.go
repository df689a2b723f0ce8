package providers

import (
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/listenupapp/indexbridge/internal/config"
	"github.com/listenupapp/indexbridge/internal/content"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/store"
)

// StoreHandle wraps the descriptor store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the badger store holding index descriptors.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	_ = do.MustInvoke[*GateHandle](i) // The data directory must be ours before opening it.

	dbPath := filepath.Join(cfg.App.DataPath, "descriptors")
	db, err := store.New(store.Options{
		Path:     dbPath,
		InMemory: cfg.Backend.InMemory,
		Logger:   log.Logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Backend.InMemory {
		log.Info("Descriptor store initialized in memory")
	} else {
		log.Info("Descriptor store initialized", "path", dbPath)
	}

	return &StoreHandle{Store: db}, nil
}

// ContentStoreHandle wraps the content database with shutdown capability.
// Store is nil when no content database is configured.
type ContentStoreHandle struct {
	*content.Store
}

// Shutdown implements do.Shutdownable.
func (h *ContentStoreHandle) Shutdown() error {
	if h.Store == nil {
		return nil
	}
	return h.Close()
}

// ProvideContentStore provides the SQLite content database feeding the populators.
func ProvideContentStore(i do.Injector) (*ContentStoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Content.DatabasePath == "" {
		log.Info("No content database configured, populators disabled")
		return &ContentStoreHandle{}, nil
	}

	db, err := content.Open(cfg.Content.DatabasePath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Content database initialized", "path", cfg.Content.DatabasePath)

	return &ContentStoreHandle{Store: db}, nil
}
