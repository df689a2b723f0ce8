// Package di provides dependency injection configuration for the index bridge.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/indexbridge/internal/config"
	"github.com/listenupapp/indexbridge/internal/di/providers"
	"github.com/listenupapp/indexbridge/internal/index"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/rebuild"
	"github.com/listenupapp/indexbridge/internal/search"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)
	do.Provide(injector, providers.ProvideGate)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideContentStore)

	// Search layer
	do.Provide(injector, providers.ProvideBackend)
	do.Provide(injector, providers.ProvideIndexService)
	do.Provide(injector, providers.ProvideSearchManager)
	do.Provide(injector, providers.ProvideBootstrap)

	// Rebuild layer
	do.Provide(injector, providers.ProvideWorkQueue)
	do.Provide(injector, providers.ProvidePopulators)
	do.Provide(injector, providers.ProvideRebuildOrchestrator)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services in dependency order.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)

	for _, invoke := range []func() error{
		invokeAs[*providers.GateHandle](injector),
		invokeAs[*providers.StoreHandle](injector),
		invokeAs[*providers.ContentStoreHandle](injector),
		invokeAs[*providers.BackendHandle](injector),
		invokeAs[*index.Service](injector),
		invokeAs[*search.Manager](injector),
		invokeAs[*providers.Bootstrap](injector),
		invokeAs[*providers.QueueHandle](injector),
		invokeAs[providers.Populators](injector),
		invokeAs[*rebuild.Orchestrator](injector),
		invokeAs[*providers.HTTPServerHandle](injector),
	} {
		if err := invoke(); err != nil {
			return err
		}
	}

	// Rebuild missing or empty indexes if configured
	providers.TriggerStartupRebuild(injector)

	return nil
}

func invokeAs[T any](injector *do.RootScope) func() error {
	return func() error {
		_, err := do.Invoke[T](injector)
		return err
	}
}
