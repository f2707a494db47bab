package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/durastep/pkg/cart"
	"github.com/openfroyo/durastep/pkg/config"
	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/stores"
	"github.com/openfroyo/durastep/pkg/telemetry"
	"github.com/openfroyo/durastep/pkg/washing"
)

// runtime is the wired set of services a command works with.
type runtime struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	store   stores.Store
	carts   *cart.Service
	washers *washing.Service
}

// loadConfig reads --config and applies the storage flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if storageKind != "" {
		cfg.Storage.Kind = storageKind
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := stores.Open(ctx, cfg.Storage.StoreKind(), cfg.Storage.StoreConfig())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Carts and cycles share one lock table so no identity has two writers.
	locks := engine.NewKeyedMutex()

	carts := cart.NewService(store, engine.AggregateOptions{
		Locks:    locks,
		Observer: tel,
		Auditor:  store,
		Logger:   tel.Logger,
	})

	washers, err := washing.NewService(store, washing.Options{
		Settings: cfg.Simulation.Settings(),
		Locks:    locks,
		Observer: tel,
		Logger:   tel.Logger,
	})
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	log.Debug().
		Str("storage", cfg.Storage.Kind).
		Str("path", cfg.Storage.Path).
		Msg("Runtime opened")

	return &runtime{cfg: cfg, tel: tel, store: store, carts: carts, washers: washers}, nil
}

// Close stops workflow drivers, then the store and telemetry.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt.washers.Close()
	if err := rt.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
	if err := rt.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}
