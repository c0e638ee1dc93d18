package app

import (
	"fmt"

	"surveysched/internal/activation"
	"surveysched/internal/config"
	"surveysched/internal/eventbus"
	"surveysched/internal/storage"
	"surveysched/pkg/logx"
)

// Core is the store plus the activation components built on it. The daemon
// and the one-shot CLI commands share it.
type Core struct {
	Bus        eventbus.Bus
	Store      storage.Store
	Reconciler *activation.Reconciler
	Activation *activation.Service
}

// OpenCore opens storage and builds the reconciler. A nil clock means the
// wall clock.
func OpenCore(cfg *config.Config, log logx.Logger, clock activation.Clock) (*Core, error) {
	opts, err := mapReconcilerOptions(cfg)
	if err != nil {
		return nil, err
	}
	sc := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage (%s): %w", sc.Driver, err)
	}
	bus := eventbus.New()
	rec := activation.NewReconciler(store, clock, opts, log, bus)
	return &Core{
		Bus:        bus,
		Store:      store,
		Reconciler: rec,
		Activation: activation.NewService(store, rec, log),
	}, nil
}

func (c *Core) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}
