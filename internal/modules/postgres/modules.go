package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/ledger"
	"grid_bot/internal/ledger/pg"
	"grid_bot/internal/modules/config"
	"grid_bot/pkg/db"
)

// NewStore хранилище журнала: Postgres или память (store: memory).
// Недоступная база на старте считается фатальной ошибкой.
func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (ledger.Store, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("ledger store is in memory, positions will not survive restart")
		return ledger.NewMemoryStore(), nil
	}

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		poolMaster.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	tx := db.NewPgTxManager(poolMaster, log.Named("pg"))
	store := pg.NewStore(tx)
	if err := store.EnsureSchema(ctx); err != nil {
		tx.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	return store, nil
}

// Module регистрирует хранилище журнала как fx-провайдер.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewStore,
		),
	)
}
