package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/engine"
	"grid_bot/internal/modules/exchange"
	"grid_bot/internal/modules/health"
	"grid_bot/internal/modules/postgres"
	"grid_bot/pkg/logger"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Log.Level, "grid_bot")
}

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			newLogger,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		postgres.Module(),
		exchange.Module(),
		health.Module(),
		engine.Module(),
	)
	app.Run()
}
