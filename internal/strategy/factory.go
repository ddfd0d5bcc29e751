package strategy

import (
	"fmt"

	"grid_bot/internal/models"
)

func New(cfg models.SymbolConfig) (Strategy, error) {
	switch cfg.Strategy {
	case models.StrategyThreshold:
		return NewThreshold(cfg), nil
	case models.StrategyLadder:
		return NewLadder(cfg), nil
	}
	return nil, fmt.Errorf("unknown strategy %q for %s", cfg.Strategy, cfg.Symbol)
}
