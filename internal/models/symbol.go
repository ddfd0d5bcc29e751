package models

import (
	"fmt"
	"strings"
)

// SymbolConfig настройки торговли одним символом. Меняются только рестартом.
type SymbolConfig struct {
	Symbol          string       `mapstructure:"symbol"`
	Strategy        StrategyType `mapstructure:"strategy"`
	TradeAmount     float64      `mapstructure:"trade_amount"`
	TotalInvestment float64      `mapstructure:"total_investment"`

	PriceDropPct   float64    `mapstructure:"price_drop_pct"`
	PriceRisePct   float64    `mapstructure:"price_rise_pct"`
	LongProfitPct  float64    `mapstructure:"long_profit_pct"`
	ShortProfitPct float64    `mapstructure:"short_profit_pct"`
	ProfitMode     ProfitMode `mapstructure:"profit_mode"`

	GridUpper float64 `mapstructure:"grid_upper"`
	GridLower float64 `mapstructure:"grid_lower"`
	GridCount int     `mapstructure:"grid_count"`

	CandleTimeframe string `mapstructure:"candle_timeframe"`
	CandleLimit     int    `mapstructure:"candle_limit"`
	FeeCurrency     string `mapstructure:"fee_currency"`
}

// Normalize "BTC/USDT" -> "BTCUSDT" и дефолты для пустых полей.
func (c *SymbolConfig) Normalize() {
	c.Symbol = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(c.Symbol), "/", ""))
	c.Strategy = StrategyType(strings.ToLower(strings.TrimSpace(string(c.Strategy))))
	if c.ProfitMode == "" {
		c.ProfitMode = ProfitPercent
	}
	if c.CandleTimeframe == "" {
		c.CandleTimeframe = "1h"
	}
	if c.FeeCurrency == "" {
		c.FeeCurrency = "USDT"
	}
}

func (c SymbolConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is empty")
	}
	if c.TotalInvestment <= 0 {
		return fmt.Errorf("%s: total_investment must be > 0", c.Symbol)
	}
	switch c.Strategy {
	case StrategyThreshold:
		if c.TradeAmount <= 0 {
			return fmt.Errorf("%s: trade_amount must be > 0", c.Symbol)
		}
		if c.PriceDropPct <= 0 || c.PriceRisePct <= 0 {
			return fmt.Errorf("%s: price_drop_pct and price_rise_pct must be > 0", c.Symbol)
		}
		if c.LongProfitPct <= 0 || c.ShortProfitPct <= 0 {
			return fmt.Errorf("%s: long_profit_pct and short_profit_pct must be > 0", c.Symbol)
		}
		if c.ProfitMode != ProfitPercent && c.ProfitMode != ProfitAbsolute {
			return fmt.Errorf("%s: unknown profit_mode %q", c.Symbol, c.ProfitMode)
		}
	case StrategyLadder:
		if c.GridCount < 1 {
			return fmt.Errorf("%s: grid_count must be >= 1", c.Symbol)
		}
		if c.GridLower <= 0 || c.GridLower >= c.GridUpper {
			return fmt.Errorf("%s: need 0 < grid_lower < grid_upper", c.Symbol)
		}
	default:
		return fmt.Errorf("%s: unknown strategy %q", c.Symbol, c.Strategy)
	}
	return nil
}

// GridInterval шаг лестницы.
func (c SymbolConfig) GridInterval() float64 {
	if c.GridCount <= 0 {
		return 0
	}
	return (c.GridUpper - c.GridLower) / float64(c.GridCount)
}

// PerGridInvestment капитал на один уровень.
func (c SymbolConfig) PerGridInvestment() float64 {
	if c.GridCount <= 0 {
		return 0
	}
	return c.TotalInvestment / float64(c.GridCount)
}
