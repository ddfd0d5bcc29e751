package models

type StrategyType string

const (
	StrategyThreshold StrategyType = "threshold"
	StrategyLadder    StrategyType = "ladder"
)

// ProfitMode как трактовать long_profit_pct / short_profit_pct.
type ProfitMode string

const (
	ProfitPercent  ProfitMode = "percent"  // (price-entry)/entry >= pct/100
	ProfitAbsolute ProfitMode = "absolute" // price >= entry + pct
)

// Side сторона ордера на бирже: "BUY"/"SELL".
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}
