package models

import "time"

type TradeKind string

const (
	TradeOpen  TradeKind = "open"
	TradeClose TradeKind = "close"
)

// Trade неизменяемая запись журнала, одна на каждый переход позиции.
type Trade struct {
	ID          int64
	PositionID  int64
	Symbol      string
	Kind        TradeKind
	Side        PositionSide
	Quantity    float64
	Price       float64
	Fee         float64
	FeeCurrency string
	OrderID     string
	Time        time.Time
	Profit      *float64 // только у close: profit - fee
}
