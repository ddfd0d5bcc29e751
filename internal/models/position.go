package models

import "time"

type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// OpenSide сторона ордера, которым позиция открывается.
func (s PositionSide) OpenSide() Side {
	if s == PositionShort {
		return SideSell
	}
	return SideBuy
}

// CloseSide сторона ордера, которым позиция закрывается.
func (s PositionSide) CloseSide() Side {
	return s.OpenSide().Opposite()
}

// PositionSideFor какую позицию открывает ордер стороны side.
func PositionSideFor(side Side) PositionSide {
	if side == SideSell {
		return PositionShort
	}
	return PositionLong
}

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

type Position struct {
	ID         int64
	Symbol     string
	Side       PositionSide
	Quantity   float64
	EntryPrice float64
	EntryTime  time.Time
	OrderID    string
	Status     PositionStatus
}

// Notional стоимость позиции по цене входа.
func (p Position) Notional() float64 { return p.Quantity * p.EntryPrice }

// Profit валовый результат закрытия по цене price, без комиссии.
func (p Position) Profit(price float64) float64 {
	if p.Side == PositionShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}
