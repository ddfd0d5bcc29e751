package models

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Start  time.Time
}

// MarketOrder итог исполненного рыночного ордера.
type MarketOrder struct {
	OrderID     string
	FillPrice   float64
	Quantity    float64
	Fee         float64
	FeeCurrency string
}

type LimitOrder struct {
	OrderID       string
	ClientOrderID string
}

// OrderState статус ордера на бирже.
type OrderState string

const (
	OrderNew             OrderState = "NEW"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCanceled        OrderState = "CANCELED"
	OrderRejected        OrderState = "REJECTED"
	OrderExpired         OrderState = "EXPIRED"
)

// Done ордер больше не исполнится.
func (s OrderState) Done() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// OrderRef ссылка на ордер: биржевой id или наш clientOrderId.
type OrderRef struct {
	OrderID       string
	ClientOrderID string
}

func (r OrderRef) String() string {
	if r.OrderID != "" {
		return r.OrderID
	}
	return "client:" + r.ClientOrderID
}

type OrderStatus struct {
	OrderID       string
	ClientOrderID string
	State         OrderState
	Side          Side
	Price         float64
	Quantity      float64
	ExecutedQty   float64
	// FillPrice средняя цена исполнения, 0 если ничего не исполнено.
	FillPrice float64
}

// OrderError сбой вызова, после которого ордер мог дойти до биржи.
type OrderError struct {
	ClientOrderID string
	Err           error
}

func (e *OrderError) Error() string { return e.Err.Error() }
func (e *OrderError) Unwrap() error { return e.Err }

// ClientOrderIDOf clientOrderId из ошибки выставления ордера.
func ClientOrderIDOf(err error) (string, bool) {
	var oe *OrderError
	if errors.As(err, &oe) && oe.ClientOrderID != "" {
		return oe.ClientOrderID, true
	}
	return "", false
}

type OpenOrder struct {
	OrderID  string
	Side     Side
	Price    float64
	Quantity float64
}

// Gateway биржа. Любой вызов может упасть, ошибки классифицируются через KindOf.
type Gateway interface {
	GetTicker(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (MarketOrder, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price float64) (LimitOrder, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	// GetOrder статус ордера; неизвестный бирже ордер возвращает ErrOrderNotFound.
	GetOrder(ctx context.Context, symbol string, ref OrderRef) (OrderStatus, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
}
