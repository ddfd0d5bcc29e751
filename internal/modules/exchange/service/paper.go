package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"grid_bot/internal/models"
)

const paperHistory = 1000

var quoteAssets = []string{"USDT", "USDC", "BUSD", "FDUSD", "BTC", "ETH", "BNB"}

type paperOrder struct {
	id       string
	clientID string
	side     models.Side
	qty      float64
	price    float64
}

func (o paperOrder) status(state models.OrderState) models.OrderStatus {
	st := models.OrderStatus{
		OrderID:       o.id,
		ClientOrderID: o.clientID,
		State:         state,
		Side:          o.side,
		Price:         o.price,
		Quantity:      o.qty,
	}
	if state == models.OrderFilled {
		st.ExecutedQty = o.qty
		st.FillPrice = o.price
	}
	return st
}

// Paper биржа в памяти: рыночные ордера исполняются по последней цене, лимитные при пересечении уровня.
// Если задан quotes, цены берутся оттуда (бумажная торговля на живом рынке).
type Paper struct {
	quotes  models.Gateway
	feeRate float64

	mu       sync.Mutex
	prices   map[string]float64
	history  map[string][]models.Candle
	balances map[string]float64
	orders   map[string][]paperOrder
	// done исполненные и отменённые ордера по id.
	done map[string]models.OrderStatus
	now  func() time.Time
}

var _ models.Gateway = (*Paper)(nil)

func NewPaper(quotes models.Gateway, feeRate float64, balances map[string]float64) *Paper {
	b := make(map[string]float64, len(balances))
	for k, v := range balances {
		b[strings.ToUpper(k)] = v
	}
	return &Paper{
		quotes:   quotes,
		feeRate:  feeRate,
		prices:   make(map[string]float64),
		history:  make(map[string][]models.Candle),
		balances: b,
		orders:   make(map[string][]paperOrder),
		done:     make(map[string]models.OrderStatus),
		now:      time.Now,
	}
}

// SplitSymbol "BTCUSDT" -> ("BTC", "USDT").
func SplitSymbol(symbol string) (base, quote string) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q
		}
	}
	return symbol, ""
}

// SetPrice новая цена; лимитные ордера, которые она пересекла, исполняются.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setPriceLocked(symbol, price)
}

func (p *Paper) setPriceLocked(symbol string, price float64) {
	p.prices[symbol] = price
	h := append(p.history[symbol], models.Candle{
		Open: price, High: price, Low: price, Close: price, Start: p.now(),
	})
	if len(h) > paperHistory {
		h = h[len(h)-paperHistory:]
	}
	p.history[symbol] = h

	kept := p.orders[symbol][:0]
	for _, o := range p.orders[symbol] {
		crossed := (o.side == models.SideBuy && price <= o.price) ||
			(o.side == models.SideSell && price >= o.price)
		if !crossed {
			kept = append(kept, o)
			continue
		}
		p.settle(symbol, o.side, o.qty, o.price)
		p.done[o.id] = o.status(models.OrderFilled)
	}
	p.orders[symbol] = kept
}

func (p *Paper) settle(symbol string, side models.Side, qty, price float64) float64 {
	base, quote := SplitSymbol(symbol)
	notional := qty * price
	fee := notional * p.feeRate
	if side == models.SideBuy {
		p.balances[quote] -= notional + fee
		p.balances[base] += qty
	} else {
		p.balances[quote] += notional - fee
		p.balances[base] -= qty
	}
	return fee
}

func (p *Paper) GetTicker(ctx context.Context, symbol string) (float64, error) {
	if p.quotes != nil {
		px, err := p.quotes.GetTicker(ctx, symbol)
		if err != nil {
			return 0, err
		}
		p.SetPrice(symbol, px)
		return px, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.prices[symbol]
	if !ok || px <= 0 {
		return 0, models.Classify(models.ErrExchange, "GetTicker", fmt.Errorf("no price for %s", symbol))
	}
	return px, nil
}

func (p *Paper) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if p.quotes != nil {
		return p.quotes.GetCandles(ctx, symbol, timeframe, limit)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.history[symbol]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]models.Candle(nil), h...), nil
}

func (p *Paper) PlaceMarketOrder(_ context.Context, symbol string, side models.Side, qty float64) (models.MarketOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return models.MarketOrder{}, models.Classify(models.ErrExchange, "PlaceMarketOrder", fmt.Errorf("no price for %s", symbol))
	}
	if qty <= 0 {
		return models.MarketOrder{}, models.Classify(models.ErrExchange, "PlaceMarketOrder", fmt.Errorf("qty <= 0"))
	}
	_, quote := SplitSymbol(symbol)
	if side == models.SideBuy {
		if need := qty * price * (1 + p.feeRate); p.balances[quote]-p.lockedLocked(quote) < need {
			return models.MarketOrder{}, models.Classify(models.ErrInsufficientFunds, "PlaceMarketOrder",
				fmt.Errorf("%s: need %.8f %s", symbol, need, quote))
		}
	}
	fee := p.settle(symbol, side, qty, price)
	o := paperOrder{id: uuid.NewString(), clientID: uuid.NewString(), side: side, qty: qty, price: price}
	p.done[o.id] = o.status(models.OrderFilled)
	return models.MarketOrder{
		OrderID:     o.id,
		FillPrice:   price,
		Quantity:    qty,
		Fee:         fee,
		FeeCurrency: quote,
	}, nil
}

func (p *Paper) PlaceLimitOrder(_ context.Context, symbol string, side models.Side, qty, price float64) (models.LimitOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if qty <= 0 || price <= 0 {
		return models.LimitOrder{}, models.Classify(models.ErrExchange, "PlaceLimitOrder", fmt.Errorf("qty/price <= 0"))
	}
	_, quote := SplitSymbol(symbol)
	if side == models.SideBuy {
		if need := qty * price * (1 + p.feeRate); p.balances[quote]-p.lockedLocked(quote) < need {
			return models.LimitOrder{}, models.Classify(models.ErrInsufficientFunds, "PlaceLimitOrder",
				fmt.Errorf("%s: need %.8f %s", symbol, need, quote))
		}
	}
	o := paperOrder{id: uuid.NewString(), clientID: uuid.NewString(), side: side, qty: qty, price: price}
	p.orders[symbol] = append(p.orders[symbol], o)
	return models.LimitOrder{OrderID: o.id, ClientOrderID: o.clientID}, nil
}

// Cancel снимает лимитный ордер, как это сделал бы пользователь руками.
func (p *Paper) Cancel(symbol, orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.orders[symbol]
	for i, o := range list {
		if o.id != orderID {
			continue
		}
		p.orders[symbol] = append(list[:i:i], list[i+1:]...)
		p.done[o.id] = o.status(models.OrderCanceled)
		return true
	}
	return false
}

func (p *Paper) GetOrder(_ context.Context, symbol string, ref models.OrderRef) (models.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	match := func(id, clientID string) bool {
		if ref.OrderID != "" {
			return id == ref.OrderID
		}
		return ref.ClientOrderID != "" && clientID == ref.ClientOrderID
	}
	for _, o := range p.orders[symbol] {
		if match(o.id, o.clientID) {
			return o.status(models.OrderNew), nil
		}
	}
	if st, ok := p.done[ref.OrderID]; ok && ref.OrderID != "" {
		return st, nil
	}
	for _, st := range p.done {
		if match(st.OrderID, st.ClientOrderID) {
			return st, nil
		}
	}
	return models.OrderStatus{}, models.Classify(models.ErrOrderNotFound, "GetOrder", fmt.Errorf("%s %s", symbol, ref))
}

// lockedLocked котировка, занятая открытыми лимитными Buy.
func (p *Paper) lockedLocked(quote string) float64 {
	var sum float64
	for symbol, list := range p.orders {
		if _, q := SplitSymbol(symbol); q != quote {
			continue
		}
		for _, o := range list {
			if o.side == models.SideBuy {
				sum += o.qty * o.price * (1 + p.feeRate)
			}
		}
	}
	return sum
}

func (p *Paper) ListOpenOrders(_ context.Context, symbol string) ([]models.OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.OpenOrder, 0, len(p.orders[symbol]))
	for _, o := range p.orders[symbol] {
		out = append(out, models.OpenOrder{OrderID: o.id, Side: o.side, Price: o.price, Quantity: o.qty})
	}
	return out, nil
}

func (p *Paper) GetBalance(_ context.Context, asset string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[strings.ToUpper(asset)], nil
}
