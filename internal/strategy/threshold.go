package strategy

import "grid_bot/internal/models"

const eps = 1e-12

// Threshold открывает по проценту движения от опорной цены и закрывает по тейку.
type Threshold struct {
	cfg models.SymbolConfig
}

func NewThreshold(cfg models.SymbolConfig) *Threshold {
	return &Threshold{cfg: cfg}
}

func (t *Threshold) Name() models.StrategyType { return models.StrategyThreshold }

func (t *Threshold) Decide(in Input) Decision {
	d := Decision{Reference: in.Reference}
	price := in.Price
	if price <= 0 {
		return d
	}

	var hasLong, hasShort bool
	for _, p := range in.Open {
		switch p.Side {
		case models.PositionLong:
			hasLong = true
			if t.takeProfit(p, price) {
				d.Intents = append(d.Intents, t.closeIntent(models.IntentCloseLong, p, price))
			}
		case models.PositionShort:
			hasShort = true
			if t.takeProfit(p, price) {
				d.Intents = append(d.Intents, t.closeIntent(models.IntentCloseShort, p, price))
			}
		}
	}

	ref := in.Reference
	if ref <= 0 {
		ref = price
		d.Reference = price
	}
	dropHit := (ref-price)/ref >= t.cfg.PriceDropPct/100-eps
	riseHit := (price-ref)/ref >= t.cfg.PriceRisePct/100-eps
	if dropHit || riseHit {
		d.Reference = price
	}

	// без открытой стороны открываемся сразу; порог по той же стороне второй раз не добавляем
	if !hasLong || dropHit {
		d.Intents = append(d.Intents, t.openIntent(models.IntentOpenLong, models.SideBuy, price))
	}
	if !hasShort || riseHit {
		d.Intents = append(d.Intents, t.openIntent(models.IntentOpenShort, models.SideSell, price))
	}
	return d
}

func (t *Threshold) OnFill(Fill) []models.Intent { return nil }

func (t *Threshold) takeProfit(p models.Position, price float64) bool {
	target := t.cfg.LongProfitPct
	if p.Side == models.PositionShort {
		target = t.cfg.ShortProfitPct
	}
	if t.cfg.ProfitMode == models.ProfitAbsolute {
		if p.Side == models.PositionShort {
			return price <= p.EntryPrice-target+eps
		}
		return price >= p.EntryPrice+target-eps
	}
	if p.EntryPrice <= 0 {
		return false
	}
	move := (price - p.EntryPrice) / p.EntryPrice
	if p.Side == models.PositionShort {
		move = -move
	}
	return move >= target/100-eps
}

func (t *Threshold) openIntent(kind models.IntentKind, side models.Side, price float64) models.Intent {
	return models.Intent{
		Kind:     kind,
		Symbol:   t.cfg.Symbol,
		Side:     side,
		Price:    price,
		Quantity: t.cfg.TradeAmount,
	}
}

func (t *Threshold) closeIntent(kind models.IntentKind, p models.Position, price float64) models.Intent {
	return models.Intent{
		Kind:       kind,
		Symbol:     t.cfg.Symbol,
		Side:       p.Side.CloseSide(),
		Price:      price,
		Quantity:   p.Quantity,
		PositionID: p.ID,
	}
}
