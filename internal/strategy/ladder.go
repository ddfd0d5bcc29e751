package strategy

import (
	"math"

	"grid_bot/internal/models"
)

// Ladder фиксированная сетка [GridLower, GridUpper] из GridCount интервалов.
// Каждое исполнение тут же выставляет встречный ордер на соседнем уровне.
type Ladder struct {
	cfg      models.SymbolConfig
	interval float64
}

func NewLadder(cfg models.SymbolConfig) *Ladder {
	return &Ladder{cfg: cfg, interval: cfg.GridInterval()}
}

func (l *Ladder) Name() models.StrategyType { return models.StrategyLadder }

func (l *Ladder) Interval() float64 { return l.interval }

// Price цена уровня i; верхний уровень ровно GridUpper.
func (l *Ladder) Price(i int) float64 {
	if i == l.cfg.GridCount {
		return l.cfg.GridUpper
	}
	return l.cfg.GridLower + float64(i)*l.interval
}

// Prices все GridCount+1 уровней снизу вверх.
func (l *Ladder) Prices() []float64 {
	out := make([]float64, 0, l.cfg.GridCount+1)
	for i := 0; i <= l.cfg.GridCount; i++ {
		out = append(out, l.Price(i))
	}
	return out
}

// IndexOf индекс уровня с ценой price, если она совпадает с уровнем в пределах сотой шага.
func (l *Ladder) IndexOf(price float64) (int, bool) {
	if l.interval <= 0 {
		return 0, false
	}
	i := int(math.Round((price - l.cfg.GridLower) / l.interval))
	if i < 0 || i > l.cfg.GridCount {
		return 0, false
	}
	if math.Abs(l.Price(i)-price) > l.interval/100 {
		return 0, false
	}
	return i, true
}

// Nearest индекс уровня, ближайшего к price.
func (l *Ladder) Nearest(price float64) int {
	nearest, best := 0, math.Inf(1)
	for i := 0; i <= l.cfg.GridCount; i++ {
		if d := math.Abs(l.Price(i) - price); d < best {
			nearest, best = i, d
		}
	}
	return nearest
}

// InitialLevels раскладка лестницы при текущей цене price: ниже цены Buy, выше Sell.
// Ближайший к цене уровень пропускается, так что активных ордеров ровно GridCount.
func (l *Ladder) InitialLevels(price float64) []models.GridLevel {
	nearest := l.Nearest(price)

	levels := make([]models.GridLevel, 0, l.cfg.GridCount)
	for i := 0; i <= l.cfg.GridCount; i++ {
		if i == nearest {
			continue
		}
		p := l.Price(i)
		side := models.SideSell
		if p < price {
			side = models.SideBuy
		}
		levels = append(levels, models.GridLevel{
			Index:    i,
			Price:    p,
			Side:     side,
			Quantity: l.quantity(p),
		})
	}
	return levels
}

// Decide при пустой книге выставляет лестницу целиком. Дальше добирает свободные уровни
// (кроме удерживаемых) и ставит закрывающий ордер открытым позициям, у которых его нет.
func (l *Ladder) Decide(in Input) Decision {
	d := Decision{Reference: in.Reference}
	if in.Price <= 0 {
		return d
	}

	busy := make(map[int]bool, len(in.Levels)+len(in.Hold))
	linked := make(map[int64]bool)
	for _, lv := range in.Levels {
		busy[lv.Index] = true
		if lv.PositionID != 0 {
			linked[lv.PositionID] = true
		}
	}
	if len(busy) == 0 && len(in.Hold) == 0 {
		d.Reference = in.Price
		d.Hold = []int{l.Nearest(in.Price)}
	}

	for _, p := range in.Open {
		if linked[p.ID] {
			continue
		}
		if c := l.closing(p); c != nil && !busy[c.Level] {
			busy[c.Level] = true
			d.Intents = append(d.Intents, *c)
		}
	}

	for _, i := range in.Hold {
		busy[i] = true
	}
	for _, lv := range l.InitialLevels(in.Price) {
		if busy[lv.Index] {
			continue
		}
		d.Intents = append(d.Intents, models.Intent{
			Kind:     models.IntentPlaceLadderOrder,
			Symbol:   l.cfg.Symbol,
			Side:     lv.Side,
			Price:    lv.Price,
			Quantity: lv.Quantity,
			Level:    lv.Index,
		})
	}
	return d
}

// closing встречный ордер для позиции, открытой на уровне лестницы:
// Long с входа на i закрывается Sell на i+1, Short на i закрывается Buy на i-1.
func (l *Ladder) closing(p models.Position) *models.Intent {
	entry, ok := l.IndexOf(p.EntryPrice)
	if !ok {
		return nil
	}
	next := entry + 1
	if p.Side == models.PositionShort {
		next = entry - 1
	}
	if next < 0 || next > l.cfg.GridCount {
		return nil
	}
	return &models.Intent{
		Kind:       models.IntentReplaceLadderOrder,
		Symbol:     l.cfg.Symbol,
		Side:       p.Side.CloseSide(),
		Price:      l.Price(next),
		Quantity:   p.Quantity,
		PositionID: p.ID,
		Level:      next,
	}
}

// OnFill Buy на уровне i -> Sell на i+1, Sell на i -> Buy на i-1.
// За границы сетки не выходим: такой ордер просто не ставится.
func (l *Ladder) OnFill(f Fill) []models.Intent {
	next := f.Level.Index + 1
	if f.Level.Side == models.SideSell {
		next = f.Level.Index - 1
	}
	if next < 0 || next > l.cfg.GridCount {
		return nil
	}
	price := l.Price(next)

	intent := models.Intent{
		Kind:   models.IntentReplaceLadderOrder,
		Symbol: l.cfg.Symbol,
		Side:   f.Level.Side.Opposite(),
		Price:  price,
		Level:  next,
	}
	if f.Opened != 0 {
		// встречный ордер закрывает только что открытую позицию тем же объёмом
		intent.PositionID = f.Opened
		intent.Quantity = f.Level.Quantity
	} else {
		intent.Quantity = l.quantity(price)
	}
	return []models.Intent{intent}
}

func (l *Ladder) quantity(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return l.cfg.PerGridInvestment() / price
}
