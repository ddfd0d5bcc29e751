package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"grid_bot/internal/models"
)

const capitalEps = 1e-9

// Ledger единственная точка изменения позиций. Мутации одного символа идут строго по очереди,
// память меняется только после коммита в Store.
type Ledger struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu    sync.RWMutex
	books map[string]*book
	where map[int64]string // positionID -> symbol
}

type book struct {
	mu       sync.RWMutex
	limit    float64
	reserved float64
	open     map[int64]models.Position
}

func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		store: store,
		log:   log,
		now:   time.Now,
		books: make(map[string]*book),
		where: make(map[int64]string),
	}
}

// WithClock подменяет часы для времени сделок.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Register заводит символ с лимитом капитала totalInvestment.
func (l *Ledger) Register(symbol string, totalInvestment float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.books[symbol]; ok {
		b.limit = totalInvestment
		return
	}
	l.books[symbol] = &book{limit: totalInvestment, open: make(map[int64]models.Position)}
}

// Recover поднимает из Store открытые позиции зарегистрированных символов.
func (l *Ledger) Recover(ctx context.Context) error {
	positions, err := l.store.OpenPositions(ctx, "")
	if err != nil {
		return errors.Wrap(err, "ledger recover")
	}

	n := 0
	for _, p := range positions {
		b, err := l.book(p.Symbol)
		if err != nil {
			continue
		}
		b.mu.Lock()
		b.open[p.ID] = p
		b.mu.Unlock()

		l.mu.Lock()
		l.where[p.ID] = p.Symbol
		l.mu.Unlock()
		n++
	}
	l.log.Info("ledger recovered", zap.Int("open_positions", n))
	return nil
}

func (l *Ledger) book(symbol string) (*book, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[symbol]
	if !ok {
		return nil, errors.Errorf("symbol %s is not registered", symbol)
	}
	return b, nil
}

// Reserve резервирует капитал под будущее открытие.
func (l *Ledger) Reserve(symbol string, amount float64) error {
	b, err := l.book(symbol)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if committed := b.committed(); committed+amount > b.limit+capitalEps {
		return errors.Wrapf(models.ErrCapitalExceeded,
			"%s: committed %.8f + %.8f > %.8f", symbol, committed, amount, b.limit)
	}
	b.reserved += amount
	return nil
}

// Release возвращает неиспользованный резерв.
func (l *Ledger) Release(symbol string, amount float64) {
	b, err := l.book(symbol)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserved -= amount
	if b.reserved < capitalEps {
		b.reserved = 0
	}
}

type OpenRequest struct {
	Symbol      string
	Side        models.PositionSide
	Quantity    float64
	Price       float64
	OrderID     string
	Fee         float64
	FeeCurrency string
	// Reserved резерв, который это открытие погашает.
	Reserved float64
}

// Open создаёт позицию и open-сделку одной транзакцией.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (models.Position, error) {
	b, err := l.book(req.Symbol)
	if err != nil {
		return models.Position{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	notional := req.Quantity * req.Price
	if req.Reserved <= 0 {
		if committed := b.committed(); committed+notional > b.limit+capitalEps {
			return models.Position{}, errors.Wrapf(models.ErrCapitalExceeded,
				"%s: committed %.8f + %.8f > %.8f", req.Symbol, committed, notional, b.limit)
		}
	} else if notional > req.Reserved+capitalEps {
		// ордер уже исполнен: пишем как есть, лимит проверялся при резерве
		l.log.Warn("fill notional above reservation",
			zap.String("symbol", req.Symbol),
			zap.String("order_id", req.OrderID),
			zap.Float64("notional", notional),
			zap.Float64("reserved", req.Reserved))
	}

	now := l.now()
	pos := models.Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		EntryPrice: req.Price,
		EntryTime:  now,
		OrderID:    req.OrderID,
		Status:     models.PositionOpen,
	}
	trade := models.Trade{
		Symbol:      req.Symbol,
		Kind:        models.TradeOpen,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Price:       req.Price,
		Fee:         req.Fee,
		FeeCurrency: req.FeeCurrency,
		OrderID:     req.OrderID,
		Time:        now,
	}

	id, err := l.store.InsertOpen(ctx, pos, trade)
	if err != nil {
		return models.Position{}, errors.Wrapf(models.Classify(models.ErrLedgerWrite, "insert open", err),
			"%s order %s", req.Symbol, req.OrderID)
	}
	pos.ID = id
	b.open[id] = pos
	if req.Reserved > 0 {
		b.reserved -= req.Reserved
		if b.reserved < capitalEps {
			b.reserved = 0
		}
	}

	l.mu.Lock()
	l.where[id] = req.Symbol
	l.mu.Unlock()
	return pos, nil
}

type CloseRequest struct {
	PositionID  int64
	Price       float64
	OrderID     string
	Fee         float64
	FeeCurrency string
}

// Close закрывает позицию: close-сделка с profit-fee и статус closed, одной транзакцией.
func (l *Ledger) Close(ctx context.Context, req CloseRequest) (models.Trade, error) {
	l.mu.RLock()
	symbol, ok := l.where[req.PositionID]
	l.mu.RUnlock()
	if !ok {
		return models.Trade{}, errors.Wrapf(models.ErrUnknownPosition, "position %d", req.PositionID)
	}
	b, err := l.book(symbol)
	if err != nil {
		return models.Trade{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[req.PositionID]
	if !ok {
		return models.Trade{}, errors.Wrapf(models.ErrUnknownPosition, "position %d is not open", req.PositionID)
	}

	profit := pos.Profit(req.Price) - req.Fee
	trade := models.Trade{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Kind:        models.TradeClose,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
		Price:       req.Price,
		Fee:         req.Fee,
		FeeCurrency: req.FeeCurrency,
		OrderID:     req.OrderID,
		Time:        l.now(),
		Profit:      &profit,
	}

	if err := l.store.InsertClose(ctx, pos.ID, trade); err != nil {
		if errors.Is(err, models.ErrUnknownPosition) {
			// в хранилище позиция уже закрыта: выравниваем память
			delete(b.open, pos.ID)
			l.mu.Lock()
			delete(l.where, pos.ID)
			l.mu.Unlock()
			return models.Trade{}, errors.Wrapf(err, "position %d", pos.ID)
		}
		return models.Trade{}, errors.Wrapf(models.Classify(models.ErrLedgerWrite, "insert close", err),
			"position %d order %s", pos.ID, req.OrderID)
	}
	delete(b.open, pos.ID)

	l.mu.Lock()
	delete(l.where, pos.ID)
	l.mu.Unlock()
	return trade, nil
}

// Position открытая позиция по id.
func (l *Ledger) Position(id int64) (models.Position, bool) {
	l.mu.RLock()
	symbol, ok := l.where[id]
	l.mu.RUnlock()
	if !ok {
		return models.Position{}, false
	}
	b, err := l.book(symbol)
	if err != nil {
		return models.Position{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.open[id]
	return p, ok
}

// OpenPositions снимок открытых позиций символа по возрастанию id.
func (l *Ledger) OpenPositions(symbol string) []models.Position {
	b, err := l.book(symbol)
	if err != nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Position, 0, len(b.open))
	for _, p := range b.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Exposure нотионал открытых позиций и текущий резерв символа.
func (l *Ledger) Exposure(symbol string) (notional, reserved float64) {
	b, err := l.book(symbol)
	if err != nil {
		return 0, 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.notional(), b.reserved
}

// Limit лимит капитала символа.
func (l *Ledger) Limit(symbol string) float64 {
	b, err := l.book(symbol)
	if err != nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.limit
}

// Symbols зарегистрированные символы по алфавиту.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.books))
	for s := range l.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) Trades(ctx context.Context, f TradeFilter) ([]models.Trade, error) {
	trades, err := l.store.Trades(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "ledger trades")
	}
	return trades, nil
}

// SaveLevel запоминает стоящий ордер лестницы.
func (l *Ledger) SaveLevel(ctx context.Context, symbol string, lv models.GridLevel) error {
	if err := l.store.SaveGridOrder(ctx, symbol, lv); err != nil {
		return errors.Wrapf(models.Classify(models.ErrLedgerWrite, "save grid order", err),
			"%s level %d", symbol, lv.Index)
	}
	return nil
}

// DropLevel забывает ордер уровня index.
func (l *Ledger) DropLevel(ctx context.Context, symbol string, index int) error {
	if err := l.store.DeleteGridOrder(ctx, symbol, index); err != nil {
		return errors.Wrapf(models.Classify(models.ErrLedgerWrite, "delete grid order", err),
			"%s level %d", symbol, index)
	}
	return nil
}

// RestoreLevels поднимает ордера лестницы символа и возвращает в резерв их капитал.
// Лимит не проверяется: капитал был зарезервирован до рестарта.
func (l *Ledger) RestoreLevels(ctx context.Context, symbol string) ([]models.GridLevel, error) {
	b, err := l.book(symbol)
	if err != nil {
		return nil, err
	}
	levels, err := l.store.GridOrders(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "ledger restore levels %s", symbol)
	}

	b.mu.Lock()
	for _, lv := range levels {
		b.reserved += lv.Reserved
	}
	b.mu.Unlock()

	l.log.Info("grid orders restored", zap.String("symbol", symbol), zap.Int("levels", len(levels)))
	return levels, nil
}

func (b *book) notional() float64 {
	var sum float64
	for _, p := range b.open {
		sum += p.Notional()
	}
	return sum
}

func (b *book) committed() float64 { return b.notional() + b.reserved }
