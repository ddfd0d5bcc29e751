package executor

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"grid_bot/internal/ledger"
	"grid_bot/internal/models"
	"grid_bot/internal/notify"
	"grid_bot/internal/strategy"
	"grid_bot/pkg/logger"
)

const defaultLedgerRetries = 3

// Result что получилось из интента.
type Result struct {
	Intent  models.Intent
	OrderID string
	// Position открытая позиция (OpenLong/OpenShort).
	Position *models.Position
	// Trade close-сделка (CloseLong/CloseShort).
	Trade *models.Trade
	// Level выставленный лимитный ордер лестницы.
	Level *models.GridLevel
}

type Config struct {
	// LedgerRetries попыток записи в журнал после исполненного ордера.
	LedgerRetries int
	RetryDelay    time.Duration
}

// Executor превращает интент в вызов биржи и доводит исполнение до журнала.
type Executor struct {
	gw       models.Gateway
	ledger   *ledger.Ledger
	notifier notify.Notifier
	tracer   opentracing.Tracer
	log      *zap.Logger

	retries    int
	retryDelay time.Duration
	sleep      func(time.Duration)

	mu sync.Mutex
	// pending рыночные ордера с потерянным ответом, по clientOrderId
	pending map[string]unsettled
}

// unsettled рыночный ордер, исход которого ещё не удалось узнать у биржи.
type unsettled struct {
	intent   models.Intent
	clientID string
	side     models.PositionSide
	reserve  float64
}

func New(gw models.Gateway, l *ledger.Ledger, n notify.Notifier, log *zap.Logger, cfg Config) *Executor {
	if cfg.LedgerRetries < 1 {
		cfg.LedgerRetries = defaultLedgerRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if n == nil {
		n = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		gw:         gw,
		ledger:     l,
		notifier:   n,
		tracer:     opentracing.NoopTracer{},
		log:        log,
		retries:    cfg.LedgerRetries,
		retryDelay: cfg.RetryDelay,
		sleep:      time.Sleep,
		pending:    make(map[string]unsettled),
	}
}

func (e *Executor) WithTracer(t opentracing.Tracer) *Executor {
	if t != nil {
		e.tracer = t
	}
	return e
}

// Execute исполняет интент. Возврат управления только после коммита в журнал
// либо с ErrUnrecorded, если исполненный ордер записать не удалось.
func (e *Executor) Execute(ctx context.Context, in models.Intent) (res Result, err error) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, e.tracer, "executor.execute")
	span.SetTag("symbol", in.Symbol)
	span.SetTag("intent", string(in.Kind))
	defer func() {
		if err != nil {
			span.SetTag("error", true)
			span.SetTag("kind", string(models.KindOf(err)))
		}
		span.Finish()
	}()

	switch in.Kind {
	case models.IntentOpenLong, models.IntentOpenShort:
		return e.open(ctx, in)
	case models.IntentCloseLong, models.IntentCloseShort:
		return e.close(ctx, in)
	case models.IntentPlaceLadderOrder, models.IntentReplaceLadderOrder:
		return e.placeLimit(ctx, in)
	}
	return Result{Intent: in}, errors.Errorf("unknown intent %q", in.Kind)
}

func (e *Executor) open(ctx context.Context, in models.Intent) (Result, error) {
	res := Result{Intent: in}
	e.Settle(ctx, in.Symbol)

	reserve := in.Quantity * in.Price
	if err := e.ledger.Reserve(in.Symbol, reserve); err != nil {
		return res, err
	}

	side := models.PositionLong
	if in.Kind == models.IntentOpenShort {
		side = models.PositionShort
	}
	order, err := e.gw.PlaceMarketOrder(ctx, in.Symbol, side.OpenSide(), in.Quantity)
	if err != nil {
		order, err = e.lost(ctx, unsettled{intent: in, side: side, reserve: reserve}, err)
		if err != nil {
			return res, err
		}
	}
	res.OrderID = order.OrderID

	pos, err := e.recordOpen(ctx, in, side, order, reserve)
	if err != nil {
		// резерв остаётся: ордер на бирже исполнен, капитал занят
		return res, err
	}
	res.Position = &pos
	return res, nil
}

func (e *Executor) recordOpen(ctx context.Context, in models.Intent, side models.PositionSide, order models.MarketOrder, reserve float64) (models.Position, error) {
	req := ledger.OpenRequest{
		Symbol:      in.Symbol,
		Side:        side,
		Quantity:    order.Quantity,
		Price:       order.FillPrice,
		OrderID:     order.OrderID,
		Fee:         order.Fee,
		FeeCurrency: order.FeeCurrency,
		Reserved:    reserve,
	}
	if req.Quantity <= 0 {
		req.Quantity = in.Quantity
	}
	if req.Price <= 0 {
		req.Price = in.Price
	}

	var pos models.Position
	if err := e.record(ctx, in.Symbol, order.OrderID, func() (err error) {
		pos, err = e.ledger.Open(ctx, req)
		return err
	}); err != nil {
		return pos, err
	}
	e.notifier.Send(notify.PositionOpened(pos))
	return pos, nil
}

func (e *Executor) close(ctx context.Context, in models.Intent) (Result, error) {
	res := Result{Intent: in}
	e.Settle(ctx, in.Symbol)

	if e.closing(in.PositionID) {
		return res, errors.Wrapf(models.Classify(models.ErrUnrecorded, "close",
			errors.New("previous close order is unresolved")), "%s", in)
	}
	pos, ok := e.ledger.Position(in.PositionID)
	if !ok {
		return res, errors.Wrapf(models.ErrUnknownPosition, "%s", in)
	}

	order, err := e.gw.PlaceMarketOrder(ctx, in.Symbol, pos.Side.CloseSide(), pos.Quantity)
	if err != nil {
		order, err = e.lost(ctx, unsettled{intent: in, side: pos.Side}, err)
		if err != nil {
			return res, err
		}
	}
	res.OrderID = order.OrderID

	trade, err := e.recordClose(ctx, in, order)
	if err != nil {
		return res, err
	}
	res.Trade = &trade
	return res, nil
}

func (e *Executor) recordClose(ctx context.Context, in models.Intent, order models.MarketOrder) (models.Trade, error) {
	price := order.FillPrice
	if price <= 0 {
		price = in.Price
	}
	return e.closeRecorded(ctx, in.Symbol, ledger.CloseRequest{
		PositionID:  in.PositionID,
		Price:       price,
		OrderID:     order.OrderID,
		Fee:         order.Fee,
		FeeCurrency: order.FeeCurrency,
	})
}

// lost разбирает сбой выставления рыночного ордера. Сетевой сбой не значит, что ордер
// не исполнился: статус ищется по clientOrderId. Исполненный ордер возвращается как обычный,
// неисполненный снимает резерв. Если статус узнать не удалось, резерв остаётся,
// ордер запоминается до Settle, а вызов получает ErrUnrecorded.
func (e *Executor) lost(ctx context.Context, u unsettled, placeErr error) (models.MarketOrder, error) {
	symbol := u.intent.Symbol
	clientID, ok := models.ClientOrderIDOf(placeErr)
	if !errors.Is(placeErr, models.ErrNetwork) || !ok {
		e.ledger.Release(symbol, u.reserve)
		return models.MarketOrder{}, errors.Wrapf(placeErr, "%s", u.intent)
	}
	u.clientID = clientID

	order, done, err := e.lookup(ctx, symbol, clientID)
	switch {
	case err != nil:
		e.mu.Lock()
		e.pending[clientID] = u
		e.mu.Unlock()

		err = errors.Wrapf(models.Classify(models.ErrUnrecorded, "order status", errors.Wrap(err, placeErr.Error())),
			"%s client order %s", u.intent, clientID)
		e.log.Error("order outcome unknown",
			zap.String("symbol", symbol),
			zap.String("client_order_id", clientID),
			logger.Kind(string(models.KindUnrecorded)),
			zap.Error(err))
		e.notifier.Send(notify.Unrecorded(symbol, clientID, err))
		return models.MarketOrder{}, err
	case !done:
		e.ledger.Release(symbol, u.reserve)
		return models.MarketOrder{}, errors.Wrapf(placeErr, "%s", u.intent)
	}

	e.log.Warn("order executed despite failed response",
		zap.String("symbol", symbol),
		zap.String("order_id", order.OrderID),
		zap.String("client_order_id", clientID))
	return order, nil
}

// lookup статус ордера по clientOrderId: done=true если ордер что-то исполнил,
// done=false если ордер до биржи не дошёл или закрыт без исполнения.
// Ошибка означает, что исход пока неизвестен.
func (e *Executor) lookup(ctx context.Context, symbol, clientID string) (models.MarketOrder, bool, error) {
	st, err := e.gw.GetOrder(ctx, symbol, models.OrderRef{ClientOrderID: clientID})
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return models.MarketOrder{}, false, nil
	case err != nil:
		return models.MarketOrder{}, false, err
	case st.ExecutedQty > 0 && st.State.Done():
		return models.MarketOrder{
			OrderID:   st.OrderID,
			FillPrice: st.FillPrice,
			Quantity:  st.ExecutedQty,
		}, true, nil
	case st.State.Done():
		return models.MarketOrder{}, false, nil
	}
	return models.MarketOrder{}, false, errors.Errorf("order %s is still %s", st.OrderID, st.State)
}

func (e *Executor) closing(positionID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range e.pending {
		if u.intent.PositionID == positionID && !u.intent.Opens() {
			return true
		}
	}
	return false
}

// Unsettled число рыночных ордеров символа с неизвестным исходом.
func (e *Executor) Unsettled(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, u := range e.pending {
		if u.intent.Symbol == symbol {
			n++
		}
	}
	return n
}

// Settle доводит до журнала рыночные ордера символа с потерянным ответом,
// исход которых теперь известен.
func (e *Executor) Settle(ctx context.Context, symbol string) {
	e.mu.Lock()
	var todo []unsettled
	for _, u := range e.pending {
		if u.intent.Symbol == symbol {
			todo = append(todo, u)
		}
	}
	e.mu.Unlock()

	for _, u := range todo {
		order, done, err := e.lookup(ctx, symbol, u.clientID)
		if err != nil {
			e.log.Warn("order outcome still unknown",
				zap.String("symbol", symbol),
				zap.String("client_order_id", u.clientID),
				zap.Error(err))
			continue
		}

		e.mu.Lock()
		delete(e.pending, u.clientID)
		e.mu.Unlock()

		if !done {
			e.ledger.Release(symbol, u.reserve)
			e.log.Info("lost order was not executed", zap.String("symbol", symbol), zap.String("client_order_id", u.clientID))
			continue
		}
		if u.intent.Opens() {
			_, err = e.recordOpen(ctx, u.intent, u.side, order, u.reserve)
		} else {
			_, err = e.recordClose(ctx, u.intent, order)
		}
		if err != nil {
			e.log.Error("settle lost order", zap.String("symbol", symbol), zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}
}

func (e *Executor) placeLimit(ctx context.Context, in models.Intent) (Result, error) {
	res := Result{Intent: in}
	var reserve float64
	if in.Opens() {
		reserve = in.Quantity * in.Price
		if err := e.ledger.Reserve(in.Symbol, reserve); err != nil {
			return res, err
		}
	}

	order, err := e.gw.PlaceLimitOrder(ctx, in.Symbol, in.Side, in.Quantity, in.Price)
	if err != nil {
		order, err = e.lostLimit(ctx, in, err)
		if err != nil {
			if reserve > 0 {
				e.ledger.Release(in.Symbol, reserve)
			}
			return res, errors.Wrapf(err, "%s", in)
		}
	}
	res.OrderID = order.OrderID
	res.Level = &models.GridLevel{
		Index:         in.Level,
		Price:         in.Price,
		Side:          in.Side,
		Quantity:      in.Quantity,
		OrderID:       order.OrderID,
		Status:        models.LevelOpen,
		ClientOrderID: order.ClientOrderID,
		PositionID:    in.PositionID,
		Reserved:      reserve,
	}
	if order.OrderID == "" {
		res.Level.Status = models.LevelPending
	}
	return res, nil
}

// lostLimit ищет лимитный ордер после сетевого сбоя выставления. Найденный ордер возвращается
// с биржевым id; если биржа не ответила, ордер возвращается только с ClientOrderID,
// и уровень ждёт подтверждения при следующей сверке.
func (e *Executor) lostLimit(ctx context.Context, in models.Intent, placeErr error) (models.LimitOrder, error) {
	clientID, ok := models.ClientOrderIDOf(placeErr)
	if !errors.Is(placeErr, models.ErrNetwork) || !ok {
		return models.LimitOrder{}, placeErr
	}
	st, err := e.gw.GetOrder(ctx, in.Symbol, models.OrderRef{ClientOrderID: clientID})
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return models.LimitOrder{}, placeErr
	case err != nil:
		e.log.Warn("limit order outcome unknown, tracking by client id",
			zap.String("symbol", in.Symbol),
			zap.String("client_order_id", clientID),
			zap.Error(err))
		return models.LimitOrder{ClientOrderID: clientID}, nil
	case st.State.Done() && st.ExecutedQty <= 0:
		return models.LimitOrder{}, placeErr
	}
	return models.LimitOrder{OrderID: st.OrderID, ClientOrderID: clientID}, nil
}

// ApplyFill проводит через журнал исполнившийся ордер лестницы.
// Ордер с PositionID закрывает позицию (возвращается close-сделка), без него открывает новую.
func (e *Executor) ApplyFill(ctx context.Context, symbol, feeCurrency string, lv models.GridLevel) (strategy.Fill, *models.Trade, error) {
	fill := strategy.Fill{Level: lv}

	if lv.PositionID != 0 {
		trade, err := e.closeRecorded(ctx, symbol, ledger.CloseRequest{
			PositionID:  lv.PositionID,
			Price:       lv.Price,
			OrderID:     lv.OrderID,
			FeeCurrency: feeCurrency,
		})
		if err != nil {
			return fill, nil, err
		}
		return fill, &trade, nil
	}

	var pos models.Position
	err := e.record(ctx, symbol, lv.OrderID, func() (err error) {
		pos, err = e.ledger.Open(ctx, ledger.OpenRequest{
			Symbol:      symbol,
			Side:        models.PositionSideFor(lv.Side),
			Quantity:    lv.Quantity,
			Price:       lv.Price,
			OrderID:     lv.OrderID,
			FeeCurrency: feeCurrency,
			Reserved:    lv.Reserved,
		})
		return err
	})
	if err != nil {
		return fill, nil, err
	}
	fill.Opened = pos.ID
	e.notifier.Send(notify.PositionOpened(pos))
	return fill, nil, nil
}

func (e *Executor) closeRecorded(ctx context.Context, symbol string, req ledger.CloseRequest) (models.Trade, error) {
	var trade models.Trade
	err := e.record(ctx, symbol, req.OrderID, func() (err error) {
		trade, err = e.ledger.Close(ctx, req)
		return err
	})
	if err != nil {
		return trade, err
	}
	e.notifier.Send(notify.PositionClosed(trade))
	return trade, nil
}

// record повторяет запись в журнал после исполненного ордера.
// Сбой записи, который не прошёл за retries попыток, превращается в ErrUnrecorded.
func (e *Executor) record(ctx context.Context, symbol, orderID string, write func() error) error {
	var err error
	for attempt := 1; attempt <= e.retries; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		if models.KindOf(err) != models.KindLedgerWrite {
			break
		}
		e.log.Warn("ledger write failed, retrying",
			zap.String("symbol", symbol),
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < e.retries {
			e.sleep(e.retryDelay * time.Duration(attempt))
		}
	}

	if models.KindOf(err) == models.KindUnknownPosition {
		// позиция уже закрыта в хранилище: не ошибка исполнения
		e.log.Warn("position already closed in store",
			zap.String("symbol", symbol),
			zap.String("order_id", orderID),
			logger.Kind(string(models.KindUnknownPosition)),
			zap.Error(err))
		return err
	}

	err = errors.Wrapf(models.Classify(models.ErrUnrecorded, "record", err), "%s order %s", symbol, orderID)
	e.log.Error("order executed but not recorded",
		zap.String("symbol", symbol),
		zap.String("order_id", orderID),
		logger.Kind(string(models.KindUnrecorded)),
		zap.Error(err))
	e.notifier.Send(notify.Unrecorded(symbol, orderID, err))
	return err
}
