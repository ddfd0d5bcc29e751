package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"grid_bot/internal/executor"
	"grid_bot/internal/feed"
	"grid_bot/internal/ledger"
	"grid_bot/internal/models"
	"grid_bot/internal/strategy"
	"grid_bot/pkg/backoff"
	"grid_bot/pkg/logger"
)

// Config расписание воркера.
type Config struct {
	TickInterval       time.Duration
	ExchangeRetryDelay time.Duration
	NetworkBackoffMin  time.Duration
	NetworkBackoffMax  time.Duration
	RestartCooldown    time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.ExchangeRetryDelay <= 0 {
		c.ExchangeRetryDelay = 7 * time.Second
	}
	if c.NetworkBackoffMin <= 0 {
		c.NetworkBackoffMin = 10 * time.Second
	}
	if c.NetworkBackoffMax <= 0 {
		c.NetworkBackoffMax = 60 * time.Second
	}
	if c.RestartCooldown <= 0 {
		c.RestartCooldown = 30 * time.Second
	}
	return c
}

// Deps общие зависимости воркеров.
type Deps struct {
	Gateway  models.Gateway
	Feed     *feed.Feed
	Executor *executor.Executor
	Ledger   *ledger.Ledger
	Clock    Clock
	Metrics  *Metrics
	Tracer   opentracing.Tracer
	Log      *zap.Logger
	// OnTick вызывается после каждого тика.
	OnTick func(time.Time)
}

// Worker цикл одного символа: feed -> strategy -> executor -> ledger.
// Тики строго последовательны, состояние воркера не разделяется с другими.
type Worker struct {
	cfg   models.SymbolConfig
	sched Config
	strat strategy.Strategy

	ladder   *strategy.Ladder
	book     *strategy.Book
	restored bool
	adopted  bool
	// dirty книга разошлась с сохранёнными ордерами после сбоя записи
	dirty bool

	gw      models.Gateway
	feed    *feed.Feed
	exec    *executor.Executor
	ledger  *ledger.Ledger
	clock   Clock
	metrics *Metrics
	tracer  opentracing.Tracer
	log     *zap.Logger
	onTick  func(time.Time)

	reference  float64
	netBackoff backoff.Backoff
}

func NewWorker(cfg models.SymbolConfig, strat strategy.Strategy, sched Config, d Deps) *Worker {
	sched = sched.withDefaults()
	if d.Clock == nil {
		d.Clock = RealClock()
	}
	if d.Tracer == nil {
		d.Tracer = opentracing.NoopTracer{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	w := &Worker{
		cfg:     cfg,
		sched:   sched,
		strat:   strat,
		book:    strategy.NewBook(),
		gw:      d.Gateway,
		feed:    d.Feed,
		exec:    d.Executor,
		ledger:  d.Ledger,
		clock:   d.Clock,
		metrics: d.Metrics,
		tracer:  d.Tracer,
		onTick:  d.OnTick,
		log: d.Log.With(
			zap.String("symbol", cfg.Symbol),
			zap.String("strategy", string(strat.Name())),
		),
		netBackoff: backoff.Backoff{
			Min:    sched.NetworkBackoffMin,
			Max:    sched.NetworkBackoffMax,
			Factor: 2,
		},
	}
	if l, ok := strat.(*strategy.Ladder); ok {
		w.ladder = l
	}
	return w
}

func (w *Worker) Symbol() string { return w.cfg.Symbol }

// Book ордера лестницы; пустая для threshold.
func (w *Worker) Book() *strategy.Book { return w.book }

func (w *Worker) Reference() float64 { return w.reference }

// Run крутит тики до отмены ctx. Паника внутри тика не роняет процесс:
// воркер перезапускается через RestartCooldown.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", zap.Duration("tick", w.sched.TickInterval))
	defer w.log.Info("worker stopped")

	for {
		if w.runSafe(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(w.sched.RestartCooldown):
		}
		w.log.Info("worker restarted after panic")
	}
}

func (w *Worker) runSafe(ctx context.Context) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.fail(w.cfg.Symbol, "Panic")
			w.log.Error("worker panic", zap.Any("panic", r), zap.Stack("stack"))
			stopped = false
		}
	}()
	w.loop(ctx)
	return true
}

func (w *Worker) loop(ctx context.Context) {
	var wait time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(wait):
		}
		if ctx.Err() != nil {
			return
		}
		// начатый тик доводим до конца даже при остановке: ордер и запись в журнал не разрываются
		err := w.Tick(context.WithoutCancel(ctx))
		wait = w.Delay(err)
	}
}

// Delay пауза перед следующим тиком по результату текущего.
func (w *Worker) Delay(err error) time.Duration {
	switch {
	case errors.Is(err, models.ErrNetwork):
		return w.netBackoff.Fail()
	case retryable(err):
		w.netBackoff.Reset()
		return w.sched.ExchangeRetryDelay
	}
	w.netBackoff.Reset()
	return w.sched.TickInterval
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	switch models.KindOf(err) {
	case models.KindExchange, models.KindFeedUnavailable:
		return true
	}
	return false
}

func severity(err error) int {
	switch {
	case errors.Is(err, models.ErrNetwork):
		return 2
	case retryable(err):
		return 1
	}
	return 0
}

// Tick один проход цикла. Возвращённая ошибка определяет паузу до следующего тика;
// ошибки отдельных интентов уже залогированы.
func (w *Worker) Tick(ctx context.Context) (err error) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, w.tracer, "engine.tick")
	span.SetTag("symbol", w.cfg.Symbol)
	defer func() {
		if err != nil {
			span.SetTag("error", true)
		}
		span.Finish()
		w.metrics.positions(w.cfg.Symbol, len(w.ledger.OpenPositions(w.cfg.Symbol)))
		if w.onTick != nil {
			w.onTick(w.clock.Now())
		}
	}()
	w.metrics.tick(w.cfg.Symbol)

	var worst error
	if w.ladder != nil {
		if err := w.syncLadder(ctx, &worst); err != nil {
			w.fail(err, "sync ladder")
			return err
		}
	}

	w.exec.Settle(ctx, w.cfg.Symbol)

	sample, err := w.feed.Sample(ctx, w.cfg)
	if err != nil {
		w.fail(err, "skip tick")
		return err
	}

	d := w.strat.Decide(strategy.Input{
		Price:     sample.Price,
		Reference: w.reference,
		Open:      w.ledger.OpenPositions(w.cfg.Symbol),
		Levels:    w.book.Outstanding(),
		Hold:      w.book.Hold(),
	})
	w.reference = d.Reference
	if len(d.Hold) > 0 {
		w.book.SetHold(d.Hold[0])
	}
	w.run(ctx, d.Intents, &worst)
	return worst
}

// run исполняет интенты по одному, в порядке выдачи модели.
func (w *Worker) run(ctx context.Context, intents []models.Intent, worst *error) {
	for _, in := range intents {
		if in.Kind.Ladder() && w.book.Busy(in.Level) {
			continue
		}
		res, err := w.exec.Execute(ctx, in)
		if err != nil {
			w.fail(err, fmt.Sprintf("intent %s", in))
			if severity(err) > severity(*worst) {
				*worst = err
			}
			continue
		}
		w.metrics.intent(w.cfg.Symbol, string(in.Kind))
		if res.Trade != nil && res.Trade.Profit != nil {
			w.metrics.profit(w.cfg.Symbol, *res.Trade.Profit)
		}
		if res.Level != nil {
			if err := w.book.Track(*res.Level); err != nil {
				w.log.Warn("track ladder order", zap.String("order_id", res.OrderID), zap.Error(err))
				continue
			}
			w.save(ctx, *res.Level)
		}
	}
}

// syncLadder сверяет книгу с биржей. Ордер, пропавший из открытых, разбирается по статусу:
// исполненный проводится через журнал и получает встречный ордер, отменённый освобождает уровень.
// При первом проходе книга поднимается из журнала, а неизвестные ордера на уровнях подхватываются.
func (w *Worker) syncLadder(ctx context.Context, worst *error) error {
	if !w.restored {
		levels, err := w.ledger.RestoreLevels(ctx, w.cfg.Symbol)
		if err != nil {
			return errors.Wrap(err, "restore grid orders")
		}
		w.restored = true
		if n := w.book.Restore(levels); n > 0 {
			w.log.Info("restored ladder orders", zap.Int("orders", n))
		}
	}

	open, err := w.gw.ListOpenOrders(ctx, w.cfg.Symbol)
	if err != nil {
		return errors.Wrap(err, "list open orders")
	}

	var filled []models.GridLevel
	for _, lv := range w.book.Missing(open) {
		if f, ok := w.resolve(ctx, lv); ok {
			filled = append(filled, f)
		}
	}

	if !w.adopted {
		w.adopted = true
		w.adopt(open)
	}

	for _, lv := range filled {
		fill, trade, err := w.exec.ApplyFill(ctx, w.cfg.Symbol, w.cfg.FeeCurrency, lv)
		switch {
		case err == nil:
			w.metrics.intent(w.cfg.Symbol, "Fill")
		case models.KindOf(err) == models.KindUnknownPosition:
			// закрывать нечего, сохранённый ордер снимаем сами
			w.fail(err, fmt.Sprintf("fill level %d", lv.Index))
			w.forget(ctx, lv.Index)
		default:
			w.fail(err, fmt.Sprintf("fill level %d", lv.Index))
		}
		if trade != nil && trade.Profit != nil {
			w.metrics.profit(w.cfg.Symbol, *trade.Profit)
		}
		w.run(ctx, w.strat.OnFill(fill), worst)
	}
	// пустым остаётся исполненный уровень, который не занял встречный ордер
	for i := len(filled) - 1; i >= 0; i-- {
		if !w.book.Busy(filled[i].Index) {
			w.book.SetHold(filled[i].Index)
			break
		}
	}

	if w.dirty {
		w.persist(ctx)
	}
	return nil
}

// resolve решает судьбу ордера книги по его статусу на бирже.
// Исполненный ордер снимается с книги и возвращается с ok=true.
func (w *Worker) resolve(ctx context.Context, lv models.GridLevel) (models.GridLevel, bool) {
	st, err := w.gw.GetOrder(ctx, w.cfg.Symbol, lv.Ref())
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		w.drop(ctx, lv, "not found")
		return lv, false
	case err != nil:
		// статус неизвестен: уровень занят до следующей сверки
		w.fail(err, fmt.Sprintf("order status level %d", lv.Index))
		return lv, false
	case st.State == models.OrderFilled || (st.State.Done() && st.ExecutedQty > 0):
		w.book.Remove(lv.Index)
		if lv.OrderID == "" {
			// сохранённый уровень должен знать id, по которому его снимет запись исполнения
			lv.OrderID = st.OrderID
			lv.Status = models.LevelOpen
			w.save(ctx, lv)
		}
		if st.State != models.OrderFilled {
			w.log.Warn("ladder order partially filled and closed",
				zap.Int("level", lv.Index),
				zap.String("order_id", lv.OrderID),
				zap.Float64("executed", st.ExecutedQty))
			if lv.PositionID == 0 {
				lv.Reserved *= st.ExecutedQty / lv.Quantity
				lv.Quantity = st.ExecutedQty
			}
		}
		lv.Status = models.LevelFilled
		return lv, true
	case st.State.Done():
		w.drop(ctx, lv, string(st.State))
		return lv, false
	}

	if lv.OrderID == "" {
		if confirmed, ok := w.book.Confirm(lv.Index, st.OrderID); ok {
			w.log.Info("ladder order confirmed", zap.Int("level", lv.Index), zap.String("order_id", st.OrderID))
			w.save(ctx, confirmed)
		}
	}
	return lv, false
}

// drop освобождает уровень, ордер которого больше не стоит и не исполнился.
func (w *Worker) drop(ctx context.Context, lv models.GridLevel, reason string) {
	w.book.Remove(lv.Index)
	if lv.Reserved > 0 {
		w.ledger.Release(w.cfg.Symbol, lv.Reserved)
	}
	w.log.Warn("ladder order gone",
		zap.Int("level", lv.Index),
		zap.String("order", lv.Ref().String()),
		zap.String("reason", reason))
	w.forget(ctx, lv.Index)
}

// adopt подхватывает открытые ордера на ценах уровней, которых нет в книге.
func (w *Worker) adopt(open []models.OpenOrder) {
	adopted := w.book.Adopt(w.ladder, open, w.linker())
	if len(adopted) == 0 {
		return
	}
	var reserved float64
	for _, lv := range adopted {
		reserved += lv.Reserved
	}
	if reserved > 0 {
		if err := w.ledger.Reserve(w.cfg.Symbol, reserved); err != nil {
			w.log.Warn("adopted orders exceed capital", zap.Float64("reserved", reserved), zap.Error(err))
		}
	}
	w.dirty = true
	w.log.Info("adopted ladder orders", zap.Int("orders", len(adopted)))
}

func (w *Worker) save(ctx context.Context, lv models.GridLevel) {
	if err := w.ledger.SaveLevel(ctx, w.cfg.Symbol, lv); err != nil {
		w.dirty = true
		w.fail(err, fmt.Sprintf("save level %d", lv.Index))
	}
}

func (w *Worker) forget(ctx context.Context, index int) {
	if err := w.ledger.DropLevel(ctx, w.cfg.Symbol, index); err != nil {
		w.fail(err, fmt.Sprintf("drop level %d", index))
	}
}

// persist переписывает все ордера книги после сбоя записи.
func (w *Worker) persist(ctx context.Context) {
	w.dirty = false
	for _, lv := range w.book.Outstanding() {
		w.save(ctx, lv)
	}
}

// linker подбирает для подхваченного ордера открытую позицию, которую он закрывает:
// Sell на уровне i закрывает Long с входом на i-1, Buy на i закрывает Short с входом на i+1.
// Позиции, которые уже закрывает ордер книги, не предлагаются.
func (w *Worker) linker() func(models.GridLevel) int64 {
	used := make(map[int64]bool)
	for _, lv := range w.book.Outstanding() {
		if lv.PositionID != 0 {
			used[lv.PositionID] = true
		}
	}
	positions := w.ledger.OpenPositions(w.cfg.Symbol)
	return func(lv models.GridLevel) int64 {
		side, entry := models.PositionLong, lv.Index-1
		if lv.Side == models.SideBuy {
			side, entry = models.PositionShort, lv.Index+1
		}
		for _, p := range positions {
			if used[p.ID] || p.Side != side {
				continue
			}
			if idx, ok := w.ladder.IndexOf(p.EntryPrice); ok && idx == entry {
				used[p.ID] = true
				return p.ID
			}
		}
		return 0
	}
}

func (w *Worker) fail(err error, stage string) {
	kind := models.KindOf(err)
	w.metrics.fail(w.cfg.Symbol, string(kind))

	fields := []zap.Field{zap.String("stage", stage), logger.Kind(string(kind)), zap.Error(err)}
	switch kind {
	case models.KindUnrecorded, models.KindLedgerWrite:
		w.log.Error("tick failure", fields...)
	default:
		w.log.Warn("tick failure", fields...)
	}
}
