package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/engine"
	"grid_bot/internal/executor"
	"grid_bot/internal/feed"
	"grid_bot/internal/ledger"
	"grid_bot/internal/models"
	"grid_bot/internal/modules/config"
	exchange "grid_bot/internal/modules/exchange/service"
	health "grid_bot/internal/modules/health/service"
	"grid_bot/internal/notify"
	"grid_bot/internal/strategy"
	"grid_bot/pkg/tracing"
)

const serviceName = "grid_bot"

func NewLedger(store ledger.Store, cfg *config.Config, log *zap.Logger) *ledger.Ledger {
	l := ledger.New(store, log.Named("ledger"))
	for _, s := range cfg.Symbols {
		l.Register(s.Symbol, s.TotalInvestment)
	}
	return l
}

// NewNotifier Telegram, если заданы token и chat_id, иначе лог.
func NewNotifier(cfg *config.Config, log *zap.Logger) notify.Notifier {
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log.Named("telegram"))
		if err == nil {
			return tg
		}
		log.Warn("telegram notifier disabled", zap.Error(err))
	}
	return notify.NewLog(log.Named("notify"))
}

func NewMetrics(reg *prometheus.Registry) *engine.Metrics {
	return engine.NewMetrics(reg)
}

func NewTracer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
	if !cfg.Tracing.Enabled {
		return opentracing.NoopTracer{}, nil
	}
	tracer, closeFn, err := tracing.InitTracer(tracing.Config{
		ServiceName: serviceName,
		Host:        cfg.Tracing.Host,
		Port:        cfg.Tracing.Port,
	}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeFn()
			return nil
		},
	})
	return tracer, nil
}

// NewFeed цены из websocket-кеша, если стрим включён, иначе REST.
func NewFeed(cfg *config.Config, gw models.Gateway, stream *exchange.PriceStream, state *health.State) *feed.Feed {
	// nil-указатель стрима не должен превращаться в непустой интерфейс
	var cache feed.Cache
	if stream != nil {
		cache = stream
		stream.OnState(state.SetWSConnected)
	}
	return feed.New(gw, cache, 2*cfg.Engine.TickInterval)
}

type Params struct {
	fx.In

	Config   *config.Config
	Gateway  models.Gateway
	Feed     *feed.Feed
	Ledger   *ledger.Ledger
	Notifier notify.Notifier
	Metrics  *engine.Metrics
	Tracer   opentracing.Tracer
	State    *health.State
	Log      *zap.Logger
}

func NewEngine(p Params) (*engine.Engine, error) {
	ec := p.Config.Engine
	f := p.Feed
	if f == nil {
		f = feed.New(p.Gateway, nil, 0)
	}

	exec := executor.New(p.Gateway, p.Ledger, p.Notifier, p.Log.Named("executor"), executor.Config{
		LedgerRetries: ec.LedgerRetries,
	}).WithTracer(p.Tracer)

	sched := engine.Config{
		TickInterval:       ec.TickInterval,
		ExchangeRetryDelay: ec.ExchangeRetryDelay,
		NetworkBackoffMin:  ec.NetworkBackoffMin,
		NetworkBackoffMax:  ec.NetworkBackoffMax,
		RestartCooldown:    ec.RestartCooldown,
	}

	e := engine.New(p.Ledger, p.Log.Named("engine"))
	for _, sc := range p.Config.Symbols {
		strat, err := strategy.New(sc)
		if err != nil {
			return nil, errors.Wrapf(err, "symbol %s", sc.Symbol)
		}
		symbol := sc.Symbol
		w := engine.NewWorker(sc, strat, sched, engine.Deps{
			Gateway:  p.Gateway,
			Feed:     f,
			Executor: exec,
			Ledger:   p.Ledger,
			Clock:    engine.RealClock(),
			Metrics:  p.Metrics,
			Tracer:   p.Tracer,
			Log:      p.Log.Named("worker"),
			OnTick:   func(t time.Time) { p.State.TouchTick(symbol, t) },
		})
		if err := e.Add(w); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// chatCommands команды Telegram-чата.
func chatCommands(l *ledger.Ledger, state *health.State, f *feed.Feed, symbols []models.SymbolConfig) map[string]notify.Command {
	bySymbol := make(map[string]models.SymbolConfig, len(symbols))
	for _, sc := range symbols {
		bySymbol[sc.Symbol] = sc
	}
	return map[string]notify.Command{
		"positions": func(context.Context) string {
			var all []models.Position
			for _, s := range l.Symbols() {
				all = append(all, l.OpenPositions(s)...)
			}
			return notify.OpenPositions(all)
		},
		"status": func(ctx context.Context) string {
			ticks := state.Ticks()
			var b strings.Builder
			b.WriteString("⚙️ Статус:\n")
			for _, s := range l.Symbols() {
				notional, reserved := l.Exposure(s)
				last := "-"
				if ts, ok := ticks[s]; ok {
					last = time.Unix(ts, 0).UTC().Format(time.TimeOnly)
				}
				fmt.Fprintf(&b, "- %s open=%.2f reserved=%.2f limit=%.2f tick=%s",
					s, notional, reserved, l.Limit(s), last)
				if sc, ok := bySymbol[s]; ok && f != nil {
					candles, err := f.Candles(ctx, sc)
					if pct, ok := feed.Change(candles); err == nil && ok {
						fmt.Fprintf(&b, " %s×%d=%+.2f%%", sc.CandleTimeframe, len(candles), pct)
					}
				}
				b.WriteString("\n")
			}
			return b.String()
		},
	}
}

func run(
	lc fx.Lifecycle,
	e *engine.Engine,
	l *ledger.Ledger,
	f *feed.Feed,
	state *health.State,
	n notify.Notifier,
	cfg *config.Config,
	log *zap.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := e.Start(startCtx); err != nil {
				return err
			}
			state.SetReady(true)
			if tg, ok := n.(*notify.Telegram); ok {
				tg.Listen(ctx, chatCommands(l, state, f, cfg.Symbols))
			}
			n.Sendf("grid bot started: %d symbols", len(cfg.Symbols))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			state.SetReady(false)
			log.Info("stopping engine")
			return e.Stop(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			NewLedger,
			NewNotifier,
			NewMetrics,
			NewTracer,
			NewFeed,
			NewEngine,
		),
		fx.Invoke(run),
	)
}
