package backtest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"grid_bot/internal/engine"
	"grid_bot/internal/executor"
	"grid_bot/internal/feed"
	"grid_bot/internal/ledger"
	"grid_bot/internal/models"
	"grid_bot/internal/modules/exchange/service"
	"grid_bot/internal/strategy"
)

type Params struct {
	Symbol     string
	Upper      float64
	Lower      float64
	Grids      int
	Investment float64
	FeeRate    float64
}

type Report struct {
	Symbol            string    `yaml:"symbol"`
	InitialInvestment float64   `yaml:"initial_investment"`
	PeriodStart       time.Time `yaml:"period_start"`
	PeriodEnd         time.Time `yaml:"period_end"`
	GridLower         float64   `yaml:"grid_lower"`
	GridUpper         float64   `yaml:"grid_upper"`
	GridCount         int       `yaml:"grid_count"`
	TotalTrades       int       `yaml:"total_trades"`
	WinTrades         int       `yaml:"win_trades"`
	OpenPositions     int       `yaml:"open_positions"`
	RealizedProfit    float64   `yaml:"realized_profit"`
	FinalPosition     float64   `yaml:"final_position"`
	PositionValue     float64   `yaml:"position_value"`
	Cash              float64   `yaml:"cash"`
	TotalValue        float64   `yaml:"total_value"`
	TotalReturnPct    float64   `yaml:"total_return_pct"`
}

// Run прогоняет закрытия свечей через лестницу на бумажной бирже с настоящим журналом.
// Лимитный Buy исполняется, когда close <= уровня, Sell, когда close >= уровня.
func Run(ctx context.Context, p Params, candles []models.Candle, log *zap.Logger) (Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := models.SymbolConfig{
		Symbol:          p.Symbol,
		Strategy:        models.StrategyLadder,
		TotalInvestment: p.Investment,
		GridUpper:       p.Upper,
		GridLower:       p.Lower,
		GridCount:       p.Grids,
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Report{}, errors.Wrap(err, "backtest params")
	}
	if len(candles) == 0 {
		return Report{}, errors.New("backtest: no candles")
	}

	base, quote := service.SplitSymbol(cfg.Symbol)
	if quote == "" {
		return Report{}, errors.Errorf("backtest: unknown quote asset in %s", cfg.Symbol)
	}
	cfg.FeeCurrency = quote

	paper := service.NewPaper(nil, p.FeeRate, map[string]float64{quote: p.Investment})
	store := ledger.NewMemoryStore()
	l := ledger.New(store, log)
	l.Register(cfg.Symbol, cfg.TotalInvestment)

	start := candles[0].Start
	now := start
	l.WithClock(func() time.Time { return now })

	w := engine.NewWorker(cfg, strategy.NewLadder(cfg), engine.Config{}, engine.Deps{
		Gateway:  paper,
		Feed:     feed.New(paper, nil, 0),
		Executor: executor.New(paper, l, nil, log, executor.Config{LedgerRetries: 1}),
		Ledger:   l,
		Log:      log,
	})

	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		now = c.Start
		paper.SetPrice(cfg.Symbol, c.Close)
		if err := w.Tick(ctx); err != nil {
			log.Debug("backtest tick", zap.Time("at", c.Start), zap.Error(err))
		}
	}

	trades, err := l.Trades(ctx, ledger.TradeFilter{Symbol: cfg.Symbol})
	if err != nil {
		return Report{}, err
	}

	last := candles[len(candles)-1]
	r := Report{
		Symbol:            cfg.Symbol,
		InitialInvestment: p.Investment,
		PeriodStart:       start,
		PeriodEnd:         last.Start,
		GridLower:         p.Lower,
		GridUpper:         p.Upper,
		GridCount:         p.Grids,
		TotalTrades:       len(trades),
		OpenPositions:     len(l.OpenPositions(cfg.Symbol)),
	}
	for _, t := range trades {
		if t.Kind != models.TradeClose || t.Profit == nil {
			continue
		}
		r.RealizedProfit += *t.Profit
		if *t.Profit > 0 {
			r.WinTrades++
		}
	}
	r.FinalPosition, _ = paper.GetBalance(ctx, base)
	r.Cash, _ = paper.GetBalance(ctx, quote)
	r.PositionValue = r.FinalPosition * last.Close
	r.TotalValue = r.Cash + r.PositionValue
	r.TotalReturnPct = (r.TotalValue - p.Investment) / p.Investment * 100
	return r, nil
}
