package health

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/ledger"
	"grid_bot/internal/models"
	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/health/service"
)

const defaultTradesLimit = 50

type Config struct {
	Addr string // например ":8080"
	// StaleAfter символ без тика дольше этого считается зависшим.
	StaleAfter time.Duration
}

func NewConfig(cfg *config.Config) Config {
	return Config{
		Addr:       cfg.AdminAddr(),
		StaleAfter: 10 * cfg.Engine.TickInterval,
	}
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

type positionView struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	OrderID    string    `json:"order_id"`
}

type tradeView struct {
	ID          int64     `json:"id"`
	PositionID  int64     `json:"position_id"`
	Symbol      string    `json:"symbol"`
	Kind        string    `json:"kind"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Fee         float64   `json:"fee"`
	FeeCurrency string    `json:"fee_currency"`
	OrderID     string    `json:"order_id"`
	Time        time.Time `json:"time"`
	Profit      *float64  `json:"profit,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func NewMux(cfg Config, state *service.State, l *ledger.Ledger, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: журнал поднят, воркеры запущены
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		lastTick := state.LastTick()
		var lastTickUnix int64
		if !lastTick.IsZero() {
			lastTickUnix = lastTick.Unix()
		}
		writeJSON(w, map[string]any{
			"ready":        state.Ready(),
			"wsConnected":  state.WSConnected(),
			"uptimeSec":    int64(state.Uptime().Seconds()),
			"lastTickUnix": lastTickUnix,
			"ticks":        state.Ticks(),
			"stale":        state.Stale(time.Now(), cfg.StaleAfter),
		})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		symbols := l.Symbols()
		if s := r.URL.Query().Get("symbol"); s != "" {
			symbols = []string{s}
		}
		out := make([]positionView, 0)
		for _, s := range symbols {
			for _, p := range l.OpenPositions(s) {
				out = append(out, newPositionView(p))
			}
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/trades", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultTradesLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		trades, err := l.Trades(r.Context(), ledger.TradeFilter{
			Symbol: r.URL.Query().Get("symbol"),
			Limit:  limit,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		out := make([]tradeView, 0, len(trades))
		for _, t := range trades {
			out = append(out, newTradeView(t))
		}
		writeJSON(w, out)
	})

	return mux
}

func newPositionView(p models.Position) positionView {
	return positionView{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
		EntryTime:  p.EntryTime,
		OrderID:    p.OrderID,
	}
}

func newTradeView(t models.Trade) tradeView {
	return tradeView{
		ID:          t.ID,
		PositionID:  t.PositionID,
		Symbol:      t.Symbol,
		Kind:        string(t.Kind),
		Side:        string(t.Side),
		Quantity:    t.Quantity,
		Price:       t.Price,
		Fee:         t.Fee,
		FeeCurrency: t.FeeCurrency,
		OrderID:     t.OrderID,
		Time:        t.Time,
		Profit:      t.Profit,
	}
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			log.Info("admin http listening", zap.String("addr", cfg.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("admin http", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewRegistry,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
