package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"grid_bot/pkg/backoff"
)

const defaultStreamURL = "wss://stream.binance.com:9443/stream"

type lastPrice struct {
	price float64
	at    time.Time
}

// PriceStream кеш последних цен из combined-стрима <symbol>@miniTicker.
type PriceStream struct {
	url      string
	wsDialer *websocket.Dialer
	log      *zap.Logger
	backoff  backoff.Backoff

	mu      sync.RWMutex
	prices  map[string]lastPrice
	onState func(connected bool)
	onPrice func(symbol string, price float64)
}

func NewPriceStream(url string, log *zap.Logger) *PriceStream {
	if url == "" {
		url = defaultStreamURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PriceStream{
		url:      url,
		wsDialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      log,
		backoff:  backoff.Backoff{Min: 300 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.2},
		prices:   make(map[string]lastPrice),
	}
}

func (s *PriceStream) set(symbol string, price float64, at time.Time) {
	s.mu.Lock()
	s.prices[symbol] = lastPrice{price: price, at: at}
	s.mu.Unlock()
	if s.onPrice != nil {
		s.onPrice(symbol, price)
	}
}

// OnPrice вызывается на каждую новую цену из стрима. Ставится до Run.
func (s *PriceStream) OnPrice(fn func(symbol string, price float64)) { s.onPrice = fn }

// OnState вызывается при подключении и разрыве стрима.
func (s *PriceStream) OnState(fn func(connected bool)) { s.onState = fn }

func (s *PriceStream) notify(connected bool) {
	if s.onState != nil {
		s.onState(connected)
	}
}

// Last последняя цена symbol и время её получения.
func (s *PriceStream) Last(symbol string) (float64, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p.price, p.at, ok
}

type miniTickerFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"data"`
}

// Run держит соединение до отмены ctx, переподключаясь с backoff.
func (s *PriceStream) Run(ctx context.Context, symbols []string) {
	if len(symbols) == 0 {
		return
	}
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(sym)+"@miniTicker")
	}
	url := s.url + "?streams=" + strings.Join(streams, "/")

	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := s.wsDialer.DialContext(ctx, url, nil)
		if err != nil {
			wait := s.backoff.Fail()
			s.log.Warn("price stream dial failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		s.backoff.Reset()
		s.log.Info("price stream connected", zap.Int("symbols", len(symbols)))
		s.notify(true)

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		s.read(conn)
		s.notify(false)
		close(done)
		_ = conn.Close()
	}
}

func (s *PriceStream) read(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.log.Warn("price stream read failed", zap.Error(err))
			return
		}
		var frame miniTickerFrame
		if err := sonic.Unmarshal(msg, &frame); err != nil || frame.Data.Symbol == "" {
			continue
		}
		if px := parseFloat(frame.Data.Close); px > 0 {
			s.set(frame.Data.Symbol, px, time.Now())
		}
	}
}
