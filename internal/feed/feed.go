package feed

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"grid_bot/internal/models"
)

// Cache последних цен, которые держит websocket.
type Cache interface {
	Last(symbol string) (price float64, at time.Time, ok bool)
}

type Sample struct {
	Price float64
	At    time.Time
}

type Feed struct {
	gw    models.Gateway
	cache Cache
	// maxAge свежесть записи кеша; старше идём в REST.
	maxAge time.Duration
	now    func() time.Time
}

func New(gw models.Gateway, cache Cache, maxAge time.Duration) *Feed {
	return &Feed{gw: gw, cache: cache, maxAge: maxAge, now: time.Now}
}

// WithClock подменяет часы для проверки свежести кеша.
func (f *Feed) WithClock(now func() time.Time) *Feed {
	f.now = now
	return f
}

// Sample текущая цена. Любая ошибка оборачивает ErrFeedUnavailable
// и сохраняет вид транспорта (сеть или биржа).
func (f *Feed) Sample(ctx context.Context, cfg models.SymbolConfig) (Sample, error) {
	s := Sample{At: f.now()}

	if price, ok := f.cached(cfg.Symbol, s.At); ok {
		s.Price = price
	} else {
		price, err := f.gw.GetTicker(ctx, cfg.Symbol)
		if err != nil {
			return Sample{}, errors.Wrapf(models.Classify(models.ErrFeedUnavailable, "ticker", err), "%s", cfg.Symbol)
		}
		if price <= 0 {
			return Sample{}, errors.Wrapf(models.Classify(models.ErrFeedUnavailable, "ticker", nil), "%s: price %v", cfg.Symbol, price)
		}
		s.Price = price
	}
	return s, nil
}

// Candles последние CandleLimit свечей CandleTimeframe; без лимита ничего не запрашивает.
func (f *Feed) Candles(ctx context.Context, cfg models.SymbolConfig) ([]models.Candle, error) {
	if cfg.CandleLimit <= 0 {
		return nil, nil
	}
	candles, err := f.gw.GetCandles(ctx, cfg.Symbol, cfg.CandleTimeframe, cfg.CandleLimit)
	if err != nil {
		return nil, errors.Wrapf(models.Classify(models.ErrFeedUnavailable, "candles", err), "%s", cfg.Symbol)
	}
	return candles, nil
}

// Change изменение цены за свечи в процентах: от открытия первой до закрытия последней.
func Change(candles []models.Candle) (float64, bool) {
	if len(candles) == 0 || candles[0].Open <= 0 {
		return 0, false
	}
	last := candles[len(candles)-1].Close
	return (last - candles[0].Open) / candles[0].Open * 100, true
}

func (f *Feed) cached(symbol string, now time.Time) (float64, bool) {
	if f.cache == nil || f.maxAge <= 0 {
		return 0, false
	}
	price, at, ok := f.cache.Last(symbol)
	if !ok || price <= 0 || now.Sub(at) > f.maxAge {
		return 0, false
	}
	return price, true
}
