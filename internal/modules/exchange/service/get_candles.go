package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"grid_bot/internal/models"
)

// GetCandles row: [openTime, open, high, low, close, volume, closeTime, ...], oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	var rows [][]any
	if err := c.do(ctx, "GetCandles", http.MethodGet, "/api/v3/klines", url.Values{
		"symbol":   {symbol},
		"interval": {timeframe},
		"limit":    {strconv.Itoa(limit)},
	}, false, &rows); err != nil {
		return nil, err
	}

	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, ok := row[0].(float64)
		if !ok {
			continue
		}
		closep := anyFloat(row[4])
		if closep <= 0 {
			continue
		}
		out = append(out, models.Candle{
			Open:   anyFloat(row[1]),
			High:   anyFloat(row[2]),
			Low:    anyFloat(row[3]),
			Close:  closep,
			Volume: anyFloat(row[5]),
			Start:  time.UnixMilli(int64(ts)),
		})
	}
	return out, nil
}

func anyFloat(v any) float64 {
	switch x := v.(type) {
	case string:
		return parseFloat(x)
	case float64:
		return x
	}
	return 0
}
