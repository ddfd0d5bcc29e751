package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"grid_bot/internal/models"
)

func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	var r tickerPrice
	if err := c.do(ctx, "GetTicker", http.MethodGet, "/api/v3/ticker/price",
		url.Values{"symbol": {symbol}}, false, &r); err != nil {
		return 0, err
	}
	px := parseFloat(r.Price)
	if px <= 0 {
		return 0, models.Classify(models.ErrExchange, "GetTicker", fmt.Errorf("%s: bad price %q", symbol, r.Price))
	}
	return px, nil
}
