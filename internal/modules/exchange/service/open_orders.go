package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"grid_bot/internal/models"
)

func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	var rows []openOrder
	if err := c.do(ctx, "ListOpenOrders", http.MethodGet, "/api/v3/openOrders",
		url.Values{"symbol": {symbol}}, true, &rows); err != nil {
		return nil, err
	}
	out := make([]models.OpenOrder, 0, len(rows))
	for _, o := range rows {
		out = append(out, models.OpenOrder{
			OrderID:  strconv.FormatInt(o.OrderID, 10),
			Side:     models.Side(o.Side),
			Price:    parseFloat(o.Price),
			Quantity: parseFloat(o.OrigQty) - parseFloat(o.ExecutedQty),
		})
	}
	return out, nil
}
