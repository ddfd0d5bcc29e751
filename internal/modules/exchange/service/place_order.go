package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grid_bot/internal/models"
)

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64) (models.MarketOrder, error) {
	if qty <= 0 {
		return models.MarketOrder{}, models.Classify(models.ErrExchange, "PlaceMarketOrder", fmt.Errorf("qty <= 0"))
	}
	var r orderResponse
	clientID := uuid.NewString()
	if err := c.do(ctx, "PlaceMarketOrder", http.MethodPost, "/api/v3/order", url.Values{
		"symbol":           {symbol},
		"side":             {string(side)},
		"type":             {"MARKET"},
		"quantity":         {formatQty(qty)},
		"newClientOrderId": {clientID},
		"newOrderRespType": {"FULL"},
	}, true, &r); err != nil {
		return models.MarketOrder{}, &models.OrderError{ClientOrderID: clientID, Err: err}
	}

	executed := parseFloat(r.ExecutedQty)
	quote := parseFloat(r.CummulativeQuoteQty)
	res := models.MarketOrder{
		OrderID:  strconv.FormatInt(r.OrderID, 10),
		Quantity: executed,
	}
	if executed > 0 {
		res.FillPrice = quote / executed
	}
	for _, f := range r.Fills {
		res.Fee += parseFloat(f.Commission)
		if res.FeeCurrency == "" {
			res.FeeCurrency = f.CommissionAsset
		}
	}
	if res.FillPrice <= 0 {
		// биржа приняла ордер, но цены исполнения не вернула
		c.log.Warn("market order without fill price", zap.String("order_id", res.OrderID), zap.String("status", r.Status))
	}
	return res, nil
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, qty, price float64) (models.LimitOrder, error) {
	if qty <= 0 || price <= 0 {
		return models.LimitOrder{}, models.Classify(models.ErrExchange, "PlaceLimitOrder", fmt.Errorf("qty/price <= 0"))
	}
	var r orderResponse
	clientID := uuid.NewString()
	if err := c.do(ctx, "PlaceLimitOrder", http.MethodPost, "/api/v3/order", url.Values{
		"symbol":           {symbol},
		"side":             {string(side)},
		"type":             {"LIMIT"},
		"timeInForce":      {"GTC"},
		"quantity":         {formatQty(qty)},
		"price":            {formatQty(price)},
		"newClientOrderId": {clientID},
		"newOrderRespType": {"ACK"},
	}, true, &r); err != nil {
		return models.LimitOrder{}, &models.OrderError{ClientOrderID: clientID, Err: err}
	}
	return models.LimitOrder{OrderID: strconv.FormatInt(r.OrderID, 10), ClientOrderID: clientID}, nil
}
