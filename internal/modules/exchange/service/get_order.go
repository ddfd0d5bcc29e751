package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"grid_bot/internal/models"
)

// GetOrder статус ордера по orderId, а если его нет, по origClientOrderId.
func (c *Client) GetOrder(ctx context.Context, symbol string, ref models.OrderRef) (models.OrderStatus, error) {
	params := url.Values{"symbol": {symbol}}
	if ref.OrderID != "" {
		params.Set("orderId", ref.OrderID)
	} else {
		params.Set("origClientOrderId", ref.ClientOrderID)
	}

	var r orderResponse
	if err := c.do(ctx, "GetOrder", http.MethodGet, "/api/v3/order", params, true, &r); err != nil {
		return models.OrderStatus{}, err
	}

	st := models.OrderStatus{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		State:         models.OrderState(r.Status),
		Side:          models.Side(r.Side),
		Price:         parseFloat(r.Price),
		Quantity:      parseFloat(r.OrigQty),
		ExecutedQty:   parseFloat(r.ExecutedQty),
	}
	if quote := parseFloat(r.CummulativeQuoteQty); st.ExecutedQty > 0 && quote > 0 {
		st.FillPrice = quote / st.ExecutedQty
	}
	return st, nil
}
