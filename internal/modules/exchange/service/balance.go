package service

import (
	"context"
	"net/http"
	"strings"
)

// GetBalance свободный остаток asset.
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	var r accountResponse
	if err := c.do(ctx, "GetBalance", http.MethodGet, "/api/v3/account", nil, true, &r); err != nil {
		return 0, err
	}
	for _, b := range r.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}
