package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid_bot/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Timeout: time.Second}, nil)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestClientTicker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Empty(t, r.URL.Query().Get("signature"))
		_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","price":"42000.50000000"}`)
	})
	px, err := c.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 42000.5, px)
}

func TestClientCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `[
			[1700000000000,"100.0","110.0","90.0","105.0","12.5",1700003599999,"0",1,"0","0","0"],
			[1700003600000,"105.0","106.0","101.0","102.0","3.0",1700007199999,"0",1,"0","0","0"]
		]`)
	})
	candles, err := c.GetCandles(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, models.Candle{Open: 100, High: 110, Low: 90, Close: 105, Volume: 12.5, Start: time.UnixMilli(1700000000000)}, candles[0])
	assert.Equal(t, 102.0, candles[1].Close)
}

func TestClientMarketOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))

		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		assert.NoError(t, err)
		assert.Equal(t, "MARKET", form.Get("type"))
		assert.Equal(t, "BUY", form.Get("side"))
		assert.Equal(t, "0.01000000", form.Get("quantity"))
		assert.NotEmpty(t, form.Get("newClientOrderId"))
		assert.Equal(t, "1700000000000", form.Get("timestamp"))

		// подпись по всему телу до signature
		payload, _, _ := strings.Cut(string(body), "&signature=")
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(payload))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), form.Get("signature"))

		_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","orderId":123,"executedQty":"0.01000000",
			"cummulativeQuoteQty":"400.10000000","status":"FILLED","side":"BUY",
			"fills":[{"price":"40000","qty":"0.006","commission":"0.00000600","commissionAsset":"BTC"},
			         {"price":"40025","qty":"0.004","commission":"0.00000400","commissionAsset":"BTC"}]}`)
	})
	order, err := c.PlaceMarketOrder(context.Background(), "BTCUSDT", models.SideBuy, 0.01)
	require.NoError(t, err)
	assert.Equal(t, "123", order.OrderID)
	assert.InDelta(t, 40010, order.FillPrice, 1e-9)
	assert.InDelta(t, 0.01, order.Quantity, 1e-12)
	assert.InDelta(t, 0.00001, order.Fee, 1e-12)
	assert.Equal(t, "BTC", order.FeeCurrency)
}

func TestClientOpenOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		_, _ = io.WriteString(w, `[{"symbol":"BTCUSDT","orderId":7,"price":"41500.00","origQty":"0.0030","executedQty":"0.0010","side":"BUY"}]`)
	})
	orders, err := c.ListOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "7", orders[0].OrderID)
	assert.Equal(t, models.SideBuy, orders[0].Side)
	assert.InDelta(t, 0.002, orders[0].Quantity, 1e-12)
}

func TestClientBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"balances":[{"asset":"BTC","free":"0.5","locked":"0"},{"asset":"USDT","free":"1234.5","locked":"10"}]}`)
	})
	usdt, err := c.GetBalance(context.Background(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, 1234.5, usdt)

	eth, err := c.GetBalance(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Zero(t, eth)
}

func TestClientClassification(t *testing.T) {
	testCases := []struct {
		desc   string
		status int
		body   string
		kind   models.Kind
	}{
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, models.KindNetwork},
		{"insufficient balance", http.StatusBadRequest, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, models.KindInsufficientFunds},
		{"other reject with -2010", http.StatusBadRequest, `{"code":-2010,"msg":"Order would immediately match and take."}`, models.KindExchange},
		{"bad lot size", http.StatusBadRequest, `{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`, models.KindExchange},
		{"rate limit", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, models.KindExchange},
		{"garbage body", http.StatusOK, `not json`, models.KindExchange},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.PlaceMarketOrder(context.Background(), "BTCUSDT", models.SideSell, 1)
			require.Error(t, err)
			assert.Equal(t, tc.kind, models.KindOf(err))
		})
	}

	t.Run("transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()
		c := NewClient(Config{BaseURL: srv.URL}, nil)
		_, err := c.GetTicker(context.Background(), "BTCUSDT")
		assert.ErrorIs(t, err, models.ErrNetwork)
	})

	t.Run("signed call without creds", func(t *testing.T) {
		c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
		_, err := c.ListOpenOrders(context.Background(), "BTCUSDT")
		assert.ErrorIs(t, err, models.ErrExchange)
		assert.ErrorIs(t, err, errEmptyCreds)
	})
}

func TestClientOrderLostResponse(t *testing.T) {
	// биржа исполняет ордер, но отвечает позже таймаута клиента
	var sentClientID string
	orders := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			form, _ := url.ParseQuery(string(body))
			orders <- form.Get("newClientOrderId")
			time.Sleep(300 * time.Millisecond)
			_, _ = io.WriteString(w, `{"orderId":1}`)
		case http.MethodGet:
			assert.Equal(t, "/api/v3/order", r.URL.Path)
			assert.Empty(t, r.URL.Query().Get("orderId"))
			assert.Equal(t, sentClientID, r.URL.Query().Get("origClientOrderId"))
			_, _ = io.WriteString(w, `{"orderId":55,"clientOrderId":"`+sentClientID+`","status":"FILLED","side":"BUY",
				"price":"0","origQty":"0.01","executedQty":"0.01","cummulativeQuoteQty":"400.00"}`)
		}
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Timeout: 100 * time.Millisecond}, nil)

	_, err := c.PlaceMarketOrder(context.Background(), "BTCUSDT", models.SideBuy, 0.01)
	require.Error(t, err)
	assert.Equal(t, models.KindNetwork, models.KindOf(err))
	sentClientID = <-orders

	clientID, ok := models.ClientOrderIDOf(err)
	require.True(t, ok)
	assert.Equal(t, sentClientID, clientID)

	c.http.Timeout = time.Second
	st, err := c.GetOrder(context.Background(), "BTCUSDT", models.OrderRef{ClientOrderID: clientID})
	require.NoError(t, err)
	assert.Equal(t, "55", st.OrderID)
	assert.Equal(t, models.OrderFilled, st.State)
	assert.InDelta(t, 40000, st.FillPrice, 1e-9)
	assert.InDelta(t, 0.01, st.ExecutedQty, 1e-12)
}

func TestClientGetOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("orderId") == "404" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"code":-2013,"msg":"Order does not exist."}`)
			return
		}
		assert.Equal(t, "7", r.URL.Query().Get("orderId"))
		_, _ = io.WriteString(w, `{"orderId":7,"clientOrderId":"c7","status":"CANCELED","side":"SELL",
			"price":"42000.00","origQty":"0.002","executedQty":"0","cummulativeQuoteQty":"0"}`)
	})

	st, err := c.GetOrder(context.Background(), "BTCUSDT", models.OrderRef{OrderID: "7", ClientOrderID: "c7"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderCanceled, st.State)
	assert.True(t, st.State.Done())
	assert.Equal(t, models.SideSell, st.Side)
	assert.Zero(t, st.FillPrice)

	_, err = c.GetOrder(context.Background(), "BTCUSDT", models.OrderRef{OrderID: "404"})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}
