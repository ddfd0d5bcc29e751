package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid_bot/internal/ledger"
	"grid_bot/internal/models"
	"grid_bot/internal/modules/health/service"
)

func newTestMux(t *testing.T) (*http.ServeMux, *service.State, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), nil)
	l.Register("BTCUSDT", 1000)
	l.Register("ETHUSDT", 1000)
	state := service.NewState()
	return NewMux(Config{StaleAfter: time.Minute}, state, l, NewRegistry()), state, l
}

func get(t *testing.T, mux http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestProbes(t *testing.T) {
	mux, state, _ := newTestMux(t)

	assert.Equal(t, http.StatusOK, get(t, mux, "/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, "/readyz").Code)
	state.SetReady(true)
	assert.Equal(t, http.StatusOK, get(t, mux, "/readyz").Code)

	state.TouchTick("BTCUSDT", time.Now())
	state.TouchTick("ETHUSDT", time.Now().Add(-time.Hour))
	rec := get(t, mux, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Ready bool     `json:"ready"`
		Stale []string `json:"stale"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.Equal(t, []string{"ETHUSDT"}, body.Stale)

	metrics := get(t, mux, "/metrics")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "go_goroutines")
}

func TestPositionsAndTrades(t *testing.T) {
	mux, _, l := newTestMux(t)
	ctx := context.Background()

	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		_, err := l.Open(ctx, ledger.OpenRequest{Symbol: sym, Side: models.PositionLong, Quantity: 0.01, Price: 100, OrderID: sym})
		require.NoError(t, err)
	}
	pos := l.OpenPositions("BTCUSDT")[0]
	_, err := l.Close(ctx, ledger.CloseRequest{PositionID: pos.ID, Price: 110, Fee: 0.01})
	require.NoError(t, err)

	var positions []positionView
	require.NoError(t, sonic.Unmarshal(get(t, mux, "/positions").Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "ETHUSDT", positions[0].Symbol)

	var trades []tradeView
	require.NoError(t, sonic.Unmarshal(get(t, mux, "/trades?limit=2").Body.Bytes(), &trades))
	require.Len(t, trades, 2)
	assert.Equal(t, "close", trades[0].Kind)
	require.NotNil(t, trades[0].Profit)
	assert.InDelta(t, 0.09, *trades[0].Profit, 1e-9)

	require.NoError(t, sonic.Unmarshal(get(t, mux, "/trades?symbol=ETHUSDT").Body.Bytes(), &trades))
	assert.Len(t, trades, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/trades?limit=x").Code)
}
