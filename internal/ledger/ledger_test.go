package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid_bot/internal/models"
)

// flakyStore падает на записи, пока fail > 0.
type flakyStore struct {
	*MemoryStore
	failOpen  int
	failClose int
}

var errDBDown = errors.New("connection refused")

func (s *flakyStore) InsertOpen(ctx context.Context, pos models.Position, trade models.Trade) (int64, error) {
	if s.failOpen > 0 {
		s.failOpen--
		return 0, errDBDown
	}
	return s.MemoryStore.InsertOpen(ctx, pos, trade)
}

func (s *flakyStore) InsertClose(ctx context.Context, id int64, trade models.Trade) error {
	if s.failClose > 0 {
		s.failClose--
		return errDBDown
	}
	return s.MemoryStore.InsertClose(ctx, id, trade)
}

func newLedger(t *testing.T, store Store, limit float64) *Ledger {
	t.Helper()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	l := New(store, nil).WithClock(func() time.Time { return now })
	l.Register("BTCUSDT", limit)
	return l
}

func openLong(t *testing.T, l *Ledger, qty, price float64) models.Position {
	t.Helper()
	pos, err := l.Open(context.Background(), OpenRequest{
		Symbol: "BTCUSDT", Side: models.PositionLong, Quantity: qty, Price: price, OrderID: "o-open",
	})
	require.NoError(t, err)
	return pos
}

func TestLedgerOpenClose(t *testing.T) {
	store := NewMemoryStore()
	l := newLedger(t, store, 1000)
	ctx := context.Background()

	pos := openLong(t, l, 0.01, 40000)
	assert.NotZero(t, pos.ID)
	assert.Equal(t, models.PositionOpen, pos.Status)
	require.Len(t, l.OpenPositions("BTCUSDT"), 1)

	trade, err := l.Close(ctx, CloseRequest{PositionID: pos.ID, Price: 41000, OrderID: "o-close", Fee: 0.5, FeeCurrency: "USDT"})
	require.NoError(t, err)
	require.NotNil(t, trade.Profit)
	assert.InDelta(t, 9.5, *trade.Profit, 1e-9)
	assert.Equal(t, models.TradeClose, trade.Kind)
	assert.Empty(t, l.OpenPositions("BTCUSDT"))

	stored, ok := store.Position(pos.ID)
	require.True(t, ok)
	assert.Equal(t, models.PositionClosed, stored.Status)

	trades, err := l.Trades(ctx, TradeFilter{PositionID: pos.ID})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.TradeClose, trades[0].Kind)
	assert.Equal(t, models.TradeOpen, trades[1].Kind)
}

func TestLedgerShortProfit(t *testing.T) {
	l := newLedger(t, NewMemoryStore(), 1000)
	pos, err := l.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: models.PositionShort, Quantity: 0.01, Price: 41000})
	require.NoError(t, err)

	trade, err := l.Close(context.Background(), CloseRequest{PositionID: pos.ID, Price: 40000, Fee: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 9.5, *trade.Profit, 1e-9)
}

func TestLedgerCloseIdempotent(t *testing.T) {
	store := NewMemoryStore()
	l := newLedger(t, store, 1000)
	ctx := context.Background()
	pos := openLong(t, l, 0.01, 40000)

	_, err := l.Close(ctx, CloseRequest{PositionID: pos.ID, Price: 41000})
	require.NoError(t, err)

	_, err = l.Close(ctx, CloseRequest{PositionID: pos.ID, Price: 41000})
	require.ErrorIs(t, err, models.ErrUnknownPosition)
	assert.Equal(t, models.KindUnknownPosition, models.KindOf(err))

	_, err = l.Close(ctx, CloseRequest{PositionID: 999, Price: 1})
	assert.ErrorIs(t, err, models.ErrUnknownPosition)

	trades, err := l.Trades(ctx, TradeFilter{PositionID: pos.ID})
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestLedgerCapital(t *testing.T) {
	ctx := context.Background()

	t.Run("open beyond limit is rejected", func(t *testing.T) {
		l := newLedger(t, NewMemoryStore(), 1000)
		openLong(t, l, 0.02, 40000) // 800
		_, err := l.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Side: models.PositionLong, Quantity: 0.01, Price: 40000})
		require.ErrorIs(t, err, models.ErrCapitalExceeded)
		assert.Len(t, l.OpenPositions("BTCUSDT"), 1)
	})

	t.Run("reservations count", func(t *testing.T) {
		l := newLedger(t, NewMemoryStore(), 1000)
		require.NoError(t, l.Reserve("BTCUSDT", 600))
		require.ErrorIs(t, l.Reserve("BTCUSDT", 500), models.ErrCapitalExceeded)

		_, err := l.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Side: models.PositionLong, Quantity: 0.01, Price: 50000})
		require.ErrorIs(t, err, models.ErrCapitalExceeded)

		l.Release("BTCUSDT", 600)
		notional, reserved := l.Exposure("BTCUSDT")
		assert.Zero(t, notional)
		assert.Zero(t, reserved)
	})

	t.Run("open consumes its reservation", func(t *testing.T) {
		l := newLedger(t, NewMemoryStore(), 1000)
		require.NoError(t, l.Reserve("BTCUSDT", 400))
		_, err := l.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Side: models.PositionLong, Quantity: 0.01, Price: 40100, Reserved: 400})
		require.NoError(t, err)

		notional, reserved := l.Exposure("BTCUSDT")
		assert.InDelta(t, 401, notional, 1e-9)
		assert.Zero(t, reserved)
	})

	t.Run("exact limit is allowed", func(t *testing.T) {
		l := newLedger(t, NewMemoryStore(), 1000)
		openLong(t, l, 0.025, 40000)
		notional, _ := l.Exposure("BTCUSDT")
		assert.InDelta(t, 1000, notional, 1e-9)
	})

	t.Run("unregistered symbol", func(t *testing.T) {
		l := newLedger(t, NewMemoryStore(), 1000)
		assert.Error(t, l.Reserve("ETHUSDT", 1))
	})
}

func TestLedgerWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), failOpen: 1}
	l := newLedger(t, store, 1000)

	_, err := l.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Side: models.PositionLong, Quantity: 0.01, Price: 40000, OrderID: "x"})
	require.ErrorIs(t, err, models.ErrLedgerWrite)
	assert.ErrorIs(t, err, errDBDown)
	assert.Equal(t, models.KindLedgerWrite, models.KindOf(err))
	assert.Empty(t, l.OpenPositions("BTCUSDT"))

	pos := openLong(t, l, 0.01, 40000)

	store.failClose = 1
	_, err = l.Close(ctx, CloseRequest{PositionID: pos.ID, Price: 41000})
	require.ErrorIs(t, err, models.ErrLedgerWrite)

	// память совпадает с хранилищем: позиция всё ещё открыта и там, и там
	require.Len(t, l.OpenPositions("BTCUSDT"), 1)
	stored, err := store.OpenPositions(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	_, err = l.Close(ctx, CloseRequest{PositionID: pos.ID, Price: 41000})
	require.NoError(t, err)
}

func TestLedgerRecover(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := newLedger(t, store, 1000)
	a := openLong(t, first, 0.01, 40000)
	b := openLong(t, first, 0.005, 41000)
	_, err := first.Close(ctx, CloseRequest{PositionID: a.ID, Price: 40500})
	require.NoError(t, err)
	_, err = store.InsertOpen(ctx, models.Position{Symbol: "DOGEUSDT", Side: models.PositionLong, Quantity: 1, EntryPrice: 1}, models.Trade{})
	require.NoError(t, err)

	second := newLedger(t, store, 1000)
	require.NoError(t, second.Recover(ctx))

	open := second.OpenPositions("BTCUSDT")
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)
	_, ok := second.Position(b.ID)
	assert.True(t, ok)
	assert.Equal(t, []string{"BTCUSDT"}, second.Symbols())

	_, err = second.Close(ctx, CloseRequest{PositionID: b.ID, Price: 42000})
	require.NoError(t, err)
}

func TestLedgerTradeCountInvariant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := newLedger(t, store, 10000)

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, openLong(t, l, 0.01, 40000+float64(i)*100).ID)
	}
	for _, id := range ids[:3] {
		_, err := l.Close(ctx, CloseRequest{PositionID: id, Price: 41000})
		require.NoError(t, err)
	}

	trades, err := l.Trades(ctx, TradeFilter{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	var opens, closes int
	for _, tr := range trades {
		if tr.Kind == models.TradeOpen {
			opens++
		} else {
			closes++
		}
	}
	assert.Equal(t, len(l.OpenPositions("BTCUSDT")), opens-closes)

	limited, err := l.Trades(ctx, TradeFilter{Symbol: "BTCUSDT", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLedgerCloseAlreadyClosedInStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := newLedger(t, store, 1000)
	pos := openLong(t, l, 0.01, 40000)

	// закрыта другим процессом мимо памяти ledger
	require.NoError(t, store.InsertClose(ctx, pos.ID, models.Trade{Symbol: "BTCUSDT", Kind: models.TradeClose}))

	_, err := l.Close(ctx, CloseRequest{PositionID: pos.ID, Price: 41000})
	require.ErrorIs(t, err, models.ErrUnknownPosition)

	_, ok := l.Position(pos.ID)
	assert.False(t, ok)
	l.mu.RLock()
	_, tracked := l.where[pos.ID]
	l.mu.RUnlock()
	assert.False(t, tracked)
	assert.Empty(t, l.OpenPositions("BTCUSDT"))
}

func TestLedgerGridLevels(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := newLedger(t, store, 1000)

	require.NoError(t, l.SaveLevel(ctx, "BTCUSDT", models.GridLevel{Index: 2, Price: 40000, Side: models.SideBuy,
		Quantity: 0.01, OrderID: "b2", Status: models.LevelOpen, Reserved: 400}))
	require.NoError(t, l.SaveLevel(ctx, "BTCUSDT", models.GridLevel{Index: 4, Price: 42000, Side: models.SideSell,
		Quantity: 0.01, OrderID: "s4", Status: models.LevelOpen}))
	require.NoError(t, l.SaveLevel(ctx, "BTCUSDT", models.GridLevel{Index: 5, Price: 43000, Side: models.SideSell,
		Quantity: 0.01, OrderID: "s5", Status: models.LevelOpen}))
	require.NoError(t, l.DropLevel(ctx, "BTCUSDT", 5))

	// исполнение b2 снимает уровень в той же записи
	_, err := l.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Side: models.PositionLong, Quantity: 0.01, Price: 40000,
		OrderID: "b2", Reserved: 0})
	require.NoError(t, err)

	second := newLedger(t, store, 1000)
	levels, err := second.RestoreLevels(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, "s4", levels[0].OrderID)

	require.NoError(t, second.SaveLevel(ctx, "BTCUSDT", models.GridLevel{Index: 1, Price: 39000, Side: models.SideBuy,
		Quantity: 0.01, OrderID: "b1", Status: models.LevelOpen, Reserved: 390}))
	third := newLedger(t, store, 1000)
	_, err = third.RestoreLevels(ctx, "BTCUSDT")
	require.NoError(t, err)
	_, reserved := third.Exposure("BTCUSDT")
	assert.InDelta(t, 390, reserved, 1e-9)

	_, err = third.RestoreLevels(ctx, "ETHUSDT")
	assert.Error(t, err)
}
