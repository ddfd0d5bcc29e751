package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid_bot/internal/models"
)

func ladderCfg() models.SymbolConfig {
	return models.SymbolConfig{
		Symbol:          "BTCUSDT",
		Strategy:        models.StrategyLadder,
		TotalInvestment: 1000,
		GridLower:       40000,
		GridUpper:       45000,
		GridCount:       10,
	}
}

func TestLadderLevels(t *testing.T) {
	l := NewLadder(ladderCfg())

	prices := l.Prices()
	require.Len(t, prices, 11)
	assert.Equal(t, 500.0, l.Interval())
	for i, p := range prices {
		assert.InDelta(t, 40000+500*float64(i), p, 1e-9)
	}
	assert.Equal(t, 45000.0, prices[10])

	levels := l.InitialLevels(42000)
	require.Len(t, levels, 10)

	var buys, sells int
	var total float64
	for _, lv := range levels {
		assert.NotEqual(t, 42000.0, lv.Price)
		switch lv.Side {
		case models.SideBuy:
			buys++
			assert.Less(t, lv.Price, 42000.0)
		case models.SideSell:
			sells++
			assert.Greater(t, lv.Price, 42000.0)
		}
		assert.InDelta(t, 100, lv.Quantity*lv.Price, 1e-9)
		total += lv.Quantity * lv.Price
	}
	assert.Equal(t, 4, buys)
	assert.Equal(t, 6, sells)
	assert.InDelta(t, 1000, total, 1e-6)
}

func TestLadderIndexOf(t *testing.T) {
	l := NewLadder(ladderCfg())

	testCases := []struct {
		desc  string
		price float64
		idx   int
		ok    bool
	}{
		{"lower bound", 40000, 0, true},
		{"upper bound", 45000, 10, true},
		{"rounding noise", 41500.001, 3, true},
		{"between levels", 41700, 0, false},
		{"below grid", 39500, 0, false},
		{"above grid", 45500, 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			idx, ok := l.IndexOf(tc.price)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.idx, idx)
			}
		})
	}
}

func TestLadderDecide(t *testing.T) {
	l := NewLadder(ladderCfg())

	d := l.Decide(Input{Price: 42000})
	require.Len(t, d.Intents, 10)
	assert.Equal(t, 42000.0, d.Reference)
	assert.Equal(t, []int{4}, d.Hold)
	for _, in := range d.Intents {
		assert.Equal(t, models.IntentPlaceLadderOrder, in.Kind)
		assert.Equal(t, "BTCUSDT", in.Symbol)
		assert.Zero(t, in.PositionID)
		assert.True(t, in.Opens())
	}

	var levels []models.GridLevel
	for _, lv := range l.InitialLevels(42000) {
		lv.OrderID = "o"
		levels = append(levels, lv)
	}
	d = l.Decide(Input{Price: 42000, Reference: 41000, Levels: levels, Hold: []int{4}})
	assert.Empty(t, d.Intents)
	assert.Equal(t, 41000.0, d.Reference)
	assert.Nil(t, d.Hold)
}

func TestLadderDecideRefill(t *testing.T) {
	l := NewLadder(ladderCfg())
	// на бирже всё, кроме уровня 6 (43000), выставление которого не прошло
	var levels []models.GridLevel
	for _, lv := range l.InitialLevels(42000) {
		if lv.Index != 6 {
			lv.OrderID = "o"
			levels = append(levels, lv)
		}
	}

	testCases := []struct {
		desc  string
		price float64
		hold  []int
		want  []int
	}{
		{"free level is placed again", 42000, []int{4}, []int{6}},
		{"held level stays empty", 42000, []int{6}, nil},
		{"level nearest to price stays empty", 43100, []int{4}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			d := l.Decide(Input{Price: tc.price, Reference: 42000, Levels: levels, Hold: tc.hold})
			var got []int
			for _, in := range d.Intents {
				got = append(got, in.Level)
				assert.Equal(t, models.SideSell, in.Side)
				assert.True(t, in.Opens())
			}
			assert.Equal(t, tc.want, got)
			assert.Equal(t, 42000.0, d.Reference)
		})
	}
}

func TestLadderDecideClosesOrphans(t *testing.T) {
	l := NewLadder(ladderCfg())
	levels := []models.GridLevel{
		{Index: 0, OrderID: "b0", Side: models.SideBuy},
		{Index: 1, OrderID: "b1", Side: models.SideBuy},
		{Index: 7, OrderID: "s7", Side: models.SideSell, PositionID: 9},
	}
	open := []models.Position{
		{ID: 5, Side: models.PositionLong, Quantity: 0.0025, EntryPrice: 41000},
		{ID: 6, Side: models.PositionShort, Quantity: 0.002, EntryPrice: 43500},
		{ID: 9, Side: models.PositionShort, Quantity: 0.002, EntryPrice: 44000},
		{ID: 10, Side: models.PositionLong, Quantity: 1, EntryPrice: 41234},
	}

	d := l.Decide(Input{Price: 42000, Reference: 42000, Levels: levels, Open: open, Hold: []int{4}})

	closes := map[int64]models.Intent{}
	placed := map[int]bool{}
	for _, in := range d.Intents {
		if in.PositionID != 0 {
			closes[in.PositionID] = in
			continue
		}
		placed[in.Level] = true
	}
	require.Len(t, closes, 2)
	assert.Equal(t, models.SideSell, closes[5].Side)
	assert.Equal(t, 3, closes[5].Level)
	assert.InDelta(t, 0.0025, closes[5].Quantity, 1e-12)
	assert.Equal(t, models.SideBuy, closes[6].Side)
	assert.Equal(t, 6, closes[6].Level)
	assert.Equal(t, models.IntentReplaceLadderOrder, closes[6].Kind)

	assert.Equal(t, map[int]bool{2: true, 5: true, 8: true, 9: true, 10: true}, placed)
}

func TestLadderOnFill(t *testing.T) {
	l := NewLadder(ladderCfg())

	testCases := []struct {
		desc string
		fill Fill
		want []models.Intent
	}{
		{
			desc: "buy fill reseeds sell one interval up, closing the opened position",
			fill: Fill{
				Level:  models.GridLevel{Index: 3, Price: 41500, Side: models.SideBuy, Quantity: 0.002},
				Opened: 7,
			},
			want: []models.Intent{{
				Kind:       models.IntentReplaceLadderOrder,
				Symbol:     "BTCUSDT",
				Side:       models.SideSell,
				Price:      42000,
				Quantity:   0.002,
				PositionID: 7,
				Level:      4,
			}},
		},
		{
			desc: "closing sell fill reseeds opening buy one interval down",
			fill: Fill{Level: models.GridLevel{Index: 5, Price: 42500, Side: models.SideSell, Quantity: 0.002, PositionID: 3}},
			want: []models.Intent{{
				Kind:     models.IntentReplaceLadderOrder,
				Symbol:   "BTCUSDT",
				Side:     models.SideBuy,
				Price:    42000,
				Quantity: 100.0 / 42000,
				Level:    4,
			}},
		},
		{
			desc: "buy at upper bound is not replaced",
			fill: Fill{Level: models.GridLevel{Index: 10, Price: 45000, Side: models.SideBuy}, Opened: 1},
		},
		{
			desc: "sell at lower bound is not replaced",
			fill: Fill{Level: models.GridLevel{Index: 0, Price: 40000, Side: models.SideSell}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := l.OnFill(tc.fill)
			require.Len(t, got, len(tc.want))
			for i := range tc.want {
				assert.Equal(t, tc.want[i].Kind, got[i].Kind)
				assert.Equal(t, tc.want[i].Side, got[i].Side)
				assert.InDelta(t, tc.want[i].Price, got[i].Price, 1e-9)
				assert.InDelta(t, tc.want[i].Quantity, got[i].Quantity, 1e-12)
				assert.Equal(t, tc.want[i].PositionID, got[i].PositionID)
				assert.Equal(t, tc.want[i].Level, got[i].Level)
			}
		})
	}
}

func TestBook(t *testing.T) {
	b := NewBook()
	assert.Nil(t, b.Hold())

	require.Error(t, b.Track(models.GridLevel{Index: 1}))
	require.NoError(t, b.Track(models.GridLevel{Index: 1, OrderID: "a", Reserved: 100}))
	require.NoError(t, b.Track(models.GridLevel{Index: 2, OrderID: "b"}))
	require.NoError(t, b.Track(models.GridLevel{Index: 5, OrderID: "c", Reserved: 50}))
	require.NoError(t, b.Track(models.GridLevel{Index: 7, ClientOrderID: "cid"}))
	assert.Error(t, b.Track(models.GridLevel{Index: 2, OrderID: "d"}))

	assert.True(t, b.Busy(2))
	assert.False(t, b.Busy(3))
	assert.Equal(t, 150.0, b.Reserved())

	missing := b.Missing([]models.OpenOrder{{OrderID: "b"}})
	require.Len(t, missing, 3)
	assert.Equal(t, 1, missing[0].Index)
	assert.Equal(t, 5, missing[1].Index)
	assert.Equal(t, 7, missing[2].Index)
	assert.Equal(t, models.LevelPending, missing[2].Status)
	assert.Len(t, b.Outstanding(), 4, "missing orders stay until resolved")

	lv, ok := b.Remove(1)
	require.True(t, ok)
	assert.Equal(t, "a", lv.OrderID)
	_, ok = b.Remove(1)
	assert.False(t, ok)

	lv, ok = b.Confirm(7, "x7")
	require.True(t, ok)
	assert.Equal(t, models.LevelOpen, lv.Status)
	_, ok = b.Confirm(3, "x3")
	assert.False(t, ok)

	b.SetHold(4)
	assert.Equal(t, []int{4}, b.Hold())

	missing = b.Missing([]models.OpenOrder{{OrderID: "b"}, {OrderID: "c"}, {OrderID: "x7"}})
	assert.Empty(t, missing)
	assert.Equal(t, 50.0, b.Reserved())
}

func TestBookRestore(t *testing.T) {
	b := NewBook()
	n := b.Restore([]models.GridLevel{
		{Index: 1, OrderID: "a", Status: models.LevelOpen},
		{Index: 3, ClientOrderID: "c3", Status: models.LevelPending},
		{Index: 1, OrderID: "dup"},
		{Index: 4},
	})
	assert.Equal(t, 2, n)
	out := b.Outstanding()
	require.Len(t, out, 2)
	assert.Equal(t, models.LevelPending, out[1].Status)
}

func TestBookAdopt(t *testing.T) {
	l := NewLadder(ladderCfg())
	b := NewBook()
	require.NoError(t, b.Track(models.GridLevel{Index: 8, Price: 44000, OrderID: "known"}))

	orders := []models.OpenOrder{
		{OrderID: "s1", Side: models.SideSell, Price: 42500, Quantity: 0.002},
		{OrderID: "b1", Side: models.SideBuy, Price: 41000, Quantity: 0.0025},
		{OrderID: "x", Side: models.SideBuy, Price: 41234, Quantity: 1},
		{OrderID: "dup", Side: models.SideBuy, Price: 41000, Quantity: 1},
		{OrderID: "known", Side: models.SideSell, Price: 44000, Quantity: 1},
	}
	adopted := b.Adopt(l, orders, func(lv models.GridLevel) int64 {
		if lv.Side == models.SideSell {
			return 42
		}
		return 0
	})
	require.Len(t, adopted, 2)
	assert.Equal(t, models.LevelOpen, adopted[0].Status)

	out := b.Outstanding()
	require.Len(t, out, 3)
	assert.Equal(t, 2, out[0].Index)
	assert.Zero(t, out[0].PositionID)
	assert.InDelta(t, 0.0025*41000, out[0].Reserved, 1e-9)
	assert.Equal(t, 5, out[1].Index)
	assert.Equal(t, int64(42), out[1].PositionID)
	assert.Zero(t, out[1].Reserved)
}
