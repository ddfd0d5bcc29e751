package ledger

import (
	"context"
	"sort"
	"sync"

	"grid_bot/internal/models"
)

// MemoryStore Store в памяти: для store=memory, бэктеста и тестов.
type MemoryStore struct {
	mu        sync.Mutex
	nextPos   int64
	nextTrade int64
	positions map[int64]models.Position
	trades    []models.Trade
	grid      map[string]map[int]models.GridLevel
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[int64]models.Position),
		grid:      make(map[string]map[int]models.GridLevel),
	}
}

func (s *MemoryStore) InsertOpen(_ context.Context, pos models.Position, trade models.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPos++
	pos.ID = s.nextPos
	pos.Status = models.PositionOpen
	s.positions[pos.ID] = pos

	s.nextTrade++
	trade.ID = s.nextTrade
	trade.PositionID = pos.ID
	s.trades = append(s.trades, trade)
	s.consumeLocked(trade)
	return pos.ID, nil
}

func (s *MemoryStore) InsertClose(_ context.Context, positionID int64, trade models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[positionID]
	if !ok || pos.Status != models.PositionOpen {
		return models.ErrUnknownPosition
	}
	pos.Status = models.PositionClosed
	s.positions[positionID] = pos

	s.nextTrade++
	trade.ID = s.nextTrade
	trade.PositionID = positionID
	s.trades = append(s.trades, trade)
	s.consumeLocked(trade)
	return nil
}

func (s *MemoryStore) consumeLocked(t models.Trade) {
	if t.OrderID == "" {
		return
	}
	for idx, lv := range s.grid[t.Symbol] {
		if lv.OrderID == t.OrderID {
			delete(s.grid[t.Symbol], idx)
		}
	}
}

func (s *MemoryStore) SaveGridOrder(_ context.Context, symbol string, lv models.GridLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grid[symbol] == nil {
		s.grid[symbol] = make(map[int]models.GridLevel)
	}
	s.grid[symbol][lv.Index] = lv
	return nil
}

func (s *MemoryStore) DeleteGridOrder(_ context.Context, symbol string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grid[symbol], index)
	return nil
}

func (s *MemoryStore) GridOrders(_ context.Context, symbol string) ([]models.GridLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.GridLevel, 0, len(s.grid[symbol]))
	for _, lv := range s.grid[symbol] {
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) OpenPositions(_ context.Context, symbol string) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Position, 0)
	for _, p := range s.positions {
		if p.Status != models.PositionOpen {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Trades(_ context.Context, f TradeFilter) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Trade, 0)
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		if f.Symbol != "" && t.Symbol != f.Symbol {
			continue
		}
		if f.PositionID != 0 && t.PositionID != f.PositionID {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Position позиция по id в любом статусе.
func (s *MemoryStore) Position(id int64) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	return p, ok
}
