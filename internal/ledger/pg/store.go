package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"grid_bot/internal/ledger"
	"grid_bot/internal/models"
	"grid_bot/pkg/db"
)

// Store журнал позиций и сделок в Postgres.
type Store struct {
	db db.TxManager
}

var _ ledger.Store = (*Store)(nil)

// NewStore instance
func NewStore(tx db.TxManager) *Store {
	return &Store{db: tx}
}

// EnsureSchema создаёт таблицы, если их нет.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Conn().Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg.EnsureSchema: %w", err)
	}
	return nil
}

// InsertOpen in db
func (s *Store) InsertOpen(ctx context.Context, pos models.Position, trade models.Trade) (id int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.InsertOpen: %w", err)
		}
	}()
	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctxTx, insertPosition,
			pos.Symbol, string(pos.Side), pos.Quantity, pos.EntryPrice, pos.EntryTime, pos.OrderID,
		).Scan(&id); err != nil {
			return err
		}
		trade.PositionID = id
		return execTrade(ctxTx, tx, trade)
	})
	return id, err
}

// InsertClose in db
func (s *Store) InsertClose(ctx context.Context, positionID int64, trade models.Trade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.InsertClose: %w", err)
		}
	}()
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctxTx, closePosition, positionID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return models.ErrUnknownPosition
		}
		trade.PositionID = positionID
		return execTrade(ctxTx, tx, trade)
	})
}

// OpenPositions from db
func (s *Store) OpenPositions(ctx context.Context, symbol string) (out []models.Position, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.OpenPositions: %w", err)
		}
	}()
	rows, err := s.db.Conn().Query(ctx, selectOpenPositions, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make([]models.Position, 0)
	for rows.Next() {
		var (
			p            models.Position
			side, status string
		)
		if err := rows.Scan(&p.ID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &p.EntryTime, &p.OrderID, &status); err != nil {
			return nil, err
		}
		p.Side = models.PositionSide(side)
		p.Status = models.PositionStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Trades from db
func (s *Store) Trades(ctx context.Context, f ledger.TradeFilter) (out []models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Trades: %w", err)
		}
	}()
	rows, err := s.db.Conn().Query(ctx, selectTrades, f.Symbol, f.PositionID, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make([]models.Trade, 0)
	for rows.Next() {
		var (
			t          models.Trade
			kind, side string
		)
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &kind, &side, &t.Quantity, &t.Price,
			&t.Fee, &t.FeeCurrency, &t.OrderID, &t.Time, &t.Profit); err != nil {
			return nil, err
		}
		t.Kind = models.TradeKind(kind)
		t.Side = models.PositionSide(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveGridOrder in db
func (s *Store) SaveGridOrder(ctx context.Context, symbol string, lv models.GridLevel) error {
	if _, err := s.db.Conn().Exec(ctx, upsertGridOrder,
		symbol, lv.Index, lv.Price, string(lv.Side), lv.Quantity, lv.OrderID, lv.ClientOrderID,
		string(lv.Status), lv.PositionID, lv.Reserved,
	); err != nil {
		return fmt.Errorf("pg.SaveGridOrder: %w", err)
	}
	return nil
}

// DeleteGridOrder from db
func (s *Store) DeleteGridOrder(ctx context.Context, symbol string, index int) error {
	if _, err := s.db.Conn().Exec(ctx, deleteGridOrder, symbol, index); err != nil {
		return fmt.Errorf("pg.DeleteGridOrder: %w", err)
	}
	return nil
}

// GridOrders from db
func (s *Store) GridOrders(ctx context.Context, symbol string) (out []models.GridLevel, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.GridOrders: %w", err)
		}
	}()
	rows, err := s.db.Conn().Query(ctx, selectGridOrders, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make([]models.GridLevel, 0)
	for rows.Next() {
		var (
			lv           models.GridLevel
			side, status string
		)
		if err := rows.Scan(&lv.Index, &lv.Price, &side, &lv.Quantity, &lv.OrderID, &lv.ClientOrderID,
			&status, &lv.PositionID, &lv.Reserved); err != nil {
			return nil, err
		}
		lv.Side = models.Side(side)
		lv.Status = models.LevelStatus(status)
		out = append(out, lv)
	}
	return out, rows.Err()
}

// execTrade пишет сделку и снимает исполнившийся ордер лестницы.
func execTrade(ctx context.Context, tx pgx.Tx, t models.Trade) error {
	if _, err := tx.Exec(ctx, insertTrade,
		t.PositionID, t.Symbol, string(t.Kind), string(t.Side), t.Quantity, t.Price,
		t.Fee, t.FeeCurrency, t.OrderID, t.Time, t.Profit,
	); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, consumeGridOrder, t.Symbol, t.OrderID)
	return err
}
