package ledger

import (
	"context"

	"grid_bot/internal/models"
)

// TradeFilter выборка из журнала сделок. Пустые поля не фильтруют.
type TradeFilter struct {
	Symbol     string
	PositionID int64
	Limit      int // 0 без ограничения
}

// Store долговременное хранилище positions/trades и стоящих ордеров лестницы.
// Граница транзакции: один вызов InsertOpen/InsertClose.
// Сделка снимает из grid_orders ордер с тем же order_id в той же транзакции,
// поэтому записанное исполнение после рестарта не проводится второй раз.
type Store interface {
	// InsertOpen пишет позицию и её open-сделку, возвращает id позиции.
	InsertOpen(ctx context.Context, pos models.Position, trade models.Trade) (int64, error)
	// InsertClose помечает позицию closed и пишет close-сделку.
	// Если позиции нет или она уже закрыта, вернуть models.ErrUnknownPosition.
	InsertClose(ctx context.Context, positionID int64, trade models.Trade) error
	// OpenPositions открытые позиции символа; "" значит все символы.
	OpenPositions(ctx context.Context, symbol string) ([]models.Position, error)
	// Trades сделки, новые первыми.
	Trades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// SaveGridOrder ставит ордер на уровень lv.Index, заменяя прежний.
	SaveGridOrder(ctx context.Context, symbol string, lv models.GridLevel) error
	// DeleteGridOrder освобождает уровень.
	DeleteGridOrder(ctx context.Context, symbol string, index int) error
	// GridOrders ордера лестницы символа по возрастанию уровня.
	GridOrders(ctx context.Context, symbol string) ([]models.GridLevel, error)
}
