package models

type LevelStatus string

const (
	LevelOpen   LevelStatus = "open"
	LevelFilled LevelStatus = "filled"
	// LevelPending ответ на выставление потерян, биржевой id ещё неизвестен.
	LevelPending LevelStatus = "pending"
)

// GridLevel уровень лестницы и ордер, который на нём стоит.
type GridLevel struct {
	Index    int
	Price    float64
	Side     Side
	Quantity float64
	OrderID  string
	Status   LevelStatus

	// ClientOrderID наш id ордера, по нему ищем ордер с потерянным ответом.
	ClientOrderID string

	// PositionID позиция, которую ордер закрывает при исполнении; при 0 ордер открывает новую.
	PositionID int64
	// Reserved зарезервированный под открытие капитал.
	Reserved float64
}

func (l GridLevel) Ref() OrderRef {
	return OrderRef{OrderID: l.OrderID, ClientOrderID: l.ClientOrderID}
}
