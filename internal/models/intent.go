package models

import "fmt"

type IntentKind string

const (
	IntentOpenLong           IntentKind = "OpenLong"
	IntentOpenShort          IntentKind = "OpenShort"
	IntentCloseLong          IntentKind = "CloseLong"
	IntentCloseShort         IntentKind = "CloseShort"
	IntentPlaceLadderOrder   IntentKind = "PlaceLadderOrder"
	IntentReplaceLadderOrder IntentKind = "ReplaceLadderOrder"
)

// Ladder true для лимитных ордеров лестницы.
func (k IntentKind) Ladder() bool {
	return k == IntentPlaceLadderOrder || k == IntentReplaceLadderOrder
}

// Intent решение модели до того, как оно стало ордером.
type Intent struct {
	Kind     IntentKind
	Symbol   string
	Side     Side    // сторона ордера
	Price    float64 // цена сигнала или лимитная цена
	Quantity float64

	// PositionID закрываемая позиция (Close*, а также Replace, закрывающий позицию).
	PositionID int64
	// Level индекс уровня лестницы.
	Level int
}

// Opens true, если исполнение интента откроет позицию.
func (i Intent) Opens() bool {
	switch i.Kind {
	case IntentOpenLong, IntentOpenShort:
		return true
	case IntentPlaceLadderOrder, IntentReplaceLadderOrder:
		return i.PositionID == 0
	}
	return false
}

func (i Intent) String() string {
	switch i.Kind {
	case IntentCloseLong, IntentCloseShort:
		return fmt.Sprintf("%s(%d)", i.Kind, i.PositionID)
	case IntentPlaceLadderOrder, IntentReplaceLadderOrder:
		return fmt.Sprintf("%s(%s, %.8g)", i.Kind, i.Side, i.Price)
	}
	return string(i.Kind)
}
