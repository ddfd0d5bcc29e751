package strategy

import (
	"fmt"
	"math"
	"sort"

	"grid_bot/internal/models"
)

// Book ордера лестницы, выставленные на бирже. Не более одного ордера на уровень.
// Принадлежит одному воркеру, синхронизации нет.
type Book struct {
	levels map[int]models.GridLevel
	// hold уровень, оставленный пустым после последнего исполнения; -1 если такого нет.
	hold int
}

func NewBook() *Book {
	return &Book{levels: make(map[int]models.GridLevel), hold: -1}
}

func (b *Book) Busy(index int) bool {
	_, ok := b.levels[index]
	return ok
}

// Track ставит ордер на уровень. Ордер без биржевого id ждёт подтверждения по ClientOrderID.
func (b *Book) Track(level models.GridLevel) error {
	if level.OrderID == "" && level.ClientOrderID == "" {
		return fmt.Errorf("level %d: empty order id", level.Index)
	}
	if cur, ok := b.levels[level.Index]; ok {
		return fmt.Errorf("level %d already has order %s", level.Index, cur.Ref())
	}
	level.Status = models.LevelOpen
	if level.OrderID == "" {
		level.Status = models.LevelPending
	}
	b.levels[level.Index] = level
	return nil
}

// Restore возвращает в книгу сохранённые ордера, число принятых.
func (b *Book) Restore(levels []models.GridLevel) int {
	n := 0
	for _, lv := range levels {
		if err := b.Track(lv); err == nil {
			n++
		}
	}
	return n
}

// Missing ордера книги, которых нет среди открытых на бирже, и ещё не подтверждённые.
// Книгу не меняет: судьбу каждого ордера решает его статус на бирже.
func (b *Book) Missing(open []models.OpenOrder) []models.GridLevel {
	alive := make(map[string]struct{}, len(open))
	for _, o := range open {
		alive[o.OrderID] = struct{}{}
	}

	var missing []models.GridLevel
	for _, lv := range b.levels {
		if lv.OrderID != "" {
			if _, ok := alive[lv.OrderID]; ok {
				continue
			}
		}
		missing = append(missing, lv)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Index < missing[j].Index })
	return missing
}

// Remove снимает ордер с уровня.
func (b *Book) Remove(index int) (models.GridLevel, bool) {
	lv, ok := b.levels[index]
	if ok {
		delete(b.levels, index)
	}
	return lv, ok
}

// Confirm проставляет биржевой id ордеру, ждавшему подтверждения.
func (b *Book) Confirm(index int, orderID string) (models.GridLevel, bool) {
	lv, ok := b.levels[index]
	if !ok || orderID == "" {
		return lv, false
	}
	lv.OrderID = orderID
	lv.Status = models.LevelOpen
	b.levels[index] = lv
	return lv, true
}

// Hold уровни, которые лестница сейчас держит пустыми.
func (b *Book) Hold() []int {
	if b.hold < 0 {
		return nil
	}
	return []int{b.hold}
}

func (b *Book) SetHold(index int) { b.hold = index }

// Outstanding снимок книги по возрастанию уровня.
func (b *Book) Outstanding() []models.GridLevel {
	out := make([]models.GridLevel, 0, len(b.levels))
	for _, lv := range b.levels {
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Adopt подхватывает ордера, уже стоящие на ценах уровней, и возвращает принятые.
// link подбирает открытую позицию, которую закрывает ордер (0 для открывающего).
func (b *Book) Adopt(l *Ladder, orders []models.OpenOrder, link func(models.GridLevel) int64) []models.GridLevel {
	known := make(map[string]struct{}, len(b.levels))
	for _, lv := range b.levels {
		known[lv.OrderID] = struct{}{}
	}

	var adopted []models.GridLevel
	for _, o := range orders {
		if _, ok := known[o.OrderID]; ok {
			continue
		}
		idx, ok := l.IndexOf(o.Price)
		if !ok || b.Busy(idx) {
			continue
		}
		lv := models.GridLevel{
			Index:    idx,
			Price:    l.Price(idx),
			Side:     o.Side,
			Quantity: o.Quantity,
			OrderID:  o.OrderID,
		}
		if link != nil {
			lv.PositionID = link(lv)
		}
		if lv.PositionID == 0 {
			lv.Reserved = lv.Quantity * lv.Price
		}
		if err := b.Track(lv); err == nil {
			adopted = append(adopted, b.levels[idx])
		}
	}
	return adopted
}

// Reserved сумма капитала под открывающие ордера книги.
func (b *Book) Reserved() float64 {
	var sum float64
	for _, lv := range b.levels {
		sum += lv.Reserved
	}
	return math.Max(sum, 0)
}
