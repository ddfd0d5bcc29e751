package strategy

import "grid_bot/internal/models"

// Input всё, на чём основано решение. Скрытого состояния у стратегий нет.
type Input struct {
	Price     float64
	Reference float64
	Open      []models.Position
	// Levels ордера лестницы, стоящие на бирже.
	Levels []models.GridLevel
	// Hold уровни, которые лестница держит пустыми.
	Hold []int
}

// Decision ответ модели: интенты и новая опорная цена.
type Decision struct {
	Intents   []models.Intent
	Reference float64
	// Hold уровни, которые нужно держать пустыми после этого решения.
	Hold []int
}

// Fill исполнение ордера лестницы.
type Fill struct {
	Level models.GridLevel
	// Opened позиция, открытая этим исполнением; 0 если исполнение позицию закрыло.
	Opened int64
}

// Strategy то, что дергает EngineLoop.
type Strategy interface {
	Name() models.StrategyType
	Decide(in Input) Decision
	OnFill(f Fill) []models.Intent
}
