package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"grid_bot/internal/ledger"
)

// Engine держит воркеры символов. Сбой одного символа другие не трогает.
type Engine struct {
	ledger *ledger.Ledger
	log    *zap.Logger

	mu      sync.Mutex
	workers map[string]*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(l *ledger.Ledger, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		ledger:  l,
		log:     log,
		workers: make(map[string]*Worker),
	}
}

// Add регистрирует воркер символа. На символ ровно один воркер.
func (e *Engine) Add(w *Worker) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workers[w.Symbol()]; ok {
		return fmt.Errorf("worker for %s already registered", w.Symbol())
	}
	e.workers[w.Symbol()] = w
	return nil
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Worker, 0, len(e.workers))
	for _, w := range e.workers {
		out = append(out, w)
	}
	return out
}

// Start поднимает открытые позиции из журнала и запускает воркеры.
// Недоступное хранилище на старте считается фатальной ошибкой.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.ledger.Recover(ctx); err != nil {
		return errors.Wrap(err, "engine start")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("engine already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	for _, w := range e.workers {
		e.wg.Add(1)
		go func(w *Worker) {
			defer e.wg.Done()
			w.Run(runCtx)
		}(w)
	}
	e.log.Info("engine started", zap.Int("workers", len(e.workers)))
	return nil
}

// Stop отменяет воркеры и ждёт завершения начатых тиков или отмены ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "engine stop")
	}
}
