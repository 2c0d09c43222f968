// Package notify - хуки уведомлений. Сервисы сообщают о событиях
// (регистрация, изменение баланса, продажа товара), а подписчики
// (например, бот, который пишет в лог-канал Discord) реагируют на них.
//
// Подписчики вызываются синхронно, уже после фиксации изменения.
// Ошибка или паника подписчика логируется и не влияет ни на других
// подписчиков, ни на исходную операцию.
package notify

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Event - тип события.
type Event string

const (
	UserRegistered   Event = "user_registered"
	BalanceUpdated   Event = "balance_updated"
	LargeTransaction Event = "large_transaction"
	ProductCreated   Event = "product_created"
	StockAdded       Event = "stock_added"
	StockSold        Event = "stock_sold"
	WorldUpdated     Event = "world_updated"
	OperationFailed  Event = "error"
)

// Handler - подписчик. payload - одна из структур событий ниже.
type Handler func(ctx context.Context, event Event, payload any) error

// Emitter - то, что нужно сервисам от хаба.
type Emitter interface {
	Emit(ctx context.Context, event Event, payload any)
}

// Hub хранит подписчиков по событиям.
type Hub struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
}

// NewHub создаёт пустой хаб.
func NewHub() *Hub {
	return &Hub{handlers: make(map[Event][]Handler)}
}

// Subscribe добавляет подписчика на событие.
func (h *Hub) Subscribe(event Event, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], fn)
}

// Emit вызывает всех подписчиков события по очереди.
func (h *Hub) Emit(ctx context.Context, event Event, payload any) {
	h.mu.RLock()
	handlers := append([]Handler(nil), h.handlers[event]...)
	h.mu.RUnlock()

	for i, fn := range handlers {
		if err := safeCall(ctx, fn, event, payload); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"event":      event,
				"subscriber": i,
			}).Error("Ошибка подписчика уведомлений")
		}
	}
}

func safeCall(ctx context.Context, fn Handler, event Event, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника: %v", r)
		}
	}()
	return fn(ctx, event, payload)
}

// Nop - эмиттер, который ничего не делает.
type Nop struct{}

func (Nop) Emit(context.Context, Event, any) {}
