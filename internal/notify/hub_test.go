package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitIsolatesFailingSubscribers(t *testing.T) {
	h := NewHub()
	var got []string

	h.Subscribe(BalanceUpdated, func(ctx context.Context, e Event, p any) error {
		return errors.New("канал недоступен")
	})
	h.Subscribe(BalanceUpdated, func(ctx context.Context, e Event, p any) error {
		panic("сломался")
	})
	h.Subscribe(BalanceUpdated, func(ctx context.Context, e Event, p any) error {
		got = append(got, p.(BalanceChange).Account)
		return nil
	})
	h.Subscribe(StockSold, func(ctx context.Context, e Event, p any) error {
		got = append(got, "sold")
		return nil
	})

	assert.NotPanics(t, func() {
		h.Emit(context.Background(), BalanceUpdated, BalanceChange{Account: "ALICE"})
	})
	assert.Equal(t, []string{"ALICE"}, got)

	h.Emit(context.Background(), UserRegistered, Registered{})
	assert.Equal(t, []string{"ALICE"}, got)
}

func TestNop(t *testing.T) {
	var e Emitter = Nop{}
	e.Emit(context.Background(), StockSold, Sale{})
}
