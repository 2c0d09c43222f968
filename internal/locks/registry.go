// Package locks - реестр именованных блокировок.
//
// Каждая изменяющая операция (регистрация, изменение баланса, покупка,
// пополнение склада) берёт блокировку по строковому ключу, например
// "balance_update_<growid>" или "purchase_<buyer>_<code>". Операции с одним
// ключом выполняются строго по очереди, с разными - параллельно.
package locks

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/metrics"
)

// DefaultTimeout - сколько ждём блокировку по умолчанию.
const DefaultTimeout = 3 * time.Second

// entry - одна блокировка. Канал ёмкостью 1: занятый слот = блокировка взята.
type entry struct {
	sem      chan struct{}
	refs     int // сколько горутин держат или ждут блокировку
	lastUsed time.Time
}

// Registry хранит блокировки по ключам. Блокировка создаётся при первом
// обращении и живёт, пока её не удалит Prune.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
	now     func() time.Time
}

// NewRegistry создаёт реестр. timeout <= 0 - DefaultTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		entries: make(map[string]*entry),
		timeout: timeout,
		now:     time.Now,
	}
}

// Timeout возвращает таймаут по умолчанию.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

func (r *Registry) ref(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.entries[key] = e
	}
	e.refs++
	e.lastUsed = r.now()
	return e
}

func (r *Registry) unref(e *entry) {
	r.mu.Lock()
	e.refs--
	e.lastUsed = r.now()
	r.mu.Unlock()
}

// Acquire пытается взять блокировку key, ожидая не дольше timeout
// (timeout <= 0 - таймаут реестра). Возвращает функцию освобождения и true.
// При таймауте или отмене ctx возвращает nil, false: операцию начинать нельзя.
//
// Функцию освобождения нужно вызвать ровно один раз, обычно через defer.
func (r *Registry) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), bool) {
	if timeout <= 0 {
		timeout = r.timeout
	}

	e := r.ref(key)
	start := time.Now()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		metrics.LockWait.Observe(time.Since(start).Seconds())
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				r.unref(e)
			})
		}, true

	case <-timer.C:
		r.unref(e)
		metrics.LockTimeouts.Inc()
		log.WithFields(log.Fields{
			"key":     key,
			"timeout": timeout,
		}).Warn("Не удалось получить блокировку")
		return nil, false

	case <-ctx.Done():
		r.unref(e)
		return nil, false
	}
}

// Release освобождает блокировку key, взятую через Acquire.
// Для кода, которому неудобно хранить функцию освобождения.
// Освобождение незанятой блокировки ничего не делает.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-e.sem:
		r.unref(e)
	default:
	}
}

// Prune удаляет свободные блокировки, которые не использовались дольше idle.
// Возвращает количество удалённых ключей.
func (r *Registry) Prune(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	removed := 0
	for key, e := range r.entries {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Len возвращает количество известных ключей.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
