// Package cache - двухуровневый кэш: карта в памяти процесса и долговременный
// уровень (таблица cache в БД или Redis) для записей, которые должны пережить
// перезапуск.
//
// Значения хранятся в JSON. Кэш только ускоряет чтение: источник правды - БД,
// и каждый, кто меняет данные, обязан удалить или обновить свои ключи до того,
// как вернуть успех.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"serotonyl.ru/discord-shop/internal/metrics"
)

// Время жизни записей по умолчанию.
const (
	TTLShort  = 5 * time.Minute
	TTLMedium = time.Hour
	TTLLong   = 24 * time.Hour
	// Forever - запись без срока годности.
	Forever time.Duration = 0
)

// DefaultMaxEntries - сколько записей держим в памяти.
const DefaultMaxEntries = 10_000

// Record - запись долговременного уровня. ExpiresAt == nil - бессрочно.
type Record struct {
	Key       string
	Value     []byte
	ExpiresAt *time.Time
}

// Backend - долговременный уровень кэша.
type Backend interface {
	Load(ctx context.Context, key string) (Record, bool, error)
	Save(ctx context.Context, rec Record) error
	Remove(ctx context.Context, key string) error
	RemovePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
	// Purge удаляет записи, истёкшие к моменту now.
	Purge(ctx context.Context, now time.Time) (int64, error)
	// Count возвращает число живых и истёкших записей.
	Count(ctx context.Context, now time.Time) (live, expired int64, err error)
}

type memEntry struct {
	value      []byte
	expiresAt  time.Time // нулевое время - бессрочно
	durable    bool
	lastAccess time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// flight - идущая загрузка ключа через Fetch.
// Set/Delete во время загрузки помечают её устаревшей, и результат не кладётся в кэш.
type flight struct {
	stale bool
}

// Stats - счётчики для наблюдения, на логику не влияют.
type Stats struct {
	MemoryTotal   int   `json:"memory_total"`
	MemoryLive    int   `json:"memory_live"`
	MemoryExpired int   `json:"memory_expired"`
	StoreTotal    int64 `json:"store_total"`
	StoreLive     int64 `json:"store_live"`
	StoreExpired  int64 `json:"store_expired"`
	MaxEntries    int   `json:"max_entries"`
}

// Cache - двухуровневый кэш. Безопасен для конкурентного использования.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	flights map[string]*flight
	max     int

	backend Backend // может быть nil - тогда только память
	group   singleflight.Group
	now     func() time.Time
}

// Option настраивает кэш.
type Option func(*Cache)

// WithMaxEntries задаёт ёмкость карты в памяти.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New создаёт кэш поверх долговременного уровня backend (может быть nil).
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*memEntry),
		flights: make(map[string]*flight),
		max:     DefaultMaxEntries,
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get ищет ключ и раскодирует значение в dst.
// Сначала смотрит в память, затем в долговременный уровень; найденное там
// возвращается в память. Истёкшие записи никогда не возвращаются.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, ok, err := c.lookup(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// битая запись - выбрасываем и считаем промахом
		log.WithError(err).WithField("key", key).Warn("Не удалось раскодировать запись кэша")
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool, error) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if !e.expired(now) {
			e.lastAccess = now
			data := e.value
			c.mu.Unlock()
			metrics.CacheRequests.WithLabelValues("memory", "hit").Inc()
			return data, true, nil
		}
		delete(c.entries, key)
		metrics.CacheRequests.WithLabelValues("memory", "expired").Inc()
	} else {
		metrics.CacheRequests.WithLabelValues("memory", "miss").Inc()
	}
	c.mu.Unlock()

	if c.backend == nil {
		return nil, false, nil
	}

	rec, ok, err := c.backend.Load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("чтение кэша %q: %w", key, err)
	}
	if !ok {
		metrics.CacheRequests.WithLabelValues("durable", "miss").Inc()
		return nil, false, nil
	}
	if rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt) {
		metrics.CacheRequests.WithLabelValues("durable", "expired").Inc()
		if err := c.backend.Remove(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("Не удалось удалить истёкшую запись кэша")
		}
		return nil, false, nil
	}
	metrics.CacheRequests.WithLabelValues("durable", "hit").Inc()

	e := &memEntry{value: rec.Value, durable: true, lastAccess: now}
	if rec.ExpiresAt != nil {
		e.expiresAt = *rec.ExpiresAt
	}
	c.mu.Lock()
	c.entries[key] = e
	c.enforceLimitLocked()
	c.mu.Unlock()

	return rec.Value, true, nil
}

// Set кладёт значение в память со сроком now+ttl (ttl <= 0 - бессрочно).
// Если durable, запись дублируется в долговременный уровень с тем же сроком.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration, durable bool) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("кодирование значения кэша %q: %w", key, err)
	}

	now := c.now()
	e := &memEntry{value: data, durable: durable, lastAccess: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	c.markStaleLocked(key)
	c.entries[key] = e
	c.enforceLimitLocked()
	c.mu.Unlock()

	if durable && c.backend != nil {
		rec := Record{Key: key, Value: data}
		if ttl > 0 {
			exp := e.expiresAt
			rec.ExpiresAt = &exp
		}
		if err := c.backend.Save(ctx, rec); err != nil {
			return fmt.Errorf("запись кэша %q: %w", key, err)
		}
	}
	return nil
}

// Delete удаляет ключ из обоих уровней.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.markStaleLocked(key)
	delete(c.entries, key)
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Remove(ctx, key); err != nil {
			return fmt.Errorf("удаление кэша %q: %w", key, err)
		}
	}
	return nil
}

// DeleteMany удаляет несколько ключей. Ошибки по отдельным ключам объединяются.
func (c *Cache) DeleteMany(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeletePrefix удаляет все ключи с префиксом prefix из обоих уровней.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	for key, f := range c.flights {
		if strings.HasPrefix(key, prefix) {
			f.stale = true
		}
	}
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.RemovePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("удаление кэша по префиксу %q: %w", prefix, err)
		}
	}
	return nil
}

// Clear очищает оба уровня.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*memEntry)
	for _, f := range c.flights {
		f.stale = true
	}
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Clear(ctx); err != nil {
			return fmt.Errorf("очистка кэша: %w", err)
		}
	}
	return nil
}

// Fetch читает ключ, а при промахе вызывает load и кладёт результат в память
// на ttl. Одновременные промахи по одному ключу выполняют load один раз.
//
// Если ключ успели изменить или удалить, пока шла загрузка, результат
// возвращается вызывающему, но в кэш не попадает.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, dst any, load func(ctx context.Context) (any, error)) error {
	ok, err := c.Get(ctx, key, dst)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("Кэш недоступен, читаем из БД")
	}
	if ok {
		return nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		f := &flight{}
		c.mu.Lock()
		c.flights[key] = f
		c.mu.Unlock()

		defer func() {
			c.mu.Lock()
			if c.flights[key] == f {
				delete(c.flights, key)
			}
			c.mu.Unlock()
		}()

		val, err := load(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("кодирование значения кэша %q: %w", key, err)
		}

		now := c.now()
		c.mu.Lock()
		if !f.stale {
			e := &memEntry{value: data, lastAccess: now}
			if ttl > 0 {
				e.expiresAt = now.Add(ttl)
			}
			c.entries[key] = e
			c.enforceLimitLocked()
		}
		c.mu.Unlock()

		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dst)
}

func (c *Cache) markStaleLocked(key string) {
	if f, ok := c.flights[key]; ok {
		f.stale = true
	}
}

// enforceLimitLocked вытесняет старейшие 10% записей, если карта переполнена.
// Старейшие - с самым ранним сроком годности; бессрочные идут последними,
// при равенстве раньше вытесняется запись, к которой дольше не обращались.
func (c *Cache) enforceLimitLocked() {
	if len(c.entries) <= c.max {
		return
	}

	type candidate struct {
		key string
		e   *memEntry
	}
	all := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, candidate{k, e})
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].e, all[j].e
		if a.expiresAt.IsZero() != b.expiresAt.IsZero() {
			return b.expiresAt.IsZero()
		}
		if !a.expiresAt.Equal(b.expiresAt) {
			return a.expiresAt.Before(b.expiresAt)
		}
		return a.lastAccess.Before(b.lastAccess)
	})

	n := max(len(all)/10, len(all)-c.max)
	for _, cand := range all[:n] {
		delete(c.entries, cand.key)
	}
	metrics.CacheEvictions.Add(float64(n))
	log.WithFields(log.Fields{
		"evicted": n,
		"left":    len(c.entries),
	}).Debug("Кэш переполнен, старые записи вытеснены")
}

// Cleanup удаляет истёкшие записи из обоих уровней.
func (c *Cache) Cleanup(ctx context.Context) error {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	var purged int64
	if c.backend != nil {
		var err error
		purged, err = c.backend.Purge(ctx, now)
		if err != nil {
			return fmt.Errorf("очистка долговременного кэша: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"memory":  removed,
		"durable": purged,
	}).Debug("Очистка кэша завершена")
	return nil
}

// Stats возвращает количество живых и истёкших записей на каждом уровне.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	now := c.now()
	s := Stats{MaxEntries: c.max}

	c.mu.Lock()
	s.MemoryTotal = len(c.entries)
	for _, e := range c.entries {
		if e.expired(now) {
			s.MemoryExpired++
		}
	}
	c.mu.Unlock()
	s.MemoryLive = s.MemoryTotal - s.MemoryExpired

	if c.backend != nil {
		live, expired, err := c.backend.Count(ctx, now)
		if err != nil {
			return s, fmt.Errorf("статистика кэша: %w", err)
		}
		s.StoreLive, s.StoreExpired = live, expired
		s.StoreTotal = live + expired
	}
	return s, nil
}
