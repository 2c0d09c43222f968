package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend хранит долговременные записи в Redis.
// Сроком годности управляет сам Redis (EXPIRE), поэтому Purge ничего не делает.
type RedisBackend struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisBackend создаёт долговременный уровень поверх клиента Redis.
// Все ключи получают префикс namespace.
func NewRedisBackend(rdb *redis.Client, namespace string) *RedisBackend {
	if namespace == "" {
		namespace = "shop:cache:"
	}
	return &RedisBackend{rdb: rdb, namespace: namespace}
}

func (b *RedisBackend) key(k string) string {
	return b.namespace + k
}

func (b *RedisBackend) Load(ctx context.Context, key string) (Record, bool, error) {
	value, err := b.rdb.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	rec := Record{Key: key, Value: value}
	ttl, err := b.rdb.PTTL(ctx, b.key(key)).Result()
	if err != nil {
		return Record{}, false, err
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		rec.ExpiresAt = &exp
	}
	return rec, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, rec Record) error {
	var ttl time.Duration
	if rec.ExpiresAt != nil {
		ttl = time.Until(*rec.ExpiresAt)
		if ttl <= 0 {
			return b.Remove(ctx, rec.Key)
		}
	}
	return b.rdb.Set(ctx, b.key(rec.Key), rec.Value, ttl).Err()
}

func (b *RedisBackend) Remove(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, b.key(key)).Err()
}

func (b *RedisBackend) RemovePrefix(ctx context.Context, prefix string) error {
	return b.deleteMatching(ctx, b.namespace+escapeGlob(prefix)+"*")
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	return b.deleteMatching(ctx, escapeGlob(b.namespace)+"*")
}

func (b *RedisBackend) deleteMatching(ctx context.Context, pattern string) error {
	iter := b.rdb.Scan(ctx, 0, pattern, 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := b.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return b.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

func (b *RedisBackend) Purge(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (b *RedisBackend) Count(ctx context.Context, now time.Time) (int64, int64, error) {
	var live int64
	iter := b.rdb.Scan(ctx, 0, escapeGlob(b.namespace)+"*", 500).Iterator()
	for iter.Next(ctx) {
		live++
	}
	return live, 0, iter.Err()
}

// Ping проверяет соединение с Redis.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
