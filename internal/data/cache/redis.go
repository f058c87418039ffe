package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultPrefix namespaces every key written by the scanner
	DefaultPrefix = "nsescan:"

	redisOpTimeout    = 500 * time.Millisecond
	redisClearTimeout = 5 * time.Second
	redisScanCount    = 100
)

// Redis is the external key-value backend
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. An empty prefix selects DefaultPrefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

// Ping checks connectivity
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get fetches key. Transport errors are logged and reported as a miss.
func (r *Redis) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("Redis get failed")
		}
		return nil, false
	}
	return v, true
}

// Set stores key with ttl
func (r *Redis) Set(key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), val, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis set failed")
	}
}

// Delete removes key
func (r *Redis) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis delete failed")
	}
}

// Exists reports whether key is present
func (r *Redis) Exists(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis exists failed")
		return false
	}
	return n > 0
}

// Clear removes every key under the prefix. Keys outside the namespace are left alone.
func (r *Redis) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), redisClearTimeout)
	defer cancel()

	var cursor uint64
	removed := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", redisScanCount).Result()
		if err != nil {
			log.Warn().Err(err).Str("prefix", r.prefix).Msg("Redis scan failed during clear")
			return
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				log.Warn().Err(err).Str("prefix", r.prefix).Msg("Redis delete failed during clear")
				return
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	log.Debug().Int("keys", removed).Str("prefix", r.prefix).Msg("Redis cache cleared")
}

// TTL returns the remaining lifetime of key
func (r *Redis) TTL(key string) (time.Duration, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	d, err := r.client.TTL(ctx, r.key(key)).Result()
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// Incr atomically increments the counter at key
func (r *Redis) Incr(key string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	return r.client.Incr(ctx, r.key(key)).Result()
}

// Close releases the client
func (r *Redis) Close() error {
	return r.client.Close()
}
