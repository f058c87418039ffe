package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/config"
)

// Backend names reported by New
const (
	BackendMemory   = "in_memory"
	BackendExternal = "external_kv"
)

const pingTimeout = 2 * time.Second

// New builds the configured backend. When the external service cannot be
// reached the in-process backend is returned instead and a warning is logged.
func New(cfg config.CacheConfig) (Cache, string) {
	if cfg.Backend != BackendExternal {
		return NewMemory(), BackendMemory
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	r := NewRedis(client, cfg.Redis.Prefix)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr()).
			Msg("External cache unreachable, falling back to in-memory cache")
		_ = client.Close()
		return NewMemory(), BackendMemory
	}

	log.Info().Str("addr", cfg.Redis.Addr()).Str("prefix", r.prefix).Msg("Connected to external cache")
	return r, BackendExternal
}
