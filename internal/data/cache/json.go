package cache

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// GetJSON decodes the cached value at key into dst. A value that fails to
// decode is deleted and reported as absent.
func GetJSON(c Cache, key string, dst interface{}) bool {
	raw, ok := c.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		c.Delete(key)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key
func SetJSON(c Cache, key string, v interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Skipping unencodable cache value")
		return
	}
	c.Set(key, raw, ttl)
}
