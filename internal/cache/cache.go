package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache provides answer caching keyed by normalized question and model.
type Cache interface {
	// GetAnswer retrieves a cached answer by key.
	// Returns nil if not found.
	GetAnswer(ctx context.Context, key string) (*CachedAnswer, error)

	// SetAnswer stores an answer with TTL.
	SetAnswer(ctx context.Context, key string, ans *CachedAnswer, ttl time.Duration) error

	// Close closes the cache connection.
	Close() error
}

// CachedAnswer is the serialized cache entry. Latency is not cached; a
// cache hit reports its own serve time.
type CachedAnswer struct {
	Text     string `json:"text"`
	Backend  string `json:"backend"`
	Degraded bool   `json:"degraded"`
}

// Key derives a stable cache key from the question and the model that
// would answer it. Different models must never share answers.
func Key(question, model string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + question))
	return hex.EncodeToString(sum[:])
}
