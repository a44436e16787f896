// Package idempotency caches form-submission responses by client key so a
// retried submission replays the first answer instead of repeating side
// effects.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"vkanalytics/internal/config"
)

// DefaultTTL is how long a response stays replayable.
const DefaultTTL = 24 * time.Hour

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 128

// Store is a get/put-with-ttl cache of serialized responses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NormalizeKey trims a client key and rejects empty or oversized ones.
func NormalizeKey(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxKeyLength {
		return "", false
	}
	return key, true
}

// Closer is implemented by stores holding files open.
type Closer interface {
	Close() error
}

// NewFromConfig builds the store selected by idempotency_backend.
func NewFromConfig(cfg *config.Config, db *gorm.DB, logger *slog.Logger) (Store, error) {
	switch cfg.IdempotencyBackend {
	case config.IdempotencySQL:
		if db == nil {
			return nil, fmt.Errorf("idempotency backend %q needs a database", cfg.IdempotencyBackend)
		}
		return NewSQLStore(db), nil
	case config.IdempotencyBadger:
		return OpenBadgerStore(cfg.BadgerPath, logger)
	default:
		return NewMemoryStore(), nil
	}
}

// TTL returns the configured lifetime, falling back to DefaultTTL.
func TTL(cfg *config.Config) time.Duration {
	if cfg.IdempotencyTTLHours <= 0 {
		return DefaultTTL
	}
	return time.Duration(cfg.IdempotencyTTLHours) * time.Hour
}
