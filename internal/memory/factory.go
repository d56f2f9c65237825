package memory

import (
	"context"
	"strings"
)

// NewStore picks the persistence backend: postgres when a database URL is
// configured, redis when only a redis address is, in-memory otherwise.
func NewStore(ctx context.Context, databaseURL, redisAddr string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(redisAddr) != "" {
		return NewRedisStore(ctx, redisAddr)
	}
	return NewInMemoryStore(), nil
}
