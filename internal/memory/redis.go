package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisHistoryTTL = 7 * 24 * time.Hour

// RedisStore keeps each conversation's messages in an append-only Redis list,
// expiring a week after the last write.
type RedisStore struct {
	rdb *redis.Client
	ns  string
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{rdb: rdb, ns: "scribe"}, nil
}

func (s *RedisStore) key(conversationID string) string {
	return fmt.Sprintf("%s:messages:%s", s.ns, conversationID)
}

func (s *RedisStore) SaveMessage(ctx context.Context, record MessageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := s.key(record.ConversationID)
	if err := s.rdb.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	s.rdb.Expire(ctx, key, redisHistoryTTL)
	return nil
}

func (s *RedisStore) History(ctx context.Context, conversationID string, limit int) ([]MessageRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.rdb.LRange(ctx, s.key(conversationID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	items := make([]MessageRecord, 0, len(raw))
	for _, entry := range raw {
		var r MessageRecord
		if err := json.Unmarshal([]byte(entry), &r); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		items = append(items, r)
	}
	return items, nil
}

func (s *RedisStore) Mode() string { return "redis" }

func (s *RedisStore) Close() error { return s.rdb.Close() }
