package history

import (
	"context"
	"encoding/json"
	"fmt"

	"chat_room/internal/domain"

	"github.com/redis/go-redis/v9"
)

// MaxMessages caps the shared log; the oldest entries are trimmed first.
const MaxMessages = 1000

// Store is the append-only bounded log of chat events shared by every
// instance.
type Store interface {
	Append(ctx context.Context, event domain.ChatEvent) error
	AppendSystem(ctx context.Context, text string) error
	Recent(ctx context.Context) ([]domain.ChatEvent, error)
}

type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Append pushes the event onto the tail of the log and trims the log to the
// most recent MaxMessages entries. Concurrent appends from different
// instances are serialized by Redis; this layer imposes no further ordering.
func (s *RedisStore) Append(ctx context.Context, event domain.ChatEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal chat event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, -MaxMessages, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append chat event: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendSystem(ctx context.Context, text string) error {
	return s.Append(ctx, domain.NewSystemEvent(text))
}

// Recent returns the full current log, oldest first.
func (s *RedisStore) Recent(ctx context.Context) ([]domain.ChatEvent, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat history: %w", err)
	}

	events := make([]domain.ChatEvent, 0, len(raw))
	for _, item := range raw {
		var event domain.ChatEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			// A corrupt entry should not hide the rest of the log.
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
