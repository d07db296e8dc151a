package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"chat_room/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	// InactivityLimit is the maximum idle duration before a session is
	// eligible for expiry.
	InactivityLimit = time.Hour

	// DirectoryTTL is the expiry on the whole token hash, refreshed on
	// every write. It only matters when every session has gone idle and
	// the janitor is not running.
	DirectoryTTL = 24 * time.Hour
)

// Directory is the shared token -> SessionRecord table. A deleted token
// never revalidates.
type Directory interface {
	Create(ctx context.Context, username, connID, remoteAddr string) (string, error)
	Validate(ctx context.Context, token string) (*domain.SessionRecord, error)
	Update(ctx context.Context, record *domain.SessionRecord) error
	Touch(ctx context.Context, token string) error
	Remove(ctx context.Context, token string) error
	List(ctx context.Context) ([]domain.SessionRecord, error)
	ListByUsername(ctx context.Context, username string) ([]domain.SessionRecord, error)
}

type RedisDirectory struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisDirectory(client *redis.Client, key string) *RedisDirectory {
	return &RedisDirectory{client: client, key: key, now: time.Now}
}

// newToken returns 256 bits of randomness, hex encoded. The space is large
// enough that collisions are not handled.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Expired reports whether a record has been idle past the inactivity limit.
func Expired(record *domain.SessionRecord, now time.Time) bool {
	idle := now.UnixMilli() - record.LastActiveAt
	return idle > InactivityLimit.Milliseconds()
}

func (d *RedisDirectory) Create(ctx context.Context, username, connID, remoteAddr string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	now := d.now().UnixMilli()
	record := &domain.SessionRecord{
		Token:        token,
		Username:     username,
		ConnID:       connID,
		RemoteAddr:   remoteAddr,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := d.write(ctx, record); err != nil {
		return "", err
	}
	return token, nil
}

// Validate fetches the record for token. Expired records are deleted on the
// spot (lazy expiry); live records get their LastActiveAt refreshed. The
// caller cannot distinguish "expired" from "never existed".
func (d *RedisDirectory) Validate(ctx context.Context, token string) (*domain.SessionRecord, error) {
	raw, err := d.client.HGet(ctx, d.key, token).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}

	var record domain.SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}

	if Expired(&record, d.now()) {
		if err := d.Remove(ctx, token); err != nil {
			return nil, err
		}
		return nil, nil
	}

	record.LastActiveAt = d.now().UnixMilli()
	if err := d.write(ctx, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Update rewrites the record and refreshes its LastActiveAt. Used when a
// restored session rebinds to a new connection.
func (d *RedisDirectory) Update(ctx context.Context, record *domain.SessionRecord) error {
	record.LastActiveAt = d.now().UnixMilli()
	return d.write(ctx, record)
}

// Touch refreshes LastActiveAt without returning the record. A missing token
// is a no-op: the caller already knows its identity from local runtime state
// and the janitor may have raced it.
func (d *RedisDirectory) Touch(ctx context.Context, token string) error {
	raw, err := d.client.HGet(ctx, d.key, token).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch session: %w", err)
	}

	var record domain.SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("failed to decode session record: %w", err)
	}

	record.LastActiveAt = d.now().UnixMilli()
	return d.write(ctx, &record)
}

func (d *RedisDirectory) Remove(ctx context.Context, token string) error {
	if err := d.client.HDel(ctx, d.key, token).Err(); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

func (d *RedisDirectory) List(ctx context.Context) ([]domain.SessionRecord, error) {
	fields, err := d.client.HGetAll(ctx, d.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	records := make([]domain.SessionRecord, 0, len(fields))
	for _, raw := range fields {
		var record domain.SessionRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (d *RedisDirectory) ListByUsername(ctx context.Context, username string) ([]domain.SessionRecord, error) {
	all, err := d.List(ctx)
	if err != nil {
		return nil, err
	}

	var records []domain.SessionRecord
	for _, record := range all {
		if record.Username == username {
			records = append(records, record)
		}
	}
	return records, nil
}

func (d *RedisDirectory) write(ctx context.Context, record *domain.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, d.key, record.Token, data)
	pipe.Expire(ctx, d.key, DirectoryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}
