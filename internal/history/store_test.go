package history

import (
	"context"
	"strconv"
	"testing"

	"chat_room/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "chat:messages")
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appended := []domain.ChatEvent{
		domain.NewChatEvent("conn-1", "alice", "first"),
		domain.NewChatEvent("conn-2", "bob", "second"),
		domain.NewChatEvent("conn-1", "alice", "third"),
	}
	for _, event := range appended {
		if err := store.Append(ctx, event); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	events, err := store.Recent(ctx)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(events) != len(appended) {
		t.Fatalf("Recent() returned %d events, want %d", len(events), len(appended))
	}
	for i, want := range appended {
		if events[i] != want {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want)
		}
	}
}

func TestAppendTrimsOldestBeyondCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	overflow := 25
	total := MaxMessages + overflow
	for i := 0; i < total; i++ {
		event := domain.NewChatEvent("conn-1", "bob", strconv.Itoa(i))
		if err := store.Append(ctx, event); err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
	}

	events, err := store.Recent(ctx)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(events) != MaxMessages {
		t.Fatalf("log holds %d events, want exactly %d", len(events), MaxMessages)
	}

	// The oldest entries go first: the surviving log starts right after
	// the overflow and ends at the newest append, still in append order.
	if events[0].Body != strconv.Itoa(overflow) {
		t.Errorf("oldest surviving event = %q, want %q", events[0].Body, strconv.Itoa(overflow))
	}
	if events[len(events)-1].Body != strconv.Itoa(total-1) {
		t.Errorf("newest event = %q, want %q", events[len(events)-1].Body, strconv.Itoa(total-1))
	}
	for i, event := range events {
		if event.Body != strconv.Itoa(overflow+i) {
			t.Fatalf("event %d = %q, append order broken", i, event.Body)
		}
	}
}

func TestAppendSystem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AppendSystem(ctx, "bob joined the chat"); err != nil {
		t.Fatalf("AppendSystem() error: %v", err)
	}

	events, err := store.Recent(ctx)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Recent() returned %d events, want 1", len(events))
	}
	event := events[0]
	if !event.IsSystem || event.SenderID != domain.SystemSenderID || event.Username != domain.SystemUsername {
		t.Errorf("system event = %+v", event)
	}
	if event.Body != "bob joined the chat" {
		t.Errorf("Body = %q", event.Body)
	}
}
