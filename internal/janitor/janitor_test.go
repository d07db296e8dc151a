package janitor

import (
	"context"
	"testing"
	"time"

	"chat_room/internal/domain"
	"chat_room/internal/session"
)

type memDirectory struct {
	records map[string]domain.SessionRecord
}

func (d *memDirectory) Create(_ context.Context, username, connID, remoteAddr string) (string, error) {
	panic("not used")
}

func (d *memDirectory) Validate(_ context.Context, token string) (*domain.SessionRecord, error) {
	panic("not used")
}

func (d *memDirectory) Update(_ context.Context, record *domain.SessionRecord) error {
	panic("not used")
}

func (d *memDirectory) Touch(_ context.Context, token string) error {
	panic("not used")
}

func (d *memDirectory) Remove(_ context.Context, token string) error {
	delete(d.records, token)
	return nil
}

func (d *memDirectory) List(_ context.Context) ([]domain.SessionRecord, error) {
	records := make([]domain.SessionRecord, 0, len(d.records))
	for _, record := range d.records {
		records = append(records, record)
	}
	return records, nil
}

func (d *memDirectory) ListByUsername(_ context.Context, username string) ([]domain.SessionRecord, error) {
	var records []domain.SessionRecord
	for _, record := range d.records {
		if record.Username == username {
			records = append(records, record)
		}
	}
	return records, nil
}

type memRegistry struct {
	members map[string]bool
}

func (r *memRegistry) IsAvailable(_ context.Context, username string) (bool, error) {
	return !r.members[username], nil
}

func (r *memRegistry) Claim(_ context.Context, username string) error {
	r.members[username] = true
	return nil
}

func (r *memRegistry) Release(_ context.Context, username string) error {
	delete(r.members, username)
	return nil
}

func (r *memRegistry) ListActive(_ context.Context) ([]string, error) {
	var active []string
	for username := range r.members {
		active = append(active, username)
	}
	return active, nil
}

func record(token, username string, idle time.Duration, now time.Time) domain.SessionRecord {
	at := now.Add(-idle).UnixMilli()
	return domain.SessionRecord{
		Token:        token,
		Username:     username,
		ConnID:       "conn-" + token,
		CreatedAt:    at,
		LastActiveAt: at,
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	now := time.Now()
	directory := &memDirectory{records: map[string]domain.SessionRecord{
		"t1": record("t1", "alice", session.InactivityLimit+time.Minute, now),
		"t2": record("t2", "bob", time.Minute, now),
	}}
	registry := &memRegistry{members: map[string]bool{"alice": true, "bob": true}}

	j := New(directory, registry)
	j.now = func() time.Time { return now }
	j.Sweep(context.Background())

	if _, exists := directory.records["t1"]; exists {
		t.Error("alice's idle session should have been removed")
	}
	if registry.members["alice"] {
		t.Error("alice should have been released")
	}
	if _, exists := directory.records["t2"]; !exists {
		t.Error("bob's active session must survive")
	}
	if !registry.members["bob"] {
		t.Error("bob must stay claimed")
	}
}

func TestSweepKeepsUsernameWithLiveSession(t *testing.T) {
	now := time.Now()
	directory := &memDirectory{records: map[string]domain.SessionRecord{
		"t1": record("t1", "alice", session.InactivityLimit+time.Minute, now),
		"t2": record("t2", "alice", time.Minute, now),
	}}
	registry := &memRegistry{members: map[string]bool{"alice": true}}

	j := New(directory, registry)
	j.now = func() time.Time { return now }
	j.Sweep(context.Background())

	if _, exists := directory.records["t1"]; exists {
		t.Error("the idle record should have been removed")
	}
	if !registry.members["alice"] {
		t.Error("alice still has a live tab and must stay claimed")
	}
}

func TestSweepEmptyDirectory(t *testing.T) {
	directory := &memDirectory{records: map[string]domain.SessionRecord{}}
	registry := &memRegistry{members: map[string]bool{}}

	New(directory, registry).Sweep(context.Background())

	if len(registry.members) != 0 {
		t.Error("sweep of an empty directory must not touch the registry")
	}
}
