package janitor

import (
	"context"
	"log"
	"time"

	"chat_room/internal/presence"
	"chat_room/internal/session"
)

// DefaultInterval is how often the sweep runs.
const DefaultInterval = 5 * time.Minute

// Janitor periodically evicts sessions that have been idle past the
// inactivity limit and releases usernames with no surviving session. Any
// instance may run the sweep; the operations are idempotent so overlapping
// sweeps from several instances are harmless.
type Janitor struct {
	directory session.Directory
	registry  presence.Registry
	now       func() time.Time
}

func New(directory session.Directory, registry presence.Registry) *Janitor {
	return &Janitor{
		directory: directory,
		registry:  registry,
		now:       time.Now,
	}
}

func (j *Janitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Janitor started (interval: %s)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Janitor stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep deletes every expired record, then releases each affected username
// that no longer has a session. Expiry-driven cleanup does not broadcast a
// departure; the user list refreshes on the next join or leave.
func (j *Janitor) Sweep(ctx context.Context) {
	records, err := j.directory.List(ctx)
	if err != nil {
		log.Printf("Janitor failed to scan sessions: %v", err)
		return
	}

	expired := make(map[string]bool)
	for i := range records {
		record := &records[i]
		if !session.Expired(record, j.now()) {
			continue
		}
		if err := j.directory.Remove(ctx, record.Token); err != nil {
			log.Printf("Janitor failed to remove session for %q: %v", record.Username, err)
			continue
		}
		expired[record.Username] = true
	}

	for username := range expired {
		remaining, err := j.directory.ListByUsername(ctx, username)
		if err != nil {
			log.Printf("Janitor failed to list sessions for %q: %v", username, err)
			continue
		}
		if len(remaining) > 0 {
			continue
		}
		if err := j.registry.Release(ctx, username); err != nil {
			log.Printf("Janitor failed to release username %q: %v", username, err)
			continue
		}
		log.Printf("Janitor evicted idle user %q", username)
	}
}
