package room

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/flickpick/match-app/internal/messaging"
)

// CleanupConfig tunes idle-room eviction.
type CleanupConfig struct {
	IdleWindow time.Duration // rooms with no vote activity this long are evicted
	Interval   time.Duration // how often the sweep runs
}

// DefaultCleanupConfig returns sensible defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		IdleWindow: 10 * time.Minute,
		Interval:   30 * time.Second,
	}
}

// ExpiredEvent is published on room.expired.<code> when a room is evicted so
// connected coordinators can surface the empty room to their clients.
type ExpiredEvent struct {
	Code      string `json:"code"`
	IdleSince int64  `json:"idle_since"`
}

// StartCleanup runs the idle-room eviction loop until ctx is cancelled.
// Evicted rooms are announced on their room.expired subject, then deleted,
// which reclaims the code for reuse.
func StartCleanup(ctx context.Context, store *Store, nats *messaging.NATSClient, config CleanupConfig) {
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[janitor] cleanup loop stopped")
			return
		case <-ticker.C:
			sweepIdleRooms(ctx, store, nats, config.IdleWindow)
		}
	}
}

// sweepIdleRooms evicts every room idle beyond the window. Eviction of one
// room failing does not stop the sweep.
func sweepIdleRooms(ctx context.Context, store *Store, nats *messaging.NATSClient, window time.Duration) {
	cutoff := time.Now().Add(-window)

	codes, err := store.IdleBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[janitor] idle scan failed: %v", err)
		return
	}

	evicted := 0
	for _, code := range codes {
		r, err := store.Get(ctx, code)
		if err == ErrNotFound {
			// Key already gone (TTL fired); just drop the index entry.
			_ = store.Delete(ctx, code)
			continue
		}
		if err != nil {
			log.Printf("[janitor] get %s: %v", code, err)
			continue
		}

		event, _ := json.Marshal(ExpiredEvent{Code: code, IdleSince: r.LastActive})
		if err := nats.PublishRoomExpired(code, event); err != nil {
			log.Printf("[janitor] publish expired %s: %v", code, err)
		}

		if err := store.Delete(ctx, code); err != nil {
			log.Printf("[janitor] delete %s: %v", code, err)
			continue
		}
		evicted++
	}

	if evicted > 0 {
		log.Printf("[janitor] evicted %d idle rooms (window=%s)", evicted, window)
	}
}
