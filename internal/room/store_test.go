package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flickpick/match-app/internal/catalog"
)

// newTestStore creates a Store connected to a local Redis instance. Tests
// that call this helper require a running Redis on localhost:6379; rooms
// created through the returned helper are cleaned up afterwards.
func newTestStore(t *testing.T) (*Store, func(code string)) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	store := NewStore(client, 2)
	var codes []string
	track := func(code string) { codes = append(codes, code) }
	t.Cleanup(func() {
		for _, code := range codes {
			store.Delete(ctx, code)
		}
		client.Close()
	})
	return store, track
}

func createTestRoom(t *testing.T, store *Store, track func(string), creatorID string) *Room {
	t.Helper()
	filters := catalog.Filters{MediaType: "movie", Genres: []int{28, 80}}
	r, err := store.Create(context.Background(), creatorID, filters)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	track(r.Code)
	return r
}

func TestCreateAllocatesOpenRoom(t *testing.T) {
	store, track := newTestStore(t)
	ctx := context.Background()

	r := createTestRoom(t, store, track, "creator-1")
	if len(r.Code) != CodeWidth {
		t.Errorf("code %q: expected width %d", r.Code, CodeWidth)
	}
	if r.Status != StatusOpen {
		t.Errorf("status = %q, want %q", r.Status, StatusOpen)
	}
	if r.Seed == 0 {
		t.Error("expected a non-zero deck seed")
	}
	if r.DeckCursor != 0 {
		t.Errorf("deck cursor = %d, want 0", r.DeckCursor)
	}

	// The stored room must round-trip identically.
	got, err := store.Get(ctx, r.Code)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Seed != r.Seed || got.CreatorID != "creator-1" || got.Capacity != 2 {
		t.Errorf("Get() = %+v, want seed=%d creator=creator-1 capacity=2", got, r.Seed)
	}
	if !got.HasMember("creator-1") {
		t.Error("creator should be a member")
	}
	if got.Filters.MediaType != "movie" || len(got.Filters.Genres) != 2 {
		t.Errorf("filters did not round-trip: %+v", got.Filters)
	}
}

func TestGetUnknownCode(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "0000-nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetAndJoinRejectHalfWrittenRoom(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := NewStore(client, 2)

	// A claim whose create pipeline never ran leaves a hash holding only
	// creator_id. Nothing should treat it as an active room.
	code := "9393"
	key := RoomPrefix + code
	if err := client.HSetNX(ctx, key, "creator_id", "creator-1").Err(); err != nil {
		t.Fatalf("claim code: %v", err)
	}
	t.Cleanup(func() { client.Del(ctx, key, key+":members") })

	if _, err := store.Get(ctx, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() err = %v, want ErrNotFound", err)
	}
	if _, err := store.Join(ctx, code, "joiner-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Join() err = %v, want ErrNotFound", err)
	}
}

func TestJoinSecondPartySeesSameSeed(t *testing.T) {
	store, track := newTestStore(t)
	ctx := context.Background()

	r := createTestRoom(t, store, track, "creator-1")
	joined, err := store.Join(ctx, r.Code, "joiner-1")
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if joined.Seed != r.Seed {
		t.Errorf("joiner seed = %d, want creator's %d", joined.Seed, r.Seed)
	}
	if joined.Filters.MediaType != r.Filters.MediaType {
		t.Errorf("joiner filters = %+v, want creator's %+v", joined.Filters, r.Filters)
	}
	if len(joined.Members) != 2 {
		t.Errorf("members = %v, want 2 entries", joined.Members)
	}
	if !joined.HasMember("creator-1") || !joined.HasMember("joiner-1") {
		t.Errorf("members = %v, want both parties", joined.Members)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Join(context.Background(), "0000-nope", "joiner-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestJoinFullRoom(t *testing.T) {
	store, track := newTestStore(t)
	ctx := context.Background()

	r := createTestRoom(t, store, track, "creator-1")
	if _, err := store.Join(ctx, r.Code, "joiner-1"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}

	_, err := store.Join(ctx, r.Code, "joiner-2")
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("err = %v, want ErrRoomFull", err)
	}
}

func TestJoinIsIdempotentForMembers(t *testing.T) {
	store, track := newTestStore(t)
	ctx := context.Background()

	r := createTestRoom(t, store, track, "creator-1")
	if _, err := store.Join(ctx, r.Code, "joiner-1"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}

	// A reconnecting member rejoins without tripping the capacity check.
	again, err := store.Join(ctx, r.Code, "joiner-1")
	if err != nil {
		t.Fatalf("rejoin error: %v", err)
	}
	if len(again.Members) != 2 {
		t.Errorf("members after rejoin = %v, want 2 entries", again.Members)
	}
}

func TestAdvanceCursorCompareAndSet(t *testing.T) {
	store, track := newTestStore(t)
	ctx := context.Background()

	r := createTestRoom(t, store, track, "creator-1")

	// First party at the frontier advances 0 -> 1.
	cur, err := store.AdvanceCursor(ctx, r.Code, 0)
	if err != nil {
		t.Fatalf("AdvanceCursor() error: %v", err)
	}
	if cur != 1 {
		t.Fatalf("cursor = %d, want 1", cur)
	}

	// Second party asking from the stale value gets the authoritative
	// cursor back without advancing it again.
	cur, err = store.AdvanceCursor(ctx, r.Code, 0)
	if err != nil {
		t.Fatalf("AdvanceCursor() error: %v", err)
	}
	if cur != 1 {
		t.Fatalf("stale CAS cursor = %d, want 1", cur)
	}

	got, err := store.Get(ctx, r.Code)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.DeckCursor != 1 {
		t.Errorf("stored cursor = %d, want 1", got.DeckCursor)
	}
}

func TestAdvanceCursorUnknownRoom(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.AdvanceCursor(context.Background(), "0000-nope", 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetMatchedClosesRoom(t *testing.T) {
	store, track := newTestStore(t)
	ctx := context.Background()

	r := createTestRoom(t, store, track, "creator-1")
	at := time.Now()
	if err := store.SetMatched(ctx, r.Code, "tt-42", "The Answer", "/poster.jpg", at); err != nil {
		t.Fatalf("SetMatched() error: %v", err)
	}

	got, err := store.Get(ctx, r.Code)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusMatched {
		t.Errorf("status = %q, want %q", got.Status, StatusMatched)
	}
	if got.MatchedCandidateID != "tt-42" || got.MatchedTitle != "The Answer" {
		t.Errorf("matched fields = %q %q", got.MatchedCandidateID, got.MatchedTitle)
	}
	if got.MatchedAt != at.Unix() {
		t.Errorf("matched_at = %d, want %d", got.MatchedAt, at.Unix())
	}

	// A matched room accepts no new members.
	_, err = store.Join(ctx, r.Code, "joiner-late")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("join after match err = %v, want ErrNotFound", err)
	}
}

func TestTouchAndIdleBefore(t *testing.T) {
	store, track := newTestStore(t)
	ctx := context.Background()

	r := createTestRoom(t, store, track, "creator-1")

	// A cutoff in the future sees the fresh room as idle.
	idle, err := store.IdleBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IdleBefore() error: %v", err)
	}
	if !containsCode(idle, r.Code) {
		t.Errorf("idle set %v should contain %s", idle, r.Code)
	}

	// After a touch the room is no longer idle relative to a cutoff just
	// before now.
	if err := store.Touch(ctx, r.Code); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	idle, err = store.IdleBefore(ctx, time.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("IdleBefore() error: %v", err)
	}
	if containsCode(idle, r.Code) {
		t.Errorf("touched room %s should not be idle", r.Code)
	}
}

func TestDeleteReclaimsCode(t *testing.T) {
	store, track := newTestStore(t)
	ctx := context.Background()

	r := createTestRoom(t, store, track, "creator-1")
	if err := store.Delete(ctx, r.Code); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if _, err := store.Get(ctx, r.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete err = %v, want ErrNotFound", err)
	}
	idle, err := store.IdleBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IdleBefore() error: %v", err)
	}
	if containsCode(idle, r.Code) {
		t.Errorf("deleted room %s should leave the active index", r.Code)
	}
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
