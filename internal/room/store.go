package room

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/flickpick/match-app/internal/catalog"
	"github.com/redis/go-redis/v9"
)

// Store manages room state in Redis.
type Store struct {
	rdb          *redis.Client
	capacity     int
	joinScript   *redis.Script
	cursorScript *redis.Script
	codes        *rand.Rand
}

// NewStore creates a room store with the given default party capacity.
func NewStore(rdb *redis.Client, capacity int) *Store {
	if capacity < 2 {
		capacity = 2
	}
	return &Store{
		rdb:          rdb,
		capacity:     capacity,
		joinScript:   redis.NewScript(joinLua),
		cursorScript: redis.NewScript(advanceCursorLua),
		codes:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Create allocates a new room with a fresh 4-digit code and a random deck
// seed, and registers the creator as its first member. The filters are fixed
// for the room's lifetime. Codes colliding with an active room are
// regenerated up to a bounded retry budget.
func (s *Store) Create(ctx context.Context, creatorID string, filters catalog.Filters) (*Room, error) {
	now := time.Now().Unix()
	seed := s.codes.Int63()

	filterJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("room: encode filters: %w", err)
	}

	for i := 0; i < createRetries; i++ {
		code := fmt.Sprintf("%0*d", CodeWidth, s.codes.Intn(codeSpace))
		key := RoomPrefix + code

		// HSetNX on creator_id is the claim on the code: it fails if any
		// active room already holds the key.
		claimed, err := s.rdb.HSetNX(ctx, key, "creator_id", creatorID).Result()
		if err != nil {
			return nil, fmt.Errorf("room: claim code: %w", err)
		}
		if !claimed {
			continue
		}

		pipe := s.rdb.Pipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"capacity":    s.capacity,
			"status":      StatusOpen,
			"seed":        seed,
			"deck_cursor": 0,
			"filters":     string(filterJSON),
			"created_at":  now,
			"last_active": now,
		})
		pipe.SAdd(ctx, key+":members", creatorID)
		pipe.Expire(ctx, key, RoomTTL)
		pipe.Expire(ctx, key+":members", RoomTTL)
		pipe.ZAdd(ctx, ActiveKey, redis.Z{Score: float64(now), Member: code})
		if _, err := pipe.Exec(ctx); err != nil {
			// Release the claim. The hash has no TTL until the pipeline
			// runs, so a half-written room would squat on the code forever.
			s.rdb.Del(ctx, key, key+":members")
			return nil, fmt.Errorf("room: create %s: %w", code, err)
		}

		return &Room{
			Code:       code,
			CreatorID:  creatorID,
			Capacity:   s.capacity,
			Members:    []string{creatorID},
			Status:     StatusOpen,
			Seed:       seed,
			Filters:    filters,
			CreatedAt:  now,
			LastActive: now,
		}, nil
	}

	return nil, ErrCodeSpaceExhausted
}

// Join registers joinerID as a member of the room. It fails with ErrNotFound
// for unknown or expired codes and ErrRoomFull once capacity is reached.
// Rejoining with an id that is already a member succeeds, so a reconnecting
// client can recover its room. The returned room carries the same seed and
// cursor every other member observes.
func (s *Store) Join(ctx context.Context, code, joinerID string) (*Room, error) {
	key := RoomPrefix + code
	now := time.Now().Unix()

	res, err := s.joinScript.Run(ctx, s.rdb, []string{key, key + ":members"}, joinerID, now).Int()
	if err != nil {
		return nil, fmt.Errorf("room: join %s: %w", code, err)
	}
	switch res {
	case -1:
		return nil, ErrNotFound
	case -2:
		return nil, ErrRoomFull
	}

	return s.Get(ctx, code)
}

// Get loads a room by code. Returns ErrNotFound if no active room holds it.
func (s *Store) Get(ctx context.Context, code string) (*Room, error) {
	key := RoomPrefix + code

	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("room: get %s: %w", code, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	// A hash carrying only the creator_id claim is a room whose create
	// pipeline never ran. Treat it like the code was never allocated.
	if fields["status"] == "" {
		return nil, ErrNotFound
	}

	members, err := s.rdb.SMembers(ctx, key+":members").Result()
	if err != nil {
		return nil, fmt.Errorf("room: members %s: %w", code, err)
	}

	capacity, _ := strconv.Atoi(fields["capacity"])
	seed, _ := strconv.ParseInt(fields["seed"], 10, 64)
	cursor, _ := strconv.Atoi(fields["deck_cursor"])
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	lastActive, _ := strconv.ParseInt(fields["last_active"], 10, 64)
	matchedAt, _ := strconv.ParseInt(fields["matched_at"], 10, 64)

	var filters catalog.Filters
	if raw := fields["filters"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			return nil, fmt.Errorf("room: decode filters %s: %w", code, err)
		}
	}

	return &Room{
		Code:               code,
		CreatorID:          fields["creator_id"],
		Capacity:           capacity,
		Members:            members,
		Status:             fields["status"],
		Seed:               seed,
		DeckCursor:         cursor,
		Filters:            filters,
		CreatedAt:          createdAt,
		LastActive:         lastActive,
		MatchedCandidateID: fields["matched_candidate_id"],
		MatchedTitle:       fields["matched_title"],
		MatchedArtworkRef:  fields["matched_artwork_ref"],
		MatchedAt:          matchedAt,
	}, nil
}

// AdvanceCursor advances the room's deck cursor from the given value. The
// compare-and-set means only the first coordinator asking on behalf of the
// room actually advances it; everyone gets back the authoritative cursor and
// stays synchronized. Returns ErrNotFound for unknown rooms.
func (s *Store) AdvanceCursor(ctx context.Context, code string, from int) (int, error) {
	key := RoomPrefix + code

	cur, err := s.cursorScript.Run(ctx, s.rdb, []string{key}, from).Int()
	if err != nil {
		return 0, fmt.Errorf("room: advance cursor %s: %w", code, err)
	}
	if cur < 0 {
		return 0, ErrNotFound
	}
	return cur, nil
}

// Touch records vote activity on the room, refreshing its idle clock and
// its safety-net TTL.
func (s *Store) Touch(ctx context.Context, code string) error {
	key := RoomPrefix + code
	now := time.Now().Unix()

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "last_active", now)
	pipe.Expire(ctx, key, RoomTTL)
	pipe.Expire(ctx, key+":members", RoomTTL)
	pipe.ZAdd(ctx, ActiveKey, redis.Z{Score: float64(now), Member: code})
	_, err := pipe.Exec(ctx)
	return err
}

// SetMatched marks the room terminal with the winning candidate. The room
// hash stays around (until idle eviction) so reconnecting clients can read
// the authoritative outcome even when they missed the live event.
func (s *Store) SetMatched(ctx context.Context, code, candidateID, title, artworkRef string, at time.Time) error {
	key := RoomPrefix + code
	return s.rdb.HSet(ctx, key,
		"status", StatusMatched,
		"matched_candidate_id", candidateID,
		"matched_title", title,
		"matched_artwork_ref", artworkRef,
		"matched_at", at.Unix(),
	).Err()
}

// Delete removes a room and its membership set, reclaiming the code.
func (s *Store) Delete(ctx context.Context, code string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, RoomPrefix+code, RoomPrefix+code+":members")
	pipe.ZRem(ctx, ActiveKey, code)
	_, err := pipe.Exec(ctx)
	return err
}

// IdleBefore returns the codes of rooms whose last activity is older than
// the given cutoff, oldest first.
func (s *Store) IdleBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, ActiveKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
}

// joinLua atomically enforces capacity on join. Returns:
//
//	>0 = member count after join (idempotent for existing members)
//	-1 = room not found or not open
//	-2 = room full
const joinLua = `
local key = KEYS[1]
local members = KEYS[2]
local joiner = ARGV[1]
local now = ARGV[2]

local status = redis.call('HGET', key, 'status')
if not status or status ~= 'open' then return -1 end

if redis.call('SISMEMBER', members, joiner) == 1 then
    return redis.call('SCARD', members)
end

local capacity = tonumber(redis.call('HGET', key, 'capacity'))
if redis.call('SCARD', members) >= capacity then return -2 end

redis.call('SADD', members, joiner)
redis.call('HSET', key, 'last_active', now)
return redis.call('SCARD', members)
`

// advanceCursorLua advances deck_cursor only if it still equals the caller's
// value, and returns the authoritative cursor either way. Returns -1 for
// unknown rooms.
const advanceCursorLua = `
local cur = redis.call('HGET', KEYS[1], 'deck_cursor')
if not cur then return -1 end
if tonumber(cur) == tonumber(ARGV[1]) then
    return redis.call('HINCRBY', KEYS[1], 'deck_cursor', 1)
end
return tonumber(cur)
`
