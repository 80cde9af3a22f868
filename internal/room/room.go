// Package room implements the room registry: short-code room creation, join
// with capacity enforcement, the shared deck cursor both parties swipe
// against, and idle-room eviction. Rooms live in Redis as hashes:
//
//	Key:   room:<code>          (hash: membership, status, seed, cursor)
//	Key:   room:<code>:members  (set of voter ids)
//	Key:   rooms:active         (sorted set, score = last activity unix s)
package room

import (
	"errors"
	"time"

	"github.com/flickpick/match-app/internal/catalog"
)

const (
	// RoomPrefix is the Redis key prefix for room hashes.
	RoomPrefix = "room:"

	// ActiveKey is the sorted set indexing active rooms by last activity.
	ActiveKey = "rooms:active"

	// RoomTTL is the safety-net TTL on room keys; Touch refreshes it. The
	// janitor normally reclaims rooms long before this fires.
	RoomTTL = 2 * time.Hour

	// CodeWidth is the fixed width of the numeric room code.
	CodeWidth = 4

	// codeSpace is the number of distinct codes (10^CodeWidth).
	codeSpace = 10000

	// createRetries bounds collision retries during code generation.
	createRetries = 25

	// Status constants for the room lifecycle.
	StatusOpen    = "open"
	StatusMatched = "matched"
)

var (
	// ErrNotFound means no active room holds the given code.
	ErrNotFound = errors.New("room: not found")

	// ErrRoomFull means the room already reached its party capacity.
	ErrRoomFull = errors.New("room: full")

	// ErrCodeSpaceExhausted means code generation ran out of retries. In
	// practice this cannot happen before idle eviction frees codes.
	ErrCodeSpaceExhausted = errors.New("room: code space exhausted")
)

// Room is the registry's view of one swipe room. Only membership, the deck
// cursor, activity, and the terminal match fields ever mutate.
type Room struct {
	Code       string
	CreatorID  string
	Capacity   int
	Members    []string
	Status     string
	Seed       int64 // deck seed shared by every party
	DeckCursor int   // page cursor, single-writer via AdvanceCursor
	CreatedAt  int64
	LastActive int64

	// Filters are fixed at creation; joiners inherit them so both parties
	// regenerate the exact same deck.
	Filters catalog.Filters

	// Set once the room is matched; authoritative for reconnecting clients.
	MatchedCandidateID string
	MatchedTitle       string
	MatchedArtworkRef  string
	MatchedAt          int64
}

// MemberEvent is the payload published on room.joined.<code> and
// room.left.<code>.
type MemberEvent struct {
	RoomCode    string `json:"room_code"`
	SessionID   string `json:"session_id"`
	MemberCount int    `json:"member_count"`
}

// HasMember reports whether voterID already belongs to the room.
func (r *Room) HasMember(voterID string) bool {
	for _, m := range r.Members {
		if m == voterID {
			return true
		}
	}
	return false
}
