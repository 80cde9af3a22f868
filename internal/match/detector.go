// Package match implements match detection: counting like votes for a
// (room, candidate) pair and declaring the room's single match through an
// atomic insert-if-absent keyed by room code.
package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Match is a declared room outcome. At most one exists per room; it is
// immutable and terminates the room's matching phase.
type Match struct {
	RoomCode    string
	CandidateID string
	Title       string
	ArtworkRef  string
	DeclaredAt  time.Time
}

// Event is the payload published on room.match.<code> when a match is
// declared.
type Event struct {
	RoomCode    string `json:"room_code"`
	CandidateID string `json:"candidate_id"`
	Title       string `json:"title"`
	ArtworkRef  string `json:"artwork_ref"`
	DeclaredAt  int64  `json:"declared_at"`
}

// EventFor builds the wire event for a declared match.
func EventFor(m *Match) Event {
	return Event{
		RoomCode:    m.RoomCode,
		CandidateID: m.CandidateID,
		Title:       m.Title,
		ArtworkRef:  m.ArtworkRef,
		DeclaredAt:  m.DeclaredAt.Unix(),
	}
}

// Detector evaluates like counts and declares matches in PostgreSQL.
type Detector struct {
	db *sql.DB
}

// NewDetector creates a detector over the given database handle.
func NewDetector(db *sql.DB) *Detector {
	return &Detector{db: db}
}

// EvaluateTx runs match evaluation for one (room, candidate) pair inside the
// caller's transaction, so the triggering vote and the evaluation commit
// atomically.
//
// It counts accepted like votes for the pair; below capacity it returns
// (nil, false, nil). At capacity it attempts the room-level insert-if-absent.
// The primary key on room_code guarantees that when two candidates (or two
// coordinators) qualify near-simultaneously, exactly one insert wins; the
// loser gets the authoritative existing match back with won=false and treats
// it as success.
func (d *Detector) EvaluateTx(ctx context.Context, tx *sql.Tx, roomCode string, capacity int, candidateID, title, artworkRef string) (*Match, bool, error) {
	const countQuery = `
		SELECT COUNT(*)
		FROM votes
		WHERE room_code = $1 AND candidate_id = $2 AND kind = 'like'`

	var likes int
	if err := tx.QueryRowContext(ctx, countQuery, roomCode, candidateID).Scan(&likes); err != nil {
		return nil, false, fmt.Errorf("match: count likes: %w", err)
	}

	if likes < capacity {
		return nil, false, nil
	}

	const insertQuery = `
		INSERT INTO matches (room_code, candidate_id, title, artwork_ref)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_code) DO NOTHING
		RETURNING declared_at`

	var declaredAt time.Time
	err := tx.QueryRowContext(ctx, insertQuery, roomCode, candidateID, title, artworkRef).Scan(&declaredAt)
	if err == nil {
		return &Match{
			RoomCode:    roomCode,
			CandidateID: candidateID,
			Title:       title,
			ArtworkRef:  artworkRef,
			DeclaredAt:  declaredAt,
		}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("match: declare: %w", err)
	}

	// Insert lost the race: another candidate already holds the room. Read
	// the winner so the caller can report the authoritative outcome.
	existing, err := scanMatch(tx.QueryRowContext(ctx, forRoomQuery, roomCode))
	if err != nil {
		return nil, false, fmt.Errorf("match: read winner: %w", err)
	}
	return existing, false, nil
}

const forRoomQuery = `
	SELECT room_code, candidate_id, title, artwork_ref, declared_at
	FROM matches
	WHERE room_code = $1`

// ForRoom returns the room's declared match, or nil if none exists yet. It
// is the source of truth for reconnecting clients that missed the live
// event.
func (d *Detector) ForRoom(ctx context.Context, roomCode string) (*Match, error) {
	m, err := scanMatch(d.db.QueryRowContext(ctx, forRoomQuery, roomCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match: for room %s: %w", roomCode, err)
	}
	return m, nil
}

func scanMatch(row *sql.Row) (*Match, error) {
	var m Match
	if err := row.Scan(&m.RoomCode, &m.CandidateID, &m.Title, &m.ArtworkRef, &m.DeclaredAt); err != nil {
		return nil, err
	}
	return &m, nil
}
