// Package vote implements the append-only vote ledger. Votes live in
// PostgreSQL with a uniqueness constraint making resubmission a no-op, and
// every accepted like triggers match evaluation inside the same transaction
// before RecordVote returns.
package vote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/flickpick/match-app/internal/match"
	"github.com/flickpick/match-app/internal/room"
)

// Kind is the vote direction.
type Kind string

// Vote kinds. Anything else is rejected before touching the database.
const (
	KindLike    Kind = "like"
	KindDislike Kind = "dislike"
)

// Valid reports whether k is a known vote kind.
func (k Kind) Valid() bool {
	return k == KindLike || k == KindDislike
}

// Event is the payload published on room.vote.<code> after a vote is
// recorded, for UI feedback independent of match status.
type Event struct {
	RoomCode    string `json:"room_code"`
	CandidateID string `json:"candidate_id"`
	Kind        string `json:"kind"`
	VoterID     string `json:"voter_id"`
	Ts          int64  `json:"ts"`
}

// Publisher is the slice of the NATS client the ledger needs.
// *messaging.NATSClient satisfies it.
type Publisher interface {
	PublishRoomVote(code string, data []byte) error
	PublishRoomMatch(code string, data []byte) error
}

// RoomMarker marks a room terminal once its match is declared.
// *room.Store satisfies it.
type RoomMarker interface {
	SetMatched(ctx context.Context, code, candidateID, title, artworkRef string, at time.Time) error
}

// Result reports the outcome of RecordVote.
type Result struct {
	Accepted bool         // false means duplicate: no-op, no re-evaluation
	Match    *match.Match // non-nil once the room has a match (won or lost race)
	WonMatch bool         // true only for the vote whose evaluation declared it
}

// Ledger records votes and drives match evaluation.
type Ledger struct {
	db       *sql.DB
	detector *match.Detector
	rooms    RoomMarker
	bus      Publisher
}

// NewLedger creates a vote ledger. rooms and bus may be nil in tests; the
// corresponding side effects are skipped.
func NewLedger(db *sql.DB, detector *match.Detector, rooms RoomMarker, bus Publisher) *Ledger {
	return &Ledger{db: db, detector: detector, rooms: rooms, bus: bus}
}

// RecordVote appends a vote for (room, voter, candidate) and, for an
// accepted like, evaluates the match condition before returning. The vote
// insert and the evaluation share one transaction, so the Nth like can never
// be lost between two close-in-time votes.
//
// A duplicate vote returns Accepted=false without re-triggering evaluation
// and without surfacing an error. Votes are final once accepted: nothing
// here is ever rolled back by disconnects.
func (l *Ledger) RecordVote(ctx context.Context, r *room.Room, voterID, candidateID string, kind Kind, title, artworkRef string) (Result, error) {
	if !kind.Valid() {
		return Result{}, fmt.Errorf("vote: invalid kind %q", kind)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("vote: begin: %w", err)
	}
	defer tx.Rollback()

	// Serialize votes within a room. Concurrent likes on the same candidate
	// insert under distinct unique keys, so without this lock neither insert
	// blocks the other and both like counts run before either commit,
	// leaving the threshold unreached on both sides.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.Code); err != nil {
		return Result{}, fmt.Errorf("vote: lock room: %w", err)
	}

	const insertQuery = `
		INSERT INTO votes (room_code, voter_id, candidate_id, kind)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_code, voter_id, candidate_id) DO NOTHING`

	res, err := tx.ExecContext(ctx, insertQuery, r.Code, voterID, candidateID, string(kind))
	if err != nil {
		return Result{}, fmt.Errorf("vote: insert: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("vote: rows affected: %w", err)
	}

	if inserted == 0 {
		// Duplicate: idempotent no-op, logged only.
		log.Printf("[vote] duplicate room=%s voter=%s candidate=%s", r.Code, voterID, candidateID)
		return Result{Accepted: false}, nil
	}

	result := Result{Accepted: true}
	if kind == KindLike {
		m, won, err := l.detector.EvaluateTx(ctx, tx, r.Code, r.Capacity, candidateID, title, artworkRef)
		if err != nil {
			return Result{}, err
		}
		result.Match = m
		result.WonMatch = won
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("vote: commit: %w", err)
	}

	l.publish(r.Code, voterID, candidateID, kind, result)
	return result, nil
}

// publish emits the post-commit side effects: the vote-recorded event
// always, plus the match declaration and room state flip when this vote won
// the race. Event failures are logged, never propagated; the votes are
// already durable.
func (l *Ledger) publish(code, voterID, candidateID string, kind Kind, result Result) {
	if l.bus != nil {
		data, _ := json.Marshal(Event{
			RoomCode:    code,
			CandidateID: candidateID,
			Kind:        string(kind),
			VoterID:     voterID,
			Ts:          time.Now().Unix(),
		})
		if err := l.bus.PublishRoomVote(code, data); err != nil {
			log.Printf("[vote] publish vote event room=%s: %v", code, err)
		}
	}

	if !result.WonMatch || result.Match == nil {
		return
	}

	m := result.Match
	if l.rooms != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.rooms.SetMatched(ctx, code, m.CandidateID, m.Title, m.ArtworkRef, m.DeclaredAt); err != nil {
			log.Printf("[vote] mark room matched room=%s: %v", code, err)
		}
	}

	if l.bus != nil {
		data, _ := json.Marshal(match.EventFor(m))
		if err := l.bus.PublishRoomMatch(code, data); err != nil {
			log.Printf("[vote] publish match event room=%s: %v", code, err)
		}
	}

	log.Printf("[vote] match declared room=%s candidate=%s", code, m.CandidateID)
}
