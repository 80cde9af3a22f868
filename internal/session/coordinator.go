package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flickpick/match-app/internal/catalog"
	"github.com/flickpick/match-app/internal/match"
	"github.com/flickpick/match-app/internal/room"
	"github.com/flickpick/match-app/internal/vote"
)

// State is the coordinator's position in its lifecycle.
type State string

// Coordinator states. Matched and Abandoned are terminal.
const (
	StateLobby     State = "lobby"
	StateSwiping   State = "swiping"
	StateMatched   State = "matched"
	StateAbandoned State = "abandoned"
)

const (
	// lowWater is the deck size below which a refill is due.
	lowWater = 3

	// upstreamRetries bounds the coordinator's backoff retries on a
	// transient discovery failure before it surfaces "try again".
	upstreamRetries = 3
	backoffBase     = 200 * time.Millisecond
)

// BatchSource produces deck batches. *catalog.Sampler satisfies it.
type BatchSource interface {
	NextBatch(ctx context.Context, filters catalog.Filters, exclude map[string]struct{}, seed int64, cursor int) ([]catalog.Candidate, int, error)
}

// CursorAdvancer advances the room's shared deck cursor. *room.Store
// satisfies it.
type CursorAdvancer interface {
	AdvanceCursor(ctx context.Context, code string, from int) (int, error)
}

// VoteRecorder appends swipe decisions. *vote.Ledger satisfies it.
type VoteRecorder interface {
	RecordVote(ctx context.Context, r *room.Room, voterID, candidateID string, kind vote.Kind, title, artworkRef string) (vote.Result, error)
}

// Coordinator drives one party's swipe session: it pulls batches from the
// sampler against the room's shared deck progression, forwards decisions to
// the vote ledger, and transitions on match events. All methods are
// goroutine-safe; dispatch workers and NATS callbacks may race.
type Coordinator struct {
	sessionID string
	sampler   BatchSource
	cursors   CursorAdvancer
	ledger    VoteRecorder

	mu        sync.Mutex
	state     State
	room      *room.Room
	filters   catalog.Filters
	deck      []catalog.Candidate
	seen      map[string]struct{}
	cursor    int // this party's position in the room's deck progression
	frontier  int // furthest shared cursor reported by the room registry
	exhausted bool
	matched   *match.Match
}

// NewCoordinator creates a coordinator in the lobby state.
func NewCoordinator(sessionID string, sampler BatchSource, cursors CursorAdvancer, ledger VoteRecorder) *Coordinator {
	return &Coordinator{
		sessionID: sessionID,
		sampler:   sampler,
		cursors:   cursors,
		ledger:    ledger,
		state:     StateLobby,
		seen:      make(map[string]struct{}),
	}
}

// AttachRoom binds the coordinator to a room and starts swiping. The
// coordinator picks up the deck progression from position zero; the room's
// seed and filters guarantee it regenerates the exact same batches every
// other party sees.
func (c *Coordinator) AttachRoom(r *room.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
	c.filters = r.Filters
	c.state = StateSwiping
	c.deck = nil
	c.cursor = 0
	c.frontier = r.DeckCursor
	c.exhausted = false
	c.seen = make(map[string]struct{})
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the bound room, or nil in the lobby.
func (c *Coordinator) Room() *room.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Matched returns the declared match once the coordinator is in the matched
// state.
func (c *Coordinator) Matched() *match.Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matched
}

// NeedsRefill reports whether the local deck is running low.
func (c *Coordinator) NeedsRefill() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateSwiping && !c.exhausted && len(c.deck) < lowWater
}

// Refill pulls the next batch of the room's deck progression into the local
// deck. Transient upstream failures are retried with exponential backoff up
// to a bounded budget before propagating; ErrDeckExhausted marks the deck
// empty-state and is returned for the caller to surface.
func (c *Coordinator) Refill(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateSwiping || c.room == nil {
		c.mu.Unlock()
		return fmt.Errorf("session: refill in state %s", c.state)
	}
	r := c.room
	filters := c.filters
	cursor := c.cursor
	exclude := make(map[string]struct{}, len(c.seen))
	for id := range c.seen {
		exclude[id] = struct{}{}
	}
	c.mu.Unlock()

	var (
		batch []catalog.Candidate
		err   error
	)
	for attempt := 0; ; attempt++ {
		batch, _, err = c.sampler.NextBatch(ctx, filters, exclude, r.Seed, cursor)
		if err == nil || !errors.Is(err, catalog.ErrUpstream) || attempt >= upstreamRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffBase << attempt):
		}
	}
	if errors.Is(err, catalog.ErrDeckExhausted) {
		c.mu.Lock()
		c.exhausted = true
		c.mu.Unlock()
		return err
	}
	if err != nil {
		return err
	}

	// Extend the room's shared cursor if this coordinator is the one at the
	// frontier; if the partner already advanced it, the CAS is a no-op and
	// only the local position moves. Either way the registry returns the
	// authoritative frontier.
	shared, err := c.cursors.AdvanceCursor(ctx, r.Code, cursor)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = cursor + 1
	if shared > c.frontier {
		c.frontier = shared
	}
	for _, cand := range batch {
		if _, dup := c.seen[cand.ID]; dup {
			continue
		}
		c.seen[cand.ID] = struct{}{}
		c.deck = append(c.deck, cand)
	}
	return nil
}

// Deck returns a snapshot of the local deck, current candidate first.
func (c *Coordinator) Deck() []catalog.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.Candidate, len(c.deck))
	copy(out, c.deck)
	return out
}

// Current returns the candidate on top of the deck.
func (c *Coordinator) Current() (catalog.Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.deck) == 0 {
		return catalog.Candidate{}, false
	}
	return c.deck[0], true
}

// Decide records the party's decision on the current candidate and advances
// the deck regardless of the vote outcome. If the vote completed the room's
// match, the coordinator transitions to matched.
func (c *Coordinator) Decide(ctx context.Context, kind vote.Kind) (vote.Result, error) {
	c.mu.Lock()
	if c.state != StateSwiping || c.room == nil {
		c.mu.Unlock()
		return vote.Result{}, fmt.Errorf("session: decide in state %s", c.state)
	}
	if len(c.deck) == 0 {
		c.mu.Unlock()
		return vote.Result{}, fmt.Errorf("session: decide with empty deck")
	}
	r := c.room
	cand := c.deck[0]
	c.deck = c.deck[1:]
	c.mu.Unlock()

	result, err := c.ledger.RecordVote(ctx, r, c.sessionID, cand.ID, kind, cand.Title, cand.ArtworkRef)
	if err != nil {
		return result, err
	}

	if result.Match != nil {
		c.setMatched(result.Match)
	}
	return result, nil
}

// OnMatch transitions to matched from a room event, regardless of the local
// deck position. Safe to call more than once; the first match wins.
func (c *Coordinator) OnMatch(m *match.Match) {
	c.setMatched(m)
}

func (c *Coordinator) setMatched(m *match.Match) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateMatched {
		return
	}
	c.state = StateMatched
	c.matched = m
}

// Abandon marks the session terminal after a leave or disconnect. Votes
// already accepted stay final.
func (c *Coordinator) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateMatched {
		return
	}
	c.state = StateAbandoned
}

// Cursor returns this party's local position in the deck progression.
func (c *Coordinator) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Frontier returns the furthest shared cursor the room registry has
// reported. A local cursor behind the frontier means the partner has drawn
// batches this party has not replayed yet.
func (c *Coordinator) Frontier() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frontier
}

// Exhausted reports whether the sampler ran out of unseen candidates.
func (c *Coordinator) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}
