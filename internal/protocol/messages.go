// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeCreateRoom     = "create_room"
	TypeJoinRoom       = "join_room"
	TypeVote           = "vote"
	TypeNextCandidates = "next_candidates"
	TypeRoomStatus     = "room_status"
	TypeLeaveRoom      = "leave_room"
	TypePing           = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeRoomCreated    = "room_created"
	TypeRoomJoined     = "room_joined"
	TypePartnerJoined  = "partner_joined"
	TypeCandidates     = "candidates"
	TypeVoteRecorded   = "vote_recorded"
	TypeMatchFound     = "match_found"
	TypeDeckExhausted  = "deck_exhausted"
	TypeRoomState      = "room_state"
	TypeRoomExpired    = "room_expired"
	TypePartnerLeft    = "partner_left"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared payload fragments
// ---------------------------------------------------------------------------

// CandidateInfo is the wire shape of one deck candidate.
type CandidateInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	ArtworkRef string  `json:"artwork_ref"`
	Score      float64 `json:"score"`
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// CreateRoomMsg is sent by the client to open a new room with the given
// discovery filters. The creator waits in the room until a partner joins.
type CreateRoomMsg struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Genres    []int  `json:"genres"`
	Providers []int  `json:"providers"`
}

// JoinRoomMsg is sent by the client to join an existing room by its code.
type JoinRoomMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// VoteMsg records the client's decision on a candidate. Kind is "like" or
// "dislike".
type VoteMsg struct {
	Type        string `json:"type"`
	CandidateID string `json:"candidate_id"`
	Kind        string `json:"kind"`
}

// NextCandidatesMsg asks the server for the next slice of the room's deck.
type NextCandidatesMsg struct {
	Type string `json:"type"`
}

// RoomStatusMsg asks the server for the authoritative room state, used by
// reconnecting clients to recover a missed outcome.
type RoomStatusMsg struct {
	Type string `json:"type"`
}

// LeaveRoomMsg is sent by the client to abandon its room.
type LeaveRoomMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RoomCreatedMsg is sent by the server once a room has been allocated. The
// code is what the creator shares with their partner.
type RoomCreatedMsg struct {
	Type     string `json:"type"`
	Code     string `json:"code"`
	Capacity int    `json:"capacity"`
}

// RoomJoinedMsg confirms a join to the joiner. Cursor is the room's shared
/// deck cursor at join time: how many batches the creator has already drawn.
type RoomJoinedMsg struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	MemberCount int    `json:"member_count"`
	Status      string `json:"status"`
	Cursor      int    `json:"cursor"`
}

// PartnerJoinedMsg is sent to room members already present when a new party
// joins.
type PartnerJoinedMsg struct {
	Type        string `json:"type"`
	MemberCount int    `json:"member_count"`
}

// CandidatesMsg delivers the next slice of the deck, in swipe order. Cursor
// is this party's position in the room's deck progression after the refill.
type CandidatesMsg struct {
	Type       string          `json:"type"`
	RoomCode   string          `json:"room_code"`
	Cursor     int             `json:"cursor"`
	Candidates []CandidateInfo `json:"candidates"`
}

// VoteRecordedMsg reports a recorded vote. The voter receives it as a
// direct ack; the partner receives it off the room's vote feed with VoterID
// identifying who swiped. Duplicate is set when the ledger already held a
// decision for the candidate and the new one was ignored.
type VoteRecordedMsg struct {
	Type        string `json:"type"`
	RoomCode    string `json:"room_code"`
	CandidateID string `json:"candidate_id"`
	Kind        string `json:"kind"`
	VoterID     string `json:"voter_id"`
	Ts          int64  `json:"ts"`
	Duplicate   bool   `json:"duplicate"`
}

// MatchFoundMsg announces the room's match to both parties.
type MatchFoundMsg struct {
	Type        string `json:"type"`
	CandidateID string `json:"candidate_id"`
	Title       string `json:"title"`
	ArtworkRef  string `json:"artwork_ref"`
	DeclaredAt  int64  `json:"declared_at"`
}

// DeckExhaustedMsg tells the client the sampler ran out of unseen candidates
// for the room's filters.
type DeckExhaustedMsg struct {
	Type string `json:"type"`
}

// RoomStateMsg is the server's reply to a room_status request.
type RoomStateMsg struct {
	Type               string `json:"type"`
	Code               string `json:"code"`
	Status             string `json:"status"`
	MemberCount        int    `json:"member_count"`
	MatchedCandidateID string `json:"matched_candidate_id,omitempty"`
	MatchedTitle       string `json:"matched_title,omitempty"`
	MatchedArtworkRef  string `json:"matched_artwork_ref,omitempty"`
	MatchedAt          int64  `json:"matched_at,omitempty"`
}

// RoomExpiredMsg is sent when the room was evicted for inactivity.
type RoomExpiredMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// PartnerLeftMsg is sent by the server when the partner has disconnected or
// left the room.
type PartnerLeftMsg struct {
	Type string `json:"type"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeCreateRoom:
		var m CreateRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVote:
		var m VoteMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNextCandidates:
		var m NextCandidatesMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRoomStatus:
		var m RoomStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
