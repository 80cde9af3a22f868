package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid create_room message
// ---------------------------------------------------------------------------

func TestParseClientMessage_CreateRoom(t *testing.T) {
	input := []byte(`{"type":"create_room","media_type":"movie","genres":[28,80],"providers":[8]}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeCreateRoom {
		t.Fatalf("expected type %q, got %q", TypeCreateRoom, msgType)
	}

	cr, ok := msg.(CreateRoomMsg)
	if !ok {
		t.Fatalf("expected CreateRoomMsg, got %T", msg)
	}
	if cr.MediaType != "movie" {
		t.Errorf("expected media_type %q, got %q", "movie", cr.MediaType)
	}
	if len(cr.Genres) != 2 || cr.Genres[0] != 28 || cr.Genres[1] != 80 {
		t.Errorf("unexpected genres: %v", cr.Genres)
	}
	if len(cr.Providers) != 1 || cr.Providers[0] != 8 {
		t.Errorf("unexpected providers: %v", cr.Providers)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid vote message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Vote(t *testing.T) {
	input := []byte(`{"type":"vote","candidate_id":"tt-42","kind":"like"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeVote {
		t.Fatalf("expected type %q, got %q", TypeVote, msgType)
	}

	vm, ok := msg.(VoteMsg)
	if !ok {
		t.Fatalf("expected VoteMsg, got %T", msg)
	}
	if vm.CandidateID != "tt-42" {
		t.Errorf("expected candidate_id %q, got %q", "tt-42", vm.CandidateID)
	}
	if vm.Kind != "like" {
		t.Errorf("expected kind %q, got %q", "like", vm.Kind)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a match_found server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_MatchFound(t *testing.T) {
	payload := MatchFoundMsg{
		CandidateID: "tt-456",
		Title:       "Heat",
		ArtworkRef:  "/heat.jpg",
		DeclaredAt:  1700000000,
	}

	data, err := NewServerMessage(TypeMatchFound, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMatchFound {
		t.Errorf("expected type %q, got %v", TypeMatchFound, result["type"])
	}
	if result["candidate_id"] != "tt-456" {
		t.Errorf("expected candidate_id %q, got %v", "tt-456", result["candidate_id"])
	}
	if result["title"] != "Heat" {
		t.Errorf("expected title %q, got %v", "Heat", result["title"])
	}

	declared, ok := result["declared_at"].(float64)
	if !ok {
		t.Fatalf("expected declared_at to be a number, got %T", result["declared_at"])
	}
	if int64(declared) != 1700000000 {
		t.Errorf("expected declared_at 1700000000, got %v", declared)
	}
}

// ---------------------------------------------------------------------------
// Test: candidates message carries the deck slice in order
// ---------------------------------------------------------------------------

func TestNewServerMessage_Candidates(t *testing.T) {
	payload := CandidatesMsg{
		RoomCode: "4242",
		Cursor:   2,
		Candidates: []CandidateInfo{
			{ID: "tt-1", Title: "First", ArtworkRef: "/1.jpg", Score: 7.5},
			{ID: "tt-2", Title: "Second", ArtworkRef: "/2.jpg", Score: 6.1},
		},
	}

	data, err := NewServerMessage(TypeCandidates, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded CandidatesMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeCandidates {
		t.Errorf("expected type %q, got %q", TypeCandidates, decoded.Type)
	}
	if len(decoded.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(decoded.Candidates))
	}
	if decoded.Candidates[0].ID != "tt-1" || decoded.Candidates[1].ID != "tt-2" {
		t.Errorf("candidate order not preserved: %v", decoded.Candidates)
	}
	if decoded.Candidates[0].Score != 7.5 {
		t.Errorf("expected score 7.5, got %v", decoded.Candidates[0].Score)
	}
	if decoded.RoomCode != "4242" || decoded.Cursor != 2 {
		t.Errorf("expected room 4242 at cursor 2, got %q/%d", decoded.RoomCode, decoded.Cursor)
	}
}

// ---------------------------------------------------------------------------
// Test: vote_recorded carries the voter identity for the partner's feed
// ---------------------------------------------------------------------------

func TestNewServerMessage_VoteRecorded(t *testing.T) {
	payload := VoteRecordedMsg{
		RoomCode:    "4242",
		CandidateID: "tt-9",
		Kind:        "like",
		VoterID:     "sess-a",
		Ts:          1700000000,
	}

	data, err := NewServerMessage(TypeVoteRecorded, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded VoteRecordedMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeVoteRecorded {
		t.Errorf("expected type %q, got %q", TypeVoteRecorded, decoded.Type)
	}
	if decoded.VoterID != "sess-a" || decoded.Kind != "like" {
		t.Errorf("voter identity lost: %+v", decoded)
	}
	if decoded.RoomCode != "4242" || decoded.CandidateID != "tt-9" || decoded.Ts != 1700000000 {
		t.Errorf("vote context lost: %+v", decoded)
	}
	if decoded.Duplicate {
		t.Error("duplicate should default to false")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only types are rejected from clients
// ---------------------------------------------------------------------------

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"match_found","candidate_id":"tt-1"}`)

	_, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for a server-only message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"create_room", `{"type":"create_room","media_type":"tv"}`, TypeCreateRoom},
		{"join_room", `{"type":"join_room","code":"1234"}`, TypeJoinRoom},
		{"vote", `{"type":"vote","candidate_id":"tt-1","kind":"dislike"}`, TypeVote},
		{"next_candidates", `{"type":"next_candidates"}`, TypeNextCandidates},
		{"room_status", `{"type":"room_status"}`, TypeRoomStatus},
		{"leave_room", `{"type":"leave_room"}`, TypeLeaveRoom},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
