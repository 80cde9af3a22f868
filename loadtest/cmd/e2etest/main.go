// Package main implements a standalone end-to-end integration test for the
// FlickPick matching service. It validates the full party journey against a
// running stack: health checks, WebSocket handshake, room creation and join,
// candidate delivery, crossed likes declaring exactly one match, and error
// paths.
//
// The server must be running with a reachable candidate catalog (or a stub
// via TMDB_BASE_URL) for the matching scenario to pass.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080/ws] [-api http://localhost:8080] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flickpick/match-app/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== FlickPick E2E Integration Test ===")
	fmt.Printf("Server: %s\n\n", *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var results []scenarioResult

	// Run scenarios sequentially.
	results = append(results, scenario1HealthCheck(ctx, *apiBase))
	results = append(results, scenario2ConnectHandshake(ctx, *wsURL))
	results = append(results, scenario3MatchJourney(ctx, *wsURL))
	results = append(results, scenario4UnknownRoom(ctx, *wsURL))

	// Optional scenarios (non-fatal).
	results = append(results, scenario5RateLimiting(ctx, *wsURL))

	// Summary.
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: health and metrics endpoints
// ---------------------------------------------------------------------------

func scenario1HealthCheck(ctx context.Context, apiBase string) scenarioResult {
	const name = "health and metrics endpoints"

	body, err := httpGetBody(ctx, apiBase+"/health")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(body), &health); err != nil || health.Status != "ok" {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health status=%q", health.Status)}
	}

	metricsBody, err := httpGetBody(ctx, apiBase+"/metrics")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	if !strings.Contains(metricsBody, "flickpick_connections_total") {
		return scenarioResult{name, resultFail, "/metrics: missing flickpick_connections_total"}
	}

	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 2: WebSocket handshake
// ---------------------------------------------------------------------------

func scenario2ConnectHandshake(ctx context.Context, wsURL string) scenarioResult {
	const name = "websocket connect and session handshake"

	c, err := client.New(ctx, wsURL)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer c.Close()

	handshakeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.WaitForSession(handshakeCtx); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("no session_created: %v", err)}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("session=%s", c.SessionID()[:8])}
}

// ---------------------------------------------------------------------------
// Scenario 3: full match journey
// ---------------------------------------------------------------------------

func scenario3MatchJourney(ctx context.Context, wsURL string) scenarioResult {
	const name = "create, join, crossed likes declare one match"

	creator, err := client.New(ctx, wsURL)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("creator dial: %v", err)}
	}
	defer creator.Close()

	joiner, err := client.New(ctx, wsURL)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("joiner dial: %v", err)}
	}
	defer joiner.Close()

	handshakeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := creator.WaitForSession(handshakeCtx); err != nil {
		return scenarioResult{name, resultFail, "creator handshake failed"}
	}
	if err := joiner.WaitForSession(handshakeCtx); err != nil {
		return scenarioResult{name, resultFail, "joiner handshake failed"}
	}

	roomCode := make(chan string, 1)
	creatorCands := make(chan []client.Candidate, 4)
	joinerCands := make(chan []client.Candidate, 4)
	partnerJoined := make(chan struct{}, 1)
	creatorMatch := make(chan string, 4)
	joinerMatch := make(chan string, 4)
	var creatorMatches, joinerMatches int32

	creator.On(client.TypeRoomCreated, func(raw json.RawMessage) {
		var msg struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(raw, &msg) == nil {
			roomCode <- msg.Code
		}
	})
	creator.On(client.TypeCandidates, candidateHandler(creatorCands))
	creator.On(client.TypePartnerJoined, func(json.RawMessage) {
		select {
		case partnerJoined <- struct{}{}:
		default:
		}
	})
	creator.On(client.TypeMatchFound, matchHandler(creatorMatch, &creatorMatches))

	joiner.On(client.TypeCandidates, candidateHandler(joinerCands))
	joiner.On(client.TypeMatchFound, matchHandler(joinerMatch, &joinerMatches))

	// Creator opens a room.
	if err := creator.CreateRoom("movie", []int{35}); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("create_room: %v", err)}
	}
	var code string
	select {
	case code = <-roomCode:
	case <-time.After(5 * time.Second):
		return scenarioResult{name, resultFail, "no room_created within 5s"}
	}

	var creatorDeck []client.Candidate
	select {
	case creatorDeck = <-creatorCands:
	case <-time.After(10 * time.Second):
		return scenarioResult{name, resultFail, "creator received no candidates (catalog reachable?)"}
	}
	if len(creatorDeck) == 0 {
		return scenarioResult{name, resultFail, "creator candidate list empty"}
	}

	// Joiner enters by code.
	if err := joiner.JoinRoom(code); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("join_room: %v", err)}
	}
	select {
	case <-partnerJoined:
	case <-time.After(5 * time.Second):
		return scenarioResult{name, resultFail, "creator never saw partner_joined"}
	}

	var joinerDeck []client.Candidate
	select {
	case joinerDeck = <-joinerCands:
	case <-time.After(10 * time.Second):
		return scenarioResult{name, resultFail, "joiner received no candidates"}
	}

	// Both parties regenerate the same deck from the room seed, so their
	// deck heads must agree.
	if len(joinerDeck) == 0 || joinerDeck[0].ID != creatorDeck[0].ID {
		return scenarioResult{name, resultFail, "parties saw different deck heads"}
	}

	// Crossed likes on the shared first candidate.
	target := creatorDeck[0].ID
	if err := creator.Vote(target, "like"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("creator vote: %v", err)}
	}
	if err := joiner.Vote(target, "like"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("joiner vote: %v", err)}
	}

	var matchedID string
	select {
	case matchedID = <-creatorMatch:
	case <-time.After(10 * time.Second):
		return scenarioResult{name, resultFail, "creator received no match_found"}
	}
	select {
	case joinerID := <-joinerMatch:
		if joinerID != matchedID {
			return scenarioResult{name, resultFail, "parties matched on different candidates"}
		}
	case <-time.After(10 * time.Second):
		return scenarioResult{name, resultFail, "joiner received no match_found"}
	}
	if matchedID != target {
		return scenarioResult{name, resultFail, fmt.Sprintf("matched %s, expected %s", matchedID, target)}
	}

	// Give any erroneous duplicate declarations time to arrive.
	time.Sleep(2 * time.Second)
	if n := atomic.LoadInt32(&creatorMatches); n != 1 {
		return scenarioResult{name, resultFail, fmt.Sprintf("creator saw %d match_found events", n)}
	}
	if n := atomic.LoadInt32(&joinerMatches); n != 1 {
		return scenarioResult{name, resultFail, fmt.Sprintf("joiner saw %d match_found events", n)}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("room=%s matched=%s", code, matchedID)}
}

// ---------------------------------------------------------------------------
// Scenario 4: joining an unknown room fails cleanly
// ---------------------------------------------------------------------------

func scenario4UnknownRoom(ctx context.Context, wsURL string) scenarioResult {
	const name = "join with unknown code returns room_not_found"

	c, err := client.New(ctx, wsURL)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer c.Close()

	handshakeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.WaitForSession(handshakeCtx); err != nil {
		return scenarioResult{name, resultFail, "handshake failed"}
	}

	errCode := make(chan string, 1)
	c.On(client.TypeError, func(raw json.RawMessage) {
		var msg struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(raw, &msg) == nil {
			select {
			case errCode <- msg.Code:
			default:
			}
		}
	})

	if err := c.JoinRoom("0000"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("join_room: %v", err)}
	}

	select {
	case code := <-errCode:
		if code != "room_not_found" {
			return scenarioResult{name, resultFail, fmt.Sprintf("error code=%s", code)}
		}
	case <-time.After(5 * time.Second):
		return scenarioResult{name, resultFail, "no error response within 5s"}
	}

	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 5: rate limiting (optional)
// ---------------------------------------------------------------------------

func scenario5RateLimiting(ctx context.Context, wsURL string) scenarioResult {
	const name = "room creation rate limiting"

	c, err := client.New(ctx, wsURL)
	if err != nil {
		return scenarioResult{name, resultInfo, err.Error()}
	}
	defer c.Close()

	handshakeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.WaitForSession(handshakeCtx); err != nil {
		return scenarioResult{name, resultInfo, "handshake failed"}
	}

	limited := make(chan struct{}, 1)
	c.On(client.TypeRateLimited, func(json.RawMessage) {
		select {
		case limited <- struct{}{}:
		default:
		}
	})

	// The first create binds the session to a room; subsequent creates are
	// rejected as already_in_room but still count against the limiter.
	for i := 0; i < 10; i++ {
		if err := c.CreateRoom("movie", nil); err != nil {
			return scenarioResult{name, resultInfo, fmt.Sprintf("send %d failed: %v", i, err)}
		}
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-limited:
		return scenarioResult{name, resultPass, ""}
	case <-time.After(5 * time.Second):
		return scenarioResult{name, resultInfo, "no rate_limited within 5s (limit may be higher)"}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func candidateHandler(ch chan []client.Candidate) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		var msg struct {
			Candidates []client.Candidate `json:"candidates"`
		}
		if json.Unmarshal(raw, &msg) == nil && len(msg.Candidates) > 0 {
			select {
			case ch <- msg.Candidates:
			default:
			}
		}
	}
}

func matchHandler(ch chan string, counter *int32) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		atomic.AddInt32(counter, 1)
		var msg struct {
			CandidateID string `json:"candidate_id"`
		}
		if json.Unmarshal(raw, &msg) == nil {
			select {
			case ch <- msg.CandidateID:
			default:
			}
		}
	}
}

func httpGetBody(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
