// Package metrics provides Prometheus instrumentation for the FlickPick
// matching service. It exposes gauges for connection and room counts,
// counters for vote and sampler throughput, and histograms for latency
// tracking.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flickpick_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flickpick_active_rooms",
		Help: "Current number of active rooms",
	})

	// VotesTotal counts accepted votes, labeled by kind: "like" or "dislike".
	VotesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flickpick_votes_total",
		Help: "Total number of accepted votes",
	}, []string{"kind"}) // kind = "like", "dislike"

	// DuplicateVotesTotal counts votes ignored because the ledger already
	// held a decision for the candidate.
	DuplicateVotesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flickpick_duplicate_votes_total",
		Help: "Total number of duplicate votes ignored",
	})

	// MatchesTotal counts declared matches.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flickpick_matches_total",
		Help: "Total number of matches declared",
	})

	// MatchDuration records the time from room creation to match declaration.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flickpick_match_duration_seconds",
		Help:    "Time from room creation to match declaration",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	})

	// VoteLatency records vote processing latency in seconds, ledger write
	// included.
	VoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flickpick_vote_latency_seconds",
		Help:    "Vote processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// SamplerRetriesTotal counts empty sampler pages that forced a redraw.
	SamplerRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flickpick_sampler_retries_total",
		Help: "Total number of sampler redraws after an empty page",
	})

	// DeckExhaustedTotal counts sessions that ran out of unseen candidates.
	DeckExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flickpick_deck_exhausted_total",
		Help: "Total number of deck exhaustion events",
	})

	// UpstreamErrorsTotal counts failed discovery catalog requests.
	UpstreamErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flickpick_upstream_errors_total",
		Help: "Total number of failed discovery catalog requests",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveRooms,
		VotesTotal,
		DuplicateVotesTotal,
		MatchesTotal,
		MatchDuration,
		VoteLatency,
		SamplerRetriesTotal,
		DeckExhaustedTotal,
		UpstreamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RoomGauge drives ActiveRooms from a set of tracked room codes. Match
// declaration and idle eviction can both fire for one room; the set keeps
// the gauge from decrementing twice.
type RoomGauge struct {
	mu    sync.Mutex
	codes map[string]struct{}
}

func NewRoomGauge() *RoomGauge {
	return &RoomGauge{codes: make(map[string]struct{})}
}

// Track registers a room and increments the gauge, once per code.
func (g *RoomGauge) Track(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.codes[code]; !ok {
		g.codes[code] = struct{}{}
		ActiveRooms.Inc()
	}
}

// Untrack drops a room and decrements the gauge. Untracking a room that was
// never tracked, or tracking it down twice, leaves the gauge untouched.
func (g *RoomGauge) Untrack(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.codes[code]; ok {
		delete(g.codes, code)
		ActiveRooms.Dec()
	}
}
