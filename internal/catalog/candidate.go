// Package catalog provides candidate discovery for swipe decks. It wraps a
// TMDB-style discovery API behind a circuit breaker and layers a seeded
// random-page sampler on top, so that two parties in the same room can walk
// through an identical shuffled candidate stream.
package catalog

// Candidate is one swipeable title returned by the discovery upstream.
// Candidates are immutable once fetched; the only local state kept is the
// session's transient deck.
type Candidate struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	ArtworkRef string  `json:"artwork_ref"` // poster path, resolved by the UI layer
	Score      float64 `json:"score"`
}

// Filters describes a discovery query. It must resolve to a valid upstream
// request: MediaType is "movie" or "tv", genre and provider ids follow the
// upstream's numeric id space.
type Filters struct {
	Genres    []int
	Providers []int
	MediaType string
}
