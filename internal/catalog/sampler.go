package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/flickpick/match-app/internal/metrics"
)

// ErrDeckExhausted is returned when the sampler could not find any unseen
// candidate within its retry budget. It is an empty-state condition for the
// UI, not a failure.
var ErrDeckExhausted = errors.New("catalog: deck exhausted")

// PageFetcher fetches one page of candidates from the discovery upstream.
// *Client satisfies this; tests substitute a fake.
type PageFetcher interface {
	FetchPage(ctx context.Context, filters Filters, page int) ([]Candidate, error)
}

// SamplerConfig bounds the random-page sampling.
type SamplerConfig struct {
	MaxPage     int // pages are drawn from [1, MaxPage]
	RetryBudget int // extra pages tried when a draw comes back empty
}

// DefaultSamplerConfig returns sensible defaults.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		MaxPage:     20,
		RetryBudget: 3,
	}
}

// Sampler draws candidate batches from pseudo-random upstream pages. The
// draw sequence and the in-page shuffle are fully determined by the room's
// (seed, cursor) pair, so every party in a room sees the exact same ordered
// stream for a given cursor value.
type Sampler struct {
	src    PageFetcher
	config SamplerConfig
}

// NewSampler creates a sampler over the given page source.
func NewSampler(src PageFetcher, config SamplerConfig) *Sampler {
	if config.MaxPage < 1 {
		config.MaxPage = 1
	}
	return &Sampler{src: src, config: config}
}

// NextBatch returns the next batch of unseen candidates for a room deck.
//
// seed is the room's deck seed and cursor the room's page cursor; together
// they fully determine which pages are drawn and how each page is shuffled.
// Candidates whose id is in exclude are filtered out after the shuffle, so
// the relative order of the survivors is identical for every caller even if
// their exclude sets differ.
//
// Returns the batch and the cursor value for the following batch. A
// transient upstream failure propagates as-is (errors.Is ErrUpstream);
// running out of unseen candidates within the retry budget returns
// ErrDeckExhausted.
func (s *Sampler) NextBatch(ctx context.Context, filters Filters, exclude map[string]struct{}, seed int64, cursor int) ([]Candidate, int, error) {
	rng := rand.New(rand.NewSource(deckSource(seed, cursor)))

	attempts := 1 + s.config.RetryBudget
	for i := 0; i < attempts; i++ {
		if i > 0 {
			metrics.SamplerRetriesTotal.Inc()
		}
		page := rng.Intn(s.config.MaxPage) + 1

		fetched, err := s.src.FetchPage(ctx, filters, page)
		if err != nil {
			return nil, cursor, fmt.Errorf("catalog: fetch page %d: %w", page, err)
		}

		// The fetcher owns the returned slice (a caching fetcher hands out
		// the same backing array to every caller), so shuffle a copy.
		candidates := append([]Candidate(nil), fetched...)

		// Shuffle before filtering: the shuffle consumes a deterministic
		// amount of randomness per page, so per-party exclude sets cannot
		// desynchronize the stream.
		rng.Shuffle(len(candidates), func(a, b int) {
			candidates[a], candidates[b] = candidates[b], candidates[a]
		})

		batch := candidates[:0:0]
		for _, c := range candidates {
			if _, seen := exclude[c.ID]; seen {
				continue
			}
			batch = append(batch, c)
		}

		if len(batch) > 0 {
			return batch, cursor + 1, nil
		}
	}

	return nil, cursor, ErrDeckExhausted
}

// deckSource mixes seed and cursor into a single RNG source. The constant is
// the 64-bit golden ratio used by splitmix-style mixers.
func deckSource(seed int64, cursor int) int64 {
	return seed ^ (int64(cursor)+1)*-0x61c8864680b583eb
}
