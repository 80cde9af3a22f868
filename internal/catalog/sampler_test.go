package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/flickpick/match-app/internal/metrics"
)

// fakeFetcher serves canned pages and records which pages were requested.
type fakeFetcher struct {
	pages     map[int][]Candidate
	err       error
	requested []int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, filters Filters, page int) ([]Candidate, error) {
	f.requested = append(f.requested, page)
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[page], nil
}

func makePage(prefix string, n int) []Candidate {
	page := make([]Candidate, n)
	for i := range page {
		page[i] = Candidate{ID: fmt.Sprintf("%s-%d", prefix, i), Title: fmt.Sprintf("Title %s %d", prefix, i)}
	}
	return page
}

func TestNextBatch_DeterministicForSameSeedAndCursor(t *testing.T) {
	pages := map[int][]Candidate{}
	for p := 1; p <= 20; p++ {
		pages[p] = makePage(fmt.Sprintf("p%d", p), 8)
	}

	a := NewSampler(&fakeFetcher{pages: pages}, DefaultSamplerConfig())
	b := NewSampler(&fakeFetcher{pages: pages}, DefaultSamplerConfig())

	batchA, nextA, err := a.NextBatch(context.Background(), Filters{}, nil, 42, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	batchB, nextB, err := b.NextBatch(context.Background(), Filters{}, nil, 42, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if nextA != 1 || nextB != 1 {
		t.Errorf("expected both cursors to advance to 1, got %d and %d", nextA, nextB)
	}
	if len(batchA) != len(batchB) {
		t.Fatalf("batch lengths differ: %d vs %d", len(batchA), len(batchB))
	}
	for i := range batchA {
		if batchA[i].ID != batchB[i].ID {
			t.Errorf("index %d: order diverged: %s vs %s", i, batchA[i].ID, batchB[i].ID)
		}
	}
}

func TestNextBatch_OrderStableUnderDifferentExcludes(t *testing.T) {
	pages := map[int][]Candidate{}
	for p := 1; p <= 20; p++ {
		pages[p] = makePage(fmt.Sprintf("p%d", p), 8)
	}

	a := NewSampler(&fakeFetcher{pages: pages}, DefaultSamplerConfig())
	b := NewSampler(&fakeFetcher{pages: pages}, DefaultSamplerConfig())

	full, _, err := a.NextBatch(context.Background(), Filters{}, nil, 7, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(full) < 2 {
		t.Fatalf("need at least 2 candidates, got %d", len(full))
	}

	// Exclude the first candidate; the remainder must keep its relative order.
	exclude := map[string]struct{}{full[0].ID: {}}
	filtered, _, err := b.NextBatch(context.Background(), Filters{}, exclude, 7, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(filtered) != len(full)-1 {
		t.Fatalf("expected %d candidates after exclusion, got %d", len(full)-1, len(filtered))
	}
	for i := range filtered {
		if filtered[i].ID != full[i+1].ID {
			t.Errorf("index %d: expected %s, got %s", i, full[i+1].ID, filtered[i].ID)
		}
	}
}

func TestNextBatch_ExcludedIDsNeverReturned(t *testing.T) {
	pages := map[int][]Candidate{1: makePage("p1", 10)}
	config := SamplerConfig{MaxPage: 1, RetryBudget: 0}
	s := NewSampler(&fakeFetcher{pages: pages}, config)

	exclude := map[string]struct{}{"p1-0": {}, "p1-3": {}, "p1-7": {}}
	batch, _, err := s.NextBatch(context.Background(), Filters{}, exclude, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batch) != 7 {
		t.Errorf("expected 7 candidates, got %d", len(batch))
	}
	for _, c := range batch {
		if _, bad := exclude[c.ID]; bad {
			t.Errorf("excluded candidate %s appeared in batch", c.ID)
		}
	}
}

func TestNextBatch_RetryBudgetThenExhausted(t *testing.T) {
	// Every page exists but every candidate is already seen.
	pages := map[int][]Candidate{}
	exclude := map[string]struct{}{}
	for p := 1; p <= 5; p++ {
		pages[p] = makePage(fmt.Sprintf("p%d", p), 3)
		for _, c := range pages[p] {
			exclude[c.ID] = struct{}{}
		}
	}

	fetcher := &fakeFetcher{pages: pages}
	s := NewSampler(fetcher, SamplerConfig{MaxPage: 5, RetryBudget: 3})

	before := testutil.ToFloat64(metrics.SamplerRetriesTotal)
	_, cursor, err := s.NextBatch(context.Background(), Filters{}, exclude, 99, 2)
	if !errors.Is(err, ErrDeckExhausted) {
		t.Fatalf("expected ErrDeckExhausted, got %v", err)
	}
	if cursor != 2 {
		t.Errorf("cursor must not advance on exhaustion, got %d", cursor)
	}
	if got := len(fetcher.requested); got != 4 {
		t.Errorf("expected 1 try + 3 retries = 4 fetches, got %d", got)
	}
	if got := testutil.ToFloat64(metrics.SamplerRetriesTotal) - before; got != 3 {
		t.Errorf("expected 3 counted retries, got %v", got)
	}
}

func TestNextBatch_DoesNotMutateFetcherPages(t *testing.T) {
	// A caching fetcher hands every caller the same backing array; the
	// sampler must shuffle its own copy.
	page := makePage("p1", 8)
	original := append([]Candidate(nil), page...)
	s := NewSampler(&fakeFetcher{pages: map[int][]Candidate{1: page}}, SamplerConfig{MaxPage: 1, RetryBudget: 0})

	if _, _, err := s.NextBatch(context.Background(), Filters{}, nil, 21, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range original {
		if page[i].ID != original[i].ID {
			t.Fatalf("fetcher page mutated at index %d: expected %s, got %s", i, original[i].ID, page[i].ID)
		}
	}
}

func TestNextBatch_UpstreamErrorPropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("boom: %w", ErrUpstream)}
	s := NewSampler(fetcher, DefaultSamplerConfig())

	_, cursor, err := s.NextBatch(context.Background(), Filters{}, nil, 1, 0)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if cursor != 0 {
		t.Errorf("cursor must not advance on upstream error, got %d", cursor)
	}
	if len(fetcher.requested) != 1 {
		t.Errorf("transient errors are not retried by the sampler, got %d fetches", len(fetcher.requested))
	}
}

func TestNextBatch_DifferentCursorsDrawDifferentStreams(t *testing.T) {
	pages := map[int][]Candidate{}
	for p := 1; p <= 20; p++ {
		pages[p] = makePage(fmt.Sprintf("p%d", p), 6)
	}
	s := NewSampler(&fakeFetcher{pages: pages}, DefaultSamplerConfig())

	seen := map[string]bool{}
	identical := 0
	var prev []Candidate
	for cursor := 0; cursor < 4; cursor++ {
		batch, next, err := s.NextBatch(context.Background(), Filters{}, nil, 1234, cursor)
		if err != nil {
			t.Fatalf("cursor %d: unexpected error: %v", cursor, err)
		}
		if next != cursor+1 {
			t.Errorf("cursor %d: expected next=%d, got %d", cursor, cursor+1, next)
		}
		if prev != nil && len(batch) == len(prev) && batch[0].ID == prev[0].ID {
			identical++
		}
		for _, c := range batch {
			seen[c.ID] = true
		}
		prev = batch
	}

	// Four consecutive cursors all drawing the same first candidate would
	// mean the cursor is not feeding the RNG.
	if identical == 3 {
		t.Error("every cursor produced an identical batch; cursor does not affect sampling")
	}
	if len(seen) == 0 {
		t.Error("no candidates sampled")
	}
}
