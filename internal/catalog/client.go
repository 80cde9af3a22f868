package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrUpstream marks a transient discovery failure (network error, 5xx,
// breaker open). Callers retry with backoff; it is never confused with a
// genuinely empty result page.
var ErrUpstream = errors.New("catalog: upstream unavailable")

// ClientConfig holds discovery upstream connection settings.
type ClientConfig struct {
	BaseURL string        // e.g. https://api.themoviedb.org/3
	APIKey  string        // upstream api key, sent as a query param
	Timeout time.Duration // per-request HTTP timeout

	// Circuit breaker tuning. The breaker trips after FailureThreshold
	// consecutive upstream failures and probes again after BreakerTimeout.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:          "https://api.themoviedb.org/3",
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// Client fetches candidate pages from the discovery upstream. All requests
// go through a circuit breaker so a dead upstream fails fast instead of
// stalling every coordinator in every room.
type Client struct {
	config  ClientConfig
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker[[]Candidate]
}

// NewClient creates a discovery client with the given configuration.
func NewClient(config ClientConfig) *Client {
	settings := gobreaker.Settings{
		Name:    "discovery",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[catalog] breaker %s: %s -> %s", name, from, to)
		},
	}

	return &Client{
		config:  config,
		httpc:   &http.Client{Timeout: config.Timeout},
		breaker: gobreaker.NewCircuitBreaker[[]Candidate](settings),
	}
}

// discoverResponse mirrors the upstream discovery payload. Only the fields
// the sampler needs are decoded.
type discoverResponse struct {
	Page    int `json:"page"`
	Results []struct {
		ID          int64   `json:"id"`
		Title       string  `json:"title"` // movies
		Name        string  `json:"name"`  // tv
		PosterPath  string  `json:"poster_path"`
		VoteAverage float64 `json:"vote_average"`
	} `json:"results"`
	TotalPages int `json:"total_pages"`
}

// FetchPage fetches one page of candidates matching the filters. An empty
// slice is a valid response (page beyond the result window); upstream
// failures are reported as ErrUpstream.
func (c *Client) FetchPage(ctx context.Context, filters Filters, page int) ([]Candidate, error) {
	candidates, err := c.breaker.Execute(func() ([]Candidate, error) {
		return c.fetchPage(ctx, filters, page)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: breaker open", ErrUpstream)
		}
		return nil, err
	}
	return candidates, nil
}

func (c *Client) fetchPage(ctx context.Context, filters Filters, page int) ([]Candidate, error) {
	mediaType := filters.MediaType
	if mediaType == "" {
		mediaType = "movie"
	}

	q := url.Values{}
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	if len(filters.Genres) > 0 {
		q.Set("with_genres", joinInts(filters.Genres, ","))
	}
	if len(filters.Providers) > 0 {
		q.Set("with_watch_providers", joinInts(filters.Providers, "|"))
	}
	q.Set("page", strconv.Itoa(page))

	reqURL := fmt.Sprintf("%s/discover/%s?%s", strings.TrimRight(c.config.BaseURL, "/"), mediaType, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var payload discoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}

	candidates := make([]Candidate, 0, len(payload.Results))
	for _, r := range payload.Results {
		title := r.Title
		if title == "" {
			title = r.Name
		}
		candidates = append(candidates, Candidate{
			ID:         strconv.FormatInt(r.ID, 10),
			Title:      title,
			ArtworkRef: r.PosterPath,
			Score:      r.VoteAverage,
		})
	}
	return candidates, nil
}

// BreakerState returns the breaker state as a string for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func joinInts(ids []int, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, sep)
}
