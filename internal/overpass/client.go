// Package overpass fetches POI candidates for a bounding box from the
// Overpass API, trying a priority list of interchangeable mirrors with
// per-endpoint retry and backoff.
package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mapahead/internal/geo"
	"mapahead/internal/metrics"
	"mapahead/internal/model"
)

// ErrAllEndpointsExhausted is returned when every configured mirror has used
// up its retry budget for a query.
var ErrAllEndpointsExhausted = errors.New("all overpass endpoints exhausted")

// ErrUnknownCategory is returned for categories absent from the table.
var ErrUnknownCategory = errors.New("unknown poi category")

// DefaultEndpoints lists the public Overpass mirrors in priority order.
var DefaultEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"http://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
}

const (
	defaultMaxRetries   = 3
	defaultBaseTimeout  = 45 * time.Second
	defaultTimeoutStep  = 15 * time.Second
	defaultBackoffBase  = time.Second
	rateLimitDelay      = 5 * time.Second
	// Public mirrors throttle aggressively; queries are paced roughly one
	// per 750ms across all categories.
	defaultQueryInterval = 750 * time.Millisecond
)

// Client issues category queries against Overpass mirrors. It is safe for
// concurrent use; the shared limiter paces queries across goroutines.
type Client struct {
	endpoints   []string
	categories  map[string]Category
	http        *http.Client
	maxRetries  int
	baseTimeout time.Duration
	timeoutStep time.Duration
	backoffBase time.Duration
	limiter     *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints replaces the mirror priority list.
func WithEndpoints(endpoints ...string) Option {
	return func(c *Client) { c.endpoints = endpoints }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMaxRetries sets the per-endpoint attempt budget.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithAttemptTimeout sets the first-attempt timeout and the increase applied
// on each subsequent attempt.
func WithAttemptTimeout(base, step time.Duration) Option {
	return func(c *Client) { c.baseTimeout, c.timeoutStep = base, step }
}

// WithBackoffBase scales the exponential retry backoff; tests shrink it.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// WithQueryInterval sets the minimum spacing between upstream queries.
func WithQueryInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
		}
	}
}

// New creates a Client over the given category table.
func New(categories map[string]Category, opts ...Option) *Client {
	c := &Client{
		endpoints:   DefaultEndpoints,
		categories:  categories,
		http:        &http.Client{},
		maxRetries:  defaultMaxRetries,
		baseTimeout: defaultBaseTimeout,
		timeoutStep: defaultTimeoutStep,
		backoffBase: defaultBackoffBase,
		limiter:     rate.NewLimiter(rate.Every(defaultQueryInterval), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Categories returns the injected category table.
func (c *Client) Categories() map[string]Category { return c.categories }

// Display returns the human-readable name for a category key.
func (c *Client) Display(category string) string {
	if cat, ok := c.categories[category]; ok && cat.Display != "" {
		return cat.Display
	}
	return category
}

// Fetch queries one category within the bounding box. Mirrors are tried in
// priority order; each gets up to maxRetries attempts with exponential
// backoff before falling through to the next. The first parseable response
// wins even if earlier mirrors failed.
func (c *Client) Fetch(ctx context.Context, category string, box geo.BBox) ([]model.Candidate, error) {
	cat, ok := c.categories[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	query := buildQuery(cat.Query, box)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
endpoints:
	for _, endpoint := range c.endpoints {
		for attempt := 0; attempt < c.maxRetries; attempt++ {
			if attempt > 0 {
				metrics.OverpassRetries.Inc()
			}
			timeout := c.baseTimeout + time.Duration(attempt)*c.timeoutStep
			body, status, err := c.post(ctx, endpoint, query, timeout)
			switch {
			case err != nil:
				metrics.OverpassRequests.WithLabelValues(endpoint, "error").Inc()
				lastErr = fmt.Errorf("endpoint %s: %w", endpoint, err)
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if attempt < c.maxRetries-1 && !sleepCtx(ctx, c.backoff(attempt)) {
					return nil, ctx.Err()
				}
			case status == http.StatusOK:
				cands, perr := parseCandidates(body, category, cat)
				if perr != nil {
					// A mirror returning garbage will keep returning it;
					// move on instead of retrying.
					metrics.OverpassRequests.WithLabelValues(endpoint, "malformed").Inc()
					lastErr = fmt.Errorf("endpoint %s: %w", endpoint, perr)
					continue endpoints
				}
				metrics.OverpassRequests.WithLabelValues(endpoint, "ok").Inc()
				return cands, nil
			case status == http.StatusTooManyRequests:
				metrics.OverpassRequests.WithLabelValues(endpoint, "rate_limited").Inc()
				lastErr = fmt.Errorf("endpoint %s: rate limited", endpoint)
				if attempt < c.maxRetries-1 && !sleepCtx(ctx, rateLimitDelay) {
					return nil, ctx.Err()
				}
			case status == http.StatusBadRequest:
				metrics.OverpassRequests.WithLabelValues(endpoint, "bad_request").Inc()
				lastErr = fmt.Errorf("endpoint %s: bad request", endpoint)
				continue endpoints
			default:
				metrics.OverpassRequests.WithLabelValues(endpoint, "error").Inc()
				lastErr = fmt.Errorf("endpoint %s: status %d", endpoint, status)
				if status < 500 {
					continue endpoints
				}
				if attempt < c.maxRetries-1 && !sleepCtx(ctx, c.backoff(attempt)) {
					return nil, ctx.Err()
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllEndpointsExhausted, lastErr)
}

func (c *Client) post(ctx context.Context, endpoint, query string, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	return c.backoffBase * time.Duration(1<<attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// buildQuery substitutes the bounding box into the category template and
// wraps it in the standard Overpass envelope. `out center` makes way and
// relation results carry a representative center coordinate.
func buildQuery(template string, box geo.BBox) string {
	r := strings.NewReplacer(
		"{south}", formatCoord(box.South),
		"{west}", formatCoord(box.West),
		"{north}", formatCoord(box.North),
		"{east}", formatCoord(box.East),
	)
	return "[out:json][timeout:60];\n(\n" + r.Replace(template) + "\n);\nout center;\n"
}

func formatCoord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *overpassLatLon   `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type overpassLatLon struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// parseCandidates converts an Overpass JSON payload into candidates. Node
// elements carry coordinates directly; way and relation elements collapse to
// their center. Individual elements without usable coordinates are skipped
// and counted, never failing the whole fetch.
func parseCandidates(body []byte, category string, cat Category) ([]model.Candidate, error) {
	var resp overpassResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}

	cands := make([]model.Candidate, 0, len(resp.Elements))
	skipped := 0
	for _, el := range resp.Elements {
		lat, lon, ok := elementCoords(el)
		if !ok {
			skipped++
			continue
		}
		cands = append(cands, newCandidate(lat, lon, el.Tags, category, cat))
	}
	if skipped > 0 {
		metrics.MalformedElements.Add(float64(skipped))
		log.Printf("overpass: %s: skipped %d element(s) without coordinates", category, skipped)
	}
	return cands, nil
}

func elementCoords(el overpassElement) (float64, float64, bool) {
	if el.Type != "node" && el.Center != nil && el.Center.Lat != nil && el.Center.Lon != nil {
		return *el.Center.Lat, *el.Center.Lon, true
	}
	if el.Lat != nil && el.Lon != nil {
		return *el.Lat, *el.Lon, true
	}
	return 0, 0, false
}
