// Package screener is a Go SDK for the screener backend REST API: favorites,
// per-favorite history, top movers and ticker search.
package screener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"screener/internal/domain"
	"screener/internal/util"
)

// Order is the sort direction of a top-movers request.
type Order string

const (
	OrderDesc Order = "desc" // biggest gainers first
	OrderAsc  Order = "asc"  // biggest losers first
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Client provides a Go SDK for interacting with the screener API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets how many times GET requests are attempted and the first
// backoff delay.
func WithRetries(attempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.retries = attempts
		c.retryDelay = baseDelay
	}
}

// WithRateLimit spaces requests to perMinute; zero means unlimited.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) { c.limiter = util.NewRateLimiter(perMinute) }
}

// WithLogger sets the logger for request tracing.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new screener API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retries:    3,
		retryDelay: 200 * time.Millisecond,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

// Favorites lists the persisted favorites.
func (c *Client) Favorites(ctx context.Context) ([]domain.FavoriteSymbol, error) {
	var out []domain.FavoriteSymbol
	if err := c.do(ctx, http.MethodGet, "/api/v1/favorites", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddFavorite persists symbol. Adding an existing favorite fails with a 400
// StatusError.
func (c *Client) AddFavorite(ctx context.Context, symbol string) (domain.FavoriteSymbol, error) {
	var out domain.FavoriteSymbol
	body := map[string]string{"symbol": symbol}
	if err := c.do(ctx, http.MethodPost, "/api/v1/favorites", nil, body, &out); err != nil {
		return domain.FavoriteSymbol{}, err
	}
	return out, nil
}

// RemoveFavorite deletes symbol. Removing an unknown favorite fails with a
// 404 StatusError.
func (c *Client) RemoveFavorite(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/favorites/"+url.PathEscape(symbol), nil, nil, nil)
}

// FavoritesLive returns the backend's merged live snapshot of every favorite
// at interval.
func (c *Client) FavoritesLive(ctx context.Context, interval domain.Interval) ([]domain.Row, error) {
	q := url.Values{"interval": {string(interval)}}
	return c.rows(ctx, "/api/v1/favorites/live", q)
}

// History returns up to limit bars of symbol at interval, newest first.
func (c *Client) History(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Bar, error) {
	q := url.Values{
		"symbol":   {symbol},
		"interval": {string(interval)},
		"limit":    {strconv.Itoa(limit)},
	}
	var out []domain.Bar
	if err := c.do(ctx, http.MethodGet, "/api/v1/favorites/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Screener
// ---------------------------------------------------------------------------

// TopMovers returns up to limit screener rows at interval ordered by change
// percent.
func (c *Client) TopMovers(ctx context.Context, interval domain.Interval, limit int, order Order) ([]domain.Row, error) {
	q := url.Values{
		"interval": {string(interval)},
		"limit":    {strconv.Itoa(limit)},
		"sort":     {string(order)},
	}
	return c.rows(ctx, "/api/v1/screener/top-movers", q)
}

// Search queries the ticker index.
func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	var out []domain.SearchResult
	q := url.Values{"q": {query}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/screener/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// rows fetches loosely keyed records and normalizes them.
func (c *Client) rows(ctx context.Context, path string, q url.Values) ([]domain.Row, error) {
	var raw []map[string]any
	if err := c.do(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return nil, err
	}
	return domain.NormalizeRows(raw, c.log), nil
}

// do performs one API call. GETs are retried with backoff on transport
// errors and 5xx responses; other methods are attempted once.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	attempts := 1
	if method == http.MethodGet {
		attempts = c.retries
	}
	return util.Retry(ctx, attempts, c.retryDelay, func() error {
		err := c.once(ctx, method, path, q, body, out)
		var se *StatusError
		if ctx.Err() != nil || (errors.As(err, &se) && se.StatusCode < 500) {
			return util.Permanent(err)
		}
		return err
	})
}

func (c *Client) once(ctx context.Context, method, path string, q url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("api request", "method", method, "path", path, "status", resp.StatusCode,
		"request_id", reqID, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
