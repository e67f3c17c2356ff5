// Package client is a typed HTTP client for a running keyrotor server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keyrotor/keyrotor/internal/core"
	apperrors "github.com/keyrotor/keyrotor/internal/errors"
	"github.com/keyrotor/keyrotor/internal/server/handlers"
)

// DefaultBaseURL is where the CLI looks for a server when none is given.
const DefaultBaseURL = "http://localhost:8080"

// DefaultCacheTTL is how long CachedNext reuses a handed-out key.
const DefaultCacheTTL = 500 * time.Millisecond

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("keyrotor server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("keyrotor server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is lets callers match server responses against the core sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case core.ErrKeyNotFound:
		return e.StatusCode == http.StatusNotFound
	case core.ErrRateLimitExceeded:
		return e.StatusCode == http.StatusTooManyRequests
	case core.ErrNoAvailableKey:
		return e.StatusCode == http.StatusServiceUnavailable && e.Code == apperrors.CodeNoAvailableKey
	}
	return false
}

// Client talks to the pool endpoints.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// Limiter throttles outgoing requests when set.
	Limiter *rate.Limiter

	// CacheTTL bounds CachedNext reuse. Zero uses DefaultCacheTTL.
	CacheTTL time.Duration
	Clock    func() time.Time

	mu         sync.Mutex
	cached     string
	cachedMode core.SelectionMode
	cachedAt   time.Time
}

// New returns a client for baseURL.
func New(baseURL string) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Add inserts or overwrites one key.
func (c *Client) Add(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/add", handlers.AddKeyRequest{Key: key}, nil)
}

// AddBulk inserts or overwrites every key in one request.
func (c *Client) AddBulk(ctx context.Context, keys []string) (int, error) {
	var resp handlers.AddKeysResponse
	if err := c.do(ctx, http.MethodPost, "/add_bulk", handlers.AddBulkRequest{Keys: keys}, &resp); err != nil {
		return 0, err
	}
	return resp.Added, nil
}

// Delete removes a key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/delete/"+url.PathEscape(key), nil, nil)
}

// Deactivate retires a key.
func (c *Client) Deactivate(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/deactivate/"+url.PathEscape(key), nil, nil)
}

// Reactivate returns a key to service.
func (c *Client) Reactivate(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/reactivate/"+url.PathEscape(key), nil, nil)
}

// List returns every record in creation order.
func (c *Client) List(ctx context.Context) ([]core.KeyRecord, error) {
	var resp handlers.KeysResponse
	if err := c.do(ctx, http.MethodGet, "/keys", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// Stats returns key counts by status.
func (c *Client) Stats(ctx context.Context) (core.PoolStats, error) {
	var stats core.PoolStats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &stats)
	return stats, err
}

// Next asks the server for a key under mode.
func (c *Client) Next(ctx context.Context, mode core.SelectionMode) (string, error) {
	path := "/next"
	if mode != "" {
		path += "?mode=" + url.QueryEscape(string(mode))
	}
	var resp handlers.NextKeyResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.APIKey, nil
}

// CachedNext returns the last key handed out under the same mode if it is
// younger than the cache TTL, otherwise it calls Next. Bursts of callers then
// share one selection. A call under another mode replaces the cached key.
func (c *Client) CachedNext(ctx context.Context, mode core.SelectionMode) (string, error) {
	mode = core.ParseSelectionMode(string(mode))

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.cached != "" && c.cachedMode == mode && now.Sub(c.cachedAt) < c.cacheTTL() {
		return c.cached, nil
	}

	key, err := c.Next(ctx, mode)
	if err != nil {
		return "", err
	}
	c.cached = key
	c.cachedMode = mode
	c.cachedAt = now
	return key, nil
}

// InvalidateCache drops the CachedNext key, e.g. after the upstream rejected it.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = ""
	c.cachedMode = ""
	c.cachedAt = time.Time{}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.RequestID = body.Error.RequestID
	}
	return apiErr
}

func (c *Client) cacheTTL() time.Duration {
	if c.CacheTTL > 0 {
		return c.CacheTTL
	}
	return DefaultCacheTTL
}

func (c *Client) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrKeyNotFound)
}
