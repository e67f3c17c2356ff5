package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/core/engine"
	"github.com/keyrotor/keyrotor/internal/core/keystore"
	"github.com/keyrotor/keyrotor/internal/server"
	"github.com/keyrotor/keyrotor/internal/server/handlers"
)

func newTestServer(t *testing.T, tpm int64) (*Client, *keystore.Store) {
	t.Helper()
	keys := keystore.New()
	limiter := engine.NewAggregateLimiter(tpm)
	selector := engine.NewSelector(keys, limiter, core.KeyLimits{PerMinute: 15, PerDay: 1500})
	srv := server.New("127.0.0.1", 0, handlers.NewKeyHandlers(keys, selector))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c := New(ts.URL + "/")
	c.HTTP = ts.Client()
	return c, keys
}

func TestClientLifecycle(t *testing.T) {
	c, keys := newTestServer(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "sk-one"))
	added, err := c.AddBulk(ctx, []string{"sk-two", "sk-three"})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 3, keys.Len())

	require.NoError(t, c.Deactivate(ctx, "sk-two"))
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.PoolStats{TotalKeys: 3, ActiveKeys: 2, InactiveKeys: 1}, stats)

	require.NoError(t, c.Reactivate(ctx, "sk-two"))
	require.NoError(t, c.Delete(ctx, "sk-three"))

	records, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	key, err := c.Next(ctx, core.SelectionAuto)
	require.NoError(t, err)
	assert.Contains(t, []string{"sk-one", "sk-two"}, key)
}

func TestClientMapsErrors(t *testing.T) {
	c, _ := newTestServer(t, 1)
	ctx := context.Background()

	err := c.Delete(ctx, "missing")
	require.ErrorIs(t, err, core.ErrKeyNotFound)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.NotEmpty(t, apiErr.RequestID)

	_, err = c.Next(ctx, core.SelectionAuto)
	require.ErrorIs(t, err, core.ErrNoAvailableKey)

	_, err = c.Next(ctx, core.SelectionAuto)
	require.ErrorIs(t, err, core.ErrRateLimitExceeded)

	err = c.Add(ctx, "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestCachedNextReusesKeyWithinTTL(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{"api_key":"first"}`))
			return
		}
		_, _ = w.Write([]byte(`{"api_key":"second"}`))
	}))
	defer ts.Close()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(ts.URL)
	c.HTTP = ts.Client()
	c.Clock = func() time.Time { return clock }
	ctx := context.Background()

	key, err := c.CachedNext(ctx, core.SelectionAuto)
	require.NoError(t, err)
	assert.Equal(t, "first", key)

	clock = clock.Add(400 * time.Millisecond)
	key, err = c.CachedNext(ctx, core.SelectionAuto)
	require.NoError(t, err)
	assert.Equal(t, "first", key)
	assert.Equal(t, int32(1), calls.Load())

	clock = clock.Add(200 * time.Millisecond)
	key, err = c.CachedNext(ctx, core.SelectionAuto)
	require.NoError(t, err)
	assert.Equal(t, "second", key)
	assert.Equal(t, int32(2), calls.Load())

	c.InvalidateCache()
	_, err = c.CachedNext(ctx, core.SelectionAuto)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCachedNextIsPerMode(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"api_key":"` + r.URL.Query().Get("mode") + `-key"}`))
	}))
	defer ts.Close()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(ts.URL)
	c.HTTP = ts.Client()
	c.Clock = func() time.Time { return clock }
	ctx := context.Background()

	key, err := c.CachedNext(ctx, core.SelectionAuto)
	require.NoError(t, err)
	assert.Equal(t, "auto-key", key)

	key, err = c.CachedNext(ctx, core.SelectionRandom)
	require.NoError(t, err)
	assert.Equal(t, "random-key", key)
	assert.Equal(t, int32(2), calls.Load())

	key, err = c.CachedNext(ctx, core.SelectionRandom)
	require.NoError(t, err)
	assert.Equal(t, "random-key", key)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNextSendsMode(t *testing.T) {
	var mode atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mode.Store(r.URL.Query().Get("mode"))
		_, _ = w.Write([]byte(`{"api_key":"k"}`))
	}))
	defer ts.Close()

	c := New(ts.URL)
	_, err := c.Next(context.Background(), core.SelectionRandom)
	require.NoError(t, err)
	assert.Equal(t, "random", mode.Load())
}

func TestLimiterCancelledContext(t *testing.T) {
	c := New("http://127.0.0.1:1")
	c.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, c.Limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Stats(ctx)
	require.Error(t, err)
}

func TestNewDefaultsBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("  ").BaseURL)
	assert.Equal(t, "http://pool:9000", New("http://pool:9000/").BaseURL)
}
