package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-service/internal/cache"
	"license-service/internal/client/clienttest"
)

func newCachedServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var hits atomic.Int64
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":true}`))
	})

	rc := NewResponseCache(cache.New(clienttest.New(), time.Minute), time.Minute)
	server := httptest.NewServer(rc.Handler(backend))
	t.Cleanup(server.Close)
	return server, &hits
}

func get(t *testing.T, url, auth string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestSecondGetServedFromCache(t *testing.T) {
	server, hits := newCachedServer(t, http.StatusOK)

	first := get(t, server.URL+"/api/v1/licenses/KEY", "token-1")
	assert.Equal(t, "MISS", first.Header.Get("X-Cache"))
	assert.NotEmpty(t, first.Header.Get("X-Cache-Key"))

	// The cache write is asynchronous.
	require.Eventually(t, func() bool {
		res := get(t, server.URL+"/api/v1/licenses/KEY", "token-1")
		return res.Header.Get("X-Cache") == "HIT"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), hits.Load())
}

func TestCallersDoNotShareCachedResponses(t *testing.T) {
	server, hits := newCachedServer(t, http.StatusOK)

	get(t, server.URL+"/api/v1/licenses/KEY", "token-1")
	second := get(t, server.URL+"/api/v1/licenses/KEY", "token-2")

	assert.Equal(t, "MISS", second.Header.Get("X-Cache"))
	assert.Equal(t, int64(2), hits.Load())
}

func TestQueryStringPartOfCacheKey(t *testing.T) {
	server, _ := newCachedServer(t, http.StatusOK)

	a := get(t, server.URL+"/api/v1/licenses?status=ACTIVE", "token-1")
	b := get(t, server.URL+"/api/v1/licenses?status=REVOKED", "token-1")

	assert.NotEqual(t, a.Header.Get("X-Cache-Key"), b.Header.Get("X-Cache-Key"))
}

func TestNonOKResponsesNotCached(t *testing.T) {
	server, hits := newCachedServer(t, http.StatusNotFound)

	get(t, server.URL+"/api/v1/licenses/KEY", "token-1")
	time.Sleep(50 * time.Millisecond)
	res := get(t, server.URL+"/api/v1/licenses/KEY", "token-1")

	assert.Equal(t, "MISS", res.Header.Get("X-Cache"))
	assert.Equal(t, int64(2), hits.Load())
}

func TestPostNeverCached(t *testing.T) {
	server, hits := newCachedServer(t, http.StatusOK)

	for i := 0; i < 2; i++ {
		res, err := http.Post(server.URL+"/api/v1/licenses", "application/json", nil)
		require.NoError(t, err)
		res.Body.Close()
		assert.Empty(t, res.Header.Get("X-Cache"))
	}
	assert.Equal(t, int64(2), hits.Load())
}

func TestRouteTTLLongestPrefixWins(t *testing.T) {
	rc := NewResponseCache(cache.New(clienttest.New(), time.Minute), time.Minute).
		WithRouteTTL("/api/v1/licenses", 30*time.Second).
		WithRouteTTL("/api/v1/licenses/search", 2*time.Minute)

	assert.Equal(t, 30*time.Second, rc.ttlFor("/api/v1/licenses/KEY"))
	assert.Equal(t, 2*time.Minute, rc.ttlFor("/api/v1/licenses/search"))
	assert.Equal(t, time.Minute, rc.ttlFor("/api/v1/users/u-1"))
}

func TestInvalidatePatternEvictsCachedResponse(t *testing.T) {
	store := clienttest.New()

	var hits atomic.Int64
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	rc := NewResponseCache(cache.New(store, time.Minute), time.Minute)
	server := httptest.NewServer(rc.Handler(backend))
	t.Cleanup(server.Close)

	first := get(t, server.URL+"/api/v1/licenses/LIC-TEST-0001", "token-1")
	assert.Equal(t, "MISS", first.Header.Get("X-Cache"))

	require.Eventually(t, func() bool {
		res := get(t, server.URL+"/api/v1/licenses/LIC-TEST-0001", "token-1")
		return res.Header.Get("X-Cache") == "HIT"
	}, 2*time.Second, 10*time.Millisecond)

	removed, err := cache.NewInvalidator(store).InvalidatePattern(context.Background(), "LIC-TEST-0001")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(1))

	res := get(t, server.URL+"/api/v1/licenses/LIC-TEST-0001", "token-1")
	assert.Equal(t, "MISS", res.Header.Get("X-Cache"))
}

func TestHealthEndpointNeverCached(t *testing.T) {
	server, hits := newCachedServer(t, http.StatusOK)

	get(t, server.URL+"/health", "")
	time.Sleep(50 * time.Millisecond)
	res := get(t, server.URL+"/health", "")

	assert.Empty(t, res.Header.Get("X-Cache"))
	assert.Equal(t, int64(2), hits.Load())
}
