// Package middleware carries the HTTP cross-cutting layers: the
// read-through response cache and the per-caller rate limiter.
package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"license-service/internal/cache"
	"license-service/internal/util"
)

const cacheWriteTimeout = 2 * time.Second

// neverCache lists path prefixes whose responses must always be computed
// fresh.
var neverCache = []string{
	"/health",
	"/api/v1/auth",
	"/api/v1/licenses/activate",
	"/api/v1/licenses/deactivate",
}

type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// routeTTL overrides the default cache lifetime for a path prefix.
type routeTTL struct {
	prefix string
	ttl    time.Duration
}

// ResponseCache serves repeated GETs out of the shared cache. Only 200
// responses are stored; everything else passes through untouched.
type ResponseCache struct {
	cache  *cache.Cache
	ttl    time.Duration
	routes []routeTTL
}

func NewResponseCache(c *cache.Cache, ttl time.Duration) *ResponseCache {
	return &ResponseCache{cache: c, ttl: ttl}
}

// WithRouteTTL sets a TTL for paths under prefix; the longest matching
// prefix wins.
func (rc *ResponseCache) WithRouteTTL(prefix string, ttl time.Duration) *ResponseCache {
	rc.routes = append(rc.routes, routeTTL{prefix: prefix, ttl: ttl})
	return rc
}

func (rc *ResponseCache) ttlFor(path string) time.Duration {
	best := rc.ttl
	bestLen := -1
	for _, route := range rc.routes {
		if strings.HasPrefix(path, route.prefix) && len(route.prefix) > bestLen {
			best = route.ttl
			bestLen = len(route.prefix)
		}
	}
	return best
}

func (rc *ResponseCache) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || skipCache(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := rc.key(r)
		var cached cachedResponse
		if rc.cache.Get(r.Context(), key, &cached) {
			for name, values := range cached.Header {
				for _, v := range values {
					w.Header().Add(name, v)
				}
			}
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("X-Cache-Key", key)
			w.WriteHeader(cached.Status)
			w.Write(cached.Body)
			return
		}

		w.Header().Set("X-Cache", "MISS")
		w.Header().Set("X-Cache-Key", key)

		capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)

		if capture.status != http.StatusOK {
			return
		}

		entry := cachedResponse{
			Status: capture.status,
			Header: cacheableHeaders(w.Header()),
			Body:   capture.body.Bytes(),
		}
		// Fire and forget; the response is already on the wire.
		ttl := rc.ttlFor(r.URL.Path)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
			defer cancel()
			if !rc.cache.Set(ctx, key, entry, ttl) {
				util.Debug("response cache write skipped", zap.String("key", key))
			}
		}()
	})
}

// key identifies a cached response by caller, path, and query. The
// caller, path, and query ride in the key as plaintext so that pattern
// invalidation can evict affected responses by substring scan; the murmur
// hash suffix keeps the identity exact even where keyPart had to strip
// characters.
func (rc *ResponseCache) key(r *http.Request) string {
	caller := r.Header.Get("Authorization")
	if caller == "" {
		caller = r.RemoteAddr
	}
	h := murmur3.New128()
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.RawQuery))
	h.Write([]byte{0})
	h.Write([]byte(caller))
	h1, h2 := h.Sum128()
	return cache.Key(fmt.Sprintf("%s:%s:%s:%x%x",
		keyPart(caller), keyPart(r.URL.Path), keyPart(r.URL.RawQuery), h1, h2))
}

// keyPart replaces glob metacharacters and path separators so the store's
// pattern scan stays predictable.
func keyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '*', '?', '[', ']', '\\', ' ':
			return ':'
		}
		return r
	}, s)
}

func skipCache(path string) bool {
	for _, prefix := range neverCache {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func cacheableHeaders(h http.Header) http.Header {
	out := http.Header{}
	if ct := h.Get("Content-Type"); ct != "" {
		out.Set("Content-Type", ct)
	}
	return out
}
