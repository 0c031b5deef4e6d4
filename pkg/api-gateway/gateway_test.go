package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/always-cache/apicache"
	transport "github.com/always-cache/apicache/pkg/http-transport"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	gateway *httptest.Server
	calls   atomic.Int64
	cache   *apicache.Client
	logs    *syncBuffer
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{logs: &syncBuffer{}}

	api := chi.NewRouter()
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.calls.Add(1)
			next.ServeHTTP(w, r)
		})
	})
	api.Get("/admin/clientes/api", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"nit":"0614"}]`))
	})
	api.Post("/admin/clientes", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write(b)
	})
	api.Get("/admin/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"clientes":1}`))
	})
	api.Post("/admin/api-keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Update", "/stats")
		w.WriteHeader(http.StatusCreated)
	})
	api.Get("/admin/dte/api/tiempo-real", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	api.Get("/admin/errores/api", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})
	api.Get("/admin/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	upstream := httptest.NewServer(api)
	t.Cleanup(upstream.Close)

	logger := zerolog.Nop()
	tr, err := transport.New(transport.Config{
		BaseURL:     upstream.URL + "/admin",
		Timeout:     50 * time.Millisecond,
		Credentials: true,
		Logger:      &logger,
	})
	require.NoError(t, err)

	f.cache, err = apicache.New(apicache.Config{Fetcher: tr, Logger: &logger})
	require.NoError(t, err)
	t.Cleanup(func() { f.cache.Close() })

	f.gateway = httptest.NewServer(New(f.cache, tr, zerolog.New(f.logs).Level(zerolog.DebugLevel)))
	t.Cleanup(f.gateway.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, string) {
	req, err := http.NewRequest(method, f.gateway.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(b)
}

func TestGetIsCached(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodGet, "/clientes/api", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[{"nit":"0614"}]`, body)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	assert.Equal(t, "ApiCache; fwd=uri-miss; stored", res.Header.Get(CacheStatusHeader))

	res, body = f.do(t, http.MethodGet, "/clientes/api", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[{"nit":"0614"}]`, body)
	assert.True(t, strings.HasPrefix(res.Header.Get(CacheStatusHeader), "ApiCache; hit"))
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestCacheBusterIsNotPartOfTheKey(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodGet, "/clientes/api?_t=1700000000001", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[{"nit":"0614"}]`, body)

	res, body = f.do(t, http.MethodGet, "/clientes/api?_t=1700000000002", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[{"nit":"0614"}]`, body)
	assert.True(t, strings.HasPrefix(res.Header.Get(CacheStatusHeader), "ApiCache; hit"))

	assert.EqualValues(t, 1, f.calls.Load())
	assert.Equal(t, 1, f.cache.Stats().Entries)
}

func TestCacheKey(t *testing.T) {
	testCases := []struct {
		url      string
		expected string
	}{
		{"/clientes/api", "/clientes/api"},
		{"/clientes/api?_t=1700000000001", "/clientes/api"},
		{"/clientes/api?ambiente=todos&_t=1", "/clientes/api?ambiente=todos"},
		{"/clientes/api?_t=1&b=2&a=1", "/clientes/api?b=2&a=1"},
		{"/clientes/api?_t", "/clientes/api"},
		{"/logs?q=a%2Cb&_t=5", "/logs?q=a%2Cb"},
	}
	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			u, err := url.Parse(tc.url)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, CacheKey(u))
		})
	}
}

func TestAccessLogRecordsErrorBody(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/clientes/api", "")
	assert.NotContains(t, f.logs.String(), `"error"`)

	res, _ := f.do(t, http.MethodGet, "/errores/api", "")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, f.logs.String(), `not found`)
}

func TestNoCacheForcesRefresh(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/clientes/api", "")

	req, err := http.NewRequest(http.MethodGet, f.gateway.URL+"/clientes/api", nil)
	require.NoError(t, err)
	req.Header.Set("Cache-Control", "no-cache")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()

	assert.Contains(t, res.Header.Get(CacheStatusHeader), "fwd=request")
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestWriteClearsResource(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/clientes/api", "")
	require.Equal(t, 1, f.cache.Stats().Entries)

	res, body := f.do(t, http.MethodPost, "/clientes", `{"nombre":"ACME"}`)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.JSONEq(t, `{"nombre":"ACME"}`, body)
	assert.Zero(t, f.cache.Stats().Entries)
}

func TestCacheUpdateHeaderRefetches(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/stats", "")
	f.do(t, http.MethodGet, "/clientes/api", "")

	res, body := f.do(t, http.MethodPost, "/api-keys", "")
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "null", body)

	// get, get, post and the refetch of /stats
	require.Eventually(t, func() bool { return f.calls.Load() == 4 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.cache.Stats().Entries == 2 }, time.Second, time.Millisecond)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodGet, "/dte/api/tiempo-real", "")
	assert.Equal(t, http.StatusGatewayTimeout, res.StatusCode)
	assert.Contains(t, body, "timed out")

	res, body = f.do(t, http.MethodGet, "/errores/api", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.JSONEq(t, `{"error":"not found"}`, body)

	res, _ = f.do(t, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// failures are never stored
	assert.Zero(t, f.cache.Stats().Entries)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/clientes/api", "")
	f.do(t, http.MethodGet, "/clientes/api", "")

	res, body := f.do(t, http.MethodGet, AdminPrefix+"/stats", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var stats apicache.Stats
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Entries)

	res, _ = f.do(t, http.MethodPost, AdminPrefix+"/invalidate", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = f.do(t, http.MethodPost, AdminPrefix+"/invalidate?url=/clientes/api", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Zero(t, f.cache.Stats().Entries)

	f.do(t, http.MethodGet, "/clientes/api", "")
	res, _ = f.do(t, http.MethodPost, AdminPrefix+"/clear", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Zero(t, f.cache.Stats().Entries)
}

func TestClosedCache(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Close())

	res, _ := f.do(t, http.MethodGet, "/clientes/api", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestResource(t *testing.T) {
	assert.Equal(t, "clientes", Resource("/clientes/0614/api"))
	assert.Equal(t, "api-keys", Resource("/api-keys"))
	assert.Equal(t, "", Resource("/"))
}
