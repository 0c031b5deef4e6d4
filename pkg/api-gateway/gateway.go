// Package gateway serves the response cache over HTTP.
//
// Reads go through the cache, writes go straight to the API and then
// clear the cached entries of the resource they touched.
// URLs listed in a Cache-Update header of a write response are refetched as well.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/always-cache/apicache"
	cacheupdate "github.com/always-cache/apicache/pkg/cache-update"
	transport "github.com/always-cache/apicache/pkg/http-transport"
	tee "github.com/always-cache/apicache/pkg/response-writer-tee"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	// AdminPrefix is the path prefix of the cache management routes.
	AdminPrefix = "/.apicache"

	CacheStatusHeader = "Cache-Status"
)

// Upstream sends uncached requests to the API.
type Upstream interface {
	Do(ctx context.Context, method, ref string, body any) (*transport.Response, error)
}

type Gateway struct {
	cache    *apicache.Client
	upstream Upstream
	log      zerolog.Logger
	router   chi.Router
}

func New(cache *apicache.Client, upstream Upstream, logger zerolog.Logger) *Gateway {
	g := &Gateway{
		cache:    cache,
		upstream: upstream,
		log:      logger.With().Str("component", "gateway").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(g.accessLog)

	r.Route(AdminPrefix, func(r chi.Router) {
		r.Get("/stats", g.handleStats)
		r.Post("/clear", g.handleClear)
		r.Post("/invalidate", g.handleInvalidate)
	})

	r.Get("/*", g.handleGet)
	r.Post("/*", g.handleWrite)
	r.Put("/*", g.handleWrite)
	r.Patch("/*", g.handleWrite)
	r.Delete("/*", g.handleWrite)

	g.router = r
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request) {
	var opts []apicache.GetOption
	if strings.Contains(r.Header.Get("Cache-Control"), "no-cache") {
		opts = append(opts, apicache.WithForceRefresh())
	}

	v, cs, err := g.cache.GetWithStatus(r.Context(), CacheKey(r.URL), opts...)
	w.Header().Set(CacheStatusHeader, cs.String())
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (g *Gateway) handleWrite(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var body any
	if len(b) > 0 {
		body = json.RawMessage(b)
	}

	ref := r.URL.RequestURI()
	res, err := g.upstream.Do(r.Context(), r.Method, ref, body)
	if err != nil {
		g.writeError(w, err)
		return
	}

	if resource := Resource(r.URL.Path); resource != "" {
		if err := g.cache.Clear(resource); err != nil {
			g.log.Warn().Err(err).Str("resource", resource).Msg("Could not clear entries after write")
		}
	}
	for _, update := range cacheupdate.Parse(ref, res.Header) {
		g.applyUpdate(update)
	}
	writeJSON(w, res.StatusCode, res.Body)
}

// applyUpdate drops the entry and refetches it once the delay has passed.
func (g *Gateway) applyUpdate(update cacheupdate.CacheUpdate) {
	if err := g.cache.Invalidate(update.URL); err != nil {
		g.log.Warn().Err(err).Str("url", update.URL).Msg("Could not invalidate entry")
		return
	}
	g.log.Trace().Str("url", update.URL).Dur("delay", update.Delay).Msg("Scheduling update")
	if update.Delay <= 0 {
		g.cache.Prefetch(update.URL)
		return
	}
	time.AfterFunc(update.Delay, func() {
		g.cache.Prefetch(update.URL)
	})
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	b, err := json.Marshal(g.cache.Stats())
	if err != nil {
		g.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (g *Gateway) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := g.cache.Clear(r.URL.Query().Get("pattern")); err != nil {
		g.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("url")
	if ref == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if err := g.cache.Invalidate(ref); err != nil {
		g.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps lookup failures to gateway responses.
// API errors keep their status and body.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	var httpErr *transport.HTTPError
	var authErr *transport.AuthError
	switch {
	case transport.IsTimeout(err):
		writeErrorJSON(w, http.StatusGatewayTimeout, err)
	case errors.Is(err, apicache.ErrClosed):
		writeErrorJSON(w, http.StatusServiceUnavailable, err)
	case errors.As(err, &authErr):
		writeUpstreamError(w, &authErr.HTTPError, err)
	case errors.As(err, &httpErr):
		writeUpstreamError(w, httpErr, err)
	default:
		writeErrorJSON(w, http.StatusBadGateway, err)
	}
}

func writeUpstreamError(w http.ResponseWriter, httpErr *transport.HTTPError, err error) {
	if json.Valid(httpErr.Body) {
		writeJSON(w, httpErr.StatusCode, httpErr.Body)
		return
	}
	writeErrorJSON(w, httpErr.StatusCode, err)
}

func writeErrorJSON(w http.ResponseWriter, status int, err error) {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	writeJSON(w, status, b)
}

func writeJSON(w http.ResponseWriter, status int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

// CacheKey returns the lookup key of a request: its path and query,
// without the cache buster clients add to every GET.
// The remaining query is kept byte for byte.
func CacheKey(u *url.URL) string {
	if u.RawQuery == "" {
		return u.EscapedPath()
	}
	params := strings.Split(u.RawQuery, "&")
	kept := params[:0]
	for _, param := range params {
		name, _, _ := strings.Cut(param, "=")
		if name == transport.CacheBustParam {
			continue
		}
		kept = append(kept, param)
	}
	if len(kept) == 0 {
		return u.EscapedPath()
	}
	return u.EscapedPath() + "?" + strings.Join(kept, "&")
}

// Resource returns the first segment of path, e.g. "clientes" for "/clientes/0614/api".
func Resource(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}

func (g *Gateway) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := tee.NewRecorder(w, http.StatusBadRequest)
		next.ServeHTTP(rec, r)
		evt := g.log.Debug()
		if body := rec.Body(); len(body) > 0 {
			evt = evt.Bytes("error", body)
		}
		evt.
			Str("method", r.Method).
			Str("url", r.URL.RequestURI()).
			Int("status", rec.StatusCode()).
			Int("bytes", rec.BytesWritten()).
			Str("cacheStatus", rec.Header().Get(CacheStatusHeader)).
			Dur("elapsed", rec.Elapsed()).
			Msg("Served")
	})
}
