package transport

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// loggingRoundTripper traces every round trip.
type loggingRoundTripper struct {
	next http.RoundTripper
	log  zerolog.Logger
}

func newLoggingRoundTripper(next http.RoundTripper, logger zerolog.Logger) *loggingRoundTripper {
	if next == nil {
		next = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DisableKeepAlives:   false,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &loggingRoundTripper{next: next, log: logger}
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.log.Trace().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("requestId", req.Header.Get(RequestIDHeader)).
		Msg("Request started")

	res, err := t.next.RoundTrip(req)
	elapsed := time.Since(start)
	if err != nil {
		t.log.Debug().Err(err).
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Dur("elapsed", elapsed).
			Msg("Request failed")
		return nil, err
	}

	t.log.Trace().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", res.StatusCode).
		Dur("elapsed", elapsed).
		Msg("Request completed")
	return res, nil
}
