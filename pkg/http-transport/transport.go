package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// CacheBustParam is appended to every GET so that no HTTP cache between us and the API answers it.
	CacheBustParam = "_t"
	// RequestIDHeader carries a unique id for each outgoing request.
	RequestIDHeader = "X-Request-Id"

	DefaultTimeout   = 60 * time.Second
	DefaultLoginPath = "/login"
)

type Config struct {
	// Base URL of the API, including its path prefix,
	// e.g. http://localhost:8003/admin.
	BaseURL string
	// Deadline for each request, response body included.
	// Defaults to DefaultTimeout.
	Timeout time.Duration
	// Send session cookies with every request.
	Credentials bool
	// Requests whose path contains this are part of the login flow
	// and do not report 401s. Defaults to DefaultLoginPath.
	LoginPath string
	// HTTP client to use. A client with a logging round tripper is created if nil.
	HTTPClient *http.Client
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Transport issues JSON requests against the API.
type Transport struct {
	base      *url.URL
	client    *http.Client
	timeout   time.Duration
	loginPath string
	log       zerolog.Logger
}

// Response is a successful API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       json.RawMessage
}

func New(config Config) (*Transport, error) {
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	// use the global logger if not specified in config
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("component", "transport").
		Str("base", base.String()).
		Logger()

	var client http.Client
	if config.HTTPClient == nil {
		client = http.Client{Transport: newLoggingRoundTripper(nil, logger)}
	} else {
		client = *config.HTTPClient
	}
	if config.Credentials {
		if client.Jar == nil {
			jar, err := cookiejar.New(nil)
			if err != nil {
				return nil, fmt.Errorf("create cookie jar: %w", err)
			}
			client.Jar = jar
		}
	} else {
		client.Jar = nil
	}

	t := &Transport{
		base:      base,
		client:    &client,
		timeout:   config.Timeout,
		loginPath: config.LoginPath,
		log:       logger,
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.loginPath == "" {
		t.loginPath = DefaultLoginPath
	}
	return t, nil
}

// Get fetches ref and returns its JSON body.
func (t *Transport) Get(ctx context.Context, ref string) (json.RawMessage, error) {
	res, err := t.Do(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func (t *Transport) Post(ctx context.Context, ref string, body any) (*Response, error) {
	return t.Do(ctx, http.MethodPost, ref, body)
}

func (t *Transport) Put(ctx context.Context, ref string, body any) (*Response, error) {
	return t.Do(ctx, http.MethodPut, ref, body)
}

func (t *Transport) Delete(ctx context.Context, ref string) (*Response, error) {
	return t.Do(ctx, http.MethodDelete, ref, nil)
}

// Do sends a request to ref, resolved against the base URL.
// body is sent as JSON; json.RawMessage and []byte are sent unchanged.
// Any non-2xx status is returned as an *HTTPError (*AuthError for 401).
func (t *Transport) Do(ctx context.Context, method, ref string, body any) (*Response, error) {
	u, err := t.resolve(ref)
	if err != nil {
		return nil, err
	}
	if method == http.MethodGet {
		q := u.Query()
		q.Set(CacheBustParam, xid.New().String())
		u.RawQuery = q.Encode()
	}

	payload, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: encode body: %w", method, ref, err)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), payload)
	if err != nil {
		return nil, fmt.Errorf("%s %s: create request: %w", method, ref, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())

	res, err := t.client.Do(req)
	if err != nil {
		return nil, t.classify(parent, ctx, method, ref, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, t.classify(parent, ctx, method, ref, err)
	}

	if res.StatusCode == http.StatusUnauthorized {
		if !strings.Contains(u.Path, t.loginPath) {
			t.log.Warn().Str("method", method).Str("url", ref).Msg("Unauthorized request, session may have expired")
		}
		return nil, &AuthError{HTTPError{Method: method, URL: ref, StatusCode: res.StatusCode, Body: b}}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &HTTPError{Method: method, URL: ref, StatusCode: res.StatusCode, Body: b}
	}

	if len(bytes.TrimSpace(b)) == 0 {
		b = []byte("null")
	} else if !json.Valid(b) {
		return nil, fmt.Errorf("%s %s: %w", method, ref, ErrInvalidJSON)
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: json.RawMessage(b)}, nil
}

// resolve appends ref to the base URL. Absolute refs are used as they are.
func (t *Transport) resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r, nil
	}
	u := *t.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(r.Path, "/")
	u.RawPath = ""
	u.RawQuery = r.RawQuery
	u.Fragment = ""
	return &u, nil
}

// classify turns a failed round trip into a TimeoutError or a NetworkError.
// parent is the caller's context, ctx the one carrying the transport deadline.
func (t *Transport) classify(parent, ctx context.Context, method, ref string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		te := &TimeoutError{Method: method, URL: ref, Timeout: t.timeout, Err: err}
		// the caller's own deadline fired first
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			te.Timeout = 0
		}
		return te
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return &NetworkError{Method: method, URL: ref, Err: err}
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	case []byte:
		return bytes.NewReader(b), nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(encoded), nil
	}
}
