package apicache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/always-cache/apicache/cache"
	cachepolicy "github.com/always-cache/apicache/pkg/cache-policy"
	cachestatus "github.com/always-cache/apicache/pkg/cache-status"
	transport "github.com/always-cache/apicache/pkg/http-transport"
	dedup "github.com/always-cache/apicache/pkg/request-dedup"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("apicache: client is closed")

type Config struct {
	// Performs the network calls. Usually a *transport.Transport.
	Fetcher Fetcher
	// Storage for cache entries. An in-memory store is used if nil.
	Store cache.Store
	// Rules for classifying URLs. The default rules are used if nil.
	Rules *cachepolicy.Rules
	// URLs to prefetch on start and to refresh every RefreshInterval.
	Warm []string
	// Interval for refreshing the warm URLs. Zero disables refreshing.
	RefreshInterval time.Duration
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Clock used for entry timestamps and freshness. time.Now if nil.
	Now func() time.Time
}

// Client is the response cache sitting between callers and the API.
// It owns the entry store and the table of requests in flight;
// both live exactly as long as the client.
//
// Cached values are shared between callers and must not be modified.
type Client struct {
	fetcher Fetcher
	store   cache.Store
	rules   cachepolicy.Rules
	flights dedup.Group[flight]
	log     zerolog.Logger

	// writeMu orders store writes of flights against invalidations.
	// inflight holds the keys being fetched; true once invalidated during the fetch.
	writeMu  sync.Mutex
	inflight map[string]bool
	now     func() time.Time

	warm            []string
	refreshInterval time.Duration

	stats  counters
	mu     sync.Mutex // guards closing against new background work
	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the client.
// It prefetches the warm URLs and starts the refresh loop if configured;
// call Close to stop it.
func New(config Config) (*Client, error) {
	if config.Fetcher == nil {
		return nil, errors.New("apicache: fetcher is required")
	}

	// use the global logger if not specified in config
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "apicache").Logger()

	c := &Client{
		fetcher:         config.Fetcher,
		store:           config.Store,
		rules:           cachepolicy.DefaultRules(),
		log:             logger,
		now:             config.Now,
		warm:            config.Warm,
		refreshInterval: config.RefreshInterval,
		inflight:        make(map[string]bool),
	}
	if c.store == nil {
		c.store = cache.NewMemStore()
	}
	if config.Rules != nil {
		c.rules = *config.Rules
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for _, url := range c.warm {
		c.Prefetch(url)
	}
	if c.refreshInterval > 0 && len(c.warm) > 0 {
		c.goBackground(c.refreshLoop)
	}

	return c, nil
}

type getOptions struct {
	forceRefresh bool
	ttl          *time.Duration
}

type GetOption func(*getOptions)

// WithForceRefresh skips the stored entry, fresh or not.
// A request already in flight for the URL is still joined.
func WithForceRefresh() GetOption {
	return func(o *getOptions) {
		o.forceRefresh = true
	}
}

// WithTTL overrides the TTL the rules would give the URL.
// It has no effect on URLs that bypass the cache.
func WithTTL(ttl time.Duration) GetOption {
	return func(o *getOptions) {
		o.ttl = &ttl
	}
}

// Get returns the JSON value for url, from the store when it is fresh enough
// and from the network otherwise.
func (c *Client) Get(ctx context.Context, url string, opts ...GetOption) (json.RawMessage, error) {
	v, _, err := c.GetWithStatus(ctx, url, opts...)
	return v, err
}

// GetWithStatus is Get, also reporting how the lookup was handled.
//
// Lookups go through these steps:
//   - URLs classified as bypass always go to the network and are never stored
//   - a stored entry younger than the TTL is returned, unless a refresh is forced
//   - otherwise the fetch is shared with any request in flight for the same URL
//   - a successful fetch is stored before it is handed out; failures are never stored
func (c *Client) GetWithStatus(ctx context.Context, url string, opts ...GetOption) (json.RawMessage, cachestatus.CacheStatus, error) {
	var cs cachestatus.CacheStatus
	if c.closed.Load() {
		return nil, cs, ErrClosed
	}

	o := getOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	policy := c.rules.Classify(url)
	if o.ttl != nil {
		policy = policy.WithTTL(*o.ttl)
	}

	if policy.Bypass {
		cs.Forward(cachestatus.FwdReasonBypass)
		c.stats.bypasses.Add(1)
		v, err := c.fetcher.Get(ctx, url)
		if err != nil {
			cs.Detail = errorDetail(err)
			c.stats.errors.Add(1)
			c.logLookup(url, cs, err)
			return nil, cs, err
		}
		c.logLookup(url, cs, nil)
		return v, cs, nil
	}

	entry, ok, err := c.store.Get(url)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("Could not read from store")
		ok = false
	}
	age := entry.Age(c.now())
	switch {
	case !ok:
		cs.Forward(cachestatus.FwdReasonUriMiss)
	case o.forceRefresh:
		cs.Forward(cachestatus.FwdReasonRequest)
	case age < policy.TTL:
		cs.Hit()
		cs.TimeToLive = int((policy.TTL - age).Seconds())
		c.stats.hits.Add(1)
		c.logLookup(url, cs, nil)
		return entry.Value, cs, nil
	default:
		cs.Forward(cachestatus.FwdReasonStale)
	}

	c.stats.misses.Add(1)
	f, shared, err := c.flights.Do(ctx, url, func(ctx context.Context) (flight, error) {
		return c.fetchAndStore(ctx, url)
	})
	cs.Collapsed = shared
	if shared {
		c.stats.collapsed.Add(1)
	}
	if err != nil {
		cs.Detail = errorDetail(err)
		c.stats.errors.Add(1)
		c.logLookup(url, cs, err)
		return nil, cs, err
	}
	cs.Stored = f.stored
	c.logLookup(url, cs, nil)
	return f.value, cs, nil
}

// flight is the outcome of one network call shared by its waiters.
type flight struct {
	value  json.RawMessage
	stored bool
}

// fetchAndStore runs once per flight, so every waiter sees the entry written
// before the flight is released.
// A flight whose key is invalidated while it runs hands out its value without storing it.
func (c *Client) fetchAndStore(ctx context.Context, url string) (flight, error) {
	c.writeMu.Lock()
	c.inflight[url] = false
	c.writeMu.Unlock()

	v, err := c.fetcher.Get(ctx, url)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	invalidated := c.inflight[url]
	delete(c.inflight, url)
	if err != nil {
		return flight{}, err
	}
	if invalidated {
		c.log.Trace().Str("url", url).Msg("Invalidated while in flight, not storing")
		return flight{value: v}, nil
	}

	storedAt := c.now()
	if err := c.store.Put(url, v, storedAt); err != nil {
		c.log.Error().Err(err).Str("url", url).Msg("Could not write to store")
		return flight{value: v}, nil
	}
	c.log.Trace().Str("url", url).Time("storedAt", storedAt).Msg("Store write")
	return flight{value: v, stored: true}, nil
}

// invalidateInflight marks the keys being fetched that match, so their flights do not store.
// The caller holds writeMu.
func (c *Client) invalidateInflight(match func(key string) bool) {
	for key := range c.inflight {
		if match(key) {
			c.inflight[key] = true
		}
	}
}

// errorDetail condenses a lookup failure for the status detail.
func errorDetail(err error) string {
	var netErr *transport.NetworkError
	switch {
	case transport.IsTimeout(err):
		return "timeout"
	case transport.IsAuth(err):
		return "unauthorized"
	case transport.StatusCode(err) != 0:
		return fmt.Sprintf("status %d", transport.StatusCode(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "abandoned"
	case errors.As(err, &netErr):
		return "network"
	default:
		return "error"
	}
}

// Result mirrors the {data} envelope handed to UI code.
type Result[T any] struct {
	Data T
}

// GetJSON is Get, decoding the value into T.
func GetJSON[T any](ctx context.Context, c *Client, url string, opts ...GetOption) (Result[T], error) {
	var res Result[T]
	v, err := c.Get(ctx, url, opts...)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(v, &res.Data); err != nil {
		return res, fmt.Errorf("decode %s: %w", url, err)
	}
	return res, nil
}

func (c *Client) logLookup(url string, cs cachestatus.CacheStatus, err error) {
	evt := c.log.Debug()
	if err != nil {
		evt = evt.Err(err)
	}
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	if cs.Detail != "" {
		evt = evt.Str("detail", cs.Detail)
	}
	evt.
		Str("url", url).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("collapsed", cs.Collapsed).
		Bool("stored", cs.Stored).
		Int("ttl", cs.TimeToLive).
		Int("hit", isHit).
		Msg("Lookup")
}

// goBackground runs fn in a goroutine that Close waits for.
// fn is not started once the client is closed.
func (c *Client) goBackground(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Close stops background work and releases the store.
// Requests still in flight finish on their own; their results are discarded.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil
	}
	c.closed.Store(true)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return c.store.Close()
}
