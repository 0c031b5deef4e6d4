package apicache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	transport "github.com/always-cache/apicache/pkg/http-transport"
)

// DataFunc receives a value for a URL.
// stale is true when the value was served from the store before revalidation.
type DataFunc func(data json.RawMessage, stale bool)

// GetSWR serves the stored value for url first, then revalidates it.
//
// If an entry exists, fresh or not, onData is called with stale=true before any network activity.
// A forced refresh follows; on success onData is called with stale=false.
// A failed refresh is swallowed when a stale value was delivered and returned otherwise.
func (c *Client) GetSWR(ctx context.Context, url string, onData DataFunc) error {
	if c.closed.Load() {
		return ErrClosed
	}

	hadStale := false
	if entry, ok, err := c.store.Get(url); err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("Could not read from store")
	} else if ok {
		hadStale = true
		onData(entry.Value, true)
	}

	v, err := c.Get(ctx, url, WithForceRefresh())
	if err != nil {
		if hadStale {
			c.log.Debug().Err(err).Str("url", url).Msg("Revalidation failed, keeping stale value")
			return nil
		}
		return err
	}
	onData(v, false)
	return nil
}

// Poll keeps url up to date until ctx is done, the way a dashboard panel polls its endpoint.
//
// It starts with GetSWR and then forces a refresh every interval.
// Timeouts are expected on live endpoints and are only logged;
// every other failure is passed to onErr, which may be nil.
// Poll returns nil when ctx is done and ErrClosed when the client is closed.
func (c *Client) Poll(ctx context.Context, url string, interval time.Duration, onData DataFunc, onErr func(error)) error {
	if interval <= 0 {
		return fmt.Errorf("poll %s: interval must be positive, got %s", url, interval)
	}
	report := func(err error) {
		switch {
		case err == nil:
		case transport.IsTimeout(err):
			c.log.Debug().Err(err).Str("url", url).Msg("Poll timed out")
		case ctx.Err() != nil:
		case onErr != nil:
			onErr(err)
		}
	}

	err := c.GetSWR(ctx, url, onData)
	if errors.Is(err, ErrClosed) {
		return err
	}
	report(err)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctx.Done():
			return ErrClosed
		case <-ticker.C:
			v, err := c.Get(ctx, url, WithForceRefresh())
			if errors.Is(err, ErrClosed) {
				return err
			}
			if err != nil {
				report(err)
				continue
			}
			onData(v, false)
		}
	}
}
