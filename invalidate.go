package apicache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Invalidate removes the entry stored for exactly this url.
func (c *Client) Invalidate(url string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.invalidateInflight(func(key string) bool { return key == url })
	if err := c.store.Delete(url); err != nil {
		return fmt.Errorf("invalidate %s: %w", url, err)
	}
	c.log.Trace().Str("url", url).Msg("Invalidated stored response")
	return nil
}

// Clear removes every entry whose URL contains pattern.
// An empty pattern removes everything.
func (c *Client) Clear(pattern string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if pattern == "" {
		c.invalidateInflight(func(string) bool { return true })
		if err := c.store.Clear(); err != nil {
			return fmt.Errorf("clear store: %w", err)
		}
		c.log.Debug().Msg("Cleared all stored responses")
		return nil
	}
	match := func(key string) bool {
		return strings.Contains(key, pattern)
	}
	c.invalidateInflight(match)
	removed, err := c.store.DeleteWhere(match)
	if err != nil {
		return fmt.Errorf("clear %q: %w", pattern, err)
	}
	c.log.Debug().Str("pattern", pattern).Int("removed", removed).Msg("Cleared stored responses")
	return nil
}

// Prefetch warms the entry for url in the background.
// Failures are logged and never reach the caller.
func (c *Client) Prefetch(url string) {
	c.goBackground(func() {
		if _, err := c.Get(c.ctx, url); err != nil {
			c.log.Debug().Err(err).Str("url", url).Msg("Prefetch failed")
		}
	})
}

// BatchGet fetches all urls in parallel and returns their values in the same order.
// The first failure is returned and the remaining lookups stop waiting.
func (c *Client) BatchGet(ctx context.Context, urls []string, opts ...GetOption) ([]json.RawMessage, error) {
	values := make([]json.RawMessage, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			v, err := c.Get(ctx, url, opts...)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// BatchGetJSON is BatchGet, decoding every value into T.
func BatchGetJSON[T any](ctx context.Context, c *Client, urls []string, opts ...GetOption) ([]Result[T], error) {
	values, err := c.BatchGet(ctx, urls, opts...)
	if err != nil {
		return nil, err
	}
	results := make([]Result[T], len(values))
	for i, v := range values {
		if err := json.Unmarshal(v, &results[i].Data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", urls[i], err)
		}
	}
	return results, nil
}
