package apicache

import (
	"time"
)

// refreshLoop runs until the client is closed, refreshing the warm URLs every interval.
// A failed refresh leaves the previous entry in place.
func (c *Client) refreshLoop() {
	c.log.Info().Msgf("Starting refresh loop with interval %s", c.refreshInterval)
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			c.log.Trace().Msg("Refresh loop stopped")
			return
		case <-ticker.C:
			c.refreshAll()
		}
	}
}

func (c *Client) refreshAll() {
	for _, url := range c.warm {
		if c.ctx.Err() != nil {
			return
		}
		c.log.Trace().Str("url", url).Msg("Refreshing")
		if _, err := c.Get(c.ctx, url, WithForceRefresh()); err != nil {
			c.log.Warn().Err(err).Str("url", url).Msg("Could not refresh entry")
		}
	}
}
