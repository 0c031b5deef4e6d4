package apicache

import (
	"sync/atomic"
)

type counters struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	bypasses  atomic.Uint64
	collapsed atomic.Uint64
	errors    atomic.Uint64
}

// Stats is a snapshot of the client's counters.
type Stats struct {
	// Lookups answered from the store.
	Hits uint64 `json:"hits"`
	// Lookups that went to the network, joined or not.
	Misses uint64 `json:"misses"`
	// Lookups for URLs that are never cached.
	Bypasses uint64 `json:"bypasses"`
	// Misses whose network call was shared with other callers.
	Collapsed uint64 `json:"collapsed"`
	// Lookups that returned an error.
	Errors uint64 `json:"errors"`
	// Entries currently stored.
	Entries int `json:"entries"`
	// Network calls currently in flight.
	Pending int `json:"pending"`
}

func (c *Client) Stats() Stats {
	entries, err := c.store.Len()
	if err != nil {
		c.log.Warn().Err(err).Msg("Could not count stored entries")
	}
	return Stats{
		Hits:      c.stats.hits.Load(),
		Misses:    c.stats.misses.Load(),
		Bypasses:  c.stats.bypasses.Load(),
		Collapsed: c.stats.collapsed.Load(),
		Errors:    c.stats.errors.Load(),
		Entries:   entries,
		Pending:   c.flights.Pending(),
	}
}
