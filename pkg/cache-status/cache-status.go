package cachestatus

import (
	"fmt"
	"strings"
)

// Name identifies the cache in the status string.
const Name = "ApiCache"

type Status string

const (
	Hit Status = "hit"
	Fwd Status = "fwd"
)

type FwdReason string

const (
	// The URL is classified as never cached.
	FwdReasonBypass FwdReason = "bypass"

	// The store did not contain an entry for the URL.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The store contained an entry, but it was older than the TTL.
	FwdReasonStale FwdReason = "stale"

	// The store contained a fresh entry, but the caller asked for a refresh.
	FwdReasonRequest FwdReason = "request"
)

// CacheStatus describes how a single lookup was handled.
type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// The result came from a request already in flight for another caller.
	Collapsed bool
	// The result was written to the store.
	Stored bool
	// Remaining freshness in seconds, for hits.
	TimeToLive int
	Detail     string
}

func (cs *CacheStatus) Hit() {
	cs.Status = Hit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = Fwd
	cs.FwdReason = reason
}

// IsHit reports whether the lookup was answered from the store.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == Hit
}

func (cs CacheStatus) String() string {
	var b strings.Builder
	b.WriteString(Name)
	if cs.Status == "" {
		return b.String()
	}
	b.WriteString("; ")
	b.WriteString(string(cs.Status))
	if cs.Status == Fwd && cs.FwdReason != "" {
		fmt.Fprintf(&b, "=%s", cs.FwdReason)
	}
	if cs.Collapsed {
		b.WriteString("; collapsed")
	}
	if cs.Stored {
		b.WriteString("; stored")
	}
	if cs.Status == Hit {
		fmt.Fprintf(&b, "; ttl=%d", cs.TimeToLive)
	}
	if cs.Detail != "" {
		fmt.Fprintf(&b, "; detail=%q", cs.Detail)
	}
	return b.String()
}
