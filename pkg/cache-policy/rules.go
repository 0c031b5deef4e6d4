package cachepolicy

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultShortTTL   = 5 * time.Second
	DefaultDefaultTTL = 30 * time.Second
)

var (
	// DefaultBypass lists endpoints that are live in nature and must always hit the network.
	DefaultBypass = []string{"/stream", "/live", "/events/"}
	// DefaultShort lists fast-changing endpoints.
	DefaultShort = []string{"/stats", "/tiempo-real", "/logs", "/alertas/api", "/system-health"}
)

// Policy is the caching decision for one URL.
type Policy struct {
	Bypass bool
	TTL    time.Duration
}

// WithTTL returns the policy with its TTL replaced.
// Bypass is left untouched.
func (p Policy) WithTTL(ttl time.Duration) Policy {
	p.TTL = ttl
	return p
}

// Rules classifies URLs by substring match.
// Bypass patterns win over short patterns.
type Rules struct {
	Bypass     []string      `yaml:"bypass"`
	Short      []string      `yaml:"short"`
	ShortTTL   time.Duration `yaml:"shortTTL"`
	DefaultTTL time.Duration `yaml:"defaultTTL"`
}

// DefaultRules returns the built-in lists and TTLs.
func DefaultRules() Rules {
	return Rules{
		Bypass:     append([]string(nil), DefaultBypass...),
		Short:      append([]string(nil), DefaultShort...),
		ShortTTL:   DefaultShortTTL,
		DefaultTTL: DefaultDefaultTTL,
	}
}

// Classify returns the policy for the given URL.
// It is a pure function of the URL and the rules.
func (r Rules) Classify(url string) Policy {
	if pattern, ok := find(r.Bypass, url); ok {
		log.Trace().Str("url", url).Str("pattern", pattern).Msg("Bypass rule matched")
		return Policy{Bypass: true}
	}
	if pattern, ok := find(r.Short, url); ok {
		log.Trace().Str("url", url).Str("pattern", pattern).Msg("Short TTL rule matched")
		return Policy{TTL: orDefault(r.ShortTTL, DefaultShortTTL)}
	}
	return Policy{TTL: orDefault(r.DefaultTTL, DefaultDefaultTTL)}
}

func find(patterns []string, url string) (string, bool) {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(url, pattern) {
			return pattern, true
		}
	}
	return "", false
}

func orDefault(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		return def
	}
	return ttl
}
