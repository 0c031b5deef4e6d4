package cachepolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	rules := DefaultRules()

	testCases := []struct {
		name     string
		url      string
		expected Policy
	}{
		{name: "stats is short lived", url: "/stats", expected: Policy{TTL: 5 * time.Second}},
		{name: "real time dte is short lived", url: "/dte/api/tiempo-real?ambiente=prod", expected: Policy{TTL: 5 * time.Second}},
		{name: "log stream bypasses", url: "/logs/stream", expected: Policy{Bypass: true}},
		{name: "log search is short lived", url: "/logs/api?nivel=error", expected: Policy{TTL: 5 * time.Second}},
		{name: "clients use default", url: "/clientes/api?ambiente=todos", expected: Policy{TTL: 30 * time.Second}},
		{name: "empty url uses default", url: "", expected: Policy{TTL: 30 * time.Second}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, rules.Classify(tc.url))
		})
	}
}

func TestClassifyZeroRulesFallsBackToDefaults(t *testing.T) {
	rules := Rules{Short: []string{"/me"}}
	assert.Equal(t, Policy{TTL: DefaultShortTTL}, rules.Classify("/me"))
	assert.Equal(t, Policy{TTL: DefaultDefaultTTL}, rules.Classify("/timeline"))
}

func TestEmptyPatternNeverMatches(t *testing.T) {
	rules := Rules{Bypass: []string{""}}
	assert.False(t, rules.Classify("/stats").Bypass)
}

func TestWithTTLKeepsBypass(t *testing.T) {
	rules := DefaultRules()
	p := rules.Classify("/logs/stream").WithTTL(time.Hour)
	assert.True(t, p.Bypass)

	p = rules.Classify("/stats").WithTTL(time.Hour)
	assert.Equal(t, Policy{TTL: time.Hour}, p)
}

func TestDefaultRulesAreCopies(t *testing.T) {
	rules := DefaultRules()
	rules.Bypass[0] = "/changed"
	assert.Equal(t, "/stream", DefaultBypass[0])
}
