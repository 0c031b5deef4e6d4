package cachestatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	testCases := []struct {
		name     string
		status   func() CacheStatus
		expected string
	}{
		{
			name:     "empty",
			status:   func() CacheStatus { return CacheStatus{} },
			expected: "ApiCache",
		},
		{
			name: "hit",
			status: func() CacheStatus {
				cs := CacheStatus{TimeToLive: 3}
				cs.Hit()
				return cs
			},
			expected: "ApiCache; hit; ttl=3",
		},
		{
			name: "collapsed miss",
			status: func() CacheStatus {
				cs := CacheStatus{Collapsed: true, Stored: true}
				cs.Forward(FwdReasonUriMiss)
				return cs
			},
			expected: "ApiCache; fwd=uri-miss; collapsed; stored",
		},
		{
			name: "bypass with detail",
			status: func() CacheStatus {
				cs := CacheStatus{Detail: "timeout"}
				cs.Forward(FwdReasonBypass)
				return cs
			},
			expected: `ApiCache; fwd=bypass; detail="timeout"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.status().String())
		})
	}
}

func TestHitClearsForwardReason(t *testing.T) {
	cs := CacheStatus{}
	cs.Forward(FwdReasonStale)
	assert.False(t, cs.IsHit())
	cs.Hit()
	assert.True(t, cs.IsHit())
	assert.Empty(t, cs.FwdReason)
}
