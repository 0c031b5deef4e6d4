package apicache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestWarmURLsArePrefetched(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := NewMockFetcher(ctrl)
	fetcher.EXPECT().Get(gomock.Any(), "/stats").Return(json.RawMessage(`{"clientes":3}`), nil)
	fetcher.EXPECT().Get(gomock.Any(), "/timeline").Return(json.RawMessage(`[]`), nil)

	c := newTestClient(t, fetcher, func(cfg *Config) {
		cfg.Warm = []string{"/stats", "/timeline"}
	})

	require.Eventually(t, func() bool { return c.Stats().Entries == 2 }, time.Second, time.Millisecond)
	_, cs, err := c.GetWithStatus(context.Background(), "/stats")
	require.NoError(t, err)
	assert.True(t, cs.IsHit())
}

func TestRefreshLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := NewMockFetcher(ctrl)

	var calls atomic.Int64
	fetcher.EXPECT().Get(gomock.Any(), "/system-health/api").
		DoAndReturn(func(ctx context.Context, url string) (json.RawMessage, error) {
			n := calls.Add(1)
			return json.Marshal(map[string]int64{"n": n})
		}).MinTimes(3)

	c := newTestClient(t, fetcher, func(cfg *Config) {
		cfg.Warm = []string{"/system-health/api"}
		cfg.RefreshInterval = 10 * time.Millisecond
	})

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, c.Close())

	// no more refreshes once closed
	time.Sleep(20 * time.Millisecond)
	stopped := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestRefreshKeepsEntryOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := NewMockFetcher(ctrl)
	clock := newTestClock()

	gomock.InOrder(
		fetcher.EXPECT().Get(gomock.Any(), "/logs").Return(json.RawMessage(`["boot"]`), nil),
		fetcher.EXPECT().Get(gomock.Any(), "/logs").Return(nil, assert.AnError).MinTimes(1),
	)

	c := newTestClient(t, fetcher, func(cfg *Config) {
		cfg.Warm = []string{"/logs"}
		cfg.RefreshInterval = 10 * time.Millisecond
		cfg.Now = clock.Now
	})

	require.Eventually(t, func() bool { return c.Stats().Errors >= 1 }, time.Second, time.Millisecond)
	v, cs, err := c.GetWithStatus(context.Background(), "/logs")
	require.NoError(t, err)
	assert.True(t, cs.IsHit())
	assert.JSONEq(t, `["boot"]`, string(v))
}
