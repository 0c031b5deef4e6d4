// Package dedup collapses concurrent calls for the same key into a single call.
package dedup

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group runs at most one fn per key at a time.
// Callers arriving while a call is in flight wait for it and receive the same result.
// The zero value is ready to use.
type Group[V any] struct {
	sf      singleflight.Group
	pending atomic.Int64
}

// Do runs fn for key unless a call for key is already in flight, in which case it waits for that call.
//
// fn receives a context that is detached from the caller's cancellation,
// since other callers may be waiting on the same result.
// A caller whose ctx is done stops waiting and gets ctx.Err(); the call itself keeps running.
// shared reports whether the result was delivered to more than one caller.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (v V, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		g.pending.Add(1)
		defer g.pending.Add(-1)
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		val, ok := res.Val.(V)
		if !ok && res.Val != nil {
			return v, res.Shared, fmt.Errorf("dedup: unexpected result type %T for key %s", res.Val, key)
		}
		return val, res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Pending returns the number of calls currently in flight.
func (g *Group[V]) Pending() int {
	return int(g.pending.Load())
}
