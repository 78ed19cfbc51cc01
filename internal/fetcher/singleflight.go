package fetcher

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group collapses concurrent fetches of the same key into one source call.
type Group struct {
	g singleflight.Group
}

func (g *Group) Do(key string, fn func() ([]byte, error)) ([]byte, error, bool) {
	v, err, shared := g.g.Do(key, func() (interface{}, error) {
		return fn()
	})
	data, _ := v.([]byte)
	return data, err, shared
}

// DoContext is like Do but returns ctx.Err() as soon as ctx is done. The
// shared call keeps running for the callers still waiting on it.
func (g *Group) DoContext(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, error, bool) {
	ch := g.g.DoChan(key, func() (interface{}, error) {
		return fn()
	})
	select {
	case res := <-ch:
		data, _ := res.Val.([]byte)
		return data, res.Err, res.Shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}
