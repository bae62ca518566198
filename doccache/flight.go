package doccache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// flight collapses concurrent extractions of the same document into one.
// Each waiter honours its own context; the extraction itself runs on a
// context detached from any single caller so one caller giving up does not
// cancel the work for the others.
type flight struct {
	group singleflight.Group
}

func (f *flight) do(ctx context.Context, key string, fn func(ctx context.Context) (*Entry, error)) (*Entry, bool, error) {
	ch := f.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*Entry), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
