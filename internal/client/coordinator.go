// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshCoordinator lets concurrent callers share one refresh call.
//
// # Cancellation
//
// The shared call runs on a context detached from every caller and bounded
// only by the coordinator timeout. A caller whose context ends stops waiting
// and gets ctx.Err(); the call keeps running for the others.
type RefreshCoordinator struct {
	group   singleflight.Group
	timeout time.Duration
}

// NewRefreshCoordinator creates a coordinator whose calls time out after
// timeout.
func NewRefreshCoordinator(timeout time.Duration) *RefreshCoordinator {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &RefreshCoordinator{timeout: timeout}
}

// Do runs fn at most once at a time per key. Callers arriving while a call
// for key is in flight receive its result instead of starting their own.
func (coordinator *RefreshCoordinator) Do(
	ctx context.Context,
	key string,
	fn func(context.Context) (*Session, error),
) (*Session, error) {
	detached := context.WithoutCancel(ctx)

	results := coordinator.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(detached, coordinator.timeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
