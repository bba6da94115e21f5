package callcache

import (
	"context"
	"time"
)

// Observer receives events for cache operations.
// It is called by Store, Journal and Memoizer after each operation completes.
type Observer interface {
	OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)

// OnCacheOp implements Observer.
func (f ObserverFunc) OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver) {
	if f == nil {
		return
	}
	f(ctx, op, key, hit, err, dur, driver)
}

func observe(ctx context.Context, o Observer, op, key string, hit bool, err error, start time.Time, driver Driver) {
	if o == nil {
		return
	}
	o.OnCacheOp(ctx, op, key, hit, err, time.Since(start), driver)
}
