package cachecore

import "context"

// Backend is the key-value contract the instrumented cache is built on.
// Every method is a single backend operation; no multi-key atomicity is implied.
type Backend interface {
	Driver() Driver
	Ready(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// RPush appends value to the list at key and returns the new length.
	RPush(ctx context.Context, key string, value []byte) (int64, error)
	// LRange returns list elements between start and stop inclusive.
	// Negative indexes count from the tail, as in Redis.
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Incr(ctx context.Context, key string) (int64, error)
	Flush(ctx context.Context) error
}
