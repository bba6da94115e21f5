package cachefake

import (
	"context"
	"sync"
	"testing"

	"github.com/goforj/callcache"
)

// Op identifies a backend operation for assertions.
type Op string

const (
	OpReady  Op = "ready"
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRPush  Op = "rpush"
	OpLRange Op = "lrange"
	OpIncr   Op = "incr"
	OpFlush  Op = "flush"
)

// Fake exposes a deterministic in-memory backend plus assertion helpers for tests.
// It wraps the memory backend so no external services are needed, and can be
// told to fail specific operations.
type Fake struct {
	backend *countingBackend
	counts  map[Op]map[string]int
	fail    map[Op]error
	mu      sync.Mutex
}

// New creates a Fake using an in-memory backend.
func New() *Fake {
	f := &Fake{
		counts: make(map[Op]map[string]int),
		fail:   make(map[Op]error),
	}
	f.backend = &countingBackend{
		inner: callcache.NewMemoryBackend(context.Background()),
		fake:  f,
	}
	return f
}

// Backend returns the backend to inject into code under test.
func (f *Fake) Backend() callcache.Backend { return f.backend }

// Fail makes every later call of op return err. A nil err clears the failure.
func (f *Fake) Fail(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Reset clears recorded counts and injected failures.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[Op]map[string]int)
	f.fail = make(map[Op]error)
}

// AssertCalled verifies key was touched by op the expected number of times.
func (f *Fake) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := f.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures key was never touched by op.
func (f *Fake) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := f.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (f *Fake) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := f.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// Count returns calls for op+key.
func (f *Fake) Count(op Op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		return 0
	}
	return f.counts[op][key]
}

// Total returns total calls for an op across keys.
func (f *Fake) Total(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[op] {
		sum += v
	}
	return sum
}

// record counts the call and returns the injected failure for op, if any.
func (f *Fake) record(op Op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		f.counts[op] = make(map[string]int)
	}
	f.counts[op][key]++
	return f.fail[op]
}

// countingBackend wraps a Backend to record calls.
type countingBackend struct {
	inner callcache.Backend
	fake  *Fake
}

func (s *countingBackend) Driver() callcache.Driver { return s.inner.Driver() }

func (s *countingBackend) Ready(ctx context.Context) error {
	if err := s.fake.record(OpReady, ""); err != nil {
		return err
	}
	return s.inner.Ready(ctx)
}

func (s *countingBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.fake.record(OpGet, key); err != nil {
		return nil, false, err
	}
	return s.inner.Get(ctx, key)
}

func (s *countingBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := s.fake.record(OpSet, key); err != nil {
		return err
	}
	return s.inner.Set(ctx, key, value)
}

func (s *countingBackend) RPush(ctx context.Context, key string, value []byte) (int64, error) {
	if err := s.fake.record(OpRPush, key); err != nil {
		return 0, err
	}
	return s.inner.RPush(ctx, key, value)
}

func (s *countingBackend) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if err := s.fake.record(OpLRange, key); err != nil {
		return nil, err
	}
	return s.inner.LRange(ctx, key, start, stop)
}

func (s *countingBackend) Incr(ctx context.Context, key string) (int64, error) {
	if err := s.fake.record(OpIncr, key); err != nil {
		return 0, err
	}
	return s.inner.Incr(ctx, key)
}

func (s *countingBackend) Flush(ctx context.Context) error {
	if err := s.fake.record(OpFlush, ""); err != nil {
		return err
	}
	return s.inner.Flush(ctx)
}
