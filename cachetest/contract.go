package cachetest

import (
	"context"
	"strings"
	"testing"

	"github.com/goforj/callcache/cachecore"
)

// Options configures shared backend contract checks.
type Options struct {
	// CaseName is used to namespace keys. Defaults to t.Name().
	CaseName string
	// SkipCloneCheck disables the "get returns a cloned value" assertion.
	SkipCloneCheck bool
	// SkipFlush disables the flush assertion for drivers where it is expensive or unavailable.
	SkipFlush bool
}

// Backend is the minimal contract required by RunBackendContract.
type Backend = cachecore.Backend

// RunBackendContract runs a driver-agnostic backend contract suite.
func RunBackendContract(t *testing.T, backend Backend, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ctx := context.Background()
	key := func(s string) string {
		return sanitize(caseName) + ":" + s
	}

	if err := backend.Ready(ctx); err != nil {
		t.Fatalf("ready failed: %v", err)
	}

	// Set/Get round-trip.
	if err := backend.Set(ctx, key("alpha"), []byte("value")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := backend.Get(ctx, key("alpha"))
	if err != nil || !ok || string(body) != "value" {
		t.Fatalf("unexpected get result: ok=%v body=%q err=%v", ok, string(body), err)
	}
	if !opts.SkipCloneCheck {
		body[0] = 'X'
		body2, ok2, err2 := backend.Get(ctx, key("alpha"))
		if err2 != nil || !ok2 || string(body2) != "value" {
			t.Fatalf("expected stored value unchanged, got ok=%v body=%q err=%v", ok2, string(body2), err2)
		}
	}

	// Overwrite.
	if err := backend.Set(ctx, key("alpha"), []byte("second")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if body, ok, err := backend.Get(ctx, key("alpha")); err != nil || !ok || string(body) != "second" {
		t.Fatalf("expected overwrite, got ok=%v body=%q err=%v", ok, string(body), err)
	}

	// Absent keys.
	if body, ok, err := backend.Get(ctx, key("missing")); err != nil || ok || body != nil {
		t.Fatalf("expected clean miss, got ok=%v body=%q err=%v", ok, string(body), err)
	}
	if items, err := backend.LRange(ctx, key("missing-list"), 0, -1); err != nil || len(items) != 0 {
		t.Fatalf("expected empty range for missing list, got %d items err=%v", len(items), err)
	}

	// Lists keep append order and report their length.
	for i, v := range []string{"a", "b", "c", "d"} {
		n, err := backend.RPush(ctx, key("list"), []byte(v))
		if err != nil {
			t.Fatalf("rpush %q failed: %v", v, err)
		}
		if n != int64(i+1) {
			t.Fatalf("expected rpush length %d, got %d", i+1, n)
		}
	}
	ranges := []struct {
		start, stop int64
		want        string
	}{
		{0, -1, "abcd"},
		{1, 2, "bc"},
		{-2, -1, "cd"},
		{0, 100, "abcd"},
		{-100, 0, "a"},
		{3, 1, ""},
		{10, 20, ""},
	}
	for _, r := range ranges {
		items, err := backend.LRange(ctx, key("list"), r.start, r.stop)
		if err != nil {
			t.Fatalf("lrange %d..%d failed: %v", r.start, r.stop, err)
		}
		if got := join(items); got != r.want {
			t.Fatalf("lrange %d..%d: expected %q, got %q", r.start, r.stop, r.want, got)
		}
	}

	// Counters start at zero and count up by one.
	for want := int64(1); want <= 3; want++ {
		n, err := backend.Incr(ctx, key("counter"))
		if err != nil {
			t.Fatalf("incr failed: %v", err)
		}
		if n != want {
			t.Fatalf("expected incr=%d, got %d", want, n)
		}
	}
	if body, ok, err := backend.Get(ctx, key("counter")); err != nil || !ok || string(body) != "3" {
		t.Fatalf("expected counter readable as \"3\", got ok=%v body=%q err=%v", ok, string(body), err)
	}
	if err := backend.Set(ctx, key("seeded"), []byte("41")); err != nil {
		t.Fatalf("seed counter failed: %v", err)
	}
	if n, err := backend.Incr(ctx, key("seeded")); err != nil || n != 42 {
		t.Fatalf("expected seeded incr=42, got %d err=%v", n, err)
	}

	// Flush.
	if !opts.SkipFlush {
		if err := backend.Flush(ctx); err != nil {
			t.Fatalf("flush failed: %v", err)
		}
		if _, ok, err := backend.Get(ctx, key("alpha")); err != nil || ok {
			t.Fatalf("expected flush to clear key; ok=%v err=%v", ok, err)
		}
		if items, err := backend.LRange(ctx, key("list"), 0, -1); err != nil || len(items) != 0 {
			t.Fatalf("expected flush to clear list; items=%d err=%v", len(items), err)
		}
		if n, err := backend.Incr(ctx, key("counter")); err != nil || n != 1 {
			t.Fatalf("expected counter reset by flush, got %d err=%v", n, err)
		}
	}
}

func join(items [][]byte) string {
	var b strings.Builder
	for _, item := range items {
		b.Write(item)
	}
	return b.String()
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
