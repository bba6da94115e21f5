package callcache

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoConfig controls a Memoizer.
type MemoConfig struct {
	// Name labels observer events and log lines.
	Name string

	// Coalesce collapses concurrent misses for the same arguments into a single
	// fetch. When false, racing misses each fetch and the last write wins.
	Coalesce bool

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger   *slog.Logger
	Observer Observer
}

// MemoOption mutates MemoConfig when constructing a Memoizer.
type MemoOption func(MemoConfig) MemoConfig

// WithMemoName labels the memoizer in observer events and logs.
func WithMemoName(name string) MemoOption {
	return func(cfg MemoConfig) MemoConfig {
		cfg.Name = name
		return cfg
	}
}

// WithCoalescing toggles per-argument fetch coalescing (enabled by default).
func WithCoalescing(enabled bool) MemoOption {
	return func(cfg MemoConfig) MemoConfig {
		cfg.Coalesce = enabled
		return cfg
	}
}

// WithClock overrides the time source used for freshness checks.
func WithClock(clock func() time.Time) MemoOption {
	return func(cfg MemoConfig) MemoConfig {
		cfg.Clock = clock
		return cfg
	}
}

// WithMemoLogger sets the logger used for fetch failures.
func WithMemoLogger(logger *slog.Logger) MemoOption {
	return func(cfg MemoConfig) MemoConfig {
		cfg.Logger = logger
		return cfg
	}
}

// WithMemoObserver attaches an observer that sees every hit and miss.
func WithMemoObserver(o Observer) MemoOption {
	return func(cfg MemoConfig) MemoConfig {
		cfg.Observer = o
		return cfg
	}
}

type memoEntry[R any] struct {
	result    R
	fetchedAt time.Time
}

// Memoizer caches the result of fetch per distinct argument tuple in process
// memory. An entry is fresh while less than window has elapsed since the fetch
// that produced it. Stale entries stay in memory until the next fetch for the
// same arguments overwrites them.
type Memoizer[R any] struct {
	fetch    Operation[R]
	window   time.Duration
	entries  *gocache.Cache
	group    singleflight.Group
	coalesce bool
	now      func() time.Time
	name     string
	logger   *slog.Logger
	observer Observer
}

// Memoize wraps fetch with a freshness window.
// @group Memoization
//
// Example: memoize a slow lookup
//
//	lookup := callcache.Memoize(func(ctx context.Context, args ...any) (string, error) {
//		return strings.ToUpper(args[0].(string)), nil
//	}, 10*time.Second)
//	v, _ := lookup.Call(context.Background(), "ada")
//	fmt.Println(v) // ADA
func Memoize[R any](fetch Operation[R], window time.Duration, opts ...MemoOption) *Memoizer[R] {
	cfg := MemoConfig{Coalesce: true}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "memo"
	}
	return &Memoizer[R]{
		fetch:    fetch,
		window:   window,
		entries:  gocache.New(gocache.NoExpiration, 0),
		coalesce: cfg.Coalesce,
		now:      cfg.Clock,
		name:     cfg.Name,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
}

// Call returns the cached result for args when fresh, otherwise fetches,
// stores and returns a new one. A failed fetch is returned as-is and leaves
// any existing entry untouched.
//
// With coalescing, concurrent callers missing on the same arguments share the
// first caller's fetch, which runs with that caller's context.
func (m *Memoizer[R]) Call(ctx context.Context, args ...any) (R, error) {
	var zero R
	start := time.Now()
	key, err := memoKey(args)
	if err != nil {
		return zero, err
	}
	if result, ok := m.lookup(key); ok {
		observe(ctx, m.observer, m.name, key, true, nil, start, "")
		return result, nil
	}
	if !m.coalesce {
		result, err := m.refresh(ctx, key, args)
		observe(ctx, m.observer, m.name, key, false, err, start, "")
		return result, err
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		// A flight that finished just before this one may already have refreshed.
		if result, ok := m.lookup(key); ok {
			return result, nil
		}
		return m.refresh(ctx, key, args)
	})
	observe(ctx, m.observer, m.name, key, false, err, start, "")
	if err != nil {
		return zero, err
	}
	// A nil result for an interface R travels through the flight as untyped nil.
	result, _ := v.(R)
	return result, nil
}

// Func exposes Call as an Operation so it can be composed with Record.
func (m *Memoizer[R]) Func() Operation[R] {
	return m.Call
}

// Len reports how many argument tuples have an entry, fresh or stale.
func (m *Memoizer[R]) Len() int {
	return m.entries.ItemCount()
}

func (m *Memoizer[R]) lookup(key string) (R, bool) {
	var zero R
	item, ok := m.entries.Get(key)
	if !ok {
		return zero, false
	}
	entry := item.(memoEntry[R])
	if m.now().Sub(entry.fetchedAt) >= m.window {
		return zero, false
	}
	return entry.result, true
}

func (m *Memoizer[R]) refresh(ctx context.Context, key string, args []any) (R, error) {
	result, err := m.fetch(ctx, args...)
	if err != nil {
		m.logger.Debug("callcache: memoized fetch failed", "memo", m.name, "args", key, "error", err)
		var zero R
		return zero, err
	}
	m.entries.Set(key, memoEntry[R]{result: result, fetchedAt: m.now()}, gocache.NoExpiration)
	return result, nil
}

func memoKey(args []any) (string, error) {
	encoded, err := EncodeArgs(args...)
	if err != nil {
		return "", err
	}
	body, err := MarshalArgs(encoded)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
