// Package pagecache fetches web pages over HTTP, counts every real fetch per URL
// in a callcache backend and memoizes page bodies for a short window.
package pagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goforj/callcache"
)

const (
	// DefaultWindow is how long a fetched page is served from memory.
	DefaultWindow = 10 * time.Second

	defaultMaxBodyBytes = 5 << 20
	defaultTimeout      = 30 * time.Second
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx response. Such responses are never memoized.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pagecache: GET %s: status %d", e.URL, e.StatusCode)
}

// ErrBodyTooLarge reports a response body above the configured limit.
// Such responses are never memoized.
var ErrBodyTooLarge = errors.New("pagecache: response body exceeds limit")

// CountKey is the backend counter incremented on every real fetch of url.
func CountKey(url string) string { return "count:" + url }

// Config controls a Fetcher and the Cache built on it.
type Config struct {
	Client       Doer
	Window       time.Duration
	MaxBodyBytes int64
	Clock        func() time.Time
	Logger       *slog.Logger
	Observer     callcache.Observer
}

func (c Config) withDefaults() Config {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: defaultTimeout}
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Option mutates Config.
type Option func(Config) Config

// WithClient replaces the HTTP client.
func WithClient(client Doer) Option {
	return func(cfg Config) Config {
		cfg.Client = client
		return cfg
	}
}

// WithWindow sets how long a page stays fresh.
func WithWindow(window time.Duration) Option {
	return func(cfg Config) Config {
		cfg.Window = window
		return cfg
	}
}

// WithMaxBodyBytes caps the accepted response body size. Larger bodies fail with ErrBodyTooLarge.
func WithMaxBodyBytes(n int64) Option {
	return func(cfg Config) Config {
		cfg.MaxBodyBytes = n
		return cfg
	}
}

// WithClock overrides the freshness clock.
func WithClock(clock func() time.Time) Option {
	return func(cfg Config) Config {
		cfg.Clock = clock
		return cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg Config) Config {
		cfg.Logger = logger
		return cfg
	}
}

// WithObserver reports page cache hits and misses.
func WithObserver(o callcache.Observer) Option {
	return func(cfg Config) Config {
		cfg.Observer = o
		return cfg
	}
}

// Fetcher downloads pages and counts each download.
type Fetcher struct {
	backend  callcache.Backend
	client   Doer
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher that keeps its counters in backend.
func NewFetcher(backend callcache.Backend, opts ...Option) *Fetcher {
	return newFetcher(backend, buildConfig(opts))
}

func newFetcher(backend callcache.Backend, cfg Config) *Fetcher {
	return &Fetcher{
		backend:  backend,
		client:   cfg.Client,
		maxBytes: cfg.MaxBodyBytes,
		logger:   cfg.Logger,
	}
}

// Fetch increments CountKey(url) and returns the body of a GET to url.
// The counter is bumped before the request, so failed fetches count too.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if _, err := f.backend.Incr(ctx, CountKey(url)); err != nil {
		return "", fmt.Errorf("pagecache: count %s: %w", url, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("pagecache: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pagecache: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBytes))
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("pagecache: read %s: %w", url, err)
	}
	if int64(len(body)) > f.maxBytes {
		return "", fmt.Errorf("%w: GET %s over %d bytes", ErrBodyTooLarge, url, f.maxBytes)
	}
	f.logger.Debug("pagecache: fetched", "url", url, "bytes", len(body))
	return string(body), nil
}

// Count returns how many times url has been fetched.
func (f *Fetcher) Count(ctx context.Context, url string) (int64, error) {
	body, ok, err := f.backend.Get(ctx, CountKey(url))
	if err != nil || !ok {
		return 0, err
	}
	n, err := callcache.DecodeInt(body)
	if err != nil {
		return 0, &callcache.DecodeError{Key: CountKey(url), Type: "int64", Err: err}
	}
	return n, nil
}

// Cache serves pages from memory while fresh and refetches them afterwards.
type Cache struct {
	fetcher *Fetcher
	memo    *callcache.Memoizer[string]
}

// New creates a page cache counting fetches in backend.
//
// Example:
//
//	ctx := context.Background()
//	pages := pagecache.New(callcache.NewMemoryBackend(ctx))
//	body, _ := pages.GetPage(ctx, "http://example.com")
//	fmt.Println(len(body) > 0)
func New(backend callcache.Backend, opts ...Option) *Cache {
	cfg := buildConfig(opts)
	fetcher := newFetcher(backend, cfg)
	memoOpts := []callcache.MemoOption{
		callcache.WithMemoName("get_page"),
		callcache.WithMemoLogger(cfg.Logger),
		callcache.WithMemoObserver(cfg.Observer),
	}
	if cfg.Clock != nil {
		memoOpts = append(memoOpts, callcache.WithClock(cfg.Clock))
	}
	fetch := func(ctx context.Context, args ...any) (string, error) {
		return fetcher.Fetch(ctx, args[0].(string))
	}
	return &Cache{
		fetcher: fetcher,
		memo:    callcache.Memoize(fetch, cfg.Window, memoOpts...),
	}
}

// GetPage returns the body of url, fetching it only when no fresh copy exists.
func (c *Cache) GetPage(ctx context.Context, url string) (string, error) {
	return c.memo.Call(ctx, url)
}

// Count returns how many real fetches of url have happened.
func (c *Cache) Count(ctx context.Context, url string) (int64, error) {
	return c.fetcher.Count(ctx, url)
}

// Fetcher returns the underlying fetcher.
func (c *Cache) Fetcher() *Fetcher { return c.fetcher }

func buildConfig(opts []Option) Config {
	var cfg Config
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return cfg.withDefaults()
}
