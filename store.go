package callcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const defaultStoreOperation = "Store.Store"

// StoreConfig controls how a Store is constructed.
type StoreConfig struct {
	// OperationName identifies Store calls in the journal and call counter.
	OperationName string

	// CallHistory journals every Store call (arguments and returned key).
	CallHistory bool

	// CallCount increments the counter at OperationName on every Store call.
	CallCount bool

	// SerializeCalls keeps journal inputs and outputs strictly paired under concurrency.
	SerializeCalls bool

	// KeyFunc mints keys. Defaults to random UUIDs.
	KeyFunc func() (string, error)

	Logger   *slog.Logger
	Observer Observer
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.OperationName == "" {
		c.OperationName = defaultStoreOperation
	}
	if c.KeyFunc == nil {
		c.KeyFunc = newRandomKey
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// StoreOption mutates StoreConfig when constructing a Store.
type StoreOption func(StoreConfig) StoreConfig

// WithOperationName overrides the identity used for Store call history and counts.
func WithOperationName(name string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.OperationName = name
		return cfg
	}
}

// WithCallHistory journals every Store call.
func WithCallHistory() StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.CallHistory = true
		return cfg
	}
}

// WithCallCount counts every Store call.
func WithCallCount() StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.CallCount = true
		return cfg
	}
}

// WithStrictPairing serializes journaled Store calls.
func WithStrictPairing() StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.SerializeCalls = true
		return cfg
	}
}

// WithKeyFunc replaces key minting.
func WithKeyFunc(fn func() (string, error)) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.KeyFunc = fn
		return cfg
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Logger = logger
		return cfg
	}
}

// WithObserver attaches an observer to store and journal operations.
func WithObserver(o Observer) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Observer = o
		return cfg
	}
}

// Store writes scalar values under freshly minted random keys and reads them
// back with optional decoding.
type Store struct {
	backend  Backend
	journal  *Journal
	name     string
	newKey   func() (string, error)
	logger   *slog.Logger
	observer Observer
	put      Operation[string]
}

// NewStore binds a Store to backend.
//
// Construction is destructive: the backend is flushed unconditionally so every
// Store starts with empty keys, journals and counters. With a prefix-scoped
// backend only that prefix is cleared.
// @group Store
//
// Example: store and read back
//
//	ctx := context.Background()
//	s, _ := callcache.NewStore(ctx, callcache.NewMemoryBackend(ctx))
//	key, _ := s.Store(ctx, 42)
//	n, ok, _ := s.GetInt(ctx, key)
//	fmt.Println(ok, n) // true 42
func NewStore(ctx context.Context, backend Backend, opts ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, ErrBackendUnavailable
	}
	var cfg StoreConfig
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	cfg = cfg.withDefaults()

	if err := backend.Ready(ctx); err != nil {
		return nil, fmt.Errorf("callcache: backend %s not ready: %w", backend.Driver(), err)
	}
	if err := backend.Flush(ctx); err != nil {
		return nil, fmt.Errorf("callcache: flush %s backend: %w", backend.Driver(), err)
	}
	cfg.Logger.Info("callcache: backend flushed", "driver", backend.Driver())

	s := &Store{
		backend:  backend,
		name:     cfg.OperationName,
		newKey:   cfg.KeyFunc,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		journal: NewJournal(backend,
			WithSerializedCalls(cfg.SerializeCalls),
			WithJournalLogger(cfg.Logger),
			WithJournalObserver(cfg.Observer),
		),
	}
	put := Operation[string](s.store)
	if cfg.CallHistory {
		put = Record(s.journal, s.name, put)
	}
	if cfg.CallCount {
		put = CountCalls(s.journal, s.name, put)
	}
	s.put = put
	return s, nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Journal returns the journal sharing this store's backend.
func (s *Store) Journal() *Journal { return s.journal }

// OperationName is the identity Store calls are journaled and counted under.
func (s *Store) OperationName() string { return s.name }

// Store writes value under a new random key and returns the key.
// value must be a string, []byte, integer or float.
// @group Store
func (s *Store) Store(ctx context.Context, value any) (string, error) {
	return s.put(ctx, value)
}

func (s *Store) store(ctx context.Context, args ...any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("callcache: store takes one value, got %d", len(args))
	}
	start := time.Now()
	body, err := EncodeValue(args[0])
	if err != nil {
		observe(ctx, s.observer, "store", "", false, err, start, s.backend.Driver())
		return "", err
	}
	key, err := s.newKey()
	if err != nil {
		observe(ctx, s.observer, "store", "", false, err, start, s.backend.Driver())
		return "", fmt.Errorf("callcache: mint key: %w", err)
	}
	err = s.backend.Set(ctx, key, body)
	observe(ctx, s.observer, "store", key, false, err, start, s.backend.Driver())
	if err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the raw bytes stored under key. A missing key reports ok=false
// with a nil error.
// @group Store
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	body, ok, err := s.backend.Get(ctx, key)
	observe(ctx, s.observer, "get", key, ok, err, start, s.backend.Driver())
	return body, ok, err
}

// GetAs reads key and converts it with decode. Decode failures are returned
// as *DecodeError; a missing key reports ok=false without calling decode.
// @group Store
func GetAs[T any](ctx context.Context, s *Store, key string, decode func([]byte) (T, error)) (T, bool, error) {
	var zero T
	if decode == nil {
		return zero, false, errors.New("callcache: GetAs requires a decoder")
	}
	body, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	out, err := decode(body)
	if err != nil {
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			err = &DecodeError{Key: key, Type: fmt.Sprintf("%T", zero), Err: err}
		}
		return zero, false, err
	}
	return out, true, nil
}

// GetString reads key as UTF-8 text.
// @group Store
func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	return GetAs(ctx, s, key, DecodeString)
}

// GetInt reads key as a base-10 integer.
// @group Store
func (s *Store) GetInt(ctx context.Context, key string) (int64, bool, error) {
	return GetAs(ctx, s, key, DecodeInt)
}

// GetFloat reads key as a floating point number.
// @group Store
func (s *Store) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	return GetAs(ctx, s, key, DecodeFloat)
}

// DecodeString validates body as UTF-8.
func DecodeString(body []byte) (string, error) {
	if !utf8.Valid(body) {
		return "", errors.New("invalid UTF-8")
	}
	return string(body), nil
}

// DecodeInt parses body as a base-10 int64.
func DecodeInt(body []byte) (int64, error) {
	return strconv.ParseInt(string(body), 10, 64)
}

// DecodeFloat parses body as a float64.
func DecodeFloat(body []byte) (float64, error) {
	return strconv.ParseFloat(string(body), 64)
}

func newRandomKey() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
