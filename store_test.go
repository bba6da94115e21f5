package callcache_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goforj/callcache"
	"github.com/goforj/callcache/cachefake"
)

func newTestStore(t *testing.T, opts ...callcache.StoreOption) (*callcache.Store, *cachefake.Fake) {
	t.Helper()
	fake := cachefake.New()
	s, err := callcache.NewStore(context.Background(), fake.Backend(), opts...)
	require.NoError(t, err)
	fake.Reset()
	return s, fake
}

func TestStoreMintsUniqueKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		key, err := s.Store(ctx, i)
		require.NoError(t, err)
		_, dup := seen[key]
		require.False(t, dup, "duplicate key %q", key)
		seen[key] = struct{}{}
	}
}

func TestStoreRoundTrips(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	key, err := s.Store(ctx, "hello")
	require.NoError(t, err)
	str, ok, err := s.GetString(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", str)

	key, err = s.Store(ctx, []byte{0x00, 0xff})
	require.NoError(t, err)
	raw, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x00, 0xff}, raw)

	key, err = s.Store(ctx, -42)
	require.NoError(t, err)
	n, ok, err := s.GetInt(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-42), n)

	key, err = s.Store(ctx, 3.25)
	require.NoError(t, err)
	f, ok, err := s.GetFloat(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3.25, f)

	// Integers are stored as text, so they read back as strings too.
	key, err = s.Store(ctx, 7)
	require.NoError(t, err)
	str, _, err = s.GetString(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "7", str)
}

func TestStoreRoundTripsOnShapedBackends(t *testing.T) {
	ctx := context.Background()
	shapes := map[string][]callcache.BackendOption{
		"max_bytes": {callcache.WithMaxValueBytes(1024)},
		"gzip":      {callcache.WithCompression(callcache.CompressionGzip)},
		"encrypted": {callcache.WithEncryptionKey([]byte("0123456789abcdef")), callcache.WithMaxValueBytes(1024)},
	}
	for name, opts := range shapes {
		t.Run(name, func(t *testing.T) {
			s, err := callcache.NewStore(ctx, callcache.NewMemoryBackend(ctx, opts...))
			require.NoError(t, err)
			for _, value := range []string{"CMP1g-not-gzip", "ENC1", "plain"} {
				key, err := s.Store(ctx, value)
				require.NoError(t, err)
				got, ok, err := s.GetString(ctx, key)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, value, got)
			}
		})
	}
}

func TestStoreGetAsCustomDecoder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	key, err := s.Store(ctx, "2024-01-02T03:04:05Z")
	require.NoError(t, err)
	ts, ok, err := callcache.GetAs(ctx, s, key, func(b []byte) (time.Time, error) {
		return time.Parse(time.RFC3339, string(b))
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2024, ts.Year())

	_, _, err = callcache.GetAs[int](ctx, s, key, nil)
	assert.Error(t, err)
}

func TestStoreAbsentKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	body, ok, err := s.Get(ctx, "never-issued")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, body)

	n, ok, err := s.GetInt(ctx, "never-issued")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestStoreDecodeFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	key, err := s.Store(ctx, "abc")
	require.NoError(t, err)
	_, ok, err := s.GetInt(ctx, key)
	assert.False(t, ok)
	require.ErrorIs(t, err, callcache.ErrDecode)

	var decodeErr *callcache.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, key, decodeErr.Key)
	assert.Equal(t, "int64", decodeErr.Type)

	key, err = s.Store(ctx, []byte{0xff, 0xfe})
	require.NoError(t, err)
	_, _, err = s.GetString(ctx, key)
	require.ErrorIs(t, err, callcache.ErrDecode)
}

func TestStoreRejectsUnsupportedValues(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t)

	for _, v := range []any{struct{}{}, map[string]int{}, true, nil} {
		_, err := s.Store(ctx, v)
		require.ErrorIs(t, err, callcache.ErrUnsupportedValue, "value %#v", v)
	}
	fake.AssertTotal(t, cachefake.OpSet, 0)
}

func TestNewStoreFlushesBackend(t *testing.T) {
	ctx := context.Background()
	backend := callcache.NewMemoryBackend(ctx)
	require.NoError(t, backend.Set(ctx, "leftover", []byte("x")))
	_, err := backend.RPush(ctx, "ops:inputs", []byte("[]"))
	require.NoError(t, err)

	_, err = callcache.NewStore(ctx, backend)
	require.NoError(t, err)

	_, ok, err := backend.Get(ctx, "leftover")
	require.NoError(t, err)
	assert.False(t, ok)
	items, err := backend.LRange(ctx, "ops:inputs", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNewStoreFlushIsScopedByPrefix(t *testing.T) {
	ctx := context.Background()
	shared := callcache.NewMemoryBackend(ctx, callcache.WithPrefix("other"))
	require.NoError(t, shared.Set(ctx, "keep", []byte("x")))

	_, err := callcache.NewStore(ctx, callcache.NewMemoryBackend(ctx, callcache.WithPrefix("mine")))
	require.NoError(t, err)

	_, ok, err := shared.Get(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewStoreFailures(t *testing.T) {
	ctx := context.Background()

	_, err := callcache.NewStore(ctx, nil)
	require.ErrorIs(t, err, callcache.ErrBackendUnavailable)

	boom := errors.New("boom")
	fake := cachefake.New()
	fake.Fail(cachefake.OpReady, boom)
	_, err = callcache.NewStore(ctx, fake.Backend())
	require.ErrorIs(t, err, boom)
	fake.AssertTotal(t, cachefake.OpFlush, 0)

	fake = cachefake.New()
	fake.Fail(cachefake.OpFlush, boom)
	_, err = callcache.NewStore(ctx, fake.Backend())
	require.ErrorIs(t, err, boom)
}

func TestStorePropagatesBackendErrors(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t)
	boom := errors.New("boom")

	fake.Fail(cachefake.OpSet, boom)
	_, err := s.Store(ctx, "v")
	require.ErrorIs(t, err, boom)

	fake.Fail(cachefake.OpGet, boom)
	_, _, err = s.GetString(ctx, "k")
	require.ErrorIs(t, err, boom)
}

func TestStoreKeyFunc(t *testing.T) {
	ctx := context.Background()
	var n int
	s, fake := newTestStore(t, callcache.WithKeyFunc(func() (string, error) {
		n++
		return "key-" + strconv.Itoa(n), nil
	}))

	key, err := s.Store(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)
	fake.AssertCalled(t, cachefake.OpSet, "key-1", 1)

	failing, _ := newTestStore(t, callcache.WithKeyFunc(func() (string, error) {
		return "", errors.New("no entropy")
	}))
	_, err = failing.Store(ctx, "v")
	assert.Error(t, err)
}

func TestStoreCallHistoryAndCount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, callcache.WithCallHistory(), callcache.WithCallCount())
	assert.Equal(t, "Store.Store", s.OperationName())

	k1, err := s.Store(ctx, "a")
	require.NoError(t, err)
	k2, err := s.Store(ctx, 2)
	require.NoError(t, err)

	calls, err := s.Journal().Calls(ctx, s.OperationName())
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls)

	lines, err := s.Journal().Replay(ctx, s.OperationName())
	require.NoError(t, err)
	var got []string
	for line := range lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{
		fmt.Sprintf(`Store.Store("a") -> %s`, k1),
		fmt.Sprintf(`Store.Store(2) -> %s`, k2),
	}, got)
}

func TestStoreCallCountIncludesFailedCalls(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, callcache.WithCallCount(), callcache.WithOperationName("put"))

	_, err := s.Store(ctx, struct{}{})
	require.Error(t, err)
	_, err = s.Store(ctx, "ok")
	require.NoError(t, err)

	calls, err := s.Journal().Calls(ctx, "put")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls)
}

func TestStoreStrictPairingUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, callcache.WithCallHistory(), callcache.WithStrictPairing())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Store(ctx, i)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := s.Journal().History(ctx, s.OperationName())
	require.NoError(t, err)
	require.Len(t, history, 50)
	for _, record := range history {
		values, err := record.Args.Values()
		require.NoError(t, err)
		n, ok, err := s.GetInt(ctx, string(record.Output))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, values[0], n)
	}
}

type spyObserver struct {
	mu  sync.Mutex
	ops []string
}

func (s *spyObserver) OnCacheOp(_ context.Context, op string, _ string, hit bool, err error, _ time.Duration, _ callcache.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, fmt.Sprintf("%s:%v:%v", op, hit, err != nil))
}

func TestStoreReportsToObserver(t *testing.T) {
	ctx := context.Background()
	obs := &spyObserver{}
	s, _ := newTestStore(t, callcache.WithObserver(obs), callcache.WithCallHistory())

	key, err := s.Store(ctx, "v")
	require.NoError(t, err)
	_, _, _ = s.Get(ctx, key)
	_, _, _ = s.Get(ctx, "missing")

	assert.Equal(t, []string{
		"store:false:false",
		"record:true:false",
		"get:true:false",
		"get:false:false",
	}, obs.ops)
}
