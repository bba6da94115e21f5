package callcache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/goforj/callcache/cachecore"
)

// memoryList is the go-cache item stored under a list key.
type memoryList [][]byte

type memoryBackend struct {
	cache  *gocache.Cache
	prefix string
	mu     sync.Mutex
}

func newMemoryBackend(prefix string) Backend {
	return &memoryBackend{
		cache:  gocache.New(gocache.NoExpiration, 0),
		prefix: prefix,
	}
}

func (s *memoryBackend) Driver() Driver {
	return DriverMemory
}

func (s *memoryBackend) Ready(context.Context) error {
	return nil
}

func (s *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	key = s.cacheKey(key)
	item, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return nil, false, wrongType(key)
	}
	return cloneBytes(body), true, nil
}

func (s *memoryBackend) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(s.cacheKey(key), cloneBytes(value), gocache.NoExpiration)
	return nil
}

func (s *memoryBackend) RPush(_ context.Context, key string, value []byte) (int64, error) {
	key = s.cacheKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	var list memoryList
	if item, ok := s.cache.Get(key); ok {
		existing, isList := item.(memoryList)
		if !isList {
			return 0, wrongType(key)
		}
		list = existing
	}
	// Copy on write so readers holding the previous slice never observe the append.
	next := make(memoryList, len(list), len(list)+1)
	copy(next, list)
	next = append(next, cloneBytes(value))
	s.cache.Set(key, next, gocache.NoExpiration)
	return int64(len(next)), nil
}

func (s *memoryBackend) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	key = s.cacheKey(key)
	s.mu.Lock()
	item, ok := s.cache.Get(key)
	s.mu.Unlock()
	if !ok {
		return [][]byte{}, nil
	}
	list, isList := item.(memoryList)
	if !isList {
		return nil, wrongType(key)
	}
	lo, hi, ok := cachecore.RangeBounds(int64(len(list)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, hi-lo)
	for _, body := range list[lo:hi] {
		out = append(out, cloneBytes(body))
	}
	return out, nil
}

func (s *memoryBackend) Incr(_ context.Context, key string) (int64, error) {
	key = s.cacheKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if item, ok := s.cache.Get(key); ok {
		body, isBytes := item.([]byte)
		if !isBytes {
			return 0, wrongType(key)
		}
		n, err := strconv.ParseInt(string(body), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("callcache: key %q does not contain a numeric value", key)
		}
		current = n
	}
	next := current + 1
	s.cache.Set(key, []byte(strconv.FormatInt(next, 10)), gocache.NoExpiration)
	return next, nil
}

func (s *memoryBackend) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefix == "" {
		s.cache.Flush()
		return nil
	}
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, s.prefix+":") {
			s.cache.Delete(key)
		}
	}
	return nil
}

func (s *memoryBackend) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func wrongType(key string) error {
	return fmt.Errorf("callcache: key %q holds the wrong kind of value", key)
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone
}
