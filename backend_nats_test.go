package callcache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/goforj/callcache/cachetest"
)

func TestNATSBackendNilKeyValueErrors(t *testing.T) {
	ctx := context.Background()
	backend := newNATSBackend(nil, "")
	if err := backend.Ready(ctx); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ready to report unavailable backend, got %v", err)
	}
	if _, _, err := backend.Get(ctx, "k"); err == nil {
		t.Fatalf("expected get error when kv is nil")
	}
	if err := backend.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected set error when kv is nil")
	}
	if _, err := backend.RPush(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected rpush error when kv is nil")
	}
	if _, err := backend.LRange(ctx, "k", 0, -1); err == nil {
		t.Fatalf("expected lrange error when kv is nil")
	}
	if _, err := backend.Incr(ctx, "k"); err == nil {
		t.Fatalf("expected incr error when kv is nil")
	}
	if err := backend.Flush(ctx); err == nil {
		t.Fatalf("expected flush error when kv is nil")
	}
}

func TestNATSBackendContractWithStubKV(t *testing.T) {
	cachetest.RunBackendContract(t, newNATSBackend(newStubNATSKeyValue("callcache"), "app"), cachetest.Options{})
}

func TestNATSBackendStoresListsAsJSON(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue("callcache")
	backend := newNATSBackend(kv, "").(*natsBackend)

	_, _ = backend.RPush(ctx, "ops:inputs", []byte("one"))
	_, _ = backend.RPush(ctx, "ops:inputs", []byte("two"))

	entry, ok := kv.entries[backend.listKey("ops:inputs")]
	if !ok {
		t.Fatalf("expected list entry under %q", backend.listKey("ops:inputs"))
	}
	var list [][]byte
	if err := json.Unmarshal(entry.value, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 || string(list[0]) != "one" || string(list[1]) != "two" {
		t.Fatalf("unexpected list document: %q", list)
	}
	for key := range kv.entries {
		if strings.ContainsAny(key, " :*>") {
			t.Fatalf("key %q contains characters NATS rejects", key)
		}
	}
}

func TestNATSBackendRetriesOnRevisionConflict(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue("callcache")
	kv.conflicts = 2
	backend := newNATSBackend(kv, "")

	n, err := backend.RPush(ctx, "list", []byte("v"))
	if err != nil || n != 1 {
		t.Fatalf("expected rpush to succeed after conflicts, got n=%d err=%v", n, err)
	}
	kv.conflicts = 1
	if v, err := backend.Incr(ctx, "counter"); err != nil || v != 1 {
		t.Fatalf("expected incr to succeed after conflict, got v=%d err=%v", v, err)
	}
}

func TestNATSBackendGivesUpAfterRetryLimit(t *testing.T) {
	kv := newStubNATSKeyValue("callcache")
	kv.conflicts = natsCASAttempts
	if _, err := newNATSBackend(kv, "").RPush(context.Background(), "list", []byte("v")); err == nil {
		t.Fatalf("expected rpush to give up")
	}
}

func TestNATSBackendFlushRespectsPrefix(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue("callcache")
	mine := newNATSBackend(kv, "mine")
	theirs := newNATSBackend(kv, "theirs")

	_ = mine.Set(ctx, "a", []byte("1"))
	_ = theirs.Set(ctx, "a", []byte("2"))
	if err := mine.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, ok, _ := mine.Get(ctx, "a"); ok {
		t.Fatalf("expected own key flushed")
	}
	if body, ok, _ := theirs.Get(ctx, "a"); !ok || string(body) != "2" {
		t.Fatalf("expected other prefix untouched, got ok=%v body=%q", ok, body)
	}
}

func TestNATSBackendFlushWithoutPrefixClearsBucket(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue("callcache")
	unscoped := newNATSBackend(kv, "")
	scoped := newNATSBackend(kv, "other")

	_ = unscoped.Set(ctx, "a", []byte("1"))
	_, _ = unscoped.RPush(ctx, "calls:inputs", []byte("[]"))
	_ = scoped.Set(ctx, "a", []byte("2"))
	if _, err := kv.Put("foreign.key", []byte("x")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := unscoped.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, ok, _ := unscoped.Get(ctx, "a"); ok {
		t.Fatalf("expected unscoped key flushed")
	}
	if _, ok, _ := scoped.Get(ctx, "a"); ok {
		t.Fatalf("expected prefixed key flushed by unscoped flush")
	}
	if _, err := kv.Get("foreign.key"); !isNATSMiss(err) {
		t.Fatalf("expected every bucket key purged, got %v", err)
	}
}

func TestNATSBackendFlushReportsListerErrors(t *testing.T) {
	kv := newStubNATSKeyValue("callcache")
	boom := errors.New("watch failed")
	kv.listStreamErr = boom
	if err := newNATSBackend(kv, "").Flush(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected lister error, got %v", err)
	}
}

func TestNATSBackendFlushEmptyBucket(t *testing.T) {
	kv := newStubNATSKeyValue("callcache")
	kv.listErr = nats.ErrNoKeysFound
	if err := newNATSBackend(kv, "").Flush(context.Background()); err != nil {
		t.Fatalf("expected empty bucket flush to succeed, got %v", err)
	}
}

func TestNATSBackendErrorPropagation(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	kv := newStubNATSKeyValue("callcache")
	kv.getErr = boom
	kv.putErr = boom
	backend := newNATSBackend(kv, "")

	if err := backend.Ready(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected ready error, got %v", err)
	}
	if _, _, err := backend.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected get error, got %v", err)
	}
	if err := backend.Set(ctx, "k", []byte("v")); !errors.Is(err, boom) {
		t.Fatalf("expected set error, got %v", err)
	}
	if _, err := backend.RPush(ctx, "k", []byte("v")); !errors.Is(err, boom) {
		t.Fatalf("expected rpush error, got %v", err)
	}

	kv.getErr = nil
	kv.createErr = boom
	if _, err := backend.Incr(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected incr create error, got %v", err)
	}
}

func TestNATSBackendIncrementOnNonNumericValue(t *testing.T) {
	ctx := context.Background()
	backend := newNATSBackend(newStubNATSKeyValue("callcache"), "")
	_ = backend.Set(ctx, "k", []byte("abc"))
	if _, err := backend.Incr(ctx, "k"); err == nil {
		t.Fatalf("expected non-numeric increment to fail")
	}
}

type stubNATSKeyValue struct {
	mu     sync.Mutex
	bucket string
	rev    uint64

	entries map[string]*stubNATSKeyValueEntry

	// conflicts makes the next N Create/Update calls lose the race.
	conflicts int

	getErr    error
	putErr    error
	createErr error
	updateErr error
	purgeErr  error
	listErr   error

	// listStreamErr is reported on the lister's error channel after its keys.
	listStreamErr error
}

func newStubNATSKeyValue(bucket string) *stubNATSKeyValue {
	return &stubNATSKeyValue{
		bucket:  bucket,
		entries: make(map[string]*stubNATSKeyValueEntry),
	}
}

func (s *stubNATSKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	if entry.op == nats.KeyValueDelete || entry.op == nats.KeyValuePurge {
		return nil, nats.ErrKeyDeleted
	}
	return entry.clone(), nil
}

func (s *stubNATSKeyValue) Put(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return 0, s.putErr
	}
	return s.put(key, value), nil
}

func (s *stubNATSKeyValue) put(key string, value []byte) uint64 {
	s.rev++
	s.entries[key] = &stubNATSKeyValueEntry{
		bucket:   s.bucket,
		key:      key,
		value:    cloneBytes(value),
		revision: s.rev,
		created:  time.Now(),
		op:       nats.KeyValuePut,
	}
	return s.rev
}

func (s *stubNATSKeyValue) Create(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return 0, s.createErr
	}
	if s.conflicts > 0 {
		s.conflicts--
		return 0, nats.ErrKeyExists
	}
	if existing, ok := s.entries[key]; ok && existing.op == nats.KeyValuePut {
		return 0, nats.ErrKeyExists
	}
	return s.put(key, value), nil
}

func (s *stubNATSKeyValue) Update(key string, value []byte, last uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	if s.conflicts > 0 {
		s.conflicts--
		return 0, &nats.APIError{ErrorCode: nats.JSErrCodeStreamWrongLastSequence, Code: 400}
	}
	existing, ok := s.entries[key]
	if !ok || existing.op != nats.KeyValuePut {
		return 0, nats.ErrKeyNotFound
	}
	if existing.revision != last {
		return 0, &nats.APIError{ErrorCode: nats.JSErrCodeStreamWrongLastSequence, Code: 400}
	}
	return s.put(key, value), nil
}

func (s *stubNATSKeyValue) Purge(key string, _ ...nats.DeleteOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purgeErr != nil {
		return s.purgeErr
	}
	delete(s.entries, key)
	return nil
}

func (s *stubNATSKeyValue) ListKeys(_ ...nats.WatchOpt) (nats.KeyLister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return newStubNATSKeyLister(keys, s.listStreamErr), nil
}

type stubNATSKeyValueEntry struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
	created  time.Time
	delta    uint64
	op       nats.KeyValueOp
}

func (e *stubNATSKeyValueEntry) clone() *stubNATSKeyValueEntry {
	cp := *e
	cp.value = cloneBytes(e.value)
	return &cp
}

func (e *stubNATSKeyValueEntry) Bucket() string             { return e.bucket }
func (e *stubNATSKeyValueEntry) Key() string                { return e.key }
func (e *stubNATSKeyValueEntry) Value() []byte              { return cloneBytes(e.value) }
func (e *stubNATSKeyValueEntry) Revision() uint64           { return e.revision }
func (e *stubNATSKeyValueEntry) Created() time.Time         { return e.created }
func (e *stubNATSKeyValueEntry) Delta() uint64              { return e.delta }
func (e *stubNATSKeyValueEntry) Operation() nats.KeyValueOp { return e.op }

type stubNATSKeyLister struct {
	keysCh chan string
	errCh  chan error
}

func newStubNATSKeyLister(keys []string, listErr error) *stubNATSKeyLister {
	keysCh := make(chan string, len(keys))
	errCh := make(chan error, 1)
	for _, key := range keys {
		keysCh <- key
	}
	if listErr != nil {
		errCh <- listErr
	}
	close(keysCh)
	close(errCh)
	return &stubNATSKeyLister{keysCh: keysCh, errCh: errCh}
}

func (l *stubNATSKeyLister) Keys() <-chan string { return l.keysCh }
func (l *stubNATSKeyLister) Error() <-chan error { return l.errCh }
func (l *stubNATSKeyLister) Stop() error         { return nil }
