package callcache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/goforj/callcache/cachecore"
)

const natsCASAttempts = 16

// NATSKeyValue captures the subset of nats.KeyValue used by the backend.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Create(key string, value []byte) (uint64, error)
	Update(key string, value []byte, last uint64) (uint64, error)
	Purge(key string, opts ...nats.DeleteOpt) error
	ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error)
}

type natsBackend struct {
	kv     NATSKeyValue
	prefix string
}

func newNATSBackend(kv NATSKeyValue, prefix string) Backend {
	return &natsBackend{
		kv:     kv,
		prefix: prefix,
	}
}

func (s *natsBackend) Driver() Driver { return DriverNATS }

func (s *natsBackend) Ready(context.Context) error {
	if s.kv == nil {
		return errNATSUnavailable
	}
	_, err := s.kv.Get(s.valueKey("ready"))
	if err != nil && !isNATSMiss(err) {
		return fmt.Errorf("nats ready: %w", err)
	}
	return nil
}

func (s *natsBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.kv == nil {
		return nil, false, errNATSUnavailable
	}
	entry, ok, err := s.entry(s.valueKey(key))
	if err != nil || !ok {
		return nil, false, err
	}
	return cloneBytes(entry.Value()), true, nil
}

func (s *natsBackend) Set(_ context.Context, key string, value []byte) error {
	if s.kv == nil {
		return errNATSUnavailable
	}
	_, err := s.kv.Put(s.valueKey(key), cloneBytes(value))
	return err
}

// RPush stores the list as one JSON document and appends with revision CAS,
// so concurrent appends retry instead of overwriting each other.
func (s *natsBackend) RPush(_ context.Context, key string, value []byte) (int64, error) {
	if s.kv == nil {
		return 0, errNATSUnavailable
	}
	listKey := s.listKey(key)
	for attempt := 0; attempt < natsCASAttempts; attempt++ {
		list, revision, err := s.readList(listKey)
		if err != nil {
			return 0, err
		}
		list = append(list, cloneBytes(value))
		body, err := json.Marshal(list)
		if err != nil {
			return 0, fmt.Errorf("marshal nats list: %w", err)
		}
		written, err := s.writeCAS(listKey, body, revision)
		if err != nil {
			return 0, err
		}
		if written {
			return int64(len(list)), nil
		}
	}
	return 0, errors.New("nats rpush exceeded retry limit")
}

func (s *natsBackend) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	if s.kv == nil {
		return nil, errNATSUnavailable
	}
	list, _, err := s.readList(s.listKey(key))
	if err != nil {
		return nil, err
	}
	lo, hi, ok := cachecore.RangeBounds(int64(len(list)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	return list[lo:hi], nil
}

func (s *natsBackend) Incr(_ context.Context, key string) (int64, error) {
	if s.kv == nil {
		return 0, errNATSUnavailable
	}
	valueKey := s.valueKey(key)
	for attempt := 0; attempt < natsCASAttempts; attempt++ {
		var (
			current  int64
			revision uint64
		)
		entry, ok, err := s.entry(valueKey)
		if err != nil {
			return 0, err
		}
		if ok {
			revision = entry.Revision()
			if raw := entry.Value(); len(raw) > 0 {
				parsed, parseErr := strconv.ParseInt(string(raw), 10, 64)
				if parseErr != nil {
					return 0, fmt.Errorf("callcache: key %q does not contain a numeric value", key)
				}
				current = parsed
			}
		}
		next := current + 1
		written, err := s.writeCAS(valueKey, []byte(strconv.FormatInt(next, 10)), revision)
		if err != nil {
			return 0, err
		}
		if written {
			return next, nil
		}
	}
	return 0, errors.New("nats increment exceeded retry limit")
}

// Flush purges every key in the bucket when no prefix is configured,
// otherwise only the keys under prefix.
func (s *natsBackend) Flush(context.Context) error {
	if s.kv == nil {
		return errNATSUnavailable
	}
	lister, err := s.kv.ListKeys(nats.IgnoreDeletes())
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}
		return err
	}
	defer func() { _ = lister.Stop() }()

	scopePrefix := s.scopePrefix()
	for key := range lister.Keys() {
		if s.prefix != "" && !strings.HasPrefix(key, scopePrefix) {
			continue
		}
		if err := s.kv.Purge(key); err != nil && !isNATSMiss(err) {
			return err
		}
	}
	select {
	case err := <-lister.Error():
		if err != nil {
			return fmt.Errorf("nats list keys: %w", err)
		}
	default:
	}
	return nil
}

func (s *natsBackend) entry(key string) (nats.KeyValueEntry, bool, error) {
	entry, err := s.kv.Get(key)
	if isNATSMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return nil, false, nil
	}
	return entry, true, nil
}

func (s *natsBackend) readList(key string) ([][]byte, uint64, error) {
	entry, ok, err := s.entry(key)
	if err != nil || !ok {
		return nil, 0, err
	}
	var list [][]byte
	if err := json.Unmarshal(entry.Value(), &list); err != nil {
		return nil, 0, fmt.Errorf("decode nats list: %w", err)
	}
	return list, entry.Revision(), nil
}

// writeCAS creates key when revision is zero and updates it otherwise.
// It reports false without error when another writer won the race.
func (s *natsBackend) writeCAS(key string, body []byte, revision uint64) (bool, error) {
	var err error
	if revision == 0 {
		_, err = s.kv.Create(key, body)
	} else {
		_, err = s.kv.Update(key, body, revision)
	}
	if err == nil {
		return true, nil
	}
	if errors.Is(err, nats.ErrKeyExists) || isNATSMiss(err) {
		return false, nil
	}
	var apiErr *nats.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence {
		return false, nil
	}
	return false, err
}

func (s *natsBackend) valueKey(key string) string {
	return s.scopePrefix() + "k." + encodeNATSKeyPart(key)
}

func (s *natsBackend) listKey(key string) string {
	return s.scopePrefix() + "l." + encodeNATSKeyPart(key)
}

func (s *natsBackend) scopePrefix() string {
	return "p." + encodeNATSKeyPart(s.prefix) + "."
}

func isNATSMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

func encodeNATSKeyPart(part string) string {
	if part == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}

var errNATSUnavailable = fmt.Errorf("nats key-value: %w", ErrBackendUnavailable)
