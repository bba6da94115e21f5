package callcache

import (
	"context"
)

// shapingBackend enforces data shaping concerns (compression, size limits)
// transparently on top of any concrete Backend. Counters are passed through
// untouched so Incr keeps operating on plain decimal text.
type shapingBackend struct {
	inner Backend
	codec CompressionCodec
	max   int
}

func newShapingBackend(inner Backend, codec CompressionCodec, max int) Backend {
	if (codec == "" || codec == CompressionNone) && max <= 0 {
		return inner
	}
	if codec == "" {
		codec = CompressionNone
	}
	return &shapingBackend{inner: inner, codec: codec, max: max}
}

func (s *shapingBackend) Driver() Driver { return s.inner.Driver() }

func (s *shapingBackend) Ready(ctx context.Context) error {
	return s.inner.Ready(ctx)
}

func (s *shapingBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return body, ok, err
	}
	decoded, err := decodeValue(body)
	if err != nil {
		return nil, false, err
	}
	return decoded, true, nil
}

func (s *shapingBackend) Set(ctx context.Context, key string, value []byte) error {
	encoded, err := encodeValue(s.codec, s.max, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, encoded)
}

func (s *shapingBackend) RPush(ctx context.Context, key string, value []byte) (int64, error) {
	encoded, err := encodeValue(s.codec, s.max, value)
	if err != nil {
		return 0, err
	}
	return s.inner.RPush(ctx, key, encoded)
}

func (s *shapingBackend) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	values, err := s.inner.LRange(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(values))
	for _, value := range values {
		decoded, err := decodeValue(value)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func (s *shapingBackend) Incr(ctx context.Context, key string) (int64, error) {
	return s.inner.Incr(ctx, key)
}

func (s *shapingBackend) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}
