package callcache

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

var (
	encryptionMagic = []byte("ENC1")

	ErrEncryptionKey = errors.New("callcache: encryption key must be 16, 24, or 32 bytes")
	ErrDecryptFailed = errors.New("callcache: decrypt failed")
)

// encryptingBackend seals values and list entries with AES-GCM. Counters stay
// in plain text so Incr keeps working.
type encryptingBackend struct {
	inner Backend
	aead  cipher.AEAD
}

func newEncryptingBackend(inner Backend, key []byte) (Backend, error) {
	if len(key) == 0 {
		return inner, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrEncryptionKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &encryptingBackend{inner: inner, aead: aead}, nil
}

func (s *encryptingBackend) Driver() Driver { return s.inner.Driver() }

func (s *encryptingBackend) Ready(ctx context.Context) error { return s.inner.Ready(ctx) }

func (s *encryptingBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return body, ok, err
	}
	plain, err := s.decrypt(body)
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}

func (s *encryptingBackend) Set(ctx context.Context, key string, value []byte) error {
	enc, err := s.encrypt(value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, enc)
}

func (s *encryptingBackend) RPush(ctx context.Context, key string, value []byte) (int64, error) {
	enc, err := s.encrypt(value)
	if err != nil {
		return 0, err
	}
	return s.inner.RPush(ctx, key, enc)
}

func (s *encryptingBackend) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	values, err := s.inner.LRange(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(values))
	for _, value := range values {
		plain, err := s.decrypt(value)
		if err != nil {
			return nil, err
		}
		out = append(out, plain)
	}
	return out, nil
}

func (s *encryptingBackend) Incr(ctx context.Context, key string) (int64, error) {
	return s.inner.Incr(ctx, key)
}

func (s *encryptingBackend) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}

func (s *encryptingBackend) encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := s.aead.Seal(nil, nonce, plain, nil)
	buf := make([]byte, 0, len(encryptionMagic)+1+len(nonce)+len(ct))
	buf = append(buf, encryptionMagic...)
	buf = append(buf, byte(len(nonce)))
	buf = append(buf, nonce...)
	buf = append(buf, ct...)
	return buf, nil
}

// decrypt passes through values without the ENC1 header, such as counters.
func (s *encryptingBackend) decrypt(in []byte) ([]byte, error) {
	if len(in) < len(encryptionMagic)+1 || !bytes.Equal(in[:len(encryptionMagic)], encryptionMagic) {
		return in, nil
	}
	nonceLen := int(in[len(encryptionMagic)])
	offset := len(encryptionMagic) + 1
	if len(in) < offset+nonceLen {
		return nil, ErrDecryptFailed
	}
	plain, err := s.aead.Open(nil, in[offset:offset+nonceLen], in[offset+nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
