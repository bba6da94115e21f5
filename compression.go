package callcache

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
)

// Shaped values carry a five byte frame: compressMagic followed by a codec tag.
// Every value written through the shaping layer is framed, so a stored string
// that happens to start with the magic still reads back byte for byte.
var compressMagic = []byte("CMP1")

const (
	codecTagNone = 'n'
	codecTagGzip = 'g'
	frameLen     = 5
)

var (
	ErrValueTooLarge      = errors.New("callcache: value exceeds max size")
	ErrUnsupportedCodec   = errors.New("callcache: unsupported compression codec")
	ErrCorruptCompression = errors.New("callcache: corrupt compressed payload")
)

// encodeValue frames value for codec. max bounds the raw value and, for
// compressing codecs, the compressed payload.
func encodeValue(codec CompressionCodec, max int, value []byte) ([]byte, error) {
	if max > 0 && len(value) > max {
		return nil, ErrValueTooLarge
	}
	switch codec {
	case CompressionNone, "":
		out := make([]byte, 0, frameLen+len(value))
		out = appendFrame(out, codecTagNone)
		return append(out, value...), nil
	case CompressionGzip:
		var buf bytes.Buffer
		buf.Write(appendFrame(nil, codecTagGzip))
		zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
		if _, err := zw.Write(value); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		if max > 0 && buf.Len()-frameLen > max {
			return nil, ErrValueTooLarge
		}
		return buf.Bytes(), nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// decodeValue unwraps a framed value. Unframed input is returned unchanged:
// counters are written by Incr below the shaping layer and never carry a frame.
func decodeValue(in []byte) ([]byte, error) {
	if len(in) < frameLen || !bytes.HasPrefix(in, compressMagic) {
		return in, nil
	}
	payload := in[frameLen:]
	switch in[len(compressMagic)] {
	case codecTagNone:
		return payload, nil
	case codecTagGzip:
		gr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, ErrCorruptCompression
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, ErrCorruptCompression
		}
		return out, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

func appendFrame(dst []byte, tag byte) []byte {
	dst = append(dst, compressMagic...)
	return append(dst, tag)
}
