package callcache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedValue is returned for values that have no scalar encoding.
	ErrUnsupportedValue = errors.New("callcache: unsupported value type")
	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("callcache: decode failed")
	// ErrOperationName is returned by wrappers built with an empty operation name.
	ErrOperationName = errors.New("callcache: operation name is required")
	// ErrBackendUnavailable is returned when a driver has no client configured.
	ErrBackendUnavailable = errors.New("callcache: backend unavailable")
)

// DecodeError reports a stored value that could not be converted to the requested type.
type DecodeError struct {
	Key  string
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("callcache: decode %q as %s: %v", e.Key, e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDecode) match any decode failure.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
