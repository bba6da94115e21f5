package callcache

import (
	"context"
)

// errorBackend is returned when a driver fails to initialize; it preserves the driver
// identity while surfacing the construction error on every call.
type errorBackend struct {
	driver Driver
	err    error
}

func (e *errorBackend) Driver() Driver                                      { return e.driver }
func (e *errorBackend) Ready(context.Context) error                         { return e.err }
func (e *errorBackend) Get(context.Context, string) ([]byte, bool, error)   { return nil, false, e.err }
func (e *errorBackend) Set(context.Context, string, []byte) error           { return e.err }
func (e *errorBackend) RPush(context.Context, string, []byte) (int64, error) { return 0, e.err }
func (e *errorBackend) LRange(context.Context, string, int64, int64) ([][]byte, error) {
	return nil, e.err
}
func (e *errorBackend) Incr(context.Context, string) (int64, error) { return 0, e.err }
func (e *errorBackend) Flush(context.Context) error                 { return e.err }
