// Package otama is the facade for the content-based image similarity
// engine: it owns configuration, logging, and the opaque Handle that
// dispatches to the driver framework in pkg/driver.
package otama

import (
	"errors"
	"fmt"
)

// The error taxonomy from spec §7. Ok is represented by a nil error; the
// other five kinds are the sentinels below, returned wrapped in a
// *StatusError so that errors.Is still matches them after wrapping
// (mirrors errors.go in the teacher, generalized from one sentinel set to
// the full six-kind taxonomy the original status enum names).
var (
	// ErrNoData: the target record or a required query field is absent.
	ErrNoData = errors.New("otama: no data")
	// ErrInvalidArguments: malformed query, bad id hex, wrong variant shape,
	// unknown driver name, or missing required config.
	ErrInvalidArguments = errors.New("otama: invalid arguments")
	// ErrAssertionFailure: a consistency violation detected at runtime, e.g.
	// a master row's vector string failed to deserialize during pull.
	ErrAssertionFailure = errors.New("otama: assertion failure")
	// ErrSystem: I/O, SQL, KV, decode, or memory-map failure.
	ErrSystem = errors.New("otama: system error")
	// ErrNotImplemented: the operation is unsupported by this driver.
	ErrNotImplemented = errors.New("otama: not implemented")
)

// StatusError wraps a taxonomy sentinel with the operation that produced it,
// the way the teacher's StoreError wraps an underlying error with an Op.
type StatusError struct {
	Op  string
	Err error
}

func (e *StatusError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("otama: %v", e.Err)
	}
	return fmt.Sprintf("otama: %s: %v", e.Op, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) Is(target error) bool { return errors.Is(e.Err, target) }

// WrapError wraps err with an operation name. A nil err stays nil, matching
// the teacher's wrapError.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		return &StatusError{Op: op, Err: se}
	}
	return &StatusError{Op: op, Err: err}
}
