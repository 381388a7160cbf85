// Package fault classifies errors so supervising loops can decide between
// retrying, skipping and exiting without inspecting error strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind partitions failures by how the caller should react.
type Kind int

const (
	// Transient covers infrastructure that may recover on retry: database,
	// broker and HTTP connectivity.
	Transient Kind = iota
	// DataMissing covers absent inputs: no active clients, no POIs, no
	// precomputed path, no aligned departure. Skip and continue.
	DataMissing
	// Malformed covers inputs that exist but cannot be used: bad WKT, bad
	// JSON payloads, unexpected model output shapes.
	Malformed
	// Fatal covers unrecoverable conditions, normally bad configuration.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case DataMissing:
		return "data_missing"
	case Malformed:
		return "malformed"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a Kind alongside the underlying error.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string {
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the classification of this error.
func (e *Error) Kind() Kind {
	return e.kind
}

// New creates a classified error from a format string.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error, preserving it for errors.Is/As chains.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: fmt.Errorf("%s: %w", msg, err)}
}

// KindOf reports the classification of err. Unclassified errors are treated
// as Transient so supervisors retry rather than die on surprises.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return Transient
}

// IsMissing reports whether err is classified DataMissing.
func IsMissing(err error) bool {
	return err != nil && KindOf(err) == DataMissing
}
