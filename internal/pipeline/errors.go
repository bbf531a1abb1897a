package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure. The kind is persisted alongside the
// human-readable error text so clients get a machine-readable cause.
type Kind string

const (
	KindNotFound Kind = "not_found"
	KindUpstream Kind = "upstream"
	KindAnalysis Kind = "analysis"
	KindStore    Kind = "store"
)

// Error is a classified stage failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error from a format string.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapError classifies an existing error, keeping its chain intact.
// An error already carrying a kind is returned as is.
func WrapError(kind Kind, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from an error chain, or returns fallback.
func KindOf(err error, fallback Kind) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return fallback
}
