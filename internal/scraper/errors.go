package scraper

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass buckets scrape failures for retry decisions and reporting.
type ErrorClass string

const (
	ClassAuth              ErrorClass = "auth"
	ClassTransport         ErrorClass = "transport"
	ClassParse             ErrorClass = "parse"
	ClassFallbackExhausted ErrorClass = "fallback-exhausted"
	ClassCancelled         ErrorClass = "cancelled"
)

// Code is the short uppercase form persisted in failure reasons.
func (c ErrorClass) Code() string {
	return strings.ToUpper(strings.ReplaceAll(string(c), "-", "_"))
}

// Retryable reports whether a queue-level retry can help. Auth failures
// already consumed their one refresh, and the DOM path was the last
// resort.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassTransport, ClassParse:
		return true
	default:
		return false
	}
}

// Error is a classified scrape failure. Snapshot, when set, carries the
// rendered fallback page for failure diagnostics.
type Error struct {
	Class    ErrorClass
	Message  string
	Err      error
	Snapshot *Snapshot
}

func (e *Error) Error() string {
	return e.Class.Code() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(class ErrorClass, format string, args ...any) *Error {
	var wrapped error
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			wrapped = err
		}
	}
	return &Error{Class: class, Message: fmt.Sprintf(format, args...), Err: wrapped}
}

// AsError extracts a classified scrape error, if err carries one.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ClassOf returns the class of err, defaulting to transport for
// unclassified failures.
func ClassOf(err error) ErrorClass {
	if se, ok := AsError(err); ok {
		return se.Class
	}
	return ClassTransport
}
