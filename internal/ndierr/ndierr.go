// Package ndierr defines the error kinds the core surfaces to its callers.
//
// Components return *Error values (usually wrapped with fmt.Errorf("...: %w"))
// so that call sites can tell "dependency not found" from "disk failed"
// without string matching:
//
//	if ndierr.Is(err, ndierr.KindCascadeRequired) { ... }
//
// Only TRANSPORT_FAILURE and AUTH_FAILURE are retriable.
package ndierr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindAlreadyExists     Kind = "ALREADY_EXISTS"
	KindDependencyMissing Kind = "DEPENDENCY_MISSING"
	KindDependencyCycle   Kind = "DEPENDENCY_CYCLE"
	KindCascadeRequired   Kind = "CASCADE_REQUIRED"
	KindSchemaViolation   Kind = "SCHEMA_VIOLATION"
	KindUnmappedClock     Kind = "UNMAPPED_CLOCK"
	KindUnreachableClock  Kind = "UNREACHABLE_CLOCK"
	KindQueryUnresolved   Kind = "QUERY_UNRESOLVED"
	KindCapacityExceeded  Kind = "CAPACITY_EXCEEDED"
	KindConflict          Kind = "CONFLICT"
	KindTransportFailure  Kind = "TRANSPORT_FAILURE"
	KindAuthFailure       Kind = "AUTH_FAILURE"
	KindIOFailure         Kind = "IO_FAILURE"
	KindInvalidArgument   Kind = "INVALID_ARGUMENT"
)

// Error is the structured error returned by core components.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the operation that failed ("store.add", "timesync.convert").
	Op string

	// Entity names what was being looked up or written ("document", "epoch").
	Entity string

	// ID identifies the affected entity, when there is one.
	ID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.ID != "" {
		if e.Entity != "" {
			msg += fmt.Sprintf(" (%s=%s)", e.Entity, e.ID)
		} else {
			msg += fmt.Sprintf(" (id=%s)", e.ID)
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err (or anything it wraps) is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retriable reports whether an operation that failed with err may be retried.
func Retriable(err error) bool {
	k := KindOf(err)
	return k == KindTransportFailure || k == KindAuthFailure
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound reports a lookup miss.
func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Entity: entity, ID: id, Message: entity + " not found"}
}

// AlreadyExists reports an add that would duplicate an id or name.
func AlreadyExists(op, entity, id string) *Error {
	return &Error{Kind: KindAlreadyExists, Op: op, Entity: entity, ID: id, Message: entity + " already exists"}
}

// DependencyMissing reports a reference to a document that is not present.
func DependencyMissing(op, id string) *Error {
	return &Error{Kind: KindDependencyMissing, Op: op, Entity: "dependency", ID: id, Message: "referenced document is not present"}
}

// DependencyCycle reports an edge that would close a cycle.
func DependencyCycle(op, id string) *Error {
	return &Error{Kind: KindDependencyCycle, Op: op, Entity: "document", ID: id, Message: "dependency would create a cycle"}
}

// CascadeRequired reports a delete that would orphan dependents.
func CascadeRequired(op, id string, dependents int) *Error {
	return &Error{
		Kind:    KindCascadeRequired,
		Op:      op,
		Entity:  "document",
		ID:      id,
		Message: fmt.Sprintf("document has %d dependent(s); delete with cascade", dependents),
	}
}

// IO wraps a disk error.
func IO(op string, err error) *Error {
	return &Error{Kind: KindIOFailure, Op: op, Err: err}
}

// Transport wraps a network or remote failure.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransportFailure, Op: op, Err: err}
}

// Invalid reports a malformed argument.
func Invalid(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, Message: fmt.Sprintf(format, args...)}
}
