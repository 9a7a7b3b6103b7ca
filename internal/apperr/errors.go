package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure for callers that map errors to responses.
type Kind string

const (
	// KindNotFound marks a missing project, article, comment, reply or version.
	KindNotFound Kind = "not_found"
	// KindForbidden marks an actor lacking the capability or a closed/inaccessible project.
	KindForbidden Kind = "forbidden"
	// KindConflict marks a state transition that cannot be applied to the current state.
	KindConflict Kind = "conflict"
	// KindValidation marks malformed input detected before any core logic ran.
	KindValidation Kind = "validation"
	// KindInternal marks storage or infrastructure faults.
	KindInternal Kind = "internal"
)

// ServiceError is the tagged error returned by every core operation.
type ServiceError struct {
	kind   Kind
	code   string
	reason string
	err    error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *ServiceError) Code() string {
	return e.code
}

// Reason returns the short reason without the operation prefix.
func (e *ServiceError) Reason() string {
	return e.reason
}

// Kind returns the failure classification.
func (e *ServiceError) Kind() Kind {
	return e.kind
}

// New builds a ServiceError whose code is "<operation>.<reason>".
func New(kind Kind, operation, reason string, cause error) error {
	return &ServiceError{
		kind:   kind,
		code:   fmt.Sprintf("%s.%s", operation, reason),
		reason: reason,
		err:    cause,
	}
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(operation, reason string, cause error) error {
	return New(KindNotFound, operation, reason, cause)
}

// Forbidden is shorthand for New(KindForbidden, ...).
func Forbidden(operation, reason string, cause error) error {
	return New(KindForbidden, operation, reason, cause)
}

// Conflict is shorthand for New(KindConflict, ...).
func Conflict(operation, reason string, cause error) error {
	return New(KindConflict, operation, reason, cause)
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(operation, reason string, cause error) error {
	return New(KindValidation, operation, reason, cause)
}

// Internal is shorthand for New(KindInternal, ...).
func Internal(operation, reason string, cause error) error {
	return New(KindInternal, operation, reason, cause)
}

// KindOf reports the kind of the first ServiceError in err's chain.
// Errors that carry no ServiceError are internal.
func KindOf(err error) Kind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	return KindInternal
}

// Is reports whether err carries a ServiceError of the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
