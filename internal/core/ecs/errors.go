package ecs

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the package-level sink for diagnostic (non-control-flow)
// messages: schema build failures, ownership-cycle breaks, compaction
// runs, and the scheduler package's job lock acquisition/release. Swap it
// with SetLogger in hosts that
// want their own sink instead of the global zerolog logger.
var Logger = log.Logger

// SetLogger overrides the package-level logger.
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// ErrorCode identifies the kind of failure per the error-handling design:
// schema errors are fatal at build time, stale handles are not errors at
// all (they surface as IsAlive()==false), and InvalidArgument/Reflection
// failures are ordinary Go errors returned to the caller.
type ErrorCode string

const (
	// ErrIllDefinedSchema: a component declaration violates the schema
	// rules (mismatched getter/setter, ambiguous shared flag, ...).
	// Raised only at schema-build time; no partial schema is registered.
	ErrIllDefinedSchema ErrorCode = "ILL_DEFINED_SCHEMA"

	// ErrInvalidArgument: nil where disallowed, cross-store template or
	// owner, empty view type set, a violated validation constraint.
	// The store's state is left unchanged.
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrSingletonReported: a singleton Result was reported a second
	// time within the same job execution.
	ErrSingletonReported ErrorCode = "SINGLETON_RESULT_REPORTED"

	// ErrWrongScheduler: a Job was submitted to a Scheduler that did not
	// create it.
	ErrWrongScheduler ErrorCode = "JOB_USED_IN_WRONG_SCHEDULER"

	// ErrReflectionFailure: adding a missing required component failed
	// while adding a component; the component that call added is
	// destroyed again. Panics are not recovered.
	ErrReflectionFailure ErrorCode = "REFLECTION_FAILURE"
)

// Error is the engine's error type. It always carries a code so callers
// can branch on failure kind without string matching, plus whatever
// entity/component/type context was available when it was raised.
type Error struct {
	Code      ErrorCode
	Message   string
	Entity    EntityID
	Component string
	Wrapped   error
}

func (e *Error) Error() string {
	switch {
	case e.Entity != InvalidEntityID && e.Component != "":
		return fmt.Sprintf("[%s] %s (entity=%d component=%s)", e.Code, e.Message, e.Entity, e.Component)
	case e.Entity != InvalidEntityID:
		return fmt.Sprintf("[%s] %s (entity=%d)", e.Code, e.Message, e.Entity)
	case e.Component != "":
		return fmt.Sprintf("[%s] %s (component=%s)", e.Code, e.Message, e.Component)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Wrapped }

// WithEntity attaches entity context and returns the receiver for chaining.
func (e *Error) WithEntity(id EntityID) *Error {
	e.Entity = id
	return e
}

// WithComponent attaches component-type context and returns the receiver.
func (e *Error) WithComponent(name string) *Error {
	e.Component = name
	return e
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Wrapped: cause}
}

// NewError builds an *Error for callers outside this package (the
// scheduler package raises ErrSingletonReported and ErrWrongScheduler).
func NewError(code ErrorCode, message string) *Error {
	return newError(code, message)
}

// IsCode reports whether err is an *Error of the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Code == code
}
