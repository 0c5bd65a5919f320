package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the binding the error occurred
type Phase string

const (
	PhaseLoad    Phase = "load"    // shared library loading
	PhaseSession Phase = "session" // session lifecycle
	PhaseEncode  Phase = "encode"  // Go to engine
	PhaseDecode  Phase = "decode"  // engine to Go
	PhaseRequest Phase = "request" // request execution
	PhaseStream  Phase = "stream"  // streaming body consumption
	PhaseFork    Phase = "fork"    // fork group creation
)

// Kind categorizes the error
type Kind string

const (
	KindLibraryNotFound Kind = "library_not_found"
	KindSymbolMissing   Kind = "symbol_missing"
	KindSessionCreate   Kind = "session_create_failed"
	KindSessionClosed   Kind = "session_closed"
	KindEngine          Kind = "engine"
	KindNoResponse      Kind = "no_response"
	KindTimeout         Kind = "timeout"
	KindStreamClosed    Kind = "stream_closed"
	KindForkFailed      Kind = "fork_failed"
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidData     Kind = "invalid_data"
)

// Error is the structured error type used throughout the binding.
// Engine-reported failures keep the engine's message verbatim in Detail.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two Errors match when
// their kinds match; a zero target phase matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && e.Phase != t.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether err (or anything it wraps) is an Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// EngineMessage extracts the verbatim engine-supplied message from an
// engine-reported error. ok is false when err is not engine-reported.
func EngineMessage(err error) (msg string, ok bool) {
	for err != nil {
		if e, isErr := err.(*Error); isErr && (e.Kind == KindEngine || e.Kind == KindTimeout) {
			return e.Detail, true
		}
		u, canUnwrap := err.(interface{ Unwrap() error })
		if !canUnwrap {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// Convenience constructors for the boundary error taxonomy

// LibraryNotFound reports that no candidate library path exists.
func LibraryNotFound(libName string, searched []string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLibraryNotFound,
		Detail: fmt.Sprintf("could not find %s (searched: %s); set HTTPCLOAK_LIB_PATH or install the library", libName, strings.Join(searched, ", ")),
	}
}

// SymbolMissing reports a required export absent from the loaded library.
func SymbolMissing(symbol string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSymbolMissing,
		Detail: fmt.Sprintf("required export %q not found", symbol),
		Cause:  cause,
	}
}

// LoadFailed wraps a dlopen-level failure.
func LoadFailed(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLibraryNotFound,
		Detail: fmt.Sprintf("load %s", path),
		Cause:  cause,
	}
}

// SessionCreateFailed reports a zero handle from session creation.
func SessionCreateFailed(preset string) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindSessionCreate,
		Detail: fmt.Sprintf("engine rejected session config (preset %q)", preset),
	}
}

// SessionClosed reports an operation on a closed session.
func SessionClosed(op string) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindSessionClosed,
		Detail: fmt.Sprintf("%s on closed session", op),
	}
}

// Engine carries an engine-reported failure message verbatim.
func Engine(phase Phase, message string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindEngine,
		Detail: message,
	}
}

// Timeout carries an engine-reported timeout, message verbatim.
func Timeout(phase Phase, message string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Detail: message,
	}
}

// NoResponse reports a native call that returned neither data nor an
// engine error.
func NoResponse(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNoResponse,
		Detail: "no response received",
	}
}

// StreamClosed reports a read on a closed stream.
func StreamClosed() *Error {
	return &Error{
		Phase:  PhaseStream,
		Kind:   KindStreamClosed,
		Detail: "stream is closed",
	}
}

// ForkFailed reports that a fork group could not be fully created.
func ForkFailed(detail string) *Error {
	return &Error{
		Phase:  PhaseFork,
		Kind:   KindForkFailed,
		Detail: detail,
	}
}

// InvalidInput reports caller input rejected before any native call.
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with phase and kind context.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
