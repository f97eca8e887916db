package errors

import (
	"fmt"
	"strings"
	"time"
)

// Phase indicates where in the host layer the error occurred
type Phase string

const (
	PhaseOpen      Phase = "open"      // document loading
	PhasePage      Phase = "page"      // page-level operations
	PhaseText      Phase = "text"      // text extraction
	PhaseRender    Phase = "render"    // bitmap rendering
	PhaseTeardown  Phase = "teardown"  // resource disposal
	PhaseTransport Phase = "transport" // cross-thread proxy
	PhaseRuntime   Phase = "runtime"   // everything else
)

// Kind categorizes the error
type Kind string

const (
	KindDisposed     Kind = "disposed"
	KindBorrowMisuse Kind = "borrow_misuse"
	KindWrongState   Kind = "wrong_state"
	KindTimeout      Kind = "timeout"
	KindTransport    Kind = "transport_failure"
	KindWorker       Kind = "worker_failure"
	KindCancelled    Kind = "cancelled"
	KindLimit        Kind = "limit_exceeded"
	KindEngine       Kind = "engine_failure"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
)

// Code is a stable numeric error code. Codes cross the proxy wire and must
// never be renumbered.
type Code int

const (
	CodeNone Code = 0

	// Use-after-dispose codes, one per resource kind.
	CodeDocumentClosed    Code = 101
	CodePageClosed        Code = 102
	CodeTextPageClosed    Code = 103
	CodeFontClosed        Code = 104
	CodeAnnotationClosed  Code = 105
	CodeProgressiveClosed Code = 106
	CodeProxyClosed       Code = 107

	// State machine and ledger misuse.
	CodeWrongState   Code = 201
	CodeBorrowMisuse Code = 202

	// Cross-thread proxy codes.
	CodeTimeout   Code = 301
	CodeTransport Code = 302
	CodeWorker    Code = 303
	CodeCancelled Code = 304

	// Resource layer codes.
	CodeLimitExceeded Code = 401
	CodeEngineFailure Code = 402
	CodeNotFound      Code = 403
	CodeInvalidInput  Code = 404
)

var knownCodes = map[Code]struct{}{
	CodeDocumentClosed: {}, CodePageClosed: {}, CodeTextPageClosed: {},
	CodeFontClosed: {}, CodeAnnotationClosed: {}, CodeProgressiveClosed: {},
	CodeProxyClosed: {}, CodeWrongState: {}, CodeBorrowMisuse: {},
	CodeTimeout: {}, CodeTransport: {}, CodeWorker: {}, CodeCancelled: {},
	CodeLimitExceeded: {}, CodeEngineFailure: {}, CodeNotFound: {},
	CodeInvalidInput: {},
}

// KnownCode reports whether c is one of the defined codes. The proxy uses
// this to validate worker-reported errors before trusting them.
func KnownCode(c Code) bool {
	_, ok := knownCodes[c]
	return ok
}

// Error is the structured error type used throughout the host layer
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Code     Code
	Resource string // resource kind name, for disposal diagnostics
	Op       string // operation name, for timeout/state diagnostics
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Code != CodeNone {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Resource != "" {
		b.WriteString(" on ")
		b.WriteString(e.Resource)
	}
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
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

// Is reports whether target matches this error. Two Errors match when their
// Kind matches and, if the target carries a code, the codes match too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != CodeNone && e.Code != t.Code {
		return false
	}
	return e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Code sets the stable numeric code
func (b *Builder) Code(c Code) *Builder {
	b.err.Code = c
	return b
}

// Resource sets the resource kind name
func (b *Builder) Resource(name string) *Builder {
	b.err.Resource = name
	return b
}

// Op sets the operation name
func (b *Builder) Op(name string) *Builder {
	b.err.Op = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Disposed creates a use-after-dispose error for the named resource kind.
// The code is the one the resource registered at construction.
func Disposed(resource string, code Code) *Error {
	return &Error{
		Phase:    PhaseRuntime,
		Kind:     KindDisposed,
		Code:     code,
		Resource: resource,
		Detail:   "resource already disposed",
	}
}

// BorrowMisuse creates a release-without-retain error
func BorrowMisuse(resource string) *Error {
	return &Error{
		Phase:    PhaseTeardown,
		Kind:     KindBorrowMisuse,
		Code:     CodeBorrowMisuse,
		Resource: resource,
		Detail:   "release without matching retain",
	}
}

// WrongState creates an operation-in-wrong-state error naming the current state
func WrongState(op, current string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindWrongState,
		Code:   CodeWrongState,
		Op:     op,
		Detail: fmt.Sprintf("not valid in state %s", current),
	}
}

// Timeout creates a cross-thread timeout error naming the operation and
// how long the caller waited
func Timeout(op string, elapsed time.Duration) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindTimeout,
		Code:   CodeTimeout,
		Op:     op,
		Detail: fmt.Sprintf("no response after %s", elapsed),
	}
}

// Transport creates a communication-failure error
func Transport(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindTransport,
		Code:   CodeTransport,
		Detail: detail,
		Cause:  cause,
	}
}

// Worker creates an error from a worker-reported failure. The code must
// already have been validated with KnownCode; unknown codes are mapped to
// CodeTransport by the caller, not here.
func Worker(code Code, message string) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindWorker,
		Code:   code,
		Detail: message,
	}
}

// Cancelled creates a caller-cancelled error
func Cancelled(op string, cause error) *Error {
	return &Error{
		Phase: PhaseTransport,
		Kind:  KindCancelled,
		Code:  CodeCancelled,
		Op:    op,
		Cause: cause,
	}
}

// LimitExceeded creates a resource-limit error
func LimitExceeded(phase Phase, what string, got, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLimit,
		Code:   CodeLimitExceeded,
		Detail: fmt.Sprintf("%s %d exceeds limit %d", what, got, limit),
	}
}

// Engine wraps an engine-level failure
func Engine(phase Phase, op string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindEngine,
		Code:  CodeEngineFailure,
		Op:    op,
		Cause: cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string, index int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Code:   CodeNotFound,
		Detail: fmt.Sprintf("%s %d not found", what, index),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Code:   CodeInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
