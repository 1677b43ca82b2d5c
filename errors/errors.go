package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // mod loading
	PhaseCall     Phase = "call"     // mod function invocation
	PhaseDispatch Phase = "dispatch" // event chain dispatch
	PhaseTimer    Phase = "timer"    // timer registry operations
	PhaseProxy    Phase = "proxy"    // pinned engine proxy
	PhaseManifest Phase = "manifest" // mod manifest parsing
)

// Kind categorizes the error
type Kind string

const (
	KindDuplicateMod       Kind = "duplicate_mod"
	KindUnsupportedRuntime Kind = "unsupported_runtime"
	KindNotFound           Kind = "not_found"
	KindSource             Kind = "source"
	KindModPanic           Kind = "mod_panic"
	KindInvalidInput       Kind = "invalid_input"
	KindNoActiveEngine     Kind = "no_active_engine"
	KindChannelClosed      Kind = "channel_closed"
	KindResponseTimeout    Kind = "response_timeout"
	KindAlreadyEnabled     Kind = "already_enabled"
	KindNoResponse         Kind = "no_response"
)

// Sentinels for the proxy failure modes, usable with errors.Is.
var (
	// ErrNoActiveEngine is returned when no pinned engine is running.
	ErrNoActiveEngine = &Error{Phase: PhaseProxy, Kind: KindNoActiveEngine, Detail: "no active engine"}
	// ErrChannelClosed is returned when the command channel is gone.
	ErrChannelClosed = &Error{Phase: PhaseProxy, Kind: KindChannelClosed, Detail: "command channel closed"}
	// ErrResponseTimeout is returned when the engine missed its reply deadline.
	ErrResponseTimeout = &Error{Phase: PhaseProxy, Kind: KindResponseTimeout, Detail: "engine reply timed out"}
	// ErrAlreadyEnabled is returned when Enable is called twice.
	ErrAlreadyEnabled = &Error{Phase: PhaseProxy, Kind: KindAlreadyEnabled, Detail: "engine already enabled"}
	// ErrNoResponse is returned when a reply channel was dropped without
	// a value. Distinct from a delivered failure so callers can retry
	// transient cases only.
	ErrNoResponse = &Error{Phase: PhaseProxy, Kind: KindNoResponse, Detail: "engine dropped reply"}
)

// Error is the structured error type used throughout the host
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	ModID  string
	Name   string // event, function, or manifest field name
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.ModID != "" {
		b.WriteString(" mod=")
		b.WriteString(e.ModID)
	}
	if e.Name != "" {
		b.WriteString(" name=")
		b.WriteString(e.Name)
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

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsError reports whether err carries the given phase and kind anywhere
// in its chain.
func IsError(err error, phase Phase, kind Kind) bool {
	return errors.Is(err, &Error{Phase: phase, Kind: kind})
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

// Mod sets the offending mod id
func (b *Builder) Mod(id string) *Builder {
	b.err.ModID = id
	return b
}

// Name sets the offending event, function, or field name
func (b *Builder) Name(name string) *Builder {
	b.err.Name = name
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

// DuplicateMod creates a duplicate mod id error
func DuplicateMod(phase Phase, modID string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDuplicateMod,
		ModID:  modID,
		Detail: "mod already loaded",
	}
}

// UnsupportedRuntime creates an unsupported runtime kind error
func UnsupportedRuntime(kind string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindUnsupportedRuntime,
		Detail: fmt.Sprintf("no adapter registered for runtime kind %q", kind),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Name:   name,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Source creates a mod source error (unreadable or invalid mod code)
func Source(modID string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSource,
		ModID:  modID,
		Detail: "load mod source",
		Cause:  cause,
	}
}

// ModPanic creates an error for a runtime failure inside mod code
func ModPanic(modID, fn string, cause error) *Error {
	return &Error{
		Phase: PhaseCall,
		Kind:  KindModPanic,
		ModID: modID,
		Name:  fn,
		Cause: cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Manifest creates a manifest parse or validation error
func Manifest(name string, cause error) *Error {
	return &Error{
		Phase: PhaseManifest,
		Kind:  KindInvalidInput,
		Name:  name,
		Cause: cause,
	}
}
