// Package errors provides structured error types for the staminal host.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category), and carry the offending identifiers (mod id, event
// or function name) so mod authors can locate a failure without a
// debugger.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindModPanic).
//		Mod("greeter").
//		Name("on_attach").
//		Detail("stack overflow in handler").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.DuplicateMod(errors.PhaseLoad, "greeter")
//	err := errors.UnsupportedRuntime("python")
//
// All errors implement the standard error interface and support
// errors.Is/As. The proxy failure modes are exposed as sentinels
// (ErrNoActiveEngine, ErrNoResponse, ...) so callers can classify
// transient versus permanent failures.
package errors
