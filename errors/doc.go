// Package errors provides structured error types for the httpcloak binding.
//
// Errors are categorized by Phase (where in the binding the error occurred)
// and Kind (error category). Engine-reported failures carry the engine's
// message verbatim in Detail; the binding never rewrites engine error text.
//
// Use convenience constructors for the boundary taxonomy:
//
//	err := errors.SessionCreateFailed("chrome-143")
//	err := errors.Engine(errors.PhaseRequest, msg)
//	err := errors.StreamClosed()
//
// Match errors by kind with errors.Is against a kind-only target, or with
// the IsKind helper:
//
//	if errors.IsKind(err, errors.KindTimeout) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
