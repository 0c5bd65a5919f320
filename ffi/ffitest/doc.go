// Package ffitest provides an in-process stub engine implementing the
// httpcloak export table, so the complete binding can be exercised
// without a shared library or network access.
//
// The stub honors the boundary's memory discipline: every buffer it
// returns is tracked until released through the free-string export, and
// the accounting (outstanding buffers, double frees, per-handle session
// frees) is queryable from tests.
//
//	engine := ffitest.NewEngine()
//	lib := engine.NewLib()
//	// drive the binding against lib, then:
//	if n := engine.OutstandingStrings(); n != 0 { ... }
//
// By default every request is answered with an echo payload whose body
// is the request document itself, which makes round-trip assertions
// trivial. Exact-URL payloads and a global responder hook override it:
//
//	engine.Respond("https://example.test/ok",
//		`{"status_code":200,"headers":{},"body":"hi",
//		  "final_url":"https://example.test/ok","protocol":"h2"}`)
package ffitest
