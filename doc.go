// Package httpcloak provides Go bindings for the httpcloak native HTTP
// client engine.
//
// The engine is a natively compiled shared library implementing
// HTTP/1.1, HTTP/2, and HTTP/3 with browser TLS and header fingerprint
// emulation. This package loads it at runtime through its C ABI and
// exposes sessions, requests, streaming, and fork groups as ordinary Go
// values, with no cgo and no network code on the Go side.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	httpcloak/           Root package: Session, Response, Stream, options
//	├── ffi/             Library loading, export binding, raw native calls
//	│   └── ffitest/     In-process stub engine for tests
//	├── wire/            JSON interchange: request encode, response decode
//	├── pool/            Generation-counted buffer pool for the fast path
//	├── executor/        Worker pool backing the async request variants
//	├── errors/          Structured error taxonomy for every failure class
//	└── metrics/         Optional Prometheus instrumentation
//
// # Quick Start
//
// Create a session with a browser preset and make requests:
//
//	session, err := httpcloak.NewSession("chrome-145")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	resp, err := session.Get(ctx, "https://example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.StatusCode, resp.Protocol)
//
// Package-level helpers serve one-off calls through a shared default
// session:
//
//	resp, err := httpcloak.Get(ctx, "https://example.com")
//
// # Library Discovery
//
// The shared library is located at first use: the HTTPCLOAK_LIB_PATH
// environment variable, then next to the executable (and its lib/
// subdirectory), then /usr/local/lib and /usr/lib. The library loads
// once per process and is never unloaded.
//
// # Thread Safety
//
// Session is safe for concurrent use; requests on one session proceed
// in parallel and Close waits for in-flight calls. Stream is not safe
// for concurrent reads from multiple goroutines. FastResponse views are
// invalidated by the session's next fast call; copy with ToOwnedBytes
// to retain.
//
// # Errors
//
// Every failure is an *errors.Error carrying a phase and kind. Messages
// produced by the engine itself (TLS failures, timeouts, protocol
// errors) are preserved verbatim; use errors.EngineMessage to extract
// them.
package httpcloak
