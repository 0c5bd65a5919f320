// Package ffi loads the httpcloak engine shared library and exposes its
// exported function table to the rest of the binding.
//
// # Loading
//
// The library is a process-wide lazy singleton: the first Load call
// locates, opens and binds it under a lock; concurrent callers block
// until that completes and then observe the same handle. The handle is
// never unloaded. Failed loads are not cached; the next triggering
// operation retries.
//
// Search order for libhttpcloak-{os}-{arch}.{so,dylib,dll}:
//
//  1. HTTPCLOAK_LIB_PATH environment variable (exact path)
//  2. the running executable's directory, then its lib/ subdirectory
//  3. /usr/local/lib, /usr/lib
//
// A missing library fails with library_not_found naming every candidate
// path; a present library missing any required export fails with
// symbol_missing naming the symbol.
//
// # Memory Discipline
//
// Strings cross into the engine as NUL-terminated buffers; optional
// arguments cross as NULL when absent. Every buffer the engine returns
// is copied into Go storage and released through httpcloak_free_string
// exactly once, inside the same call that received it. A zero return
// pointer surfaces as a nil slice so callers can tell "no response"
// from "empty response".
//
// # Stubbing
//
// NewFromTable accepts a fully populated Table of Go closures in the
// exports' C shape, which is how tests run the complete binding against
// an in-process engine (see ffi/ffitest).
package ffi
