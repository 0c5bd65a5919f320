package ffi

import (
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/sardanioss/httpcloak-go/errors"
)

// EnvLibPath names the environment variable holding an explicit library
// path, checked before the default search locations.
const EnvLibPath = "HTTPCLOAK_LIB_PATH"

// Table is the engine's exported function table in its C shape. Pointer
// arguments are NUL-terminated strings; a nil pointer means "not
// provided". Returned uintptrs address engine-owned NUL-terminated
// buffers that must be released through FreeString exactly once.
type Table struct {
	SessionNew       func(config unsafe.Pointer) int64
	SessionFree      func(h int64)
	Get              func(h int64, url, headers unsafe.Pointer) uintptr
	Post             func(h int64, url, body, headers unsafe.Pointer) uintptr
	Request          func(h int64, req unsafe.Pointer) uintptr
	GetCookies       func(h int64) uintptr
	SetCookie        func(h int64, name, value unsafe.Pointer)
	FreeString       func(p uintptr)
	Version          func() uintptr
	AvailablePresets func() uintptr
	GetFast          func(h int64, url, headers unsafe.Pointer) uintptr
	ReadBody         func(h int64, buf unsafe.Pointer, bufCap int64) int64
	StreamOpen       func(h int64, url, headers unsafe.Pointer) uintptr
	StreamRead       func(sid int64, buf unsafe.Pointer, bufCap int64) int64
	StreamClose      func(sid int64)
	SessionFork      func(h int64) int64
	GetHeaderOrder   func(h int64) uintptr
	SetHeaderOrder   func(h int64, order unsafe.Pointer)
}

type symbol struct {
	name string
	fptr any
}

// symbols pairs every export name with its table slot. The engine must
// provide all of them; absence of any is a load failure.
func (t *Table) symbols() []symbol {
	return []symbol{
		{"httpcloak_session_new", &t.SessionNew},
		{"httpcloak_session_free", &t.SessionFree},
		{"httpcloak_get", &t.Get},
		{"httpcloak_post", &t.Post},
		{"httpcloak_request", &t.Request},
		{"httpcloak_get_cookies", &t.GetCookies},
		{"httpcloak_set_cookie", &t.SetCookie},
		{"httpcloak_free_string", &t.FreeString},
		{"httpcloak_version", &t.Version},
		{"httpcloak_available_presets", &t.AvailablePresets},
		{"httpcloak_get_fast", &t.GetFast},
		{"httpcloak_read_body", &t.ReadBody},
		{"httpcloak_stream_open", &t.StreamOpen},
		{"httpcloak_stream_read", &t.StreamRead},
		{"httpcloak_stream_close", &t.StreamClose},
		{"httpcloak_session_fork", &t.SessionFork},
		{"httpcloak_get_header_order", &t.GetHeaderOrder},
		{"httpcloak_set_header_order", &t.SetHeaderOrder},
	}
}

// Lib is the loaded engine. There is at most one per process, acquired
// through Load; it lives until process exit and is never unloaded.
// All methods are safe for concurrent use; per-handle constraints are
// the caller's responsibility.
type Lib struct {
	table Table
	path  string
}

// Load returns the process-wide engine library, loading and binding it
// on first use. Concurrent first calls block until one load completes;
// a failed load is not cached, so a later call retries.
func Load() (*Lib, error) {
	if lib := loaded.Load(); lib != nil {
		return lib, nil
	}

	loadMu.Lock()
	defer loadMu.Unlock()

	if lib := loaded.Load(); lib != nil {
		return lib, nil
	}

	path, err := locate()
	if err != nil {
		return nil, err
	}
	handle, err := dlopen(path)
	if err != nil {
		return nil, errors.LoadFailed(path, err)
	}

	var table Table
	for _, sym := range table.symbols() {
		addr, err := dlsym(handle, sym.name)
		if err != nil || addr == 0 {
			return nil, errors.SymbolMissing(sym.name, err)
		}
		registerFunc(sym.fptr, addr)
	}

	lib := &Lib{table: table, path: path}
	loaded.Store(lib)
	Logger().Debug("engine library loaded",
		zap.String("path", path),
		zap.String("version", string(lib.Version())))
	return lib, nil
}

var (
	loadMu sync.Mutex
	loaded atomic.Pointer[Lib]
)

// NewFromTable builds a Lib directly from a populated function table,
// for embedders that load the engine themselves and for in-process stub
// engines. Every slot must be set.
func NewFromTable(t Table) (*Lib, error) {
	for _, sym := range t.symbols() {
		if reflect.ValueOf(sym.fptr).Elem().IsNil() {
			return nil, errors.SymbolMissing(sym.name, nil)
		}
	}
	return &Lib{table: t, path: "(embedded)"}, nil
}

// Path returns the filesystem path the library was loaded from.
func (l *Lib) Path() string {
	return l.path
}

// libraryFilename computes the platform library file name, matching the
// engine's release artifact naming.
func libraryFilename() string {
	osName := "linux"
	ext := ".so"
	switch runtime.GOOS {
	case "darwin":
		osName, ext = "darwin", ".dylib"
	case "windows":
		osName, ext = "windows", ".dll"
	}
	return "libhttpcloak-" + osName + "-" + runtime.GOARCH + ext
}

// searchPaths lists candidate library locations in precedence order:
// the environment override, executable-adjacent paths, then well-known
// system install paths.
func searchPaths() []string {
	name := libraryFilename()
	var paths []string
	if env := os.Getenv(EnvLibPath); env != "" {
		paths = append(paths, env)
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths, filepath.Join(dir, name), filepath.Join(dir, "lib", name))
	}
	paths = append(paths,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
	)
	return paths
}

func locate() (string, error) {
	paths := searchPaths()
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", errors.LibraryNotFound(libraryFilename(), paths)
}

// copyAndFree copies an engine-returned buffer into Go storage and
// releases the native buffer. A zero pointer yields nil; a pointer to an
// empty string yields a non-nil empty slice, keeping "no response"
// distinguishable from "empty response".
func (l *Lib) copyAndFree(p uintptr) []byte {
	if p == 0 {
		return nil
	}
	n := cstrLen(p)
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
	l.table.FreeString(p)
	return out
}

// SessionNew creates an engine session from a JSON config document.
// A zero return means the engine rejected the config.
func (l *Lib) SessionNew(configJSON []byte) int64 {
	cfg := terminated(configJSON)
	h := l.table.SessionNew(bufPtr(cfg))
	runtime.KeepAlive(cfg)
	return h
}

// SessionFree releases an engine session.
func (l *Lib) SessionFree(h int64) {
	l.table.SessionFree(h)
}

// Get performs a blocking GET. headersJSON may be nil. The result is the
// engine's response document, or nil when the engine returned nothing.
func (l *Lib) Get(h int64, url string, headersJSON []byte) []byte {
	curl := terminatedString(url)
	chdr := optTerminated(headersJSON)
	p := l.table.Get(h, bufPtr(curl), bufPtr(chdr))
	runtime.KeepAlive(curl)
	runtime.KeepAlive(chdr)
	return l.copyAndFree(p)
}

// Post performs a blocking POST. body and headersJSON may be nil.
func (l *Lib) Post(h int64, url string, body, headersJSON []byte) []byte {
	curl := terminatedString(url)
	cbody := optTerminated(body)
	chdr := optTerminated(headersJSON)
	p := l.table.Post(h, bufPtr(curl), bufPtr(cbody), bufPtr(chdr))
	runtime.KeepAlive(curl)
	runtime.KeepAlive(cbody)
	runtime.KeepAlive(chdr)
	return l.copyAndFree(p)
}

// Request performs a blocking request described by a JSON document.
func (l *Lib) Request(h int64, reqJSON []byte) []byte {
	creq := terminated(reqJSON)
	p := l.table.Request(h, bufPtr(creq))
	runtime.KeepAlive(creq)
	return l.copyAndFree(p)
}

// GetCookies returns the session's cookie jar as a JSON document.
func (l *Lib) GetCookies(h int64) []byte {
	return l.copyAndFree(l.table.GetCookies(h))
}

// SetCookie stores one cookie on the session.
func (l *Lib) SetCookie(h int64, name, value string) {
	cname := terminatedString(name)
	cvalue := terminatedString(value)
	l.table.SetCookie(h, bufPtr(cname), bufPtr(cvalue))
	runtime.KeepAlive(cname)
	runtime.KeepAlive(cvalue)
}

// Version returns the engine version string.
func (l *Lib) Version() []byte {
	return l.copyAndFree(l.table.Version())
}

// AvailablePresets returns the engine's preset list as a JSON array.
func (l *Lib) AvailablePresets() []byte {
	return l.copyAndFree(l.table.AvailablePresets())
}

// GetFast performs a blocking GET whose body is staged engine-side for
// a subsequent ReadBody, returning only the metadata document.
func (l *Lib) GetFast(h int64, url string, headersJSON []byte) []byte {
	curl := terminatedString(url)
	chdr := optTerminated(headersJSON)
	p := l.table.GetFast(h, bufPtr(curl), bufPtr(chdr))
	runtime.KeepAlive(curl)
	runtime.KeepAlive(chdr)
	return l.copyAndFree(p)
}

// ReadBody copies the session's staged body into buf, returning the
// byte count or a negative engine code.
func (l *Lib) ReadBody(h int64, buf []byte) int64 {
	n := l.table.ReadBody(h, bufPtr(buf), int64(len(buf)))
	runtime.KeepAlive(buf)
	return n
}

// StreamOpen starts a streaming GET, returning the headers-available
// metadata document.
func (l *Lib) StreamOpen(h int64, url string, headersJSON []byte) []byte {
	curl := terminatedString(url)
	chdr := optTerminated(headersJSON)
	p := l.table.StreamOpen(h, bufPtr(curl), bufPtr(chdr))
	runtime.KeepAlive(curl)
	runtime.KeepAlive(chdr)
	return l.copyAndFree(p)
}

// StreamRead copies the next body bytes into buf. Positive is a byte
// count, zero is end-of-body, negative is an engine code.
func (l *Lib) StreamRead(sid int64, buf []byte) int64 {
	n := l.table.StreamRead(sid, bufPtr(buf), int64(len(buf)))
	runtime.KeepAlive(buf)
	return n
}

// StreamClose releases the engine resources tied to a stream.
func (l *Lib) StreamClose(sid int64) {
	l.table.StreamClose(sid)
}

// SessionFork creates a sibling session sharing the parent's cookie jar
// and TLS ticket cache. A zero return means the fork failed.
func (l *Lib) SessionFork(h int64) int64 {
	return l.table.SessionFork(h)
}

// GetHeaderOrder returns the session's header order as a JSON array.
func (l *Lib) GetHeaderOrder(h int64) []byte {
	return l.copyAndFree(l.table.GetHeaderOrder(h))
}

// SetHeaderOrder replaces the session's header order.
func (l *Lib) SetHeaderOrder(h int64, orderJSON []byte) {
	corder := terminated(orderJSON)
	l.table.SetHeaderOrder(h, bufPtr(corder))
	runtime.KeepAlive(corder)
}
