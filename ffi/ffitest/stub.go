package ffitest

import (
	"encoding/json"
	"sync"
	"unsafe"

	"github.com/sardanioss/httpcloak-go/ffi"
)

// Request is one call observed by the stub engine, in wire terms.
type Request struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	HeaderOrder []string          `json:"header_order,omitempty"`
	Body        string            `json:"body,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
}

// Responder computes a raw response payload for a request.
type Responder func(req Request) string

// cookieJar is the shared cookie store of a fork group. It survives
// until the last referencing session is freed.
type cookieJar struct {
	refs   int
	values map[string]string
}

type session struct {
	preset      string
	jar         *cookieJar
	headerOrder []string
	staged      []byte
	hasStaged   bool
}

type stream struct {
	data []byte
	pos  int
}

// Engine is an in-process stand-in for the native httpcloak library.
// All state is guarded by one mutex; the stub is safe for concurrent
// calls the same way the real engine is.
type Engine struct {
	mu sync.Mutex

	strings     map[uintptr][]byte
	doubleFrees int

	sessions     map[int64]*session
	freeCounts   map[int64]int
	invalidFrees int
	nextHandle   int64

	streams      map[int64]*stream
	streamCloses map[int64]int
	nextStream   int64

	forkCalls  int
	failForkOn int

	canned    map[string]string
	responder Responder
	log       []Request

	version  string
	presets  []string
	maxChunk int
}

// NewEngine creates a stub engine with the default preset list and echo
// responder.
func NewEngine() *Engine {
	return &Engine{
		strings:      make(map[uintptr][]byte),
		sessions:     make(map[int64]*session),
		freeCounts:   make(map[int64]int),
		streams:      make(map[int64]*stream),
		streamCloses: make(map[int64]int),
		canned:       make(map[string]string),
		version:      "1.1.0",
		presets:      []string{"chrome-143", "chrome-145", "firefox-133", "safari-18"},
	}
}

// NewLib wraps the engine's export table in an ffi.Lib.
func (e *Engine) NewLib() *ffi.Lib {
	lib, err := ffi.NewFromTable(e.Table())
	if err != nil {
		panic("ffitest: incomplete export table: " + err.Error())
	}
	return lib
}

// Respond installs an exact-URL canned payload, served for any method.
func (e *Engine) Respond(url, payload string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canned[url] = payload
}

// RespondWith installs a global responder consulted before canned
// payloads. A nil responder restores default behavior.
func (e *Engine) RespondWith(r Responder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responder = r
}

// SetVersion overrides the version export payload.
func (e *Engine) SetVersion(v string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.version = v
}

// SetPresets overrides the preset list, which also constrains the
// presets session creation accepts.
func (e *Engine) SetPresets(presets []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.presets = presets
}

// SetMaxChunk caps the bytes a single stream read returns, forcing
// multi-read consumption in tests. Zero removes the cap.
func (e *Engine) SetMaxChunk(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxChunk = n
}

// FailForkOn makes the n-th fork call (1-based, counted across the
// engine) return a zero handle. Zero disables the failure.
func (e *Engine) FailForkOn(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failForkOn = n
}

// OutstandingStrings returns the number of engine-returned buffers not
// yet released through the free-string export.
func (e *Engine) OutstandingStrings() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.strings)
}

// DoubleFrees returns the number of free-string calls on unknown or
// already-freed pointers.
func (e *Engine) DoubleFrees() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doubleFrees
}

// FreeCount returns how many times the session with the given handle
// has been freed.
func (e *Engine) FreeCount(h int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freeCounts[h]
}

// InvalidFrees returns the number of session frees on unknown handles.
func (e *Engine) InvalidFrees() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invalidFrees
}

// LiveSessions returns the number of sessions not yet freed.
func (e *Engine) LiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// LiveStreams returns the number of streams not yet closed.
func (e *Engine) LiveStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}

// StreamCloseCount returns how many times the given stream has been
// closed.
func (e *Engine) StreamCloseCount(sid int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamCloses[sid]
}

// RequestLog returns a copy of every request the engine has observed,
// across all request-shaped exports.
func (e *Engine) RequestLog() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Request, len(e.log))
	copy(out, e.log)
	return out
}

// newCString registers a NUL-terminated buffer and returns its address.
// Callers hold e.mu.
func (e *Engine) newCString(s string) uintptr {
	b := append([]byte(s), 0)
	p := uintptr(unsafe.Pointer(&b[0]))
	e.strings[p] = b
	return p
}

func (e *Engine) presetKnown(preset string) bool {
	for _, p := range e.presets {
		if p == preset {
			return true
		}
	}
	return false
}

// resolve computes the raw response payload for a request. Callers hold
// e.mu.
func (e *Engine) resolve(req Request, rawDoc string) string {
	e.log = append(e.log, req)
	if e.responder != nil {
		return e.responder(req)
	}
	if payload, ok := e.canned[req.URL]; ok {
		return payload
	}
	echo := map[string]any{
		"status_code": 200,
		"headers":     map[string]string{"X-Echo": "1"},
		"body":        rawDoc,
		"final_url":   req.URL,
		"protocol":    "h2",
	}
	data, _ := json.Marshal(echo)
	return string(data)
}

// docFor synthesizes the wire request document for the dedicated
// GET/POST-shaped exports, mirroring what the generic export receives.
func docFor(req Request) string {
	data, _ := json.Marshal(req)
	return string(data)
}

func parseHeaders(p unsafe.Pointer) map[string]string {
	if p == nil {
		return nil
	}
	var h map[string]string
	_ = json.Unmarshal([]byte(ffi.GoString(p)), &h)
	return h
}

// bodyOf extracts the body and metadata of a resolved payload. ok is
// false when the payload is an error document.
type resolved struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	FinalURL   string            `json:"final_url"`
	Protocol   string            `json:"protocol"`
	Error      *json.RawMessage  `json:"error"`
}

// Table returns the engine's export table for ffi.NewFromTable.
func (e *Engine) Table() ffi.Table {
	return ffi.Table{
		SessionNew: func(config unsafe.Pointer) int64 {
			e.mu.Lock()
			defer e.mu.Unlock()
			var cfg struct {
				Preset string `json:"preset"`
				Proxy  string `json:"proxy"`
			}
			if err := json.Unmarshal([]byte(ffi.GoString(config)), &cfg); err != nil {
				return 0
			}
			if cfg.Preset == "" || !e.presetKnown(cfg.Preset) {
				return 0
			}
			e.nextHandle++
			h := e.nextHandle
			e.sessions[h] = &session{
				preset: cfg.Preset,
				jar:    &cookieJar{refs: 1, values: make(map[string]string)},
			}
			return h
		},

		SessionFree: func(h int64) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.freeCounts[h]++
			sess, ok := e.sessions[h]
			if !ok {
				e.invalidFrees++
				return
			}
			sess.jar.refs--
			delete(e.sessions, h)
		},

		Get: func(h int64, url, headers unsafe.Pointer) uintptr {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.sessions[h]; !ok {
				return e.newCString(`{"error":"invalid session handle"}`)
			}
			req := Request{Method: "GET", URL: ffi.GoString(url), Headers: parseHeaders(headers)}
			return e.newCString(e.resolve(req, docFor(req)))
		},

		Post: func(h int64, url, body, headers unsafe.Pointer) uintptr {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.sessions[h]; !ok {
				return e.newCString(`{"error":"invalid session handle"}`)
			}
			req := Request{
				Method:  "POST",
				URL:     ffi.GoString(url),
				Headers: parseHeaders(headers),
				Body:    ffi.GoString(body),
			}
			return e.newCString(e.resolve(req, docFor(req)))
		},

		Request: func(h int64, reqDoc unsafe.Pointer) uintptr {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.sessions[h]; !ok {
				return e.newCString(`{"error":"invalid session handle"}`)
			}
			raw := ffi.GoString(reqDoc)
			var req Request
			if err := json.Unmarshal([]byte(raw), &req); err != nil {
				return e.newCString(`{"error":"malformed request document"}`)
			}
			return e.newCString(e.resolve(req, raw))
		},

		GetCookies: func(h int64) uintptr {
			e.mu.Lock()
			defer e.mu.Unlock()
			sess, ok := e.sessions[h]
			if !ok {
				return e.newCString(`{"error":"invalid session handle"}`)
			}
			data, _ := json.Marshal(sess.jar.values)
			return e.newCString(string(data))
		},

		SetCookie: func(h int64, name, value unsafe.Pointer) {
			e.mu.Lock()
			defer e.mu.Unlock()
			sess, ok := e.sessions[h]
			if !ok {
				return
			}
			sess.jar.values[ffi.GoString(name)] = ffi.GoString(value)
		},

		FreeString: func(p uintptr) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.strings[p]; !ok {
				e.doubleFrees++
				return
			}
			delete(e.strings, p)
		},

		Version: func() uintptr {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.newCString(e.version)
		},

		AvailablePresets: func() uintptr {
			e.mu.Lock()
			defer e.mu.Unlock()
			data, _ := json.Marshal(e.presets)
			return e.newCString(string(data))
		},

		GetFast: func(h int64, url, headers unsafe.Pointer) uintptr {
			e.mu.Lock()
			defer e.mu.Unlock()
			sess, ok := e.sessions[h]
			if !ok {
				return e.newCString(`{"error":"invalid session handle"}`)
			}
			req := Request{Method: "GET", URL: ffi.GoString(url), Headers: parseHeaders(headers)}
			payload := e.resolve(req, docFor(req))

			var res resolved
			if err := json.Unmarshal([]byte(payload), &res); err != nil || res.Error != nil {
				return e.newCString(payload)
			}
			sess.staged = []byte(res.Body)
			sess.hasStaged = true
			meta, _ := json.Marshal(map[string]any{
				"status_code": res.StatusCode,
				"headers":     res.Headers,
				"final_url":   res.FinalURL,
				"protocol":    res.Protocol,
				"body_len":    len(res.Body),
			})
			return e.newCString(string(meta))
		},

		ReadBody: func(h int64, buf unsafe.Pointer, bufCap int64) int64 {
			e.mu.Lock()
			defer e.mu.Unlock()
			sess, ok := e.sessions[h]
			if !ok || !sess.hasStaged {
				return -1
			}
			if int64(len(sess.staged)) > bufCap {
				return -1
			}
			if len(sess.staged) > 0 {
				copy(unsafe.Slice((*byte)(buf), len(sess.staged)), sess.staged)
			}
			n := int64(len(sess.staged))
			sess.staged = nil
			sess.hasStaged = false
			return n
		},

		StreamOpen: func(h int64, url, headers unsafe.Pointer) uintptr {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.sessions[h]; !ok {
				return e.newCString(`{"error":"invalid session handle"}`)
			}
			req := Request{Method: "GET", URL: ffi.GoString(url), Headers: parseHeaders(headers)}
			payload := e.resolve(req, docFor(req))

			var res resolved
			if err := json.Unmarshal([]byte(payload), &res); err != nil || res.Error != nil {
				return e.newCString(payload)
			}
			e.nextStream++
			sid := e.nextStream
			e.streams[sid] = &stream{data: []byte(res.Body)}
			meta, _ := json.Marshal(map[string]any{
				"stream_id":      sid,
				"status_code":    res.StatusCode,
				"headers":        res.Headers,
				"content_length": len(res.Body),
				"final_url":      res.FinalURL,
				"protocol":       res.Protocol,
			})
			return e.newCString(string(meta))
		},

		StreamRead: func(sid int64, buf unsafe.Pointer, bufCap int64) int64 {
			e.mu.Lock()
			defer e.mu.Unlock()
			st, ok := e.streams[sid]
			if !ok {
				return -1
			}
			remaining := len(st.data) - st.pos
			if remaining == 0 {
				return 0
			}
			n := remaining
			if int64(n) > bufCap {
				n = int(bufCap)
			}
			if e.maxChunk > 0 && n > e.maxChunk {
				n = e.maxChunk
			}
			if n > 0 {
				copy(unsafe.Slice((*byte)(buf), n), st.data[st.pos:st.pos+n])
				st.pos += n
			}
			return int64(n)
		},

		StreamClose: func(sid int64) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.streamCloses[sid]++
			delete(e.streams, sid)
		},

		SessionFork: func(h int64) int64 {
			e.mu.Lock()
			defer e.mu.Unlock()
			parent, ok := e.sessions[h]
			if !ok {
				return 0
			}
			e.forkCalls++
			if e.failForkOn != 0 && e.forkCalls == e.failForkOn {
				return 0
			}
			e.nextHandle++
			child := e.nextHandle
			parent.jar.refs++
			order := make([]string, len(parent.headerOrder))
			copy(order, parent.headerOrder)
			e.sessions[child] = &session{
				preset:      parent.preset,
				jar:         parent.jar,
				headerOrder: order,
			}
			return child
		},

		GetHeaderOrder: func(h int64) uintptr {
			e.mu.Lock()
			defer e.mu.Unlock()
			sess, ok := e.sessions[h]
			if !ok {
				return e.newCString(`{"error":"invalid session handle"}`)
			}
			data, _ := json.Marshal(sess.headerOrder)
			return e.newCString(string(data))
		},

		SetHeaderOrder: func(h int64, order unsafe.Pointer) {
			e.mu.Lock()
			defer e.mu.Unlock()
			sess, ok := e.sessions[h]
			if !ok {
				return
			}
			var parsed []string
			if err := json.Unmarshal([]byte(ffi.GoString(order)), &parsed); err != nil {
				return
			}
			sess.headerOrder = parsed
		},
	}
}
