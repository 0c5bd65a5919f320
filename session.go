package httpcloak

import (
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/sardanioss/httpcloak-go/errors"
	"github.com/sardanioss/httpcloak-go/executor"
	"github.com/sardanioss/httpcloak-go/ffi"
	"github.com/sardanioss/httpcloak-go/metrics"
	"github.com/sardanioss/httpcloak-go/pool"
	"github.com/sardanioss/httpcloak-go/wire"
)

// Session is one engine session: a cookie jar, connection pool, and TLS
// state behind a browser fingerprint preset.
//
// Sessions are safe for concurrent use. Close waits for in-flight calls
// and is idempotent; the engine-side free runs exactly once. The zero
// value is a closed session.
type Session struct {
	lib      *ffi.Lib
	log      *zap.Logger
	recorder *metrics.Recorder
	exec     *executor.Pool

	preset         string
	timeoutSeconds int

	// mu serializes close against in-flight calls: every operation
	// holds it for reading, Close holds it for writing. handle is zero
	// once closed and is never reissued.
	mu     sync.RWMutex
	handle int64

	// fastMu enforces the single in-flight fast call per session.
	fastMu  sync.Mutex
	buffers *pool.Pool

	streamMu sync.Mutex
	streams  map[int64]*Stream
}

// NewSession creates an engine session. An empty preset uses the
// configured default. Options override the package-level configuration
// set through Configure.
func NewSession(preset string, opts ...Option) (*Session, error) {
	cfg := packageSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if preset != "" {
		cfg.preset = preset
	}

	lib := cfg.lib
	if lib == nil {
		var err error
		if lib, err = ffi.Load(); err != nil {
			return nil, err
		}
	}

	doc, err := wire.EncodeSessionConfig(&wire.SessionConfig{
		Preset:          cfg.preset,
		TimeoutSeconds:  cfg.timeoutSeconds,
		Proxy:           cfg.proxy,
		HTTPVersion:     cfg.httpVersion,
		TLSOnly:         cfg.tlsOnly,
		QUICIdleSeconds: cfg.quicIdleSeconds,
		Retries:         cfg.retries,
		Headers:         cfg.headers,
		HeaderOrder:     cfg.headerOrder,
	})
	if err != nil {
		return nil, err
	}

	handle := lib.SessionNew(doc)
	if handle == 0 {
		return nil, errors.SessionCreateFailed(cfg.preset)
	}

	s := newSession(lib, &cfg, handle)
	s.logger().Debug("session created",
		zap.String("preset", cfg.preset),
		zap.Int64("handle", handle))
	return s, nil
}

func newSession(lib *ffi.Lib, cfg *settings, handle int64) *Session {
	s := &Session{
		lib:            lib,
		log:            cfg.logger,
		recorder:       cfg.recorder,
		exec:           cfg.exec,
		preset:         cfg.preset,
		timeoutSeconds: cfg.timeoutSeconds,
		handle:         handle,
		buffers:        pool.New(0),
		streams:        make(map[int64]*Stream),
	}
	if s.log == nil {
		s.log = nopLogger
	}
	s.recorder.SessionOpened()
	runtime.SetFinalizer(s, (*Session).finalize)
	return s
}

// Close releases the engine session. It waits for in-flight calls on
// the session, closes any open streams, and frees the native handle
// exactly once. Further calls on the session return a closed-session
// error; repeated Close is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == 0 {
		return nil
	}
	handle := s.handle
	s.handle = 0

	s.closeStreamsLocked()
	s.lib.SessionFree(handle)
	runtime.SetFinalizer(s, nil)
	s.recorder.SessionClosed()
	s.logger().Debug("session closed", zap.Int64("handle", handle))
	return nil
}

// closeStreamsLocked closes every open stream. Callers hold mu for
// writing, so no stream operation is in flight.
func (s *Session) closeStreamsLocked() {
	s.streamMu.Lock()
	streams := s.streams
	s.streams = make(map[int64]*Stream)
	s.streamMu.Unlock()

	for _, st := range streams {
		st.mu.Lock()
		if !st.closed {
			st.closed = true
			s.lib.StreamClose(st.id)
			s.recorder.StreamClosed()
			s.recorder.RecordBody(metrics.ModeStream, st.total)
		}
		st.mu.Unlock()
	}
}

func (s *Session) finalize() {
	_ = s.Close()
}

var nopLogger = zap.NewNop()

// logger tolerates the zero-value Session, which has no logger.
func (s *Session) logger() *zap.Logger {
	if s.log == nil {
		return nopLogger
	}
	return s.log
}

// Preset returns the fingerprint preset the session was created with.
func (s *Session) Preset() string {
	return s.preset
}

// Handle returns the raw engine handle, zero once closed. Diagnostics
// only; the handle must not be passed to the engine by other means.
func (s *Session) Handle() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// Cookies returns the session's cookie jar. The jar reflects Set-Cookie
// responses, explicit SetCookie calls, and, for fork groups, cookies
// set through any group member.
func (s *Session) Cookies() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == 0 {
		return nil, errors.SessionClosed("Cookies")
	}
	return wire.DecodeCookies(s.lib.GetCookies(s.handle))
}

// SetCookie stores one cookie on the session.
func (s *Session) SetCookie(name, value string) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseSession, "cookie name must not be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == 0 {
		return errors.SessionClosed("SetCookie")
	}
	s.lib.SetCookie(s.handle, name, value)
	return nil
}

// HeaderOrder returns the header emission order currently in force. An
// empty result means the preset's default order.
func (s *Session) HeaderOrder() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == 0 {
		return nil, errors.SessionClosed("HeaderOrder")
	}
	return wire.DecodeHeaderOrder(s.lib.GetHeaderOrder(s.handle))
}

// SetHeaderOrder overrides the header emission order for all later
// requests on the session. An empty order restores the preset default.
func (s *Session) SetHeaderOrder(order []string) error {
	doc, err := wire.EncodeHeaderOrder(order)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == 0 {
		return errors.SessionClosed("SetHeaderOrder")
	}
	s.lib.SetHeaderOrder(s.handle, doc)
	return nil
}

// Fork creates n sibling sessions sharing this session's cookie jar and
// TLS ticket cache, each with its own connections, like parallel
// browser tabs. The group either forms completely or not at all: any
// engine-side failure frees the partial siblings and reports ForkFailed.
// Closing one member never destroys the shared state of the others.
func (s *Session) Fork(n int) ([]*Session, error) {
	if n < 1 {
		return nil, errors.InvalidInput(errors.PhaseFork, fmt.Sprintf("fork count must be at least 1, got %d", n))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == 0 {
		return nil, errors.SessionClosed("Fork")
	}

	handles := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		h := s.lib.SessionFork(s.handle)
		if h == 0 {
			for _, created := range handles {
				s.lib.SessionFree(created)
			}
			return nil, errors.ForkFailed(fmt.Sprintf("engine rejected sibling %d of %d", i+1, n))
		}
		handles = append(handles, h)
	}

	cfg := settings{
		preset:         s.preset,
		timeoutSeconds: s.timeoutSeconds,
		logger:         s.log,
		recorder:       s.recorder,
		exec:           s.exec,
	}
	children := make([]*Session, n)
	for i, h := range handles {
		children[i] = newSession(s.lib, &cfg, h)
	}
	s.logger().Debug("session forked",
		zap.Int64("handle", s.handle),
		zap.Int("siblings", n))
	return children, nil
}
