package httpcloak

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sardanioss/httpcloak-go/ffi"
	"github.com/sardanioss/httpcloak-go/wire"
)

// DefaultPreset is the fingerprint used when none is configured.
const DefaultPreset = "chrome-143"

// DefaultTimeout is the session request timeout used when none is
// configured.
const DefaultTimeout = 30 * time.Second

var (
	packageMu      sync.Mutex
	packageOptions []Option
	defaultSess    *Session
)

// Configure sets process-wide defaults applied to every session created
// afterwards, including the package-level default session. Later calls
// layer on top of earlier ones. An existing default session is not
// reconfigured; CloseDefaultSession discards it so the next package
// call rebuilds it with the new defaults.
func Configure(opts ...Option) {
	packageMu.Lock()
	defer packageMu.Unlock()
	packageOptions = append(packageOptions, opts...)
}

// packageSettings resolves the built-in defaults overlaid with every
// Configure option, in order.
func packageSettings() settings {
	packageMu.Lock()
	defer packageMu.Unlock()
	cfg := defaultSettings()
	for _, opt := range packageOptions {
		opt(&cfg)
	}
	return cfg
}

// defaultSession returns the shared package-level session, creating it
// on first use.
func defaultSession() (*Session, error) {
	packageMu.Lock()
	if defaultSess != nil {
		s := defaultSess
		packageMu.Unlock()
		return s, nil
	}
	packageMu.Unlock()

	s, err := NewSession("")
	if err != nil {
		return nil, err
	}

	packageMu.Lock()
	defer packageMu.Unlock()
	if defaultSess != nil {
		_ = s.Close()
		return defaultSess, nil
	}
	defaultSess = s
	return s, nil
}

// CloseDefaultSession closes the package-level default session, if one
// was created. The next package-level request builds a fresh one from
// the current Configure defaults.
func CloseDefaultSession() error {
	packageMu.Lock()
	s := defaultSess
	defaultSess = nil
	packageMu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}

// Get performs a GET request on the default session.
func Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	s, err := defaultSession()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, url, opts...)
}

// Post performs a POST request on the default session.
func Post(ctx context.Context, url string, body []byte, opts ...RequestOption) (*Response, error) {
	s, err := defaultSession()
	if err != nil {
		return nil, err
	}
	return s.Post(ctx, url, body, opts...)
}

// Do performs an arbitrary-method request on the default session.
func Do(ctx context.Context, method, url string, opts ...RequestOption) (*Response, error) {
	s, err := defaultSession()
	if err != nil {
		return nil, err
	}
	return s.Do(ctx, method, url, opts...)
}

// Version returns the engine library version, or "unknown" when the
// engine does not report one.
func Version() (string, error) {
	lib, err := resolveLib()
	if err != nil {
		return "", err
	}
	v := lib.Version()
	if len(v) == 0 {
		return "unknown", nil
	}
	return string(v), nil
}

// AvailablePresets returns the fingerprint presets the engine ships.
func AvailablePresets() ([]string, error) {
	lib, err := resolveLib()
	if err != nil {
		return nil, err
	}
	presets, err := wire.DecodePresets(lib.AvailablePresets())
	if err != nil {
		return nil, err
	}
	if presets == nil {
		presets = []string{}
	}
	return presets, nil
}

// resolveLib returns the engine configured through WithLibrary, falling
// back to the process-wide loaded library.
func resolveLib() (*ffi.Lib, error) {
	if cfg := packageSettings(); cfg.lib != nil {
		return cfg.lib, nil
	}
	return ffi.Load()
}

// SetLogger directs the binding's debug logging to l: the library
// loader immediately, and every session created afterwards. A nil
// logger restores the default silence.
func SetLogger(l *zap.Logger) {
	ffi.SetLogger(l)
	Configure(WithLogger(l))
}
