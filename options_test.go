package httpcloak

import (
	"testing"
	"time"

	"github.com/sardanioss/httpcloak-go/errors"
)

func TestSecondsRounding(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Nanosecond, 1},
		{500 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{30 * time.Second, 30},
	}
	for _, tc := range cases {
		if got := seconds(tc.d); got != tc.want {
			t.Errorf("seconds(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestDefaultSettings(t *testing.T) {
	cfg := defaultSettings()
	if cfg.preset != DefaultPreset {
		t.Errorf("preset = %q, want %q", cfg.preset, DefaultPreset)
	}
	if cfg.timeoutSeconds != 30 {
		t.Errorf("timeout = %d, want 30", cfg.timeoutSeconds)
	}
	if cfg.logger == nil {
		t.Error("default logger is nil")
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := defaultSettings()
	for _, opt := range []Option{
		WithPreset("safari-18"),
		WithProxy("socks5://proxy.local:1080"),
		WithTimeout(12 * time.Second),
		WithHTTPVersion("h3"),
		WithTLSOnly(true),
		WithQUICIdleTimeout(45 * time.Second),
		WithRetries(2),
		WithHeaders(map[string]string{"Accept-Language": "en-US"}),
		WithHeaderOrder([]string{"host", "accept"}),
	} {
		opt(&cfg)
	}

	if cfg.preset != "safari-18" {
		t.Errorf("preset = %q", cfg.preset)
	}
	if cfg.proxy != "socks5://proxy.local:1080" {
		t.Errorf("proxy = %q", cfg.proxy)
	}
	if cfg.timeoutSeconds != 12 {
		t.Errorf("timeout = %d", cfg.timeoutSeconds)
	}
	if cfg.httpVersion != "h3" || !cfg.tlsOnly {
		t.Errorf("transport options = %q %v", cfg.httpVersion, cfg.tlsOnly)
	}
	if cfg.quicIdleSeconds != 45 || cfg.retries != 2 {
		t.Errorf("quic/retries = %d %d", cfg.quicIdleSeconds, cfg.retries)
	}
	if cfg.headers["Accept-Language"] != "en-US" {
		t.Errorf("headers = %v", cfg.headers)
	}
	if len(cfg.headerOrder) != 2 {
		t.Errorf("header order = %v", cfg.headerOrder)
	}
}

func TestWithPresetIgnoresEmpty(t *testing.T) {
	cfg := defaultSettings()
	WithPreset("")(&cfg)
	if cfg.preset != DefaultPreset {
		t.Errorf("empty preset overrode the default: %q", cfg.preset)
	}
}

func TestWithLoggerNil(t *testing.T) {
	cfg := defaultSettings()
	WithLogger(nil)(&cfg)
	if cfg.logger == nil {
		t.Error("WithLogger(nil) left a nil logger")
	}
}

func TestWithHeaderOrdering(t *testing.T) {
	rs, err := applyRequestOptions([]RequestOption{
		WithHeader("B-Second", "2"),
		WithHeader("A-First", "1"),
		WithHeader("b-second", "replaced"),
	})
	if err != nil {
		t.Fatalf("applyRequestOptions: %v", err)
	}
	if len(rs.headers) != 2 {
		t.Fatalf("headers = %+v, want 2 entries", rs.headers)
	}
	// Replacement keeps insertion position; order is what crosses.
	if rs.headers[0].Name != "B-Second" || rs.headers[0].Value != "replaced" {
		t.Errorf("headers[0] = %+v", rs.headers[0])
	}
	if rs.headers[1].Name != "A-First" {
		t.Errorf("headers[1] = %+v", rs.headers[1])
	}
}

func TestWithJSONBodyMarshalError(t *testing.T) {
	_, err := applyRequestOptions([]RequestOption{WithJSONBody(make(chan int))})
	if !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("got %v, want invalid_input", err)
	}
}

func TestRequestOptionAccumulation(t *testing.T) {
	rs, err := applyRequestOptions([]RequestOption{
		WithRequestTimeout(3 * time.Second),
		WithRequestHeaderOrder([]string{"host"}),
		WithBody([]byte("raw")),
	})
	if err != nil {
		t.Fatalf("applyRequestOptions: %v", err)
	}
	if rs.timeoutSeconds != 3 {
		t.Errorf("timeout = %d", rs.timeoutSeconds)
	}
	if len(rs.headerOrder) != 1 || rs.headerOrder[0] != "host" {
		t.Errorf("header order = %v", rs.headerOrder)
	}
	if string(rs.body) != "raw" {
		t.Errorf("body = %q", rs.body)
	}
}
