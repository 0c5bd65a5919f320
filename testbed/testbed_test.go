package testbed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	httpcloak "github.com/sardanioss/httpcloak-go"
	"github.com/sardanioss/httpcloak-go/errors"
	"github.com/sardanioss/httpcloak-go/ffi/ffitest"
	"github.com/sardanioss/httpcloak-go/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newStubSession wires a session to a fresh in-process engine.
func newStubSession(t *testing.T, opts ...httpcloak.Option) (*httpcloak.Session, *ffitest.Engine) {
	t.Helper()
	eng := ffitest.NewEngine()
	all := append([]httpcloak.Option{httpcloak.WithLibrary(eng.NewLib())}, opts...)
	s, err := httpcloak.NewSession("chrome-143", all...)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, eng
}

func TestSession_LoginWorkflow(t *testing.T) {
	ctx := context.Background()
	s, eng := newStubSession(t)

	eng.Respond("https://shop.example.com/login",
		`{"status_code":200,"headers":{"Set-Cookie":"session=x"},"body":"ok","final_url":"https://shop.example.com/login","protocol":"h2"}`)
	eng.Respond("https://shop.example.com/cart",
		`{"status_code":200,"headers":{},"body":"{\"items\":3}","final_url":"https://shop.example.com/cart","protocol":"h2"}`)

	// Log in, carrying a JSON credential body.
	resp, err := s.Post(ctx, "https://shop.example.com/login", nil,
		httpcloak.WithJSONBody(map[string]string{"user": "alice", "pass": "s3cret"}))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	// The engine maintains the jar; pin an extra cookie alongside.
	if err := s.SetCookie("consent", "yes"); err != nil {
		t.Fatalf("set cookie: %v", err)
	}

	// Fetch an authenticated page and decode it.
	resp, err = s.Get(ctx, "https://shop.example.com/cart",
		httpcloak.WithHeader("Accept", "application/json"))
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	var cart struct {
		Items int `json:"items"`
	}
	if err := resp.JSON(&cart); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if cart.Items != 3 {
		t.Errorf("cart items = %d, want 3", cart.Items)
	}

	jar, err := s.Cookies()
	if err != nil {
		t.Fatalf("cookies: %v", err)
	}
	if jar["consent"] != "yes" {
		t.Errorf("jar = %v, want consent=yes", jar)
	}

	// The login body crossed with the injected content type.
	log := eng.RequestLog()
	if len(log) != 2 {
		t.Fatalf("engine saw %d requests, want 2", len(log))
	}
	if log[0].Headers["Content-Type"] != "application/json" {
		t.Errorf("login headers = %v", log[0].Headers)
	}
}

func TestWarmup_BrowsingFlow(t *testing.T) {
	ctx := context.Background()
	s, eng := newStubSession(t)

	page := `<html><head>` +
		`<link rel="stylesheet" href="/app.css">` +
		`<script src="/app.js"></script>` +
		`</head><body><img src="/logo.png"></body></html>`
	doc, err := json.Marshal(map[string]any{
		"status_code": 200,
		"headers":     map[string]string{"Content-Type": "text/html"},
		"body":        page,
		"final_url":   "https://shop.example.com/",
		"protocol":    "h2",
	})
	if err != nil {
		t.Fatalf("marshal page: %v", err)
	}
	eng.Respond("https://shop.example.com/", string(doc))

	// Prime connections and cookies the way a browser landing does.
	if err := s.Warmup(ctx, "https://shop.example.com/"); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	log := eng.RequestLog()
	if len(log) != 4 {
		t.Fatalf("engine saw %d requests, want document + 3 subresources", len(log))
	}
	wantURLs := []string{
		"https://shop.example.com/",
		"https://shop.example.com/app.css",
		"https://shop.example.com/app.js",
		"https://shop.example.com/logo.png",
	}
	for i, want := range wantURLs {
		if log[i].URL != want {
			t.Errorf("request %d = %s, want %s", i, log[i].URL, want)
		}
	}

	// The primed session keeps working for the real navigation.
	if _, err := s.Get(ctx, "https://shop.example.com/search?q=shoes"); err != nil {
		t.Fatalf("navigation after warmup: %v", err)
	}
}

func TestFork_ParallelTabs(t *testing.T) {
	ctx := context.Background()
	s, eng := newStubSession(t)

	// Log in on the main session, then fan out like browser tabs.
	if err := s.SetCookie("auth", "token-1"); err != nil {
		t.Fatalf("set cookie: %v", err)
	}
	tabs, err := s.Fork(4)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	for _, tab := range tabs {
		defer tab.Close()
	}

	var wg sync.WaitGroup
	for i, tab := range tabs {
		wg.Add(1)
		go func(i int, tab *httpcloak.Session) {
			defer wg.Done()

			// Every tab sees the shared login cookie.
			jar, err := tab.Cookies()
			if err != nil {
				t.Errorf("tab %d cookies: %v", i, err)
				return
			}
			if jar["auth"] != "token-1" {
				t.Errorf("tab %d jar = %v", i, jar)
				return
			}
			if _, err := tab.Get(ctx, "https://shop.example.com/page"); err != nil {
				t.Errorf("tab %d get: %v", i, err)
			}
		}(i, tab)
	}
	wg.Wait()

	if got := len(eng.RequestLog()); got != 4 {
		t.Errorf("engine saw %d requests, want 4", got)
	}

	// Closing the parent leaves the tabs' shared state intact.
	if err := s.Close(); err != nil {
		t.Fatalf("close parent: %v", err)
	}
	jar, err := tabs[0].Cookies()
	if err != nil {
		t.Fatalf("tab cookies after parent close: %v", err)
	}
	if jar["auth"] != "token-1" {
		t.Errorf("shared jar lost after parent close: %v", jar)
	}
}

func TestAsync_FanOut(t *testing.T) {
	ctx := context.Background()
	s, eng := newStubSession(t)

	urls := []string{
		"https://api.example.com/users",
		"https://api.example.com/orders",
		"https://api.example.com/stock",
	}
	pending := make([]*httpcloak.PendingResponse, len(urls))
	for i, url := range urls {
		pending[i] = s.GetAsync(ctx, url)
	}
	for i, p := range pending {
		resp, err := p.Wait(ctx)
		if err != nil {
			t.Fatalf("wait %s: %v", urls[i], err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("%s status = %d", urls[i], resp.StatusCode)
		}
	}
	if got := len(eng.RequestLog()); got != len(urls) {
		t.Errorf("engine saw %d requests, want %d", got, len(urls))
	}
}

func TestMetrics_EndToEnd(t *testing.T) {
	ctx := context.Background()
	rec := metrics.New()
	reg := prometheus.NewRegistry()
	if err := rec.Register(reg); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	s, eng := newStubSession(t, httpcloak.WithMetrics(rec))
	eng.Respond("https://err.example.com", `{"error":"tls handshake failed"}`)

	if _, err := s.Get(ctx, "https://ok.example.com"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := s.Get(ctx, "https://err.example.com"); err == nil {
		t.Fatal("expected engine error")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"httpcloak_requests_total",
		"httpcloak_request_duration_seconds",
		"httpcloak_errors_total",
		"httpcloak_sessions_active",
	} {
		if !names[want] {
			t.Errorf("metric %s not exported", want)
		}
	}

	if err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP httpcloak_requests_total Completed requests by method and outcome.
# TYPE httpcloak_requests_total counter
httpcloak_requests_total{method="GET",outcome="error"} 1
httpcloak_requests_total{method="GET",outcome="success"} 1
`), "httpcloak_requests_total"); err != nil {
		t.Errorf("request counters: %v", err)
	}

	sessionsGauge := func(want int) string {
		return fmt.Sprintf(`
# HELP httpcloak_sessions_active Engine sessions currently open.
# TYPE httpcloak_sessions_active gauge
httpcloak_sessions_active %d
`, want)
	}
	if err := testutil.GatherAndCompare(reg, strings.NewReader(sessionsGauge(1)), "httpcloak_sessions_active"); err != nil {
		t.Errorf("sessions gauge: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := testutil.GatherAndCompare(reg, strings.NewReader(sessionsGauge(0)), "httpcloak_sessions_active"); err != nil {
		t.Errorf("sessions gauge after close: %v", err)
	}
}

func TestTimeout_DeadlinePropagation(t *testing.T) {
	s, eng := newStubSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := s.Get(ctx, "https://example.com"); err != nil {
		t.Fatalf("get: %v", err)
	}

	log := eng.RequestLog()
	if len(log) != 1 {
		t.Fatalf("engine saw %d requests, want 1", len(log))
	}
	if log[0].Timeout < 1 || log[0].Timeout > 3 {
		t.Errorf("engine-side timeout = %d, want the context deadline", log[0].Timeout)
	}
}

func TestEngineError_SurfacesVerbatim(t *testing.T) {
	ctx := context.Background()
	s, eng := newStubSession(t)
	eng.Respond("https://blocked.example.com", `{"error":"connection reset by peer"}`)

	_, err := s.Get(ctx, "https://blocked.example.com")
	if !errors.IsKind(err, errors.KindEngine) {
		t.Fatalf("got %v, want engine kind", err)
	}
	msg, ok := errors.EngineMessage(err)
	if !ok || msg != "connection reset by peer" {
		t.Errorf("engine message = %q, want verbatim", msg)
	}

	// The session survives engine-reported failures.
	if _, err := s.Get(ctx, "https://example.com"); err != nil {
		t.Errorf("request after engine error: %v", err)
	}
}

func TestResourceAccounting_NoLeaks(t *testing.T) {
	ctx := context.Background()
	s, eng := newStubSession(t)
	eng.Respond("https://stream.example.com", `{"status_code":200,"headers":{},"body":"stream data","final_url":"https://stream.example.com","protocol":"h2"}`)
	eng.Respond("https://err.example.com", `{"error":"boom"}`)

	for i := 0; i < 25; i++ {
		if _, err := s.Get(ctx, "https://example.com"); err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	if _, err := s.Get(ctx, "https://err.example.com"); err == nil {
		t.Fatal("expected engine error")
	}
	if _, err := s.GetFast(ctx, "https://example.com"); err != nil {
		t.Fatalf("fast get: %v", err)
	}
	st, err := s.OpenStream(ctx, "https://stream.example.com")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	for {
		chunk, err := st.Read(4)
		if err != nil {
			t.Fatalf("stream read: %v", err)
		}
		if len(chunk) == 0 {
			break
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("stream close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("session close: %v", err)
	}

	if got := eng.OutstandingStrings(); got != 0 {
		t.Errorf("outstanding engine strings = %d, want 0", got)
	}
	if got := eng.DoubleFrees(); got != 0 {
		t.Errorf("double frees = %d, want 0", got)
	}
	if got := eng.LiveSessions(); got != 0 {
		t.Errorf("live sessions = %d, want 0", got)
	}
	if got := eng.LiveStreams(); got != 0 {
		t.Errorf("live streams = %d, want 0", got)
	}
}

func TestConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	eng := ffitest.NewEngine()
	lib := eng.NewLib()

	const numSessions = 5
	const callsPerSession = 20

	var wg sync.WaitGroup
	errCh := make(chan error, numSessions)
	for g := 0; g < numSessions; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			s, err := httpcloak.NewSession("chrome-143", httpcloak.WithLibrary(lib))
			if err != nil {
				errCh <- err
				return
			}
			defer s.Close()

			for i := 0; i < callsPerSession; i++ {
				if _, err := s.Get(ctx, "https://example.com/page"); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Errorf("concurrent session error: %v", err)
		}
	}
	if got := len(eng.RequestLog()); got != numSessions*callsPerSession {
		t.Errorf("engine saw %d requests, want %d", got, numSessions*callsPerSession)
	}
	if got := eng.LiveSessions(); got != 0 {
		t.Errorf("live sessions = %d, want 0", got)
	}
}
