package httpcloak

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/sardanioss/httpcloak-go/errors"
	"github.com/sardanioss/httpcloak-go/pool"
)

func TestGetFast(t *testing.T) {
	s, eng := newTestSession(t)
	eng.Respond("https://example.com/data", `{"status_code":200,"headers":{"Content-Type":"application/octet-stream"},"body":"fast body","final_url":"https://example.com/data","protocol":"h3"}`)

	f, err := s.GetFast(context.Background(), "https://example.com/data")
	if err != nil {
		t.Fatalf("GetFast: %v", err)
	}
	if f.StatusCode != 200 || f.Protocol != "h3" {
		t.Errorf("meta = %d %q", f.StatusCode, f.Protocol)
	}
	if got := f.Header("content-type"); got != "application/octet-stream" {
		t.Errorf("Header(content-type) = %q", got)
	}

	body, err := f.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(body) != "fast body" {
		t.Errorf("body = %q, want fast body", body)
	}
	if f.Len() != len("fast body") {
		t.Errorf("Len() = %d, want %d", f.Len(), len("fast body"))
	}
	if !f.Valid() {
		t.Error("fresh view reports invalid")
	}
	if got := eng.OutstandingStrings(); got != 0 {
		t.Errorf("outstanding engine strings = %d, want 0", got)
	}
}

func TestGetFastReusesBufferSlot(t *testing.T) {
	s, eng := newTestSession(t)
	eng.Respond("https://example.com/a", `{"status_code":200,"headers":{},"body":"aaaaaaaa","final_url":"https://example.com/a","protocol":"h2"}`)
	eng.Respond("https://example.com/b", `{"status_code":200,"headers":{},"body":"bb","final_url":"https://example.com/b","protocol":"h2"}`)
	ctx := context.Background()

	first, err := s.GetFast(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("first GetFast: %v", err)
	}
	c1, err := first.Content()
	if err != nil {
		t.Fatalf("first Content: %v", err)
	}
	p1 := &c1[0]

	second, err := s.GetFast(ctx, "https://example.com/b")
	if err != nil {
		t.Fatalf("second GetFast: %v", err)
	}
	c2, err := second.Content()
	if err != nil {
		t.Fatalf("second Content: %v", err)
	}
	if string(c2) != "bb" {
		t.Errorf("second body = %q", c2)
	}

	// Both bodies landed in the same slot: no per-call allocation.
	if p1 != &c2[0] {
		t.Error("second fast body did not reuse the buffer slot")
	}

	// The earlier view is dead, with its metadata still readable.
	if _, err := first.Content(); !stderrors.Is(err, pool.ErrStaleView) {
		t.Errorf("stale Content: got %v, want ErrStaleView", err)
	}
	if first.Valid() {
		t.Error("stale view reports valid")
	}
	if first.Len() != len("aaaaaaaa") {
		t.Errorf("stale Len() = %d, want %d", first.Len(), len("aaaaaaaa"))
	}
	if first.StatusCode != 200 {
		t.Errorf("stale metadata lost: %d", first.StatusCode)
	}
}

func TestGetFastToOwnedBytes(t *testing.T) {
	s, eng := newTestSession(t)
	eng.Respond("https://example.com/a", `{"status_code":200,"headers":{},"body":"keep me","final_url":"https://example.com/a","protocol":"h2"}`)
	eng.Respond("https://example.com/b", `{"status_code":200,"headers":{},"body":"clobber","final_url":"https://example.com/b","protocol":"h2"}`)
	ctx := context.Background()

	first, err := s.GetFast(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("GetFast: %v", err)
	}
	owned, err := first.ToOwnedBytes()
	if err != nil {
		t.Fatalf("ToOwnedBytes: %v", err)
	}

	if _, err := s.GetFast(ctx, "https://example.com/b"); err != nil {
		t.Fatalf("second GetFast: %v", err)
	}

	// The owned copy survives slot reuse.
	if !bytes.Equal(owned, []byte("keep me")) {
		t.Errorf("owned copy = %q, want keep me", owned)
	}
}

func TestGetFastEmptyBody(t *testing.T) {
	s, eng := newTestSession(t)
	eng.Respond("https://example.com/empty", `{"status_code":204,"headers":{},"body":"","final_url":"https://example.com/empty","protocol":"h2"}`)

	f, err := s.GetFast(context.Background(), "https://example.com/empty")
	if err != nil {
		t.Fatalf("GetFast: %v", err)
	}
	if f.StatusCode != 204 {
		t.Errorf("status = %d, want 204", f.StatusCode)
	}
	body, err := f.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("body = %q, want empty", body)
	}
}

func TestGetFastRejectsNonHeaderOptions(t *testing.T) {
	s, eng := newTestSession(t)
	ctx := context.Background()

	// The fast export carries no timeout, header order, or body channel.
	cases := []struct {
		name string
		opt  RequestOption
	}{
		{"timeout", WithRequestTimeout(5 * time.Second)},
		{"header order", WithRequestHeaderOrder([]string{"host"})},
		{"body", WithBody([]byte("x"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.GetFast(ctx, "https://example.com", tc.opt)
			if !errors.IsKind(err, errors.KindInvalidInput) {
				t.Errorf("got %v, want invalid_input", err)
			}
		})
	}
	if got := len(eng.RequestLog()); got != 0 {
		t.Errorf("rejected options reached the engine: %d requests", got)
	}
}

func TestGetFastHeadersCross(t *testing.T) {
	s, eng := newTestSession(t)

	_, err := s.GetFast(context.Background(), "https://example.com", WithHeader("X-Trace", "t1"))
	if err != nil {
		t.Fatalf("GetFast: %v", err)
	}
	log := eng.RequestLog()
	if len(log) != 1 || log[0].Headers["X-Trace"] != "t1" {
		t.Errorf("crossed headers = %+v", log)
	}
}

func TestGetFastEngineError(t *testing.T) {
	s, eng := newTestSession(t)
	eng.Respond("https://down.example.com", `{"error":"dns lookup failed"}`)

	_, err := s.GetFast(context.Background(), "https://down.example.com")
	if !errors.IsKind(err, errors.KindEngine) {
		t.Fatalf("got %v, want engine kind", err)
	}
	if msg, _ := errors.EngineMessage(err); msg != "dns lookup failed" {
		t.Errorf("EngineMessage = %q, want verbatim", msg)
	}
}
