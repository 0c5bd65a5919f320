package httpcloak

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sardanioss/httpcloak-go/errors"
	"github.com/sardanioss/httpcloak-go/metrics"
	"github.com/sardanioss/httpcloak-go/pool"
	"github.com/sardanioss/httpcloak-go/wire"
)

// FastResponse is the result of a fast-path GET. Its metadata fields
// are plain values; the body lives in the session's reusable buffer
// slot and is reached through Content.
//
// The body window is valid only until the session's next fast call.
// Content fails with pool.ErrStaleView after that; ToOwnedBytes copies
// the body out for retention.
type FastResponse struct {
	StatusCode int
	Headers    map[string]string
	FinalURL   string
	Protocol   string

	view pool.View
}

// Content returns the body window inside the session's buffer slot. The
// slice must not be modified or retained past the session's next fast
// call.
func (f *FastResponse) Content() ([]byte, error) {
	return f.view.Bytes()
}

// ToOwnedBytes copies the body into freshly owned storage.
func (f *FastResponse) ToOwnedBytes() ([]byte, error) {
	return f.view.Clone()
}

// Len returns the body length in bytes, meaningful even after the view
// goes stale.
func (f *FastResponse) Len() int {
	return f.view.Len()
}

// Valid reports whether Content would still succeed.
func (f *FastResponse) Valid() bool {
	return f.view.Valid()
}

// Header returns the named response header, case-insensitively.
func (f *FastResponse) Header(name string) string {
	return headerLookup(f.Headers, name)
}

// GetFast performs a GET whose body lands in the session's reusable
// buffer slot instead of fresh storage, eliminating per-call
// allocation proportional to body size. Each call invalidates the
// views of all previous fast responses on the session.
//
// Fast calls are serialized per session: a second concurrent GetFast
// blocks until the first returns. Only header options apply; the
// engine's fast export carries no per-request timeout or header order.
func (s *Session) GetFast(ctx context.Context, url string, opts ...RequestOption) (*FastResponse, error) {
	start := time.Now()
	resp, err := s.executeFast(ctx, url, opts)
	s.recorder.RecordRequest("GET", time.Since(start), err)
	if err != nil {
		s.logger().Debug("fast request failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	s.recorder.RecordBody(metrics.ModeFast, resp.Len())
	s.logger().Debug("fast request completed",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("body_len", resp.Len()))
	return resp, nil
}

func (s *Session) executeFast(ctx context.Context, url string, opts []RequestOption) (*FastResponse, error) {
	if ctx == nil {
		return nil, errors.InvalidInput(errors.PhaseRequest, "nil context")
	}
	rs, err := applyRequestOptions(opts)
	if err != nil {
		return nil, err
	}
	if rs.timeoutSeconds != 0 || rs.headerOrder != nil || rs.body != nil {
		return nil, errors.InvalidInput(errors.PhaseRequest, "fast path supports header options only")
	}
	if url == "" {
		return nil, errors.InvalidInput(errors.PhaseRequest, "url must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	headers, err := wire.EncodeHeaders(rs.headers)
	if err != nil {
		return nil, err
	}

	s.fastMu.Lock()
	defer s.fastMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == 0 {
		return nil, errors.SessionClosed("GetFast")
	}

	meta, err := wire.DecodeFastMeta(s.lib.GetFast(s.handle, url, headers))
	if err != nil {
		return nil, err
	}

	buf, view := s.buffers.Acquire(int(meta.BodyLen))
	n := s.lib.ReadBody(s.handle, buf)
	if n < 0 {
		return nil, errors.Engine(errors.PhaseRequest, "staged body unavailable")
	}
	if int(n) < len(buf) {
		s.buffers.Truncate(int(n))
	}

	respHeaders := meta.Headers
	if respHeaders == nil {
		respHeaders = map[string]string{}
	}
	return &FastResponse{
		StatusCode: meta.StatusCode,
		Headers:    respHeaders,
		FinalURL:   meta.FinalURL,
		Protocol:   meta.Protocol,
		view:       view,
	}, nil
}
