package httpcloak

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sardanioss/httpcloak-go/errors"
	"github.com/sardanioss/httpcloak-go/metrics"
	"github.com/sardanioss/httpcloak-go/wire"
)

// Get performs a GET request.
func (s *Session) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.roundTrip(ctx, "GET", url, nil, opts)
}

// Post performs a POST request. body may be nil; WithJSONBody provides
// a structured alternative.
func (s *Session) Post(ctx context.Context, url string, body []byte, opts ...RequestOption) (*Response, error) {
	return s.roundTrip(ctx, "POST", url, body, opts)
}

// Put performs a PUT request.
func (s *Session) Put(ctx context.Context, url string, body []byte, opts ...RequestOption) (*Response, error) {
	return s.roundTrip(ctx, "PUT", url, body, opts)
}

// Patch performs a PATCH request.
func (s *Session) Patch(ctx context.Context, url string, body []byte, opts ...RequestOption) (*Response, error) {
	return s.roundTrip(ctx, "PATCH", url, body, opts)
}

// Delete performs a DELETE request.
func (s *Session) Delete(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.roundTrip(ctx, "DELETE", url, nil, opts)
}

// Head performs a HEAD request.
func (s *Session) Head(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.roundTrip(ctx, "HEAD", url, nil, opts)
}

// Options performs an OPTIONS request.
func (s *Session) Options(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.roundTrip(ctx, "OPTIONS", url, nil, opts)
}

// Do performs a request with an arbitrary method. The method is
// uppercased; methods outside the usual set are not rejected, the
// engine decides what it supports.
func (s *Session) Do(ctx context.Context, method, url string, opts ...RequestOption) (*Response, error) {
	return s.roundTrip(ctx, method, url, nil, opts)
}

func (s *Session) roundTrip(ctx context.Context, method, url string, body []byte, opts []RequestOption) (*Response, error) {
	start := time.Now()
	resp, err := s.execute(ctx, method, url, body, opts)
	s.recorder.RecordRequest(method, time.Since(start), err)
	if err != nil {
		s.logger().Debug("request failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Error(err))
		return nil, err
	}
	s.recorder.RecordBody(metrics.ModeBuffered, len(resp.body))
	s.logger().Debug("request completed",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.String("protocol", resp.Protocol))
	return resp, nil
}

// execute validates, encodes, performs exactly one native call, and
// decodes. The native call is never interrupted: the context is
// consulted before dispatch and its deadline, when sooner than the
// configured timeout, becomes the engine-side per-request timeout.
func (s *Session) execute(ctx context.Context, method, url string, body []byte, opts []RequestOption) (*Response, error) {
	if ctx == nil {
		return nil, errors.InvalidInput(errors.PhaseRequest, "nil context")
	}
	rs, err := applyRequestOptions(opts)
	if err != nil {
		return nil, err
	}
	method, err = normalizeMethod(method)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, errors.InvalidInput(errors.PhaseRequest, "url must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if body == nil {
		body = rs.body
	}
	if rs.jsonBody && !rs.headers.Has("Content-Type") {
		rs.headers.Set("Content-Type", "application/json")
	}
	timeout := s.requestTimeout(ctx, rs.timeoutSeconds)

	raw, err := s.dispatch(method, url, body, &rs, timeout)
	if err != nil {
		return nil, err
	}
	decoded, err := wire.DecodeResponse(raw)
	if err != nil {
		return nil, err
	}
	return newResponse(decoded), nil
}

// requestTimeout resolves the engine-side timeout override in seconds.
// Zero means no override: the session default applies engine-side.
func (s *Session) requestTimeout(ctx context.Context, requested int) int {
	base := s.timeoutSeconds
	if requested > 0 {
		base = requested
	}
	override := requested
	if deadline, ok := ctx.Deadline(); ok {
		remain := seconds(time.Until(deadline))
		if remain < 1 {
			remain = 1
		}
		if remain < base {
			override = remain
		}
	}
	return override
}

// dispatch performs the single native call under the session read lock.
// GET and POST without per-request overrides use the dedicated exports;
// everything else crosses as a full request document, the only shape
// that carries header order and timeout.
func (s *Session) dispatch(method, url string, body []byte, rs *requestSettings, timeout int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == 0 {
		return nil, errors.SessionClosed(method)
	}

	dedicated := timeout == 0 && len(rs.headerOrder) == 0 &&
		(method == "GET" && body == nil || method == "POST")
	if dedicated {
		headers, err := wire.EncodeHeaders(rs.headers)
		if err != nil {
			return nil, err
		}
		if method == "GET" {
			return s.lib.Get(s.handle, url, headers), nil
		}
		return s.lib.Post(s.handle, url, body, headers), nil
	}

	doc, err := wire.Encode(&wire.Request{
		Method:         method,
		URL:            url,
		Headers:        rs.headers,
		HeaderOrder:    rs.headerOrder,
		Body:           string(body),
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return nil, err
	}
	return s.lib.Request(s.handle, doc), nil
}

// normalizeMethod uppercases the method. Methods outside the usual set
// are not rejected; the engine decides what it supports.
func normalizeMethod(method string) (string, error) {
	if method == "" {
		return "", errors.InvalidInput(errors.PhaseRequest, "method must not be empty")
	}
	return strings.ToUpper(method), nil
}
