package httpcloak

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sardanioss/httpcloak-go/errors"
	"github.com/sardanioss/httpcloak-go/metrics"
	"github.com/sardanioss/httpcloak-go/wire"
)

// Stream is an incrementally consumed response body. It is created at
// headers-available time, so status and headers are known before any
// body bytes arrive.
//
// Reads are serialized per stream; a Stream must not outlive its
// session (closing the session closes its open streams). Close is
// idempotent and the engine-side close runs exactly once.
type Stream struct {
	StatusCode    int
	Headers       map[string]string
	ContentLength int64
	FinalURL      string
	Protocol      string

	session *Session
	id      int64

	mu     sync.Mutex
	closed bool
	eof    bool
	total  int
}

// OpenStream starts a GET and returns as soon as response headers are
// available, before the body is consumed. Only header options apply;
// the engine's stream export carries no per-request timeout or header
// order.
func (s *Session) OpenStream(ctx context.Context, url string, opts ...RequestOption) (*Stream, error) {
	start := time.Now()
	st, err := s.openStream(ctx, url, opts)
	s.recorder.RecordRequest("GET", time.Since(start), err)
	if err != nil {
		s.logger().Debug("stream open failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	s.recorder.StreamOpened()
	s.logger().Debug("stream opened",
		zap.String("url", url),
		zap.Int64("stream", st.id),
		zap.Int("status", st.StatusCode),
		zap.Int64("content_length", st.ContentLength))
	return st, nil
}

func (s *Session) openStream(ctx context.Context, url string, opts []RequestOption) (*Stream, error) {
	if ctx == nil {
		return nil, errors.InvalidInput(errors.PhaseStream, "nil context")
	}
	rs, err := applyRequestOptions(opts)
	if err != nil {
		return nil, err
	}
	if rs.timeoutSeconds != 0 || rs.headerOrder != nil || rs.body != nil {
		return nil, errors.InvalidInput(errors.PhaseStream, "streaming supports header options only")
	}
	if url == "" {
		return nil, errors.InvalidInput(errors.PhaseStream, "url must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	headers, err := wire.EncodeHeaders(rs.headers)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == 0 {
		return nil, errors.SessionClosed("OpenStream")
	}

	meta, err := wire.DecodeStreamMeta(s.lib.StreamOpen(s.handle, url, headers))
	if err != nil {
		return nil, err
	}

	respHeaders := meta.Headers
	if respHeaders == nil {
		respHeaders = map[string]string{}
	}
	st := &Stream{
		StatusCode:    meta.StatusCode,
		Headers:       respHeaders,
		ContentLength: meta.ContentLength,
		FinalURL:      meta.FinalURL,
		Protocol:      meta.Protocol,
		session:       s,
		id:            meta.StreamID,
	}
	s.streamMu.Lock()
	s.streams[st.id] = st
	s.streamMu.Unlock()
	return st, nil
}

// Read blocks until at least one body byte is available or the body
// ends, returning at most maxBytes. At end-of-body it returns an empty
// slice with a nil error, and every later Read does the same. Read
// after Close reports StreamClosed.
func (st *Stream) Read(maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, errors.InvalidInput(errors.PhaseStream, fmt.Sprintf("read size must be positive, got %d", maxBytes))
	}

	s := st.session
	s.mu.RLock()
	defer s.mu.RUnlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, errors.StreamClosed()
	}
	if st.eof {
		return []byte{}, nil
	}

	buf := make([]byte, maxBytes)
	n := s.lib.StreamRead(st.id, buf)
	switch {
	case n > 0:
		st.total += int(n)
		return buf[:n], nil
	case n == 0:
		st.eof = true
		return []byte{}, nil
	case n == streamCodeUnknown:
		st.closed = true
		s.forgetStream(st.id)
		return nil, errors.StreamClosed()
	case n == streamCodeTimeout:
		return nil, errors.Timeout(errors.PhaseStream, "stream read timed out")
	default:
		return nil, errors.Engine(errors.PhaseStream, fmt.Sprintf("stream read failed (engine code %d)", n))
	}
}

// Engine result codes for stream reads.
const (
	streamCodeUnknown = -1
	streamCodeFailed  = -2
	streamCodeTimeout = -3
)

// Close releases the engine resources behind the stream. It is
// idempotent; reads after Close report StreamClosed.
func (st *Stream) Close() error {
	s := st.session
	s.mu.RLock()
	defer s.mu.RUnlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil
	}
	st.closed = true
	s.lib.StreamClose(st.id)
	s.forgetStream(st.id)
	s.recorder.StreamClosed()
	s.recorder.RecordBody(metrics.ModeStream, st.total)
	s.logger().Debug("stream closed",
		zap.Int64("stream", st.id),
		zap.Int("bytes", st.total))
	return nil
}

func (s *Session) forgetStream(id int64) {
	s.streamMu.Lock()
	delete(s.streams, id)
	s.streamMu.Unlock()
}

// Header returns the named response header, case-insensitively.
func (st *Stream) Header(name string) string {
	return headerLookup(st.Headers, name)
}

// Chunks returns an iterator over the remaining body in chunks of at
// most size bytes. The sequence ends at end-of-body; a read failure is
// yielded once as the final element. The iterator is single-use and
// consumes the stream as it advances.
func (st *Stream) Chunks(size int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := st.Read(size)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(chunk) == 0 {
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Reader adapts the stream to io.Reader, translating end-of-body to
// io.EOF. Closing the Stream remains the caller's responsibility.
func (st *Stream) Reader() io.Reader {
	return streamReader{st}
}

type streamReader struct {
	st *Stream
}

func (r streamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk, err := r.st.Read(len(p))
	if err != nil {
		return 0, err
	}
	if len(chunk) == 0 {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}
