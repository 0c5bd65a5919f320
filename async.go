package httpcloak

import (
	"context"
	"sync"

	"github.com/sardanioss/httpcloak-go/errors"
	"github.com/sardanioss/httpcloak-go/executor"
)

// PendingResponse is the handle to a request running on a worker.
//
// The native call backing it cannot be interrupted: abandoning a
// PendingResponse (or cancelling the context passed to Wait) gives up
// interest in the result without stopping the underlying request.
type PendingResponse struct {
	done chan struct{}
	resp *Response
	err  error
}

// Done is closed when the result is available.
func (p *PendingResponse) Done() <-chan struct{} {
	return p.done
}

// Ready reports whether the result is available without blocking.
func (p *PendingResponse) Ready() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the result is available or ctx is done. A context
// cancellation abandons the wait only; the request keeps running and
// its result is discarded when it completes.
func (p *PendingResponse) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetAsync performs a GET request on a worker. ctx shapes the request
// itself (deadline, pre-dispatch cancellation) exactly as in Get.
func (s *Session) GetAsync(ctx context.Context, url string, opts ...RequestOption) *PendingResponse {
	return s.submit(func() (*Response, error) {
		return s.Get(ctx, url, opts...)
	})
}

// PostAsync performs a POST request on a worker.
func (s *Session) PostAsync(ctx context.Context, url string, body []byte, opts ...RequestOption) *PendingResponse {
	return s.submit(func() (*Response, error) {
		return s.Post(ctx, url, body, opts...)
	})
}

// DoAsync performs an arbitrary-method request on a worker.
func (s *Session) DoAsync(ctx context.Context, method, url string, opts ...RequestOption) *PendingResponse {
	return s.submit(func() (*Response, error) {
		return s.Do(ctx, method, url, opts...)
	})
}

func (s *Session) submit(run func() (*Response, error)) *PendingResponse {
	p := &PendingResponse{done: make(chan struct{})}
	err := s.executor().Submit(func() {
		p.resp, p.err = run()
		close(p.done)
	})
	if err != nil {
		p.err = errors.Wrap(errors.PhaseRequest, errors.KindInvalidInput, err, "submit async request")
		close(p.done)
	}
	return p
}

func (s *Session) executor() *executor.Pool {
	if s.exec != nil {
		return s.exec
	}
	return defaultExecutor()
}

var (
	defaultExecOnce sync.Once
	defaultExec     *executor.Pool
)

// defaultExecutor is the process-wide worker pool shared by sessions
// without their own. It lives until process exit.
func defaultExecutor() *executor.Pool {
	defaultExecOnce.Do(func() {
		defaultExec = executor.New(0)
	})
	return defaultExec
}
