package pool

import (
	"errors"
	"sync"
)

// ErrStaleView is returned when a view is read after a later Acquire has
// invalidated it.
var ErrStaleView = errors.New("pool: view invalidated by a later acquire")

// DefaultSlotCapacity is the initial slot size when none is specified.
const DefaultSlotCapacity = 64 * 1024

// Pool owns one reusable byte slot and the generation counter that
// governs view validity.
type Pool struct {
	mu   sync.Mutex
	buf  []byte
	used int
	gen  uint64
}

// New creates a pool whose slot starts at initialCap bytes. A zero or
// negative initialCap uses DefaultSlotCapacity.
func New(initialCap int) *Pool {
	if initialCap <= 0 {
		initialCap = DefaultSlotCapacity
	}
	return &Pool{buf: make([]byte, initialCap)}
}

// Acquire invalidates all previously issued views, ensures the slot can
// hold size bytes, and returns a writable window of exactly size bytes
// together with a View over the same storage. The window contents are
// unspecified until the caller fills them.
func (p *Pool) Acquire(size int) ([]byte, View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	if size > len(p.buf) {
		newCap := len(p.buf) * 2
		if newCap < size {
			newCap = size
		}
		p.buf = make([]byte, newCap)
	}
	p.used = size

	return p.buf[:size], View{pool: p, gen: p.gen, n: size}
}

// Truncate shortens the live window of the current generation, for when
// the producer wrote fewer bytes than reserved. It does not bump the
// generation.
func (p *Pool) Truncate(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n >= 0 && n <= p.used {
		p.used = n
	}
}

// Capacity returns the current slot capacity.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Generation returns the current generation counter.
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// View is a non-owning window over pool storage, valid until the next
// Acquire on the same pool.
type View struct {
	pool *Pool
	gen  uint64
	n    int
}

// Valid reports whether the view's generation is still current.
func (v View) Valid() bool {
	if v.pool == nil {
		return false
	}
	v.pool.mu.Lock()
	defer v.pool.mu.Unlock()
	return v.pool.gen == v.gen
}

// Len returns the number of bytes the view covered when issued. Len is
// meaningful even after invalidation.
func (v View) Len() int {
	return v.n
}

// Bytes returns the viewed window, or ErrStaleView once a later Acquire
// has reused the storage. The returned slice aliases pool storage; it
// must not be retained past the next Acquire.
func (v View) Bytes() ([]byte, error) {
	if v.pool == nil {
		return nil, ErrStaleView
	}
	v.pool.mu.Lock()
	defer v.pool.mu.Unlock()
	if v.pool.gen != v.gen {
		return nil, ErrStaleView
	}
	n := v.n
	if n > v.pool.used {
		n = v.pool.used
	}
	return v.pool.buf[:n], nil
}

// Clone copies the viewed bytes into freshly owned storage. It fails with
// ErrStaleView when the view is no longer valid, since the original bytes
// are already gone.
func (v View) Clone() ([]byte, error) {
	data, err := v.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
