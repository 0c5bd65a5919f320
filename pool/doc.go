// Package pool provides the reusable buffer slot backing fast-path reads.
//
// A Pool owns one growable byte slot. Each Acquire invalidates every view
// issued before it, guarantees capacity for the requested size, and hands
// out a writable window plus a View over the same storage. Views are
// non-owning: the pool keeps the backing array, and a view stays readable
// only until the next Acquire on the same pool.
//
// # Invalidation
//
// Validity is enforced with a generation counter. Acquire increments the
// pool generation; every View carries the generation it was issued under
// and fails fast with ErrStaleView once a newer generation exists:
//
//	window, view := p.Acquire(n)      // generation g
//	copy(window, body)
//	data, _ := view.Bytes()           // ok, generation still g
//	p.Acquire(m)                      // generation g+1
//	_, err := view.Bytes()            // ErrStaleView
//
// Callers that need the bytes beyond the next acquire must copy them out
// with Clone while the view is still valid.
//
// # Storage Discipline
//
// The slot grows geometrically and never shrinks, so steady-state acquires
// perform no allocation proportional to body size. A Pool is safe for
// concurrent use, but the intended discipline is one in-flight fast-path
// call per pool; concurrent acquires serialize and invalidate each other.
package pool
