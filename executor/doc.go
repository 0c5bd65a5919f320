// Package executor provides the worker pool that backs the binding's
// asynchronous request methods.
//
// Native engine calls block the goroutine that issues them. The async
// adapter submits each call to a Pool so the caller's goroutine stays
// free; the pool runs a fixed set of workers fed from an unbounded FIFO,
// the same shape as a thread-pool executor. Submissions never block:
// when all workers are busy, tasks queue up until one frees.
//
//	pool := executor.New(0)           // default worker count
//	defer pool.Close()
//	pool.Submit(func() { ... })
//
// Close stops intake, lets workers drain the queue, and waits for them
// to exit. Submit after Close fails with ErrClosed.
package executor
