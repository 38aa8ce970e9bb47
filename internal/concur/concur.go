// Package concur provides the bounded fan-out helper shared by the diff
// probe and the transfer coordinator, built on sourcegraph/conc/pool in
// place of the teacher's hand-rolled WaitGroup-plus-channel worker pools.
package concur

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// BatchAsync runs fn once per item in items, with at most maxConcurrency
// calls in flight at a time. A nil or non-positive maxConcurrency means
// unbounded. It does not cancel remaining work when one fn call errors or
// panics in another goroutine; every item is attempted and every error is
// returned, indexed to the item that produced it.
func BatchAsync[T any](ctx context.Context, items []T, maxConcurrency int, fn func(ctx context.Context, item T, index int) error) []error {
	p := pool.New().WithContext(ctx)
	if maxConcurrency > 0 {
		p = p.WithMaxGoroutines(maxConcurrency)
	}

	errs := make([]error, len(items))
	for i, item := range items {
		i, item := i, item
		p.Go(func(ctx context.Context) error {
			errs[i] = fn(ctx, item, i)
			return nil
		})
	}
	// p.Wait's own error is always nil since fn errors are recorded
	// per-item above rather than propagated through the pool.
	_ = p.Wait()
	return errs
}

// BatchAsyncResult is like BatchAsync but collects a typed result alongside
// any error for each item.
func BatchAsyncResult[T any, R any](ctx context.Context, items []T, maxConcurrency int, fn func(ctx context.Context, item T, index int) (R, error)) ([]R, []error) {
	p := pool.New().WithContext(ctx)
	if maxConcurrency > 0 {
		p = p.WithMaxGoroutines(maxConcurrency)
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))
	for i, item := range items {
		i, item := i, item
		p.Go(func(ctx context.Context) error {
			results[i], errs[i] = fn(ctx, item, i)
			return nil
		})
	}
	_ = p.Wait()
	return results, errs
}

// Semaphore is a simple counting semaphore for bounding access to a
// resource (e.g. open SFTP sessions to one host) below the BatchAsync
// concurrency cap.
type Semaphore struct {
	c chan struct{}
}

// NewSemaphore builds a Semaphore permitting n concurrent holders.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{c: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.c <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired with Acquire.
func (s *Semaphore) Release() {
	<-s.c
}
