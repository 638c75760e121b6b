// Package pool runs a bounded number of tasks drawn from a work list.
//
//	results, err := pool.Map(ctx, 3, chunks, func(ctx context.Context, i int, c Chunk) (Ack, error) {
//	    return send(ctx, c)
//	})
//
// At most n mapper calls are outstanding at any instant. Results are returned
// in input order. A failing item does not stop its siblings; once every
// scheduled item has settled, Map returns an *Error describing all failures.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Failure records the error of one work item.
type Failure struct {
	Index int
	Err   error
}

// Error is returned by Map when one or more items failed.
type Error struct {
	// First is the first error encountered, in completion order.
	First error
	// Failures holds every failed item sorted by index.
	Failures []Failure
}

func (e *Error) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("pool: item %d failed: %v", e.Failures[0].Index, e.First)
	}
	return fmt.Sprintf("pool: %d items failed, first: %v", len(e.Failures), e.First)
}

// Unwrap exposes every item error to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Indices returns the indices of the failed items.
func (e *Error) Indices() []int {
	idx := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		idx[i] = f.Index
	}
	return idx
}

// Group runs tasks submitted over time with at most n in flight. Use it when
// the work list is produced incrementally; Map covers the case where every
// item is known up front.
type Group struct {
	ctx context.Context
	g   errgroup.Group

	mu       sync.Mutex
	first    error
	failures []Failure
}

// NewGroup returns a Group bounded to n concurrent tasks. n <= 0 removes the
// bound.
func NewGroup(ctx context.Context, n int) *Group {
	g := &Group{ctx: ctx}
	// errgroup without a derived context: one failure must not cancel the
	// siblings already running.
	if n > 0 {
		g.g.SetLimit(n)
	}
	return g
}

// Go schedules fn as the item with the given index, blocking while n tasks
// are running. Once ctx is cancelled fn is not started and the item fails
// with ctx.Err().
func (g *Group) Go(index int, fn func(ctx context.Context) error) {
	if err := g.ctx.Err(); err != nil {
		g.fail(index, err)
		return
	}
	g.g.Go(func() error {
		if err := g.ctx.Err(); err != nil {
			g.fail(index, err)
			return nil
		}
		if err := fn(g.ctx); err != nil {
			g.fail(index, err)
		}
		return nil
	})
}

// Wait blocks until every scheduled task has settled and returns an *Error
// describing the failures, or nil.
func (g *Group) Wait() error {
	g.g.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.failures) == 0 {
		return nil
	}
	failures := append([]Failure(nil), g.failures...)
	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	return &Error{First: g.first, Failures: failures}
}

func (g *Group) fail(index int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.first == nil {
		g.first = err
	}
	g.failures = append(g.failures, Failure{Index: index, Err: err})
}

// Map calls fn for every item with at most n calls in flight and returns the
// results in input order. n <= 0 removes the bound.
//
// Items not yet started when ctx is cancelled are not started; they are
// reported as failures carrying ctx.Err().
func Map[T, R any](ctx context.Context, n int, items []T, fn func(ctx context.Context, index int, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	g := NewGroup(ctx, n)
	for i, item := range items {
		i, item := i, item
		g.Go(i, func(ctx context.Context) error {
			r, err := fn(ctx, i, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Each is Map for tasks without a result.
func Each[T any](ctx context.Context, n int, items []T, fn func(ctx context.Context, index int, item T) error) error {
	_, err := Map(ctx, n, items, func(ctx context.Context, i int, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, i, item)
	})
	return err
}
