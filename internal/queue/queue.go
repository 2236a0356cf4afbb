// Package queue runs batches of keyed fetch tasks with a concurrency ceiling
// and optional pacing between dispatches. One runner is used per upstream
// provider group so a rate-limited provider cannot throttle the others.
package queue

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task produces one result. A nil result with a nil error means "nothing to
// emit" (e.g. a not-found lookup the caller handled).
type Task[T any] func(ctx context.Context) (*T, error)

type item[T any] struct {
	id string
	fn Task[T]
}

// Runner drains queued tasks with at most `limit` in flight, emitting each
// non-nil successful result to out in completion order. Task errors and
// panics are logged, never propagated, so one failure cannot halt a batch.
type Runner[T any] struct {
	limit int
	delay time.Duration
	out   chan<- *T

	mu      sync.Mutex
	pending []item[T]
	ids     map[string]struct{} // queued or in flight
}

// New creates a runner writing results to out.
func New[T any](limit int, delay time.Duration, out chan<- *T) *Runner[T] {
	if limit <= 0 {
		limit = 1
	}
	return &Runner[T]{
		limit: limit,
		delay: delay,
		out:   out,
		ids:   make(map[string]struct{}),
	}
}

// Add queues a task. Adding an id that is already queued or in flight is a
// no-op; the id frees up once its task completes. Tasks must be added before
// Run finishes draining: a task added after Run's dispatch loop has exited
// stays pending and is never executed.
func (r *Runner[T]) Add(id string, fn Task[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ids[id]; dup {
		return
	}
	r.ids[id] = struct{}{}
	r.pending = append(r.pending, item[T]{id: id, fn: fn})
}

// Len reports how many tasks are waiting for dispatch.
func (r *Runner[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run dispatches until the queue is empty and every task has completed.
// Calling Run on an empty, idle runner returns immediately. Cancelling ctx
// stops further dispatches; tasks already in flight observe ctx themselves.
func (r *Runner[T]) Run(ctx context.Context) {
	sem := make(chan struct{}, r.limit)
	var wg sync.WaitGroup

	first := true
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			break
		}
		it := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		if !first && r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
			}
		}
		first = false

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			r.release(it.id)
			r.drain()
			break
		}

		wg.Add(1)
		go func(it item[T]) {
			defer wg.Done()
			defer func() { <-sem }()
			defer r.release(it.id)
			defer func() {
				if p := recover(); p != nil {
					log.Printf("[ERROR] queue task %s panicked: %v", it.id, p)
				}
			}()

			res, err := it.fn(ctx)
			if err != nil {
				log.Printf("[WARN] queue task %s failed: %v", it.id, err)
				return
			}
			if res != nil {
				r.out <- res
			}
		}(it)
	}

	wg.Wait()
}

func (r *Runner[T]) release(id string) {
	r.mu.Lock()
	delete(r.ids, id)
	r.mu.Unlock()
}

func (r *Runner[T]) drain() {
	r.mu.Lock()
	for _, it := range r.pending {
		delete(r.ids, it.id)
	}
	r.pending = nil
	r.mu.Unlock()
}
