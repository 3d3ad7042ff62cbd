// Package job runs long tasks off the caller's goroutine with progress reporting and
// cooperative cancellation.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/google/uuid"
)

// Progress is one progress event. Percent is -1 when only Status changed.
type Progress struct {
	Percent int
	Status  string
}

// Reporter publishes progress from inside a running job.
type Reporter func(Progress)

// Func is the body of a job. It must check ctx between units of work.
type Func[T any] func(ctx context.Context, report Reporter) (T, error)

// Callbacks are invoked from the job's goroutine. Any of them may be nil.
type Callbacks[T any] struct {
	Progress func(Progress)
	Finished func(T)
	Failed   func(error)
}

// Handle controls a running job.
type Handle[T any] struct {
	id     string
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result T
	err    error
}

// Start runs fn in a new goroutine. Cancelling ctx or calling Cancel stops it at the next
// unit boundary. A cancelled job ends with an error wrapping types.ErrJobCancelled and
// does not call Failed; any other error is wrapped in types.ErrJobFailed.
func Start[T any](ctx context.Context, name string, fn Func[T], cb Callbacks[T]) *Handle[T] {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle[T]{
		id:     uuid.NewString(),
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	report := func(p Progress) {
		if cb.Progress != nil {
			cb.Progress(p)
		}
	}

	go func() {
		defer close(h.done)
		defer cancel()

		res, err := run(ctx, fn, report)
		switch {
		case err == nil && ctx.Err() == nil:
			h.finish(res, nil)
			if cb.Finished != nil {
				cb.Finished(res)
			}
		case ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, types.ErrJobCancelled)):
			h.finish(res, fmt.Errorf("%s: %w", name, types.ErrJobCancelled))
		default:
			err = fmt.Errorf("%s: %w: %w", name, types.ErrJobFailed, err)
			h.finish(res, err)
			if cb.Failed != nil {
				cb.Failed(err)
			}
		}
	}()
	return h
}

func run[T any](ctx context.Context, fn Func[T], report Reporter) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, report)
}

func (h *Handle[T]) finish(res T, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result, h.err = res, err
}

func (h *Handle[T]) ID() string   { return h.id }
func (h *Handle[T]) Name() string { return h.name }

// Cancel requests cooperative cancellation. It does not wait.
func (h *Handle[T]) Cancel() { h.cancel() }

// Done is closed once the job has returned.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Running reports whether the job has not returned yet.
func (h *Handle[T]) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the job returns. A cancelled job still yields its partial result.
func (h *Handle[T]) Wait() (T, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}
