package queue

import (
	"context"
)

// Future is the pending result of an admitted task. It resolves exactly once.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the task has resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task resolves or ctx is done. Returning early on
// context cancellation does not cancel the task itself.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve is only called by the drain loop.
func (f *Future) resolve(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}
