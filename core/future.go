package core

import "context"

// Future is a single-assignment result shared by every observer of a
// deferred execution.
type Future[R any] struct {
	done  chan struct{}
	value R
	err   error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

// resolve settles the future. It must be called exactly once.
func (f *Future[R]) resolve(value R, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Done is closed once the future is settled.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future is settled or ctx is done.
func (f *Future[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
