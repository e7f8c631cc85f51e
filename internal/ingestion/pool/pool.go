package pool

import (
	"context"
	"fmt"
)

// Handler does the work for one task.
type Handler[T, R any] func(ctx context.Context, task T) (R, error)

// Pool runs tasks on a bounded set of workers. Submit blocks while every worker is busy.
type Pool[T, R any] interface {
	Submit(ctx context.Context, task T) *Future[R]
	Close() error
}

// Future is the pending result of one submitted task.
type Future[R any] struct {
	done chan struct{}
	res  R
	err  error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved[R any](res R, err error) *Future[R] {
	f := newFuture[R]()
	f.resolve(res, err)
	return f
}

func (f *Future[R]) resolve(res R, err error) {
	f.res, f.err = res, err
	close(f.done)
}

func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (f *Future[R]) Done() <-chan struct{} { return f.done }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("worker panic: %v", e.Val) }
