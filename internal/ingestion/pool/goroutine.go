package pool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// GoroutinePool runs handlers on at most N goroutines of this process.
type GoroutinePool[T, R any] struct {
	g        *errgroup.Group
	handler  Handler[T, R]
	inflight atomic.Int64
}

func NewGoroutinePool[T, R any](workers int, h Handler[T, R]) *GoroutinePool[T, R] {
	if workers < 1 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	return &GoroutinePool[T, R]{g: g, handler: h}
}

func (p *GoroutinePool[T, R]) Submit(ctx context.Context, task T) *Future[R] {
	fut := newFuture[R]()
	p.g.Go(func() error {
		p.inflight.Add(1)
		defer p.inflight.Add(-1)
		var (
			res R
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = &panicError{Val: r}
				}
			}()
			res, err = p.handler(ctx, task)
		}()
		fut.resolve(res, err)
		return nil
	})
	return fut
}

// InFlight is the number of handlers currently running.
func (p *GoroutinePool[T, R]) InFlight() int { return int(p.inflight.Load()) }

// Close waits for submitted tasks to finish.
func (p *GoroutinePool[T, R]) Close() error {
	return p.g.Wait()
}
