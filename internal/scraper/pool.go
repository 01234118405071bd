package scraper

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Pool.Do once the pool has been closed.
var ErrPoolClosed = errors.New("scraper: pool closed")

// Pool bounds the number of fetches in flight across all tasks.
type Pool struct {
	sem     *semaphore.Weighted
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool returns a Pool with size slots.
func NewPool(size int, m *Metrics) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Do waits for a free slot, runs fn and releases the slot. It returns
// ctx's error, or ErrPoolClosed, if either ends the wait; fn has not run
// in that case. A running fn is never interrupted.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if p.ctx.Err() != nil {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	p.metrics.PoolSize.Inc()
	defer p.metrics.PoolSize.Dec()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		if p.ctx.Err() != nil {
			return ErrPoolClosed
		}
		return err
	}
	defer p.sem.Release(1)

	fn()
	return nil
}

// Close aborts every current and future wait for a slot.
func (p *Pool) Close() { p.cancel() }
