package scraper

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Runner is anything a Group can run. *Task implements it.
type Runner interface {
	Run(ctx context.Context) error
}

// Group runs tasks and joins them. The first task to return an error
// cancels all the others.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewGroup returns a Group whose tasks are cancelled when ctx is.
func NewGroup(ctx context.Context) *Group {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx}
}

// Context is cancelled when the parent context is or when a task fails.
func (g *Group) Context() context.Context { return g.ctx }

// Start runs r in its own goroutine under a child context that the
// returned Handle can cancel on its own.
// Start may be called from a running task, but not after Wait returned.
func (g *Group) Start(r Runner) *Handle {
	ctx, cancel := context.WithCancel(g.ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	g.g.Go(func() error {
		defer close(h.done)
		defer cancel()
		return r.Run(ctx)
	})
	return h
}

// Wait blocks until every task has returned and reports the first error.
func (g *Group) Wait() error { return g.g.Wait() }

// Handle controls one task started by a Group.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel asks the task to stop. It does not wait.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the task has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }
