package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is the scheduling state of a Task.
type State int32

const (
	StateIdle State = iota
	StateSleeping
	StateAwaitingSlot
	StateFetching
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSleeping:
		return "sleeping"
	case StateAwaitingSlot:
		return "awaiting_slot"
	case StateFetching:
		return "fetching"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Consumer receives every successfully fetched document of a task.
// A returned error is fatal: it stops the task and is reported by Run.
type Consumer interface {
	Update(doc []byte) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(doc []byte) error

// Update calls f(doc).
func (f ConsumerFunc) Update(doc []byte) error { return f(doc) }

// maxJitterRatio bounds the initial delay of a jittered task as a fraction
// of its interval.
const maxJitterRatio = 0.75

// TaskConfig describes one periodic poll.
type TaskConfig struct {
	URL      string
	Interval time.Duration

	// Jitter delays the first fetch by a random duration in
	// [0, 0.75 x Interval].
	Jitter bool

	// Consumers are notified in order after every successful fetch.
	Consumers []Consumer
}

// Env holds what tasks share.
type Env struct {
	Pool    *Pool
	Fetcher Fetcher
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Task polls one URL until cancelled.
type Task struct {
	cfg    TaskConfig
	env    Env
	logger *slog.Logger
	state  atomic.Int32
}

// NewTask returns a Task in the Idle state.
func NewTask(cfg TaskConfig, env Env) *Task {
	if env.Clock == nil {
		env.Clock = clockwork.NewRealClock()
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	return &Task{
		cfg:    cfg,
		env:    env,
		logger: env.Logger.With("url", cfg.URL),
	}
}

// URL returns the polled URL.
func (t *Task) URL() string { return t.cfg.URL }

// State returns where the task currently is in its cycle.
func (t *Task) State() State { return State(t.state.Load()) }

func (t *Task) setState(s State) { t.state.Store(int32(s)) }

// Run polls until ctx is cancelled or a consumer fails. Cancellation is
// observed while sleeping and while waiting for a pool slot; a fetch in
// progress runs to completion (bounded by the fetcher's own timeout) and
// its result is still delivered. Run returns nil on cancellation and the
// consumer's error otherwise. A failed fetch only skips the cycle.
func (t *Task) Run(ctx context.Context) error {
	defer t.setState(StateCancelled)

	if t.cfg.Jitter && t.cfg.Interval > 0 {
		limit := int64(float64(t.cfg.Interval) * maxJitterRatio)
		if !t.sleep(ctx, time.Duration(rand.Int64N(limit+1))) {
			return nil
		}
	}

	for {
		t.setState(StateAwaitingSlot)
		var (
			doc      []byte
			fetchErr error
		)
		err := t.env.Pool.Do(ctx, func() {
			t.setState(StateFetching)
			doc, fetchErr = t.env.Fetcher.Fetch(context.WithoutCancel(ctx), t.cfg.URL)
		})
		if err != nil {
			t.logger.Debug("scraper: stopped while waiting for a slot", "err", err)
			return nil
		}

		if fetchErr != nil {
			t.logger.Warn("scraper: fetch failed", "err", fetchErr)
		} else {
			for _, c := range t.cfg.Consumers {
				if err := c.Update(doc); err != nil {
					return err
				}
			}
		}

		if !t.sleep(ctx, t.cfg.Interval) {
			return nil
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func (t *Task) sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	t.setState(StateSleeping)

	timer := t.env.Clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
