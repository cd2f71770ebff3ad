package reconcile

import (
	"context"
	"time"
)

// DefaultPollInterval bounds how long a waiter sleeps between predicate
// evaluations when no wake signal arrives.
const DefaultPollInterval = 10 * time.Millisecond

// Clock abstracts time so waits can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type waitOptions struct {
	clock  Clock
	poll   time.Duration
	wakeup func() <-chan struct{}
}

// WaitOption configures AwaitQuorum.
type WaitOption func(*waitOptions)

// WithClock replaces the wall clock.
func WithClock(c Clock) WaitOption {
	return func(o *waitOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithPollInterval sets the fallback re-evaluation interval.
func WithPollInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithWakeup supplies a signal that fires when the predicate's inputs change.
// The function is called before every evaluation so no update is missed.
func WithWakeup(fn func() <-chan struct{}) WaitOption {
	return func(o *waitOptions) {
		o.wakeup = fn
	}
}

// AwaitQuorum evaluates predicate until it returns true or timeout elapses and
// returns the last evaluated result. A timeout is a normal outcome, reported
// as false. Cancelling ctx ends the wait early with the last result.
func AwaitQuorum(ctx context.Context, predicate func() bool, timeout time.Duration, opts ...WaitOption) bool {
	o := waitOptions{clock: RealClock{}, poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}

	if timeout <= 0 {
		return predicate()
	}
	deadline := o.clock.After(timeout)

	for {
		var wake <-chan struct{}
		if o.wakeup != nil {
			wake = o.wakeup()
		}

		result := predicate()
		if result {
			return true
		}

		select {
		case <-deadline:
			return predicate()
		case <-ctx.Done():
			return result
		case <-wake:
		case <-o.clock.After(o.poll):
		}
	}
}
