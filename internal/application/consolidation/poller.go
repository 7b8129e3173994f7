package consolidation

import (
	"context"
	"time"
)

// DefaultPollSchedule is the wait before each read attempt, about 37s in total
var DefaultPollSchedule = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}

// WaitFunc blocks for d or until ctx is done
type WaitFunc func(ctx context.Context, d time.Duration) error

// ContextWait is the production WaitFunc
func ContextWait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poller retries reads that may be empty because the platform has not
// materialized a resource yet
type Poller struct {
	schedule []time.Duration
	wait     WaitFunc
	onEmpty  func(attempt int, next time.Duration)
}

// PollerOption is a functional option for Poller
type PollerOption func(*Poller)

// WithWaitFunc replaces the wait used between attempts
func WithWaitFunc(wait WaitFunc) PollerOption {
	return func(p *Poller) {
		p.wait = wait
	}
}

// WithEmptyHook is called after every empty read that will be retried
func WithEmptyHook(hook func(attempt int, next time.Duration)) PollerOption {
	return func(p *Poller) {
		p.onEmpty = hook
	}
}

// NewPoller creates a poller; an empty schedule falls back to DefaultPollSchedule
func NewPoller(schedule []time.Duration, opts ...PollerOption) *Poller {
	if len(schedule) == 0 {
		schedule = DefaultPollSchedule
	}
	p := &Poller{
		schedule: append([]time.Duration(nil), schedule...),
		wait:     ContextWait,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Schedule returns a copy of the wait schedule
func (p *Poller) Schedule() []time.Duration {
	return append([]time.Duration(nil), p.schedule...)
}

// PollUntilNonEmpty waits schedule[i] then calls read, once per schedule entry,
// returning the first non-empty result. Errors are returned immediately and
// never retried. An exhausted schedule returns an empty result and no error.
func PollUntilNonEmpty[T any](ctx context.Context, p *Poller, read func(ctx context.Context) ([]T, error)) ([]T, int, error) {
	attempts := 0
	for i, d := range p.schedule {
		if err := p.wait(ctx, d); err != nil {
			return nil, attempts, err
		}
		attempts++
		result, err := read(ctx)
		if err != nil {
			return nil, attempts, err
		}
		if len(result) > 0 {
			return result, attempts, nil
		}
		if p.onEmpty != nil && i+1 < len(p.schedule) {
			p.onEmpty(attempts, p.schedule[i+1])
		}
	}
	return nil, attempts, nil
}
