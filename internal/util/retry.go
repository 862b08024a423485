package util

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
)

// Action is what a retry policy tells the caller to do after a failed attempt.
type Action int

const (
	// ActionRetry means wait Decision.Delay and try the same work again.
	ActionRetry Action = iota
	// ActionAbort means stop now and propagate the error.
	ActionAbort
	// ActionExhausted means the attempt budget is spent. The caller may
	// change strategy (e.g. a smaller batch) or propagate the error.
	ActionExhausted
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionAbort:
		return "abort"
	case ActionExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy is a fixed-delay backoff policy. Delays[i] is the wait after the
// (i+1)-th failed attempt; attempts beyond len(Delays) reuse the last delay.
type Policy struct {
	Delays      []time.Duration
	MaxAttempts int
	FailFast    bool
	// Sleep waits between attempts of RetryWithContext. Nil uses Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy waits 1s, 2s, 4s between attempts and allows 3 attempts.
func DefaultPolicy(failFast bool) Policy {
	return Policy{
		Delays:      []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		MaxAttempts: 3,
		FailFast:    failFast,
	}
}

// Decide is a pure function of the failed attempt number (1-based) and its
// error. Context errors and permanent errors always abort.
func (p Policy) Decide(attempt int, err error) Decision {
	if err == nil {
		return Decision{Action: ActionAbort}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Decision{Action: ActionAbort}
	}
	if ingesterr.IsPermanent(err) || p.FailFast {
		return Decision{Action: ActionAbort}
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if attempt >= maxAttempts {
		return Decision{Action: ActionExhausted}
	}
	return Decision{Action: ActionRetry, Delay: p.delay(attempt)}
}

func (p Policy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 || attempt <= 0 {
		return 0
	}
	if attempt > len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt-1]
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryWithContext calls fn until it succeeds or the policy stops retrying.
// onRetry, if set, is called before every wait. Returns ctx.Err() if the
// context is canceled, otherwise the last error.
func RetryWithContext[T any](
	ctx context.Context,
	policy Policy,
	fn func(context.Context) (T, error),
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T
	sleep := policy.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		d := policy.Decide(attempt, err)
		if d.Action != ActionRetry {
			return zero, err
		}
		if onRetry != nil {
			onRetry(attempt, d.Delay, err)
		}
		if err := sleep(ctx, d.Delay); err != nil {
			return zero, err
		}
	}
}

// RetryErrWithContext is RetryWithContext for functions without a result.
func RetryErrWithContext(
	ctx context.Context,
	policy Policy,
	fn func(context.Context) error,
	onRetry func(attempt int, delay time.Duration, err error),
) error {
	_, err := RetryWithContext(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, onRetry)
	return err
}
