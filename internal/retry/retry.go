// Package retry runs an operation under a bounded attempt policy.
//
// Two policies are used by the pipeline and nest without sharing state: a
// transport policy around each remote call, and a semantic policy around a
// whole generate-and-score attempt.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Delay returns how long to wait after the n-th failed attempt (n starts at 1).
type Delay func(n int) time.Duration

// Constant waits d between attempts.
func Constant(d time.Duration) Delay {
	return func(int) time.Duration { return d }
}

// Linear waits n*unit after the n-th failure: unit, 2*unit, 3*unit...
func Linear(unit time.Duration) Delay {
	return func(n int) time.Duration { return time.Duration(n) * unit }
}

// Policy bounds the attempts of one operation.
type Policy struct {
	// MaxAttempts is the total number of calls, first one included. Values
	// below 1 are treated as 1.
	MaxAttempts int
	Delay       Delay
	// Retryable decides whether a failure is worth another attempt. nil
	// retries everything except context cancellation.
	Retryable func(error) bool
	// OnRetry is called before each wait with the number of attempts made so far.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Timer replaces the wall clock, for tests.
	Timer backoff.Timer
}

// Transport is the default policy for remote calls: 3 attempts, waiting 10 s then 20 s.
func Transport() Policy {
	return Policy{MaxAttempts: 3, Delay: Linear(10 * time.Second)}
}

// Semantic is the default policy for generate-and-score attempts: 3 attempts, 1 s apart.
func Semantic() Policy {
	return Policy{MaxAttempts: 3, Delay: Constant(time.Second)}
}

// Do calls op until it succeeds, fails permanently or the attempts run out,
// and returns the last error. attempt is 0-based.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	maxAttempts := max(p.MaxAttempts, 1)
	delay := p.Delay
	if delay == nil {
		delay = Constant(0)
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	attempt := 0
	operation := func() error {
		err := op(ctx, attempt)
		attempt++
		if err == nil {
			return nil
		}
		if isCancel(err) || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) { p.OnRetry(attempt, err, wait) }
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&delayBackOff{delay: delay}, uint64(maxAttempts-1)), ctx)
	return backoff.RetryNotifyWithTimer(operation, b, notify, p.Timer)
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// delayBackOff adapts a Delay to backoff.BackOff.
type delayBackOff struct {
	delay Delay
	n     int
}

func (b *delayBackOff) NextBackOff() time.Duration {
	b.n++
	return b.delay(b.n)
}

func (b *delayBackOff) Reset() { b.n = 0 }
