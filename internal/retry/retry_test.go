package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer fires immediately and records every requested wait.
type instantTimer struct {
	c     chan time.Time
	waits []time.Duration
}

func (t *instantTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

var errBoom = errors.New("boom")

func TestDoSucceedsFirstTry(t *testing.T) {
	timer := &instantTimer{}
	p := Policy{MaxAttempts: 3, Delay: Linear(10 * time.Second), Timer: timer}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestDoLinearBackoffExhausts(t *testing.T) {
	timer := &instantTimer{}
	p := Policy{MaxAttempts: 3, Delay: Linear(10 * time.Second), Timer: timer}

	var attempts []int
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, []int{0, 1, 2}, attempts)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, timer.waits)
}

func TestDoConstantDelayRecovers(t *testing.T) {
	timer := &instantTimer{}
	var notified []int
	p := Policy{
		MaxAttempts: 3,
		Delay:       Constant(time.Second),
		Timer:       timer,
		OnRetry:     func(attempt int, err error, wait time.Duration) { notified = append(notified, attempt) },
	}

	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 2 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, timer.waits)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	timer := &instantTimer{}
	permanent := errors.New("bad request")
	p := Policy{
		MaxAttempts: 5,
		Timer:       timer,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoNeverRetriesCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 3, Timer: &instantTimer{}}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Do(ctx, func(context.Context, int) error {
		t.Fatal("op must not run on a cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoSingleAttempt(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDefaults(t *testing.T) {
	tr := Transport()
	assert.Equal(t, 3, tr.MaxAttempts)
	assert.Equal(t, 10*time.Second, tr.Delay(1))
	assert.Equal(t, 20*time.Second, tr.Delay(2))

	se := Semantic()
	assert.Equal(t, 3, se.MaxAttempts)
	assert.Equal(t, time.Second, se.Delay(2))
}
