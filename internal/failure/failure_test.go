package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeUnknown},
		{"plain", errors.New("boom"), CodeUnknown},
		{"transport", fmt.Errorf("fetch 1/2: %w", ErrTransport), CodeTransport},
		{"net error", fmt.Errorf("dial: %w", timeoutErr{}), CodeTransport},
		{"semantic", fmt.Errorf("%w: too similar", ErrSemantic), CodeSemantic},
		{"integrity", fmt.Errorf("%w: bad jpeg", ErrDataIntegrity), CodeIntegrity},
		{"config", fmt.Errorf("%w: inverted bbox", ErrConfiguration), CodeConfig},
		{"cancel wins", fmt.Errorf("%w: %w", ErrTransport, context.Canceled), CodeCancel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("x: %w", ErrTransport)))
	assert.False(t, Retryable(fmt.Errorf("x: %w", ErrSemantic)))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(fmt.Errorf("x: %w", ErrConfiguration)))
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(errors.New("connection reset by peer")))
	assert.True(t, Retryable(fmt.Errorf("x: %w", ErrDataIntegrity)))
	assert.True(t, Retryable(timeoutErr{}))
}
