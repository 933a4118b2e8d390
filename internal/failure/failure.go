// Package failure holds the error taxonomy shared by the tile pipeline,
// the stitcher and the comparison engine.
package failure

import (
	"context"
	"errors"
	"net"
)

// Sentinel categories. Concrete errors wrap one of these with %w.
var (
	// ErrTransport: a fetch or generate call failed at the network/protocol level.
	ErrTransport = errors.New("transport failure")
	// ErrSemantic: generation succeeded but the output was unsatisfactory.
	ErrSemantic = errors.New("semantic failure")
	// ErrDataIntegrity: corrupt image, malformed filename or empty tile set.
	ErrDataIntegrity = errors.New("data integrity failure")
	// ErrConfiguration: degenerate bounding box, missing credential or bad setting.
	ErrConfiguration = errors.New("configuration error")
)

// Code is a short classification used in log records.
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeTransport Code = "transport"
	CodeSemantic  Code = "semantic"
	CodeIntegrity Code = "integrity"
	CodeConfig    Code = "config"
	CodeCancel    Code = "cancel"
)

// Classify maps err onto a Code. Cancellation wins over everything else.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, ErrConfiguration):
		return CodeConfig
	case errors.Is(err, ErrDataIntegrity):
		return CodeIntegrity
	case errors.Is(err, ErrSemantic):
		return CodeSemantic
	case errors.Is(err, ErrTransport):
		return CodeTransport
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeTransport
	}
	return CodeUnknown
}

// Retryable reports whether err is worth another transport-level attempt.
// Unclassified errors are retried: client libraries rarely wrap their
// connection failures, so only cancellation, configuration and semantic
// failures are final.
func Retryable(err error) bool {
	switch Classify(err) {
	case CodeCancel, CodeConfig, CodeSemantic:
		return false
	}
	return err != nil
}
