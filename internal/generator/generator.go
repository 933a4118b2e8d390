// Package generator turns a source tile into a stylized map tile with a
// generative image model.
package generator

import (
	"context"
	"fmt"

	"github.com/kiesman99/mapstyle/internal/failure"
)

// ErrNoImage means the model answered without an image part. It is a
// semantic failure: the call worked, the output is unusable.
var ErrNoImage = fmt.Errorf("%w: response contained no image", failure.ErrSemantic)

// Request is one generate call.
type Request struct {
	Image    []byte
	MIMEType string
	Prompt   string
}

// Image is a generated image payload.
type Image struct {
	Data     []byte
	MIMEType string
	// Text is any text the model returned alongside the image.
	Text string
}

// Generator produces a styled version of a source image.
//
// Errors are retried by the caller's transport policy unless they wrap
// failure.ErrSemantic or failure.ErrConfiguration, or come from context
// cancellation. Implementations need not wrap network errors in
// failure.ErrTransport. A configuration error aborts the whole batch.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Image, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req Request) (*Image, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (*Image, error) {
	return f(ctx, req)
}
