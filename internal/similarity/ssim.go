// Package similarity scores how structurally alike two tiles are.
//
// The score is a mean structural similarity index (SSIM) computed the way
// scikit-image's structural_similarity does it with default arguments, so
// thresholds tuned against that tool carry over.
package similarity

import (
	"fmt"
	"image"

	"github.com/kiesman99/mapstyle/internal/failure"
)

// SSIM parameters
const (
	WindowSize = 7
	K1         = 0.01
	K2         = 0.03
	DataRange  = 255.0
)

// ErrInvalidImage is returned for images that cannot be scored: zero-sized,
// or smaller than the SSIM window.
var ErrInvalidImage = fmt.Errorf("%w: invalid image for similarity", failure.ErrDataIntegrity)

// Map is the per-pixel SSIM of two images, row-major.
type Map struct {
	Width  int
	Height int
	Values []float64
}

// At returns the SSIM value at (x, y).
func (m *Map) At(x, y int) float64 {
	return m.Values[y*m.Width+x]
}

// Score returns the mean SSIM of a and b in [-1, 1]; 1 means identical.
func Score(a, b image.Image) (float64, error) {
	score, _, err := ScoreWithMap(a, b)
	return score, err
}

// ScoreWithMap is Score that also returns the full SSIM map.
func ScoreWithMap(a, b image.Image) (float64, *Map, error) {
	ga, gb, err := prepareGray(a, b)
	if err != nil {
		return 0, nil, err
	}
	return ssim(ga, gb)
}

func prepareGray(a, b image.Image) (*image.Gray, *image.Gray, error) {
	if err := checkSize(a); err != nil {
		return nil, nil, err
	}
	if err := checkSize(b); err != nil {
		return nil, nil, err
	}
	ga, gb := toGray(a), toGray(b)
	if ga.Rect.Size() == gb.Rect.Size() {
		return ga, gb, nil
	}
	w, h := CommonSize(ga.Rect, gb.Rect)
	ra, err := Upsample(ga, w, h)
	if err != nil {
		return nil, nil, err
	}
	rb, err := Upsample(gb, w, h)
	if err != nil {
		return nil, nil, err
	}
	return toGray(ra), toGray(rb), nil
}

func checkSize(img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("%w: zero-size image", ErrInvalidImage)
	}
	return nil
}

func ssim(a, b *image.Gray) (float64, *Map, error) {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if w < WindowSize || h < WindowSize {
		return 0, nil, fmt.Errorf("%w: %dx%d is smaller than the %dx%d window", ErrInvalidImage, w, h, WindowSize, WindowSize)
	}

	n := w * h
	x := make([]float64, n)
	y := make([]float64, n)
	xx := make([]float64, n)
	yy := make([]float64, n)
	xy := make([]float64, n)
	for j := 0; j < h; j++ {
		ra := a.Pix[j*a.Stride : j*a.Stride+w]
		rb := b.Pix[j*b.Stride : j*b.Stride+w]
		for i := 0; i < w; i++ {
			k := j*w + i
			va, vb := float64(ra[i]), float64(rb[i])
			x[k], y[k] = va, vb
			xx[k], yy[k], xy[k] = va*va, vb*vb, va*vb
		}
	}

	ux := uniformFilter(x, w, h, WindowSize)
	uy := uniformFilter(y, w, h, WindowSize)
	uxx := uniformFilter(xx, w, h, WindowSize)
	uyy := uniformFilter(yy, w, h, WindowSize)
	uxy := uniformFilter(xy, w, h, WindowSize)

	np := float64(WindowSize * WindowSize)
	covNorm := np / (np - 1)
	c1 := (K1 * DataRange) * (K1 * DataRange)
	c2 := (K2 * DataRange) * (K2 * DataRange)

	m := &Map{Width: w, Height: h, Values: make([]float64, n)}
	for k := range m.Values {
		vx := covNorm * (uxx[k] - ux[k]*ux[k])
		vy := covNorm * (uyy[k] - uy[k]*uy[k])
		vxy := covNorm * (uxy[k] - ux[k]*uy[k])

		a1 := 2*ux[k]*uy[k] + c1
		a2 := 2*vxy + c2
		b1 := ux[k]*ux[k] + uy[k]*uy[k] + c1
		b2 := vx + vy + c2
		m.Values[k] = (a1 * a2) / (b1 * b2)
	}

	pad := (WindowSize - 1) / 2
	var sum float64
	var count int
	for j := pad; j < h-pad; j++ {
		for i := pad; i < w-pad; i++ {
			sum += m.Values[j*w+i]
			count++
		}
	}
	return sum / float64(count), m, nil
}

// uniformFilter is a separable box mean of the given size with mirrored
// (half-sample symmetric) borders.
func uniformFilter(src []float64, w, h, size int) []float64 {
	half := size / 2
	tmp := make([]float64, len(src))
	for j := 0; j < h; j++ {
		row := src[j*w : (j+1)*w]
		for i := 0; i < w; i++ {
			var s float64
			for d := -half; d <= half; d++ {
				s += row[reflect(i+d, w)]
			}
			tmp[j*w+i] = s / float64(size)
		}
	}
	out := make([]float64, len(src))
	for i := 0; i < w; i++ {
		for j := 0; j < h; j++ {
			var s float64
			for d := -half; d <= half; d++ {
				s += tmp[reflect(j+d, h)*w+i]
			}
			out[j*w+i] = s / float64(size)
		}
	}
	return out
}

// reflect maps i into [0, n) mirroring about the edges: d c b a | a b c d | d c b a.
func reflect(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}
