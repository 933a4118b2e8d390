package similarity

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// CommonSize is the per-axis maximum of the two bounds. Reconciling to it
// only ever enlarges an image.
func CommonSize(a, b image.Rectangle) (w, h int) {
	return max(a.Dx(), b.Dx()), max(a.Dy(), b.Dy())
}

// Upsample resizes img to w x h with a Lanczos-3 filter. Images already at
// that size are returned as is, and a target smaller than the source on either
// axis is refused so callers cannot silently throw detail away.
func Upsample(img image.Image, w, h int) (image.Image, error) {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img, nil
	}
	if w < b.Dx() || h < b.Dy() {
		return nil, fmt.Errorf("refusing to downsample %dx%d to %dx%d", b.Dx(), b.Dy(), w, h)
	}
	return resize.Resize(uint(w), uint(h), img, resize.Lanczos3), nil
}

// toRGBA copies img into a zero-origin RGBA buffer.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// toGray reduces img to 8-bit luminance by the unweighted mean of R, G and B,
// truncated. Single-channel images are kept as they are.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if g, ok := img.(*image.Gray); ok {
		draw.Draw(dst, dst.Bounds(), g, b.Min, draw.Src)
		return dst
	}
	rgba := toRGBA(img)
	for y := 0; y < b.Dy(); y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+4*b.Dx()]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x := range row {
			s := int(src[4*x]) + int(src[4*x+1]) + int(src[4*x+2])
			row[x] = uint8(s / 3)
		}
	}
	return dst
}
