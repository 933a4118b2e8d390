package similarity

import (
	"image"
	"math"
)

// ColorDifference returns the mean absolute difference of the R, G and B
// channels after reconciling both images to their common size. 0 means the
// colors are identical, 255 the maximum possible difference.
func ColorDifference(a, b image.Image) (float64, error) {
	if err := checkSize(a); err != nil {
		return 0, err
	}
	if err := checkSize(b); err != nil {
		return 0, err
	}

	w, h := CommonSize(a.Bounds(), b.Bounds())
	ra, err := Upsample(a, w, h)
	if err != nil {
		return 0, err
	}
	rb, err := Upsample(b, w, h)
	if err != nil {
		return 0, err
	}
	pa, pb := toRGBA(ra), toRGBA(rb)

	var sum float64
	for y := 0; y < h; y++ {
		rowA := pa.Pix[y*pa.Stride : y*pa.Stride+4*w]
		rowB := pb.Pix[y*pb.Stride : y*pb.Stride+4*w]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				sum += math.Abs(float64(rowA[4*x+c]) - float64(rowB[4*x+c]))
			}
		}
	}
	return sum / float64(w*h*3), nil
}
