package similarity

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommonSize(t *testing.T) {
	w, h := CommonSize(image.Rect(0, 0, 256, 128), image.Rect(0, 0, 100, 300))
	assert.Equal(t, 256, w)
	assert.Equal(t, 300, h)
}

func TestUpsampleNeverShrinks(t *testing.T) {
	img := noise(10, 20, 1)

	same, err := Upsample(img, 10, 20)
	require.NoError(t, err)
	assert.Same(t, img, same.(*image.RGBA))

	up, err := Upsample(img, 30, 20)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 20), up.Bounds())

	_, err = Upsample(img, 5, 20)
	require.Error(t, err)
}

func TestColorDifference(t *testing.T) {
	a := flat(8, 8, color.RGBA{10, 20, 30, 255})
	b := flat(8, 8, color.RGBA{20, 10, 60, 255})

	d, err := ColorDifference(a, a)
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ColorDifference(a, b)
	require.NoError(t, err)
	assert.InDelta(t, (10.0+10.0+30.0)/3, d, 1e-9)

	big := flat(16, 16, color.RGBA{10, 20, 30, 255})
	d, err = ColorDifference(a, big)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1.0)
}
