package tile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/mapstyle/internal/failure"
)

func TestSwissResolutionsNonIncreasing(t *testing.T) {
	require.Len(t, SwissResolutions, MaxZoom+1)
	for z := 1; z < len(SwissResolutions); z++ {
		assert.LessOrEqual(t, SwissResolutions[z], SwissResolutions[z-1], "zoom %d", z)
	}
}

func TestNewResolutionTableRejectsBadTables(t *testing.T) {
	tests := []struct {
		name string
		res  []float64
	}{
		{"empty", nil},
		{"increasing", []float64{1, 2}},
		{"zero", []float64{4, 0}},
		{"negative", []float64{-1}},
		{"nan", []float64{math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolutionTable(tt.res)
			require.ErrorIs(t, err, failure.ErrConfiguration)
		})
	}
}

func TestCoordinateToTile(t *testing.T) {
	g := SwissGrid()
	span := 2560.0 // zoom 20: 256 px * 10 m

	tests := []struct {
		name string
		x, y float64
		want Index
	}{
		{"origin", OriginX, OriginY, Index{0, 0}},
		{"inside first tile", OriginX + 1, OriginY - 1, Index{0, 0}},
		{"column boundary goes right", OriginX + span, OriginY - 1, Index{1, 0}},
		{"row boundary goes down", OriginX + 1, OriginY - span, Index{0, 1}},
		{"bern area", 2600000, 1200000, Index{70, 58}},
		{"west of origin", OriginX - 1, OriginY - 1, Index{-1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.CoordinateToTile(tt.x, tt.y, 20)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoordinateToTileUnknownZoom(t *testing.T) {
	g := SwissGrid()
	_, err := g.CoordinateToTile(OriginX, OriginY, MaxZoom+1)
	require.ErrorIs(t, err, failure.ErrConfiguration)
	_, err = g.CoordinateToTile(OriginX, OriginY, -1)
	require.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestCoordinateToTileIdempotentAndContained(t *testing.T) {
	g := SwissGrid()
	points := [][2]float64{{2600000, 1200000}, {2683000.5, 1247999.9}, {2485410, 1075268}}
	for _, zoom := range []int{0, 10, 20, 27, MaxZoom} {
		for _, p := range points {
			idx, err := g.CoordinateToTile(p[0], p[1], zoom)
			require.NoError(t, err)
			again, err := g.CoordinateToTile(p[0], p[1], zoom)
			require.NoError(t, err)
			assert.Equal(t, idx, again)

			ext, err := g.TileExtent(idx, zoom)
			require.NoError(t, err)
			assert.True(t, ext.Contains(p[0], p[1]), "zoom %d point %v not in %+v", zoom, p, ext)
		}
	}
}

func TestEnumerateTilesSingleTileExtent(t *testing.T) {
	g := SwissGrid()
	indices := []Index{{5, 7}, {123, 456}, {70000, 58000}, {1234567, 987654}}
	for zoom := 0; zoom <= MaxZoom; zoom++ {
		for _, idx := range indices {
			ext, err := g.TileExtent(idx, zoom)
			require.NoError(t, err)

			tiles, err := g.EnumerateTiles(ext, zoom)
			require.NoError(t, err)
			assert.Equal(t, []Index{idx}, tiles, "zoom %d tile %s", zoom, idx)

			corner, err := g.CoordinateToTile(ext.MinX, ext.MaxY, zoom)
			require.NoError(t, err)
			assert.Equal(t, idx, corner, "zoom %d tile %s top-left corner", zoom, idx)
		}
	}
}

func TestCoordinateToTileSnapsBoundaryAtFractionalSpan(t *testing.T) {
	g := SwissGrid()
	// 25.6 m has no exact binary form, so boundaries carry rounding error.
	x := OriginX + 5*25.6
	y := OriginY - 7*25.6
	idx, err := g.CoordinateToTile(x, y, MaxZoom)
	require.NoError(t, err)
	assert.Equal(t, Index{5, 7}, idx)

	inside, err := g.CoordinateToTile(x+1, y-1, MaxZoom)
	require.NoError(t, err)
	assert.Equal(t, Index{5, 7}, inside)
}

func TestEnumerateTilesColumnMajor(t *testing.T) {
	g := SwissGrid()
	span := 2560.0
	bbox := BoundingBox{
		MinX: OriginX + 0.5*span,
		MaxX: OriginX + 2.5*span,
		MinY: OriginY - 1.5*span,
		MaxY: OriginY - 0.5*span,
	}

	tiles, err := g.EnumerateTiles(bbox, 20)
	require.NoError(t, err)
	assert.Equal(t, []Index{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 0}, {2, 1}}, tiles)
}

func TestEnumerateTilesDegeneratePoint(t *testing.T) {
	g := SwissGrid()
	x, y := 2600000.0, 1200000.0
	tiles, err := g.EnumerateTiles(BoundingBox{MinX: x, MaxX: x, MinY: y, MaxY: y}, 20)
	require.NoError(t, err)
	assert.Equal(t, []Index{{70, 58}}, tiles)
}

func TestEnumerateTilesErrors(t *testing.T) {
	g := SwissGrid()
	tests := []struct {
		name string
		bbox BoundingBox
		zoom int
	}{
		{"inverted x", BoundingBox{MinX: 2600000, MaxX: 2500000, MinY: 1200000, MaxY: 1210000}, 20},
		{"inverted y", BoundingBox{MinX: 2500000, MaxX: 2600000, MinY: 1210000, MaxY: 1200000}, 20},
		{"nan", BoundingBox{MinX: math.NaN(), MaxX: 2600000, MinY: 1200000, MaxY: 1210000}, 20},
		{"unknown zoom", BoundingBox{MinX: 2500000, MaxX: 2600000, MinY: 1200000, MaxY: 1210000}, 40},
		{"too many tiles", BoundingBox{MinX: 2500000, MaxX: 2600000, MinY: 1100000, MaxY: 1200000}, 28},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.EnumerateTiles(tt.bbox, tt.zoom)
			require.ErrorIs(t, err, failure.ErrConfiguration)
		})
	}
}

func TestCalculateBounds(t *testing.T) {
	_, ok := CalculateBounds(nil)
	assert.False(t, ok)

	b, ok := CalculateBounds([]Index{{3, 4}, {0, 9}, {-2, 5}})
	require.True(t, ok)
	assert.Equal(t, Bounds{MinCol: -2, MaxCol: 3, MinRow: 4, MaxRow: 9}, b)
	assert.Equal(t, 6, b.Cols())
	assert.Equal(t, 6, b.Rows())
}
