package tile

import (
	"fmt"
	"math"

	"github.com/kiesman99/mapstyle/internal/failure"
)

// Swiss LV95 WMTS tile matrix set (EPSG:2056). The origin is the top-left corner.
const (
	OriginX         = 2420000.0
	OriginY         = 1350000.0
	DefaultTileSize = 256
	MaxZoom         = 28

	// snapEpsilon is how close, in tiles, a quotient must be to an integer to
	// count as lying on a tile boundary. It absorbs the rounding of spans such
	// as 25.6 m that are not exact in binary.
	snapEpsilon = 1e-6

	// maxTiles bounds a single enumeration; anything larger is almost certainly a projection bug.
	maxTiles = 1 << 20
)

// ResolutionTable maps zoom level to ground resolution in meters per pixel.
type ResolutionTable struct {
	res []float64
}

// SwissResolutions is the published resolution table of the EPSG:2056 matrix set.
var SwissResolutions = []float64{
	4000, 3750, 3500, 3250, 3000, 2750, 2500, 2250,
	2000, 1750, 1500, 1250, 1000, 750, 650,
	500, 250, 100, 50, 20, 10, 5, 2.5,
	2, 1.5, 1, 0.5, 0.25, 0.1,
}

// NewResolutionTable validates and copies res. Resolutions must be positive and
// non-increasing with zoom.
func NewResolutionTable(res []float64) (ResolutionTable, error) {
	if len(res) == 0 {
		return ResolutionTable{}, fmt.Errorf("%w: empty resolution table", failure.ErrConfiguration)
	}
	for z, r := range res {
		if !(r > 0) || math.IsInf(r, 0) {
			return ResolutionTable{}, fmt.Errorf("%w: resolution at zoom %d is %v", failure.ErrConfiguration, z, r)
		}
		if z > 0 && r > res[z-1] {
			return ResolutionTable{}, fmt.Errorf("%w: resolution increases from zoom %d to %d", failure.ErrConfiguration, z-1, z)
		}
	}
	return ResolutionTable{res: append([]float64(nil), res...)}, nil
}

// Resolution returns meters per pixel at zoom.
func (t ResolutionTable) Resolution(zoom int) (float64, error) {
	if zoom < 0 || zoom >= len(t.res) {
		return 0, fmt.Errorf("%w: zoom %d out of range [0, %d]", failure.ErrConfiguration, zoom, len(t.res)-1)
	}
	return t.res[zoom], nil
}

// Levels returns the number of zoom levels in the table.
func (t ResolutionTable) Levels() int { return len(t.res) }

// Grid is the fixed tiling scheme: origin, tile pixel size and resolution table.
type Grid struct {
	OriginX  float64
	OriginY  float64
	TileSize int
	Table    ResolutionTable
}

// SwissGrid returns the EPSG:2056 grid with 256 px tiles.
func SwissGrid() Grid {
	table, err := NewResolutionTable(SwissResolutions)
	if err != nil {
		panic(err)
	}
	return Grid{OriginX: OriginX, OriginY: OriginY, TileSize: DefaultTileSize, Table: table}
}

// Span returns the ground size of one tile edge at zoom.
func (g Grid) Span(zoom int) (float64, error) {
	res, err := g.Table.Resolution(zoom)
	if err != nil {
		return 0, err
	}
	if g.TileSize <= 0 {
		return 0, fmt.Errorf("%w: tile size %d", failure.ErrConfiguration, g.TileSize)
	}
	return float64(g.TileSize) * res, nil
}

// CoordinateToTile converts a planar coordinate to a tile index.
//
// Floor division gives a half-open tiling: a coordinate exactly on a column
// boundary belongs to the tile on its right, one on a row boundary to the tile below.
func (g Grid) CoordinateToTile(x, y float64, zoom int) (Index, error) {
	span, err := g.Span(zoom)
	if err != nil {
		return Index{}, err
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return Index{}, fmt.Errorf("%w: NaN coordinate", failure.ErrConfiguration)
	}
	return Index{
		Col: int(math.Floor(snapQuotient(x-g.OriginX, span))),
		Row: int(math.Floor(snapQuotient(g.OriginY-y, span))),
	}, nil
}

// snapQuotient returns d/span, snapped to the nearest integer when it lies on a
// boundary up to floating point error.
func snapQuotient(d, span float64) float64 {
	q := d / span
	if r := math.Round(q); math.Abs(q-r) <= snapEpsilon {
		return r
	}
	return q
}

// TileExtent returns the planar rectangle covered by idx at zoom.
func (g Grid) TileExtent(idx Index, zoom int) (BoundingBox, error) {
	span, err := g.Span(zoom)
	if err != nil {
		return BoundingBox{}, err
	}
	return BoundingBox{
		MinX: g.OriginX + float64(idx.Col)*span,
		MaxX: g.OriginX + float64(idx.Col+1)*span,
		MinY: g.OriginY - float64(idx.Row+1)*span,
		MaxY: g.OriginY - float64(idx.Row)*span,
	}, nil
}

// TileRange returns the inclusive tile bounds covering bbox.
//
// The min X and max Y edges are inclusive. The max X and min Y edges are
// exclusive when they fall exactly on a tile boundary, so a bbox equal to one
// tile's extent maps to exactly that tile.
func (g Grid) TileRange(bbox BoundingBox, zoom int) (Bounds, error) {
	if err := bbox.Validate(); err != nil {
		return Bounds{}, err
	}
	span, err := g.Span(zoom)
	if err != nil {
		return Bounds{}, err
	}
	// min_x/min_y is the bottom-left corner, max_x/max_y the top-right one.
	topLeft, err := g.CoordinateToTile(bbox.MinX, bbox.MaxY, zoom)
	if err != nil {
		return Bounds{}, err
	}
	b := Bounds{
		MinCol: topLeft.Col,
		MinRow: topLeft.Row,
		MaxCol: max(topLeft.Col, int(math.Ceil(snapQuotient(bbox.MaxX-g.OriginX, span)))-1),
		MaxRow: max(topLeft.Row, int(math.Ceil(snapQuotient(g.OriginY-bbox.MinY, span)))-1),
	}
	if b.MinCol > b.MaxCol || b.MinRow > b.MaxRow {
		return Bounds{}, fmt.Errorf("%w: inverted tile range %+v", failure.ErrConfiguration, b)
	}
	return b, nil
}

// EnumerateTiles lists every tile covering bbox in column-major order:
// columns ascending, and rows ascending within each column.
func (g Grid) EnumerateTiles(bbox BoundingBox, zoom int) ([]Index, error) {
	b, err := g.TileRange(bbox, zoom)
	if err != nil {
		return nil, err
	}
	n := int64(b.Cols()) * int64(b.Rows())
	if n > maxTiles {
		return nil, fmt.Errorf("%w: %d tiles requested, limit is %d", failure.ErrConfiguration, n, maxTiles)
	}
	tiles := make([]Index, 0, n)
	for col := b.MinCol; col <= b.MaxCol; col++ {
		for row := b.MinRow; row <= b.MaxRow; row++ {
			tiles = append(tiles, Index{Col: col, Row: row})
		}
	}
	return tiles, nil
}

// Validate checks that the bounding box is well formed
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinX, b.MaxX, b.MinY, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bounding box %+v", failure.ErrConfiguration, b)
		}
	}
	if b.MinX > b.MaxX {
		return fmt.Errorf("%w: min_x (%f) greater than max_x (%f)", failure.ErrConfiguration, b.MinX, b.MaxX)
	}
	if b.MinY > b.MaxY {
		return fmt.Errorf("%w: min_y (%f) greater than max_y (%f)", failure.ErrConfiguration, b.MinY, b.MaxY)
	}
	return nil
}
