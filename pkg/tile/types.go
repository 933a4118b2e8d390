package tile

import "fmt"

// Index identifies a tile at a fixed zoom level and tile pixel size.
// Col grows with planar X, Row grows with decreasing planar Y.
type Index struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

func (i Index) String() string {
	return fmt.Sprintf("%d_%d", i.Col, i.Row)
}

// Less orders indices column-major, the order tiles are enumerated and stitched in.
func (i Index) Less(o Index) bool {
	if i.Col != o.Col {
		return i.Col < o.Col
	}
	return i.Row < o.Row
}

// BoundingBox represents planar bounds in the grid's coordinate system (EPSG:2056)
type BoundingBox struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// Width returns the X extent in meters.
func (b BoundingBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns the Y extent in meters.
func (b BoundingBox) Height() float64 { return b.MaxY - b.MinY }

// Contains reports whether (x, y) lies in the half-open box [MinX, MaxX) x (MinY, MaxY].
// The Y edge is open at the bottom because rows grow downward.
func (b BoundingBox) Contains(x, y float64) bool {
	return x >= b.MinX && x < b.MaxX && y > b.MinY && y <= b.MaxY
}

// Role tags what an artifact stored for a tile is.
type Role string

const (
	RoleOriginal Role = "original"
	RoleStyled   Role = "styled"
	RoleResult   Role = "result"
)

// Key addresses one artifact: a tile and its role.
type Key struct {
	Index Index
	Role  Role
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Index, k.Role)
}

// Bounds is the inclusive column/row extent of a tile set
type Bounds struct {
	MinCol int `json:"min_col"`
	MaxCol int `json:"max_col"`
	MinRow int `json:"min_row"`
	MaxRow int `json:"max_row"`
}

// Cols returns the number of columns in the bounds
func (b Bounds) Cols() int { return b.MaxCol - b.MinCol + 1 }

// Rows returns the number of rows in the bounds
func (b Bounds) Rows() int { return b.MaxRow - b.MinRow + 1 }

// CalculateBounds returns the min/max extents over indices. ok is false when indices is empty.
func CalculateBounds(indices []Index) (b Bounds, ok bool) {
	if len(indices) == 0 {
		return Bounds{}, false
	}
	b = Bounds{MinCol: indices[0].Col, MaxCol: indices[0].Col, MinRow: indices[0].Row, MaxRow: indices[0].Row}
	for _, idx := range indices[1:] {
		b.MinCol = min(b.MinCol, idx.Col)
		b.MaxCol = max(b.MaxCol, idx.Col)
		b.MinRow = min(b.MinRow, idx.Row)
		b.MaxRow = max(b.MaxRow, idx.Row)
	}
	return b, true
}
