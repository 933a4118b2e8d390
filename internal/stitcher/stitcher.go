package stitcher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"strings"

	"golang.org/x/image/draw"

	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/internal/logging"
	"github.com/kiesman99/mapstyle/internal/raster"
	"github.com/kiesman99/mapstyle/internal/store"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// DefaultMaxPixels caps the canvas at 1 GiB of RGBA.
const DefaultMaxPixels = 1 << 28

// ErrNoValidTiles is wrapped by NoValidTilesError.
var ErrNoValidTiles = fmt.Errorf("%w: no valid tiles", failure.ErrDataIntegrity)

// TileSource lists and reads stored tiles. store.Store satisfies it.
type TileSource interface {
	List(ctx context.Context, role tile.Role) ([]store.Entry, error)
	Read(ctx context.Context, e store.Entry) ([]byte, error)
}

// Options contains all stitching parameters
type Options struct {
	// Role selects which artifacts are assembled. Defaults to styled tiles.
	Role       tile.Role
	Background color.Color
	MaxPixels  int64
	// ProgressEvery logs progress after this many pasted tiles.
	ProgressEvery int
}

// DefaultOptions stitches styled tiles onto white.
func DefaultOptions() Options {
	return Options{
		Role:          tile.RoleStyled,
		Background:    color.White,
		MaxPixels:     DefaultMaxPixels,
		ProgressEvery: 10,
	}
}

// Result contains the stitching result
type Result struct {
	Image *image.RGBA
	tile.Bounds
	TileWidth  int
	TileHeight int
	// NonSquare is set when the reference tile is not square.
	NonSquare bool
	Pasted    int
	// Gaps lists every cell of the rectangle left as background, column-major.
	Gaps        []tile.Index
	FailedTiles []FailedTile
}

// GapReport summarizes the gaps, listing at most n of them.
func (r *Result) GapReport(n int) string {
	if len(r.Gaps) == 0 {
		return "no gaps"
	}
	shown := r.Gaps[:min(n, len(r.Gaps))]
	names := make([]string, len(shown))
	for i, g := range shown {
		names[i] = g.String()
	}
	s := fmt.Sprintf("%d gaps: %s", len(r.Gaps), strings.Join(names, ", "))
	if more := len(r.Gaps) - len(shown); more > 0 {
		s += fmt.Sprintf(" ... and %d more", more)
	}
	return s
}

// FailedTile is a stored tile that could not be read or decoded.
type FailedTile struct {
	Index tile.Index
	Name  string
	Error string
}

// NoValidTilesError is returned when no stored tile could be used.
type NoValidTilesError struct {
	Message     string
	FailedTiles []FailedTile
	TotalTiles  int
}

func (e *NoValidTilesError) Error() string {
	return e.Message
}

func (e *NoValidTilesError) Unwrap() error { return ErrNoValidTiles }

// Stitcher performs tile stitching operations
type Stitcher struct {
	opts   Options
	logger *slog.Logger
}

// New creates a new stitcher instance. Zero fields of opts take their defaults.
func New(opts Options, logger *slog.Logger) *Stitcher {
	def := DefaultOptions()
	if opts.Role == "" {
		opts.Role = def.Role
	}
	if opts.Background == nil {
		opts.Background = def.Background
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = def.MaxPixels
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = def.ProgressEvery
	}
	return &Stitcher{opts: opts, logger: logging.OrNop(logger)}
}

// Stitch assembles every stored tile of the configured role into one image.
//
// The canvas spans the full column/row rectangle of the stored keys. Cells are
// visited column-major; a cell with no tile, or whose tile cannot be decoded,
// is a gap left in the background color. The first readable tile in
// column-major order fixes the cell size.
func (s *Stitcher) Stitch(ctx context.Context, src TileSource) (*Result, error) {
	entries, err := src.List(ctx, s.opts.Role)
	if err != nil {
		return nil, fmt.Errorf("list tiles: %w", err)
	}

	byIndex := make(map[tile.Index]store.Entry, len(entries))
	indices := make([]tile.Index, 0, len(entries))
	for _, e := range entries {
		if _, dup := byIndex[e.Key.Index]; dup {
			continue
		}
		byIndex[e.Key.Index] = e
		indices = append(indices, e.Key.Index)
	}

	bounds, ok := tile.CalculateBounds(indices)
	if !ok {
		return nil, &NoValidTilesError{Message: fmt.Sprintf("no %s tiles found", s.opts.Role)}
	}

	res := &Result{Bounds: bounds}
	failed := make(map[tile.Index]bool)

	// Reference tile: entries are already column-major.
	var first tile.Index
	var firstImg image.Image
	for _, e := range entries {
		img, err := s.load(ctx, src, e)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.recordFailure(res, failed, e, err)
			continue
		}
		first, firstImg = e.Key.Index, img
		break
	}
	if firstImg == nil {
		return nil, &NoValidTilesError{
			Message:     fmt.Sprintf("none of %d %s tiles could be decoded", len(byIndex), s.opts.Role),
			FailedTiles: res.FailedTiles,
			TotalTiles:  len(byIndex),
		}
	}

	res.TileWidth = firstImg.Bounds().Dx()
	res.TileHeight = firstImg.Bounds().Dy()
	if res.TileWidth != res.TileHeight {
		res.NonSquare = true
		s.logger.Warn("tiles are not square", "width", res.TileWidth, "height", res.TileHeight)
	}

	width := bounds.Cols() * res.TileWidth
	height := bounds.Rows() * res.TileHeight
	if int64(width)*int64(height) > s.opts.MaxPixels {
		return nil, fmt.Errorf("%w: requested image size too large: %dx%d", failure.ErrConfiguration, width, height)
	}

	s.logger.Info("stitching",
		"tiles", len(byIndex),
		"cols", bounds.Cols(),
		"rows", bounds.Rows(),
		"width", width,
		"height", height)

	res.Image = image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(res.Image, res.Image.Bounds(), image.NewUniform(s.opts.Background), image.Point{}, draw.Src)

	for col := bounds.MinCol; col <= bounds.MaxCol; col++ {
		for row := bounds.MinRow; row <= bounds.MaxRow; row++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			idx := tile.Index{Col: col, Row: row}
			e, ok := byIndex[idx]
			if !ok || failed[idx] {
				res.Gaps = append(res.Gaps, idx)
				continue
			}

			img := firstImg
			if idx != first {
				if img, err = s.load(ctx, src, e); err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					s.recordFailure(res, failed, e, err)
					res.Gaps = append(res.Gaps, idx)
					continue
				}
			}

			s.paste(res, img, idx)
			res.Pasted++
			if res.Pasted%s.opts.ProgressEvery == 0 {
				s.logger.Info("pasted tiles", "n", res.Pasted, "of", len(byIndex))
			}
		}
	}

	if len(res.Gaps) > 0 {
		s.logger.Warn("mosaic has gaps", "gaps", res.GapReport(10))
	}
	return res, nil
}

// paste draws img into its cell. Tiles of another size are clipped to the
// cell; transparent pixels are composited over the background.
func (s *Stitcher) paste(res *Result, img image.Image, idx tile.Index) {
	b := img.Bounds()
	if b.Dx() != res.TileWidth || b.Dy() != res.TileHeight {
		s.logger.Warn("tile size differs from reference",
			"tile", idx.String(),
			"width", b.Dx(),
			"height", b.Dy())
	}
	x := (idx.Col - res.MinCol) * res.TileWidth
	y := (idx.Row - res.MinRow) * res.TileHeight
	cell := image.Rect(x, y, x+res.TileWidth, y+res.TileHeight)
	draw.Draw(res.Image, cell, img, b.Min, draw.Over)
}

func (s *Stitcher) load(ctx context.Context, src TileSource, e store.Entry) (image.Image, error) {
	data, err := src.Read(ctx, e)
	if err != nil {
		return nil, err
	}
	img, _, err := raster.Decode(data)
	return img, err
}

func (s *Stitcher) recordFailure(res *Result, failed map[tile.Index]bool, e store.Entry, err error) {
	if failed[e.Key.Index] {
		return
	}
	failed[e.Key.Index] = true
	res.FailedTiles = append(res.FailedTiles, FailedTile{Index: e.Key.Index, Name: e.Name, Error: err.Error()})
	level := slog.LevelWarn
	if errors.Is(err, store.ErrNotFound) {
		level = slog.LevelDebug
	}
	s.logger.Log(context.Background(), level, "skipping unreadable tile", "tile", e.Name, "error", err)
}
