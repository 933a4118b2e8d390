// Package stitch writes a stitched mosaic to disk, georeferenced with a world file.
package stitch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/kiesman99/mapstyle/internal/logging"
	"github.com/kiesman99/mapstyle/internal/raster"
	"github.com/kiesman99/mapstyle/internal/stitcher"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// Options controls the mosaic output
type Options struct {
	Output         string
	Format         string // jpeg or png; empty derives it from Output's extension
	Quality        int
	Zoom           int
	WriteWorldFile bool
}

// Exporter stitches stored tiles and writes the mosaic
type Exporter struct {
	fs       afero.Fs
	grid     tile.Grid
	stitcher *stitcher.Stitcher
	logger   *slog.Logger
}

// NewExporter creates an exporter writing to fs.
func NewExporter(fs afero.Fs, grid tile.Grid, st *stitcher.Stitcher, logger *slog.Logger) *Exporter {
	return &Exporter{fs: fs, grid: grid, stitcher: st, logger: logging.OrNop(logger)}
}

// Export stitches src and writes the image, plus a world file when requested.
func (e *Exporter) Export(ctx context.Context, src stitcher.TileSource, opts Options) (*stitcher.Result, error) {
	if opts.Output == "" {
		return nil, fmt.Errorf("no output file specified")
	}
	format := opts.Format
	if format == "" {
		format = filepath.Ext(opts.Output)
	}
	format = raster.NormalizeFormat(format)
	if format != raster.FormatJPEG && format != raster.FormatPNG {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	res, err := e.stitcher.Stitch(ctx, src)
	if err != nil {
		return nil, err
	}

	if err := WriteImage(e.fs, opts.Output, res.Image, format, opts.Quality); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", format, err)
	}
	e.logger.Info("mosaic saved",
		"path", opts.Output,
		"width", res.Image.Bounds().Dx(),
		"height", res.Image.Bounds().Dy(),
		"pasted", res.Pasted,
		"gaps", len(res.Gaps))

	if opts.WriteWorldFile {
		geo, err := Georeference(e.grid, res, opts.Zoom)
		if err != nil {
			return nil, err
		}
		path := WorldFilePath(opts.Output, format)
		if err := afero.WriteFile(e.fs, path, geo.WorldFile(), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write world file: %w", err)
		}
		e.logger.Info("world file saved", "path", path, "pixel_size_x", geo.PixelSizeX, "pixel_size_y", geo.PixelSizeY)
	}
	return res, nil
}

// WriteImage encodes img to path on fs.
func WriteImage(fs afero.Fs, path string, img image.Image, format string, quality int) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if err := raster.Encode(&buf, img, format, quality); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, buf.Bytes(), 0o644)
}

// Geo locates a mosaic in EPSG:2056.
type Geo struct {
	MinX, MaxY float64 // upper-left corner of the mosaic
	PixelSizeX float64
	PixelSizeY float64
}

// Georeference derives the mosaic's placement from its tile bounds. The
// pixel size follows from the tile span and the stored tile dimensions, so
// generated tiles larger than the source still land in the right place.
func Georeference(grid tile.Grid, res *stitcher.Result, zoom int) (Geo, error) {
	ext, err := grid.TileExtent(tile.Index{Col: res.MinCol, Row: res.MinRow}, zoom)
	if err != nil {
		return Geo{}, err
	}
	return Geo{
		MinX:       ext.MinX,
		MaxY:       ext.MaxY,
		PixelSizeX: ext.Width() / float64(res.TileWidth),
		PixelSizeY: ext.Height() / float64(res.TileHeight),
	}, nil
}

// WorldFile renders the six-line world file. The reference point is the
// center of the upper-left pixel.
func (g Geo) WorldFile() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%24.10f\n", g.PixelSizeX)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", -g.PixelSizeY)
	fmt.Fprintf(&buf, "%24.10f\n", g.MinX+g.PixelSizeX/2)
	fmt.Fprintf(&buf, "%24.10f\n", g.MaxY-g.PixelSizeY/2)
	return buf.Bytes()
}

// WorldFilePath returns the sidecar name: .jgw for JPEG, .pgw for PNG.
func WorldFilePath(output, format string) string {
	base := strings.TrimSuffix(output, filepath.Ext(output))
	if raster.NormalizeFormat(format) == raster.FormatPNG {
		return base + ".pgw"
	}
	return base + ".jgw"
}
