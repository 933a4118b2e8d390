package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/kiesman99/mapstyle/internal/config"
	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/internal/geo"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// resolveArea returns the LV95 box to process: the explicit bbox, else the
// local KML file, else the KML URL.
func resolveArea(ctx context.Context, cfg *config.Config, fs afero.Fs, logger *slog.Logger) (tile.BoundingBox, error) {
	if cfg.Area.HasBBox() {
		return cfg.Area.BBox(), nil
	}

	var area *geo.Area
	switch {
	case cfg.Area.KMLFile != "":
		data, err := afero.ReadFile(fs, cfg.Area.KMLFile)
		if err != nil {
			return tile.BoundingBox{}, fmt.Errorf("%w: read KML: %v", failure.ErrConfiguration, err)
		}
		if area, err = geo.AreaFromKML(data); err != nil {
			return tile.BoundingBox{}, err
		}
		logger.Info("loaded KML area", "file", cfg.Area.KMLFile, "points", len(area.Points))
	case cfg.Area.KMLURL != "":
		logger.Info("downloading KML area", "url", cfg.Area.KMLURL)
		var err error
		if area, err = geo.NewDownloader(cfg.Tiles.Timeout).FetchArea(ctx, cfg.Area.KMLURL); err != nil {
			return tile.BoundingBox{}, err
		}
		logger.Info("downloaded KML area", "points", len(area.Points))
	default:
		return tile.BoundingBox{}, fmt.Errorf("%w: no area configured (use --bbox, --kml-file or --kml-url)", failure.ErrConfiguration)
	}

	logger.Info("area bounding box",
		"min_x", area.BBox.MinX,
		"min_y", area.BBox.MinY,
		"max_x", area.BBox.MaxX,
		"max_y", area.BBox.MaxY)
	return area.BBox, nil
}
