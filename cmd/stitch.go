package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/internal/raster"
	"github.com/kiesman99/mapstyle/internal/stitch"
	"github.com/kiesman99/mapstyle/internal/stitcher"
	"github.com/kiesman99/mapstyle/internal/store"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

var stitchCmd = &cobra.Command{
	Use:   "stitch",
	Short: "Stitch stored tiles into a single image",
	Long: `Assemble the stored tiles into one image. Missing or unreadable tiles
are left white and listed as gaps. With -w a world file is written next to
the image so GIS tools can place it in EPSG:2056.

Examples:
  mapstyle stitch -o stitched_map.jpeg
  mapstyle stitch --role original -o aerial.png -w`,
	RunE: runStitch,
}

func init() {
	rootCmd.AddCommand(stitchCmd)

	flags := stitchCmd.Flags()
	flags.StringP("output", "o", "stitched_map.jpeg", "output file (.jpeg or .png)")
	flags.Int("quality", raster.DefaultJPEGQuality, "JPEG quality")
	flags.BoolP("worldfile", "w", false, "write world file")
	flags.String("role", string(tile.RoleStyled), "tiles to stitch (styled|original)")

	bindFlags(flags, map[string]string{
		"stitch.output":     "output",
		"stitch.quality":    "quality",
		"stitch.world_file": "worldfile",
		"stitch.role":       "role",
	})
}

func runStitch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()

	st, err := openStore(fs, cfg.Output.Dir)
	if err != nil {
		return err
	}

	s := stitcher.New(stitcher.Options{Role: tile.Role(cfg.Stitch.Role)}, logger)
	exporter := stitch.NewExporter(fs, tile.SwissGrid(), s, logger)
	res, err := exporter.Export(cmd.Context(), st, stitch.Options{
		Output:         cfg.Stitch.Output,
		Quality:        cfg.Stitch.Quality,
		Zoom:           cfg.Tiles.Zoom,
		WriteWorldFile: cfg.Stitch.WorldFile,
	})
	if err != nil {
		return err
	}

	b := res.Image.Bounds()
	fmt.Fprintf(cmd.OutOrStdout(), "Stitched %d tiles (%d x %d grid) into %s (%dx%d)\n",
		res.Pasted, res.Cols(), res.Rows(), cfg.Stitch.Output, b.Dx(), b.Dy())
	fmt.Fprintln(cmd.OutOrStdout(), res.GapReport(10))
	return nil
}

// openStore opens an existing tile directory.
func openStore(fs afero.Fs, dir string) (*store.FS, error) {
	ok, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: input directory '%s' not found", failure.ErrConfiguration, dir)
	}
	return store.NewFS(fs, dir)
}
