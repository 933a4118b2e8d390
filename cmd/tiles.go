package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kiesman99/mapstyle/pkg/tile"
)

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "List the tiles covering the area",
	Long: `Print the column/row index, file name and LV95 extent of every tile
the area covers, in processing order.

Examples:
  mapstyle tiles --bbox 2600000,1200000,2600500,1200500
  mapstyle tiles --kml-file area.kml --json`,
	RunE: runTiles,
}

func init() {
	rootCmd.AddCommand(tilesCmd)
	tilesCmd.Flags().Bool("json", false, "print JSON")
}

type tileListing struct {
	tile.Index
	Name   string           `json:"name"`
	Extent tile.BoundingBox `json:"extent"`
}

func runTiles(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	bbox, err := resolveArea(cmd.Context(), cfg, afero.NewOsFs(), logger)
	if err != nil {
		return err
	}

	grid := tile.SwissGrid()
	indices, err := grid.EnumerateTiles(bbox, cfg.Tiles.Zoom)
	if err != nil {
		return err
	}
	listing := make([]tileListing, len(indices))
	for i, idx := range indices {
		ext, err := grid.TileExtent(idx, cfg.Tiles.Zoom)
		if err != nil {
			return err
		}
		listing[i] = tileListing{
			Index:  idx,
			Name:   tile.Filename(tile.Key{Index: idx, Role: tile.RoleOriginal}, "jpeg"),
			Extent: ext,
		}
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COL\tROW\tNAME\tMIN_X\tMIN_Y\tMAX_X\tMAX_Y")
	for _, l := range listing {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\n",
			l.Col, l.Row, l.Name, l.Extent.MinX, l.Extent.MinY, l.Extent.MaxX, l.Extent.MaxY)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d tiles at zoom %d\n", len(listing), cfg.Tiles.Zoom)
	return nil
}
