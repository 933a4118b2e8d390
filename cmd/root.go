package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kiesman99/mapstyle/internal/config"
	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// Version is reported by the server and the User-Agent default.
var Version = "1.0.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mapstyle",
	Short: "Turn swisstopo aerial tiles into stylized map tiles",
	Long: `mapstyle downloads SWISSIMAGE aerial tiles for an area, asks an image
model to redraw each tile as a map, and keeps a result only when it is
measurably different from the photo (SSIM below a threshold).

The area comes from a KML drawing (map.geo.admin.ch share link or local file)
or an explicit LV95 bounding box. Tiles are stored as {col}_{row}.jpeg next to
their styled {col}_{row}_map.jpeg and a {col}_{row}_result.json record.

Examples:
  # Process the default KML area at zoom 26
  mapstyle run

  # Process an explicit LV95 box with two workers
  mapstyle run --bbox 2600000,1200000,2600500,1200500 --concurrency 2

  # Stitch the styled tiles into one georeferenced JPEG
  mapstyle stitch -o stitched_map.jpeg -w

  # Audit every original/styled pair
  mapstyle compare --markdown ssim_report.md

  # Start HTTP server
  mapstyle serve --port 8080`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mapstyle.yaml)")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "text", "log format (text|json)")
	flags.StringP("dir", "d", "output_tiles", "tile directory")

	// Area selection
	flags.Int("zoom", 26, "zoom level of the EPSG:2056 tile matrix")
	flags.String("bbox", "", "LV95 bounding box as 'min_x,min_y,max_x,max_y'")
	flags.String("kml-url", "", "KML area to download (default: the built-in area)")
	flags.String("kml-file", "", "local KML area file")

	bindFlags(flags, map[string]string{
		"log.level":     "log-level",
		"log.format":    "log-format",
		"output.dir":    "dir",
		"tiles.zoom":    "zoom",
		"bbox":          "bbox",
		"area.kml_url":  "kml-url",
		"area.kml_file": "kml-file",
	})
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".mapstyle" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mapstyle")
	}

	cobra.CheckErr(config.BindEnv(viper.GetViper()))

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		cobra.CheckErr(err)
	}
}

// loadConfig builds the validated configuration and its logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	if s := viper.GetString("bbox"); s != "" {
		bbox, err := parseBBox(s)
		if err != nil {
			return nil, nil, err
		}
		cfg.Area.MinX, cfg.Area.MinY, cfg.Area.MaxX, cfg.Area.MaxY = bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// bindFlags binds flags to viper keys.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(name)))
	}
}

// parseBBox parses "min_x,min_y,max_x,max_y" in LV95 meters.
func parseBBox(s string) (tile.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tile.BoundingBox{}, fmt.Errorf("%w: bbox must be in format 'min_x,min_y,max_x,max_y'", failure.ErrConfiguration)
	}
	var v [4]float64
	names := [4]string{"min_x", "min_y", "max_x", "max_y"}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return tile.BoundingBox{}, fmt.Errorf("%w: invalid %s in bbox: %v", failure.ErrConfiguration, names[i], err)
		}
		v[i] = f
	}
	bbox := tile.BoundingBox{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
	return bbox, bbox.Validate()
}
