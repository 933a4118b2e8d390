package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kiesman99/mapstyle/internal/generator"
	"github.com/kiesman99/mapstyle/internal/pipeline"
	"github.com/kiesman99/mapstyle/internal/store"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, stylize and validate every tile of the area",
	Long: `Fetch each SWISSIMAGE tile of the area, generate a styled version with
Gemini and accept it only when its SSIM against the photo is below the
threshold. Rejected attempts are retried with the fallback prompt.

Tiles with an accepted result are skipped on later runs unless --resume=false.

Examples:
  mapstyle run --kml-file area.kml
  mapstyle run --bbox 2600000,1200000,2600500,1200500 --threshold 0.3`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.String("tile-url", tile.DefaultURLTemplate, "tile URL template with {z}, {x} (column) and {y} (row)")
	flags.Float64("threshold", pipeline.DefaultThreshold, "accept a styled tile when its SSIM is below this")
	flags.Int("concurrency", 1, "tiles processed at once")
	flags.Duration("tile-delay", pipeline.DefaultTileDelay, "pause after each processed tile")
	flags.Bool("resume", true, "skip tiles that already have an accepted result")
	flags.Float64("rpm", 0, "maximum generate calls per minute (0: unlimited)")
	flags.String("model", generator.DefaultModel, "Gemini image model")
	flags.String("prompt-file", "prompt.txt", "file holding the primary prompt")
	flags.String("fallback-prompt-file", "", "file holding the prompt for retries")
	flags.String("api-key-file", "secrets/genai_key.txt", "file holding the Gemini API key")

	bindFlags(flags, map[string]string{
		"tiles.url":             "tile-url",
		"pipeline.threshold":    "threshold",
		"pipeline.concurrency":  "concurrency",
		"pipeline.tile_delay":   "tile-delay",
		"pipeline.resume":       "resume",
		"gemini.rpm":            "rpm",
		"gemini.model":          "model",
		"prompts.primary_file":  "prompt-file",
		"prompts.fallback_file": "fallback-prompt-file",
		"gemini.api_key_file":   "api-key-file",
	})
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()

	primary, fallback, err := cfg.LoadPrompts(fs)
	if err != nil {
		return err
	}
	apiKey, err := cfg.APIKey(fs)
	if err != nil {
		return err
	}

	bbox, err := resolveArea(ctx, cfg, fs, logger)
	if err != nil {
		return err
	}
	tiles, err := tile.SwissGrid().EnumerateTiles(bbox, cfg.Tiles.Zoom)
	if err != nil {
		return err
	}
	logger.Info("tiles to process", "count", len(tiles), "zoom", cfg.Tiles.Zoom)

	st, err := store.NewFS(fs, cfg.Output.Dir)
	if err != nil {
		return err
	}
	fetcher := tile.NewProcessor(cfg.Tiles.URL, cfg.Tiles.UserAgent, cfg.Tiles.Timeout)

	client, err := generator.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return err
	}
	gen, err := generator.NewGemini(client.Models, cfg.Gemini.Model, logger)
	if err != nil {
		return err
	}

	pcfg := cfg.PipelineConfig()
	pcfg.PrimaryPrompt = primary
	pcfg.FallbackPrompt = fallback
	p, err := pipeline.New(pcfg, fetcher, gen, st, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := p.Run(ctx, tiles)
	if report != nil {
		s := report.Summary
		fmt.Fprintf(cmd.OutOrStdout(), "Processed %d tiles in %s: %d accepted, %d exhausted, %d failed, %d skipped\n",
			s.Total, time.Since(start).Round(time.Second), s.Accepted, s.Exhausted, s.Failed, s.Skipped)
		fmt.Fprintf(cmd.OutOrStdout(), "Tiles saved to: %s\n", st.Dir())
	}
	return err
}
