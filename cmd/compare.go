package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kiesman99/mapstyle/internal/compare"
)

var compareCmd = &cobra.Command{
	Use:   "compare [ORIGINAL STYLED]",
	Short: "Score styled tiles against their originals with SSIM",
	Long: `Compare every stored original with its styled tile and write a JSON
summary plus a Markdown table with the image pairs side by side. A pair is a
successful transformation when its SSIM is below the threshold.

Given two image paths, only that pair is scored.

Examples:
  mapstyle compare --json ssim_results.json --markdown ssim_report.md
  mapstyle compare output_tiles/5_7.jpeg output_tiles/5_7_map.jpeg`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected no arguments or ORIGINAL STYLED, got %d arguments", len(args))
		}
		return nil
	},
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	flags := compareCmd.Flags()
	flags.Float64("threshold", compare.DefaultThreshold, "SSIM below which a pair counts as transformed")
	flags.String("json", "ssim_results.json", "JSON report path (empty to skip)")
	flags.String("markdown", "ssim_report.md", "Markdown report path (empty to skip)")

	bindFlags(flags, map[string]string{
		"compare.threshold": "threshold",
		"compare.json":      "json",
		"compare.markdown":  "markdown",
	})
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()
	out := cmd.OutOrStdout()

	engine, err := compare.NewEngine(cfg.Compare.Threshold, cfg.Output.Dir, logger)
	if err != nil {
		return err
	}

	if len(args) == 2 {
		res, err := engine.CompareFiles(fs, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "SSIM score: %.4f\n", res.SSIMScore)
		if res.ColorDifference != nil {
			fmt.Fprintf(out, "Color difference: %.2f\n", *res.ColorDifference)
		}
		fmt.Fprintf(out, "Status: %s (threshold %.2f)\n", res.Status, engine.Threshold())
		return nil
	}

	st, err := openStore(fs, cfg.Output.Dir)
	if err != nil {
		return err
	}
	report, err := engine.CompareStore(cmd.Context(), st)
	if err != nil {
		return err
	}

	if path := cfg.Compare.JSON; path != "" {
		var buf bytes.Buffer
		if err := compare.WriteJSON(&buf, report); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		logger.Info("JSON report saved", "path", path)
	}
	if path := cfg.Compare.Markdown; path != "" {
		// image links are relative to the report
		imageDir, err := filepath.Rel(filepath.Dir(path), cfg.Output.Dir)
		if err != nil {
			imageDir = cfg.Output.Dir
		}
		var buf bytes.Buffer
		if err := compare.WriteMarkdown(&buf, report, imageDir); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		logger.Info("Markdown report saved", "path", path)
	}

	s := report.Summary
	fmt.Fprintf(out, "Total tiles analyzed: %d\n", s.TotalTiles)
	fmt.Fprintf(out, "Successful transformations: %d\n", s.SuccessfulTransformations)
	fmt.Fprintf(out, "Failed transformations: %d\n", s.FailedTransformations)
	fmt.Fprintf(out, "Success rate: %.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(out, "Average SSIM: %.4f\n", s.AverageSSIM)
	return nil
}
