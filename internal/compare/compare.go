// Package compare audits stored tile pairs: each original against its styled
// counterpart, scored with SSIM and a color difference.
package compare

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/internal/logging"
	"github.com/kiesman99/mapstyle/internal/raster"
	"github.com/kiesman99/mapstyle/internal/similarity"
	"github.com/kiesman99/mapstyle/internal/store"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// DefaultThreshold: a pair is a successful transformation when its SSIM is below it.
const DefaultThreshold = 0.85

// Status strings
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED - Too similar to input"
)

// Source lists and reads stored tiles. store.Store satisfies it.
type Source interface {
	List(ctx context.Context, role tile.Role) ([]store.Entry, error)
	Read(ctx context.Context, e store.Entry) ([]byte, error)
}

// PairResult is the analysis of one original/styled pair.
type PairResult struct {
	Original              string   `json:"original"`
	Styled                string   `json:"styled"`
	SSIMScore             float64  `json:"ssim_score"`
	ColorDifference       *float64 `json:"color_difference"`
	TransformationSuccess bool     `json:"transformation_success"`
	Status                string   `json:"status"`
}

// Summary aggregates a report.
type Summary struct {
	TotalTiles                int     `json:"total_tiles"`
	SuccessfulTransformations int     `json:"successful_transformations"`
	FailedTransformations     int     `json:"failed_transformations"`
	SuccessRate               float64 `json:"success_rate"`
	SSIMThreshold             float64 `json:"ssim_threshold"`
	AverageSSIM               float64 `json:"average_ssim"`
}

// Report is the outcome of comparing a whole store.
type Report struct {
	Summary Summary      `json:"summary"`
	Tiles   []PairResult `json:"tiles"`
	// Skipped counts originals without a styled counterpart or with an unreadable pair.
	Skipped int `json:"skipped"`
}

// Engine compares image pairs against a threshold.
type Engine struct {
	threshold float64
	baseDir   string
	logger    *slog.Logger
}

// NewEngine returns an engine. baseDir prefixes the names reported for
// stored pairs.
func NewEngine(threshold float64, baseDir string, logger *slog.Logger) (*Engine, error) {
	if math.IsNaN(threshold) || threshold <= -1 || threshold > 1 {
		return nil, fmt.Errorf("%w: ssim threshold %v outside (-1, 1]", failure.ErrConfiguration, threshold)
	}
	return &Engine{threshold: threshold, baseDir: baseDir, logger: logging.OrNop(logger)}, nil
}

// Threshold returns the configured SSIM threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// ComparePair scores one pair of decoded images.
func (e *Engine) ComparePair(original, styled image.Image) (PairResult, error) {
	score, err := similarity.Score(original, styled)
	if err != nil {
		return PairResult{}, err
	}
	res := PairResult{SSIMScore: score}
	if diff, err := similarity.ColorDifference(original, styled); err == nil {
		res.ColorDifference = &diff
	}
	res.TransformationSuccess = score < e.threshold
	res.Status = StatusFailed
	if res.TransformationSuccess {
		res.Status = StatusSuccess
	}
	return res, nil
}

// CompareFiles scores two image files on fs.
func (e *Engine) CompareFiles(fs afero.Fs, originalPath, styledPath string) (PairResult, error) {
	original, err := readImage(fs, originalPath)
	if err != nil {
		return PairResult{}, err
	}
	styled, err := readImage(fs, styledPath)
	if err != nil {
		return PairResult{}, err
	}
	res, err := e.ComparePair(original, styled)
	if err != nil {
		return PairResult{}, err
	}
	res.Original, res.Styled = originalPath, styledPath
	return res, nil
}

// CompareStore pairs every original with its styled tile and scores them.
// Originals without a styled tile, and pairs that cannot be decoded, are
// logged and skipped.
func (e *Engine) CompareStore(ctx context.Context, src Source) (*Report, error) {
	originals, err := src.List(ctx, tile.RoleOriginal)
	if err != nil {
		return nil, fmt.Errorf("list originals: %w", err)
	}
	styledList, err := src.List(ctx, tile.RoleStyled)
	if err != nil {
		return nil, fmt.Errorf("list styled tiles: %w", err)
	}
	styled := make(map[tile.Index]store.Entry, len(styledList))
	for _, s := range styledList {
		if _, dup := styled[s.Key.Index]; !dup {
			styled[s.Key.Index] = s
		}
	}

	e.logger.Info("comparing tiles", "originals", len(originals), "threshold", e.threshold)

	report := &Report{Tiles: []PairResult{}}
	for _, o := range originals {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, ok := styled[o.Key.Index]
		if !ok {
			e.logger.Warn("no styled version found", "original", o.Name)
			report.Skipped++
			continue
		}
		res, err := e.compareEntries(ctx, src, o, s)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("error analyzing pair", "original", o.Name, "styled", s.Name, "error", err)
			report.Skipped++
			continue
		}
		e.logger.Info("analyzed",
			"original", o.Name,
			"ssim", res.SSIMScore,
			"status", res.Status)
		report.Tiles = append(report.Tiles, res)
	}

	report.Summary = summarize(report.Tiles, e.threshold)
	return report, nil
}

func (e *Engine) compareEntries(ctx context.Context, src Source, o, s store.Entry) (PairResult, error) {
	original, err := readEntry(ctx, src, o)
	if err != nil {
		return PairResult{}, err
	}
	styled, err := readEntry(ctx, src, s)
	if err != nil {
		return PairResult{}, err
	}
	res, err := e.ComparePair(original, styled)
	if err != nil {
		return PairResult{}, err
	}
	res.Original = filepath.Join(e.baseDir, o.Name)
	res.Styled = filepath.Join(e.baseDir, s.Name)
	return res, nil
}

func summarize(results []PairResult, threshold float64) Summary {
	s := Summary{TotalTiles: len(results), SSIMThreshold: threshold}
	if len(results) == 0 {
		return s
	}
	var total float64
	for _, r := range results {
		total += r.SSIMScore
		if r.TransformationSuccess {
			s.SuccessfulTransformations++
		} else {
			s.FailedTransformations++
		}
	}
	s.SuccessRate = float64(s.SuccessfulTransformations) / float64(len(results))
	s.AverageSSIM = total / float64(len(results))
	return s
}

func readEntry(ctx context.Context, src Source, e store.Entry) (image.Image, error) {
	data, err := src.Read(ctx, e)
	if err != nil {
		return nil, err
	}
	img, _, err := raster.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	return img, nil
}

func readImage(fs afero.Fs, path string) (image.Image, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	img, _, err := raster.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
