// Package pipeline fetches source tiles, stylizes them with a generator and
// accepts a result only when it differs enough from the source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/internal/generator"
	"github.com/kiesman99/mapstyle/internal/logging"
	"github.com/kiesman99/mapstyle/internal/raster"
	"github.com/kiesman99/mapstyle/internal/retry"
	"github.com/kiesman99/mapstyle/internal/similarity"
	"github.com/kiesman99/mapstyle/internal/store"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// Defaults
const (
	DefaultThreshold = 0.35
	DefaultTileDelay = 2 * time.Second
)

// errTooSimilar marks an attempt whose output scored at or above the threshold.
var errTooSimilar = fmt.Errorf("%w: styled tile too similar to source", failure.ErrSemantic)

// Fetcher downloads a source tile.
type Fetcher interface {
	FetchTile(ctx context.Context, idx tile.Index, zoom int) (*tile.Fetched, error)
}

// Config controls a pipeline run.
type Config struct {
	Zoom           int
	PrimaryPrompt  string
	FallbackPrompt string
	// Threshold: a styled tile is accepted when its SSIM against the source is below it.
	Threshold float64
	// Semantic bounds generate-and-score attempts per tile.
	Semantic retry.Policy
	// Transport bounds attempts of each generate call.
	Transport retry.Policy
	// TileDelay is waited after every processed tile. 0 disables it.
	TileDelay time.Duration
	// GenerateRPM caps generate calls per minute across workers. 0 is unlimited.
	GenerateRPM float64
	// Concurrency is the number of tiles processed at once.
	Concurrency int
	// StyledFormat is the encoding styled tiles are stored in (jpeg or png).
	StyledFormat string
	// Resume skips tiles whose stored result is ACCEPTED.
	Resume bool
	// TileTimeout bounds the work on one tile. 0 means no limit.
	TileTimeout time.Duration
}

// DefaultConfig returns the documented defaults: sequential, 2 s between
// tiles, three semantic attempts 1 s apart, three transport attempts with
// 10 s linear backoff.
func DefaultConfig() Config {
	return Config{
		Zoom:         26,
		Threshold:    DefaultThreshold,
		Semantic:     retry.Semantic(),
		Transport:    retry.Transport(),
		TileDelay:    DefaultTileDelay,
		Concurrency:  1,
		StyledFormat: raster.FormatJPEG,
		Resume:       true,
	}
}

// Validate checks the settings that would otherwise fail every tile.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.PrimaryPrompt) == "" {
		problems = append(problems, "primary prompt is empty")
	}
	if math.IsNaN(c.Threshold) || c.Threshold <= -1 || c.Threshold > 1 {
		problems = append(problems, fmt.Sprintf("threshold %v outside (-1, 1]", c.Threshold))
	}
	if c.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("concurrency %d < 1", c.Concurrency))
	}
	if c.TileDelay < 0 || c.TileTimeout < 0 {
		problems = append(problems, "negative duration")
	}
	if c.GenerateRPM < 0 {
		problems = append(problems, fmt.Sprintf("generate rpm %v < 0", c.GenerateRPM))
	}
	switch raster.NormalizeFormat(c.StyledFormat) {
	case raster.FormatJPEG, raster.FormatPNG:
	default:
		problems = append(problems, fmt.Sprintf("unsupported styled format %q", c.StyledFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", failure.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Pipeline runs the validated generation loop over a list of tiles.
type Pipeline struct {
	cfg     Config
	fetcher Fetcher
	gen     generator.Generator
	store   store.Store
	logger  *slog.Logger
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// New validates cfg and wires the collaborators.
func New(cfg Config, fetcher Fetcher, gen generator.Generator, st store.Store, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil || gen == nil || st == nil {
		return nil, fmt.Errorf("%w: fetcher, generator and store are required", failure.ErrConfiguration)
	}
	cfg.StyledFormat = raster.NormalizeFormat(cfg.StyledFormat)

	p := &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		gen:     gen,
		store:   st,
		logger:  logging.OrNop(logger),
		sleep:   sleepCtx,
		now:     time.Now,
	}
	if cfg.GenerateRPM > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.GenerateRPM/60), 1)
	}
	return p, nil
}

// Run processes tiles and returns one result per started tile, in input
// order. Per-tile failures do not abort the batch, with one exception: a
// configuration failure (bad credential, unknown model) would fail every
// remaining tile, so no new tile starts after it and the error is returned
// along with the partial report. When ctx is cancelled, tiles already in
// progress complete, no new tile starts, and ctx's error is returned along
// with the partial report.
func (p *Pipeline) Run(ctx context.Context, tiles []tile.Index) (*Report, error) {
	results := make([]GenerationResult, len(tiles))
	started := make([]bool, len(tiles))

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	p.logger.Info("starting pipeline",
		"tiles", len(tiles),
		"zoom", p.cfg.Zoom,
		"threshold", p.cfg.Threshold,
		"concurrency", p.cfg.Concurrency)

	for i, idx := range tiles {
		if runCtx.Err() != nil {
			break
		}
		// Go blocks while the pool is full; recheck once a slot frees up.
		g.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}
			started[i] = true
			p.logger.Info("processing tile", "n", i+1, "of", len(tiles), "tile", idx.String())
			results[i] = p.processTile(runCtx, idx)
			if results[i].ErrorCode == failure.CodeConfig {
				abort(fmt.Errorf("tile %s: %w: %s", idx, failure.ErrConfiguration, results[i].Error))
				return nil
			}
			if results[i].State != StateSkipped && p.cfg.TileDelay > 0 {
				_ = p.sleep(runCtx, p.cfg.TileDelay)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Results: make([]GenerationResult, 0, len(tiles))}
	for i := range tiles {
		if started[i] {
			report.Results = append(report.Results, results[i])
		}
	}
	report.Summary = summarize(report.Results)

	p.logger.Info("pipeline finished",
		"total", report.Summary.Total,
		"accepted", report.Summary.Accepted,
		"exhausted", report.Summary.Exhausted,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped)

	if err := ctx.Err(); err != nil {
		p.logger.Warn("pipeline cancelled", "remaining", len(tiles)-report.Summary.Total)
		return report, err
	}
	if cause := context.Cause(runCtx); cause != nil {
		p.logger.Error("pipeline aborted", "remaining", len(tiles)-report.Summary.Total, "error", cause)
		return report, cause
	}
	return report, nil
}

// processTile never returns an error: every outcome is a GenerationResult.
func (p *Pipeline) processTile(runCtx context.Context, idx tile.Index) GenerationResult {
	// The tile finishes even if the run is cancelled meanwhile.
	ctx := context.WithoutCancel(runCtx)
	if p.cfg.TileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TileTimeout)
		defer cancel()
	}

	res := GenerationResult{Tile: idx, StartedAt: p.now()}
	log := p.logger.With("tile", idx.String())

	if p.cfg.Resume {
		if prior, ok := p.acceptedResult(ctx, idx); ok {
			log.Info("already accepted, skipping", "score", scoreAttr(prior.Score))
			res.State = StateSkipped
			res.Success = true
			res.Score = prior.Score
			res.Attempts = prior.Attempts
			res.Variant = prior.Variant
			res.FinishedAt = p.now()
			return res
		}
	}

	fetched, err := p.fetcher.FetchTile(ctx, idx, p.cfg.Zoom)
	if err != nil {
		log.Warn("fetch failed", "code", failure.Classify(err), "error", err)
		res.fail(err)
		return p.finish(ctx, res, log)
	}
	originalExt := raster.NormalizeFormat(fetched.Format)
	if _, err := p.store.Put(ctx, tile.Key{Index: idx, Role: tile.RoleOriginal}, originalExt, fetched.Data); err != nil {
		log.Error("store original failed", "error", err)
		res.fail(err)
		return p.finish(ctx, res, log)
	}

	semantic := p.cfg.Semantic
	semantic.Retryable = func(err error) bool { return errors.Is(err, failure.ErrSemantic) }
	semantic.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Info("retrying with fallback prompt", "attempt", attempt, "reason", err, "wait", wait)
	}

	err = semantic.Do(ctx, func(ctx context.Context, attempt int) error {
		prompt, variant := p.prompt(attempt)
		res.Attempts = attempt + 1
		res.Variant = variant

		score, err := p.attempt(ctx, idx, fetched, prompt)
		if err != nil {
			if errors.Is(err, failure.ErrSemantic) {
				log.Warn("attempt produced no usable image", "attempt", attempt+1, "variant", variant, "error", err)
			}
			return err
		}
		res.Score = &score
		if score < p.cfg.Threshold {
			log.Info("styled tile accepted", "attempt", attempt+1, "variant", variant, "score", score)
			return nil
		}
		log.Info("styled tile too similar", "attempt", attempt+1, "variant", variant, "score", score, "threshold", p.cfg.Threshold)
		return errTooSimilar
	})

	switch {
	case err == nil:
		res.State = StateAccepted
		res.Success = true
	case errors.Is(err, failure.ErrSemantic):
		res.State = StateExhausted
		res.Error = err.Error()
		res.ErrorCode = failure.CodeSemantic
		log.Warn("attempts exhausted", "attempts", res.Attempts, "score", scoreAttr(res.Score), "error", err)
	default:
		res.fail(err)
		log.Warn("generation failed", "code", res.ErrorCode, "attempts", res.Attempts, "error", err)
	}
	return p.finish(ctx, res, log)
}

// attempt runs one generate call, stores the output and scores it.
func (p *Pipeline) attempt(ctx context.Context, idx tile.Index, src *tile.Fetched, prompt string) (float64, error) {
	out, err := p.generate(ctx, generator.Request{
		Image:    src.Data,
		MIMEType: raster.MIMEType(src.Format),
		Prompt:   prompt,
	})
	if err != nil {
		return 0, err
	}

	styled, format, err := raster.Decode(out.Data)
	if err != nil {
		return 0, fmt.Errorf("%w: generated image: %w", failure.ErrSemantic, err)
	}

	data := out.Data
	if raster.NormalizeFormat(format) != p.cfg.StyledFormat {
		if data, err = raster.EncodeBytes(styled, p.cfg.StyledFormat, raster.DefaultJPEGQuality); err != nil {
			return 0, fmt.Errorf("encode styled tile: %w", err)
		}
	}
	// Stored on every attempt so rejected output can be inspected; the
	// accepted one overwrites it.
	if _, err := p.store.Put(ctx, tile.Key{Index: idx, Role: tile.RoleStyled}, p.cfg.StyledFormat, data); err != nil {
		return 0, fmt.Errorf("store styled tile: %w", err)
	}

	score, err := similarity.Score(src.Image, styled)
	if err != nil {
		return 0, fmt.Errorf("%w: score: %w", failure.ErrSemantic, err)
	}
	return score, nil
}

// generate wraps one generator call in the transport policy and rate limit.
func (p *Pipeline) generate(ctx context.Context, req generator.Request) (*generator.Image, error) {
	policy := p.cfg.Transport
	policy.Retryable = failure.Retryable
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		p.logger.Warn("generate call failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	var out *generator.Image
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		img, err := p.gen.Generate(ctx, req)
		if err != nil {
			return err
		}
		out = img
		return nil
	})
	return out, err
}

func (p *Pipeline) prompt(attempt int) (string, Variant) {
	if attempt == 0 || p.cfg.FallbackPrompt == "" {
		return p.cfg.PrimaryPrompt, VariantPrimary
	}
	return p.cfg.FallbackPrompt, VariantFallback
}

// acceptedResult returns the stored result for idx when it is ACCEPTED and
// its styled tile still exists.
func (p *Pipeline) acceptedResult(ctx context.Context, idx tile.Index) (GenerationResult, bool) {
	data, _, err := p.store.Get(ctx, tile.Key{Index: idx, Role: tile.RoleResult})
	if err != nil {
		return GenerationResult{}, false
	}
	prior, err := DecodeResult(data)
	if err != nil || prior.State != StateAccepted {
		return GenerationResult{}, false
	}
	ok, err := p.store.Exists(ctx, tile.Key{Index: idx, Role: tile.RoleStyled})
	if err != nil || !ok {
		return GenerationResult{}, false
	}
	return prior, true
}

// finish timestamps res and stores it as the tile's checkpoint.
func (p *Pipeline) finish(ctx context.Context, res GenerationResult, log *slog.Logger) GenerationResult {
	res.FinishedAt = p.now()
	data, err := encodeResult(res)
	if err == nil {
		_, err = p.store.Put(ctx, tile.Key{Index: res.Tile, Role: tile.RoleResult}, tile.ResultExt, data)
	}
	if err != nil {
		log.Error("store result failed", "error", err)
	}
	return res
}

func scoreAttr(s *float64) any {
	if s == nil {
		return "none"
	}
	return *s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
