package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// State is the terminal outcome of one tile.
type State string

const (
	// StateAccepted: a styled tile scored below the threshold.
	StateAccepted State = "ACCEPTED"
	// StateExhausted: every attempt produced output too similar to the source.
	StateExhausted State = "EXHAUSTED"
	// StateFailed: fetch, storage or transport failure.
	StateFailed State = "FAILED"
	// StateSkipped: an accepted result was already stored.
	StateSkipped State = "SKIPPED"
)

// Variant names the prompt an attempt used.
type Variant string

const (
	VariantPrimary  Variant = "primary"
	VariantFallback Variant = "fallback"
)

// GenerationResult records what happened to one tile.
type GenerationResult struct {
	Tile       tile.Index   `json:"tile"`
	State      State        `json:"state"`
	Success    bool         `json:"success"`
	Score      *float64     `json:"score,omitempty"`
	Attempts   int          `json:"attempts"`
	Variant    Variant      `json:"variant,omitempty"`
	Error      string       `json:"error,omitempty"`
	ErrorCode  failure.Code `json:"error_code,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Duration is how long the tile took.
func (r GenerationResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *GenerationResult) fail(err error) {
	r.State = StateFailed
	r.Success = false
	r.Error = err.Error()
	r.ErrorCode = failure.Classify(err)
}

// Summary counts results per state.
type Summary struct {
	Total     int `json:"total"`
	Accepted  int `json:"accepted"`
	Exhausted int `json:"exhausted"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Report is the outcome of a run, in enumeration order.
type Report struct {
	Results []GenerationResult `json:"results"`
	Summary Summary            `json:"summary"`
}

func summarize(results []GenerationResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.State {
		case StateAccepted:
			s.Accepted++
		case StateExhausted:
			s.Exhausted++
		case StateFailed:
			s.Failed++
		case StateSkipped:
			s.Skipped++
		}
	}
	return s
}

func encodeResult(r GenerationResult) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// DecodeResult parses a stored result artifact.
func DecodeResult(data []byte) (GenerationResult, error) {
	var r GenerationResult
	if err := json.Unmarshal(data, &r); err != nil {
		return GenerationResult{}, fmt.Errorf("%w: result artifact: %v", failure.ErrDataIntegrity, err)
	}
	return r, nil
}
