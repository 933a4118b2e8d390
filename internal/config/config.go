// Package config loads the mapstyle settings from viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/kiesman99/mapstyle/internal/compare"
	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/internal/generator"
	"github.com/kiesman99/mapstyle/internal/geo"
	"github.com/kiesman99/mapstyle/internal/logging"
	"github.com/kiesman99/mapstyle/internal/pipeline"
	"github.com/kiesman99/mapstyle/internal/raster"
	"github.com/kiesman99/mapstyle/internal/retry"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// EnvPrefix prefixes every environment override, e.g. MAPSTYLE_OUTPUT_DIR.
const EnvPrefix = "MAPSTYLE"

// Config is the full application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Output   OutputConfig   `mapstructure:"output"`
	Area     AreaConfig     `mapstructure:"area"`
	Tiles    TilesConfig    `mapstructure:"tiles"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Prompts  PromptConfig   `mapstructure:"prompts"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Stitch   StitchConfig   `mapstructure:"stitch"`
	Compare  CompareConfig  `mapstructure:"compare"`
	Server   ServerConfig   `mapstructure:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OutputConfig struct {
	// Dir holds originals, styled tiles and per-tile results.
	Dir string `mapstructure:"dir"`
}

// AreaConfig selects the tiles to process. An explicit bbox wins over a KML
// file, which wins over the KML URL.
type AreaConfig struct {
	KMLURL  string  `mapstructure:"kml_url"`
	KMLFile string  `mapstructure:"kml_file"`
	MinX    float64 `mapstructure:"min_x"`
	MaxX    float64 `mapstructure:"max_x"`
	MinY    float64 `mapstructure:"min_y"`
	MaxY    float64 `mapstructure:"max_y"`
}

// HasBBox reports whether an explicit bounding box is set.
func (a AreaConfig) HasBBox() bool {
	return a.MinX != 0 || a.MaxX != 0 || a.MinY != 0 || a.MaxY != 0
}

// BBox returns the explicit bounding box.
func (a AreaConfig) BBox() tile.BoundingBox {
	return tile.BoundingBox{MinX: a.MinX, MaxX: a.MaxX, MinY: a.MinY, MaxY: a.MaxY}
}

type TilesConfig struct {
	URL       string        `mapstructure:"url"`
	UserAgent string        `mapstructure:"user_agent"`
	Zoom      int           `mapstructure:"zoom"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type GeminiConfig struct {
	APIKey     string  `mapstructure:"api_key"`
	APIKeyFile string  `mapstructure:"api_key_file"`
	Model      string  `mapstructure:"model"`
	RPM        float64 `mapstructure:"rpm"`
}

type PromptConfig struct {
	Primary      string `mapstructure:"primary"`
	PrimaryFile  string `mapstructure:"primary_file"`
	Fallback     string `mapstructure:"fallback"`
	FallbackFile string `mapstructure:"fallback_file"`
}

type PipelineConfig struct {
	Threshold         float64       `mapstructure:"threshold"`
	Concurrency       int           `mapstructure:"concurrency"`
	TileDelay         time.Duration `mapstructure:"tile_delay"`
	TileTimeout       time.Duration `mapstructure:"tile_timeout"`
	Resume            bool          `mapstructure:"resume"`
	StyledFormat      string        `mapstructure:"styled_format"`
	SemanticAttempts  int           `mapstructure:"semantic_attempts"`
	SemanticDelay     time.Duration `mapstructure:"semantic_delay"`
	TransportAttempts int           `mapstructure:"transport_attempts"`
	TransportDelay    time.Duration `mapstructure:"transport_delay"`
}

type StitchConfig struct {
	Output    string `mapstructure:"output"`
	Quality   int    `mapstructure:"quality"`
	WorldFile bool   `mapstructure:"world_file"`
	// Role is styled or original.
	Role string `mapstructure:"role"`
}

type CompareConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	JSON      string  `mapstructure:"json"`
	Markdown  string  `mapstructure:"markdown"`
}

type ServerConfig struct {
	Bind    string        `mapstructure:"bind"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Output: OutputConfig{Dir: "output_tiles"},
		Area:   AreaConfig{KMLURL: geo.DefaultAreaURL},
		Tiles: TilesConfig{
			URL:       tile.DefaultURLTemplate,
			UserAgent: "mapstyle/1.0",
			Zoom:      26,
			Timeout:   tile.DefaultFetchTimeout,
		},
		Gemini: GeminiConfig{
			APIKeyFile: "secrets/genai_key.txt",
			Model:      generator.DefaultModel,
		},
		Prompts: PromptConfig{PrimaryFile: "prompt.txt"},
		Pipeline: PipelineConfig{
			Threshold:         pipeline.DefaultThreshold,
			Concurrency:       1,
			TileDelay:         pipeline.DefaultTileDelay,
			Resume:            true,
			StyledFormat:      raster.FormatJPEG,
			SemanticAttempts:  3,
			SemanticDelay:     time.Second,
			TransportAttempts: 3,
			TransportDelay:    10 * time.Second,
		},
		Stitch: StitchConfig{
			Output:  "stitched_map.jpeg",
			Quality: raster.DefaultJPEGQuality,
			Role:    string(tile.RoleStyled),
		},
		Compare: CompareConfig{
			Threshold: compare.DefaultThreshold,
			JSON:      "ssim_results.json",
			Markdown:  "ssim_report.md",
		},
		Server: ServerConfig{Bind: "localhost", Port: 8080, Timeout: 60 * time.Second},
	}
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"log.level":                   d.Log.Level,
		"log.format":                  d.Log.Format,
		"output.dir":                  d.Output.Dir,
		"area.kml_url":                d.Area.KMLURL,
		"area.kml_file":               d.Area.KMLFile,
		"area.min_x":                  d.Area.MinX,
		"area.max_x":                  d.Area.MaxX,
		"area.min_y":                  d.Area.MinY,
		"area.max_y":                  d.Area.MaxY,
		"tiles.url":                   d.Tiles.URL,
		"tiles.user_agent":            d.Tiles.UserAgent,
		"tiles.zoom":                  d.Tiles.Zoom,
		"tiles.timeout":               d.Tiles.Timeout,
		"gemini.api_key":              d.Gemini.APIKey,
		"gemini.api_key_file":         d.Gemini.APIKeyFile,
		"gemini.model":                d.Gemini.Model,
		"gemini.rpm":                  d.Gemini.RPM,
		"prompts.primary":             d.Prompts.Primary,
		"prompts.primary_file":        d.Prompts.PrimaryFile,
		"prompts.fallback":            d.Prompts.Fallback,
		"prompts.fallback_file":       d.Prompts.FallbackFile,
		"pipeline.threshold":          d.Pipeline.Threshold,
		"pipeline.concurrency":        d.Pipeline.Concurrency,
		"pipeline.tile_delay":         d.Pipeline.TileDelay,
		"pipeline.tile_timeout":       d.Pipeline.TileTimeout,
		"pipeline.resume":             d.Pipeline.Resume,
		"pipeline.styled_format":      d.Pipeline.StyledFormat,
		"pipeline.semantic_attempts":  d.Pipeline.SemanticAttempts,
		"pipeline.semantic_delay":     d.Pipeline.SemanticDelay,
		"pipeline.transport_attempts": d.Pipeline.TransportAttempts,
		"pipeline.transport_delay":    d.Pipeline.TransportDelay,
		"stitch.output":               d.Stitch.Output,
		"stitch.quality":              d.Stitch.Quality,
		"stitch.world_file":           d.Stitch.WorldFile,
		"stitch.role":                 d.Stitch.Role,
		"compare.threshold":           d.Compare.Threshold,
		"compare.json":                d.Compare.JSON,
		"compare.markdown":            d.Compare.Markdown,
		"server.bind":                 d.Server.Bind,
		"server.port":                 d.Server.Port,
		"server.timeout":              d.Server.Timeout,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// BindEnv enables MAPSTYLE_ overrides and the conventional GEMINI_API_KEY.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v.BindEnv("gemini.api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY")
}

// Load unmarshals v into a Config. Keys v does not know keep their defaults.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrConfiguration, err)
	}
	return &cfg, nil
}

// Validate checks the settings shared by every command.
func (c *Config) Validate() error {
	var problems []string
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		problems = append(problems, "output.dir is empty")
	}
	if err := tile.ValidateTemplate(c.Tiles.URL); err != nil {
		problems = append(problems, "tiles.url must contain {z}, {x} and {y}")
	}
	if _, err := tile.SwissGrid().Span(c.Tiles.Zoom); err != nil {
		problems = append(problems, fmt.Sprintf("tiles.zoom %d is not a known zoom level", c.Tiles.Zoom))
	}
	if c.Area.HasBBox() {
		if err := c.Area.BBox().Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if t := c.Compare.Threshold; math.IsNaN(t) || t <= -1 || t > 1 {
		problems = append(problems, fmt.Sprintf("compare.threshold %v outside (-1, 1]", t))
	}
	if c.Stitch.Quality < 1 || c.Stitch.Quality > 100 {
		problems = append(problems, fmt.Sprintf("stitch.quality %d outside [1, 100]", c.Stitch.Quality))
	}
	switch tile.Role(c.Stitch.Role) {
	case tile.RoleStyled, tile.RoleOriginal:
	default:
		problems = append(problems, fmt.Sprintf("stitch.role %q must be styled or original", c.Stitch.Role))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", failure.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Logger builds the configured logger writing to stderr.
func (c *Config) Logger() (*slog.Logger, error) {
	return logging.New(c.Log.Level, c.Log.Format, os.Stderr)
}

// APIKey returns gemini.api_key, or the trimmed contents of the key file.
func (c *Config) APIKey(fs afero.Fs) (string, error) {
	if key := strings.TrimSpace(c.Gemini.APIKey); key != "" {
		return key, nil
	}
	if c.Gemini.APIKeyFile == "" {
		return "", fmt.Errorf("%w: no Gemini API key configured", failure.ErrConfiguration)
	}
	key, err := readText(fs, c.Gemini.APIKeyFile)
	if err != nil {
		return "", fmt.Errorf("%w: Gemini API key: %v", failure.ErrConfiguration, err)
	}
	if key == "" {
		return "", fmt.Errorf("%w: Gemini API key file %s is empty", failure.ErrConfiguration, c.Gemini.APIKeyFile)
	}
	return key, nil
}

// LoadPrompts resolves the primary and fallback prompts. Inline text wins
// over files; a missing fallback is not an error.
func (c *Config) LoadPrompts(fs afero.Fs) (primary, fallback string, err error) {
	primary = strings.TrimSpace(c.Prompts.Primary)
	if primary == "" && c.Prompts.PrimaryFile != "" {
		if primary, err = readText(fs, c.Prompts.PrimaryFile); err != nil {
			return "", "", fmt.Errorf("%w: prompt: %v", failure.ErrConfiguration, err)
		}
	}
	if primary == "" {
		return "", "", fmt.Errorf("%w: no prompt configured", failure.ErrConfiguration)
	}
	fallback = strings.TrimSpace(c.Prompts.Fallback)
	if fallback == "" && c.Prompts.FallbackFile != "" {
		if fallback, err = readText(fs, c.Prompts.FallbackFile); err != nil {
			return "", "", fmt.Errorf("%w: fallback prompt: %v", failure.ErrConfiguration, err)
		}
	}
	return primary, fallback, nil
}

// PipelineConfig maps the settings onto a pipeline.Config. Prompts are left
// empty; see LoadPrompts.
func (c *Config) PipelineConfig() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.Zoom = c.Tiles.Zoom
	p.Threshold = c.Pipeline.Threshold
	p.Concurrency = c.Pipeline.Concurrency
	p.TileDelay = c.Pipeline.TileDelay
	p.TileTimeout = c.Pipeline.TileTimeout
	p.Resume = c.Pipeline.Resume
	p.StyledFormat = c.Pipeline.StyledFormat
	p.GenerateRPM = c.Gemini.RPM
	p.Semantic = retry.Policy{
		MaxAttempts: c.Pipeline.SemanticAttempts,
		Delay:       retry.Constant(c.Pipeline.SemanticDelay),
	}
	p.Transport = retry.Policy{
		MaxAttempts: c.Pipeline.TransportAttempts,
		Delay:       retry.Linear(c.Pipeline.TransportDelay),
	}
	return p
}

func readText(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s not found", path)
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
