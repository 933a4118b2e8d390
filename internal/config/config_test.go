package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/mapstyle/internal/failure"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	require.NoError(t, cfg.Validate())

	p := cfg.PipelineConfig()
	assert.Equal(t, 26, p.Zoom)
	assert.Equal(t, 0.35, p.Threshold)
	assert.Equal(t, 3, p.Semantic.MaxAttempts)
	assert.Equal(t, time.Second, p.Semantic.Delay(2))
	assert.Equal(t, 3, p.Transport.MaxAttempts)
	assert.Equal(t, 20*time.Second, p.Transport.Delay(2))
}

func TestLoadYAML(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
output:
  dir: tiles
tiles:
  zoom: 24
pipeline:
  threshold: 0.5
  concurrency: 4
  tile_delay: 500ms
  resume: false
area:
  min_x: 2600000
  max_x: 2600100
  min_y: 1200000
  max_y: 1200100
`)))
	cfg, err := Load(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "tiles", cfg.Output.Dir)
	assert.Equal(t, 24, cfg.Tiles.Zoom)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.TileDelay)
	assert.False(t, cfg.Pipeline.Resume)
	assert.True(t, cfg.Area.HasBBox())
	assert.Equal(t, 2600100.0, cfg.Area.BBox().MaxX)
	// untouched keys keep defaults
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Pipeline.SemanticAttempts)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("MAPSTYLE_OUTPUT_DIR", "from-env")
	t.Setenv("GEMINI_API_KEY", "secret")

	v := viper.New()
	require.NoError(t, BindEnv(v))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Output.Dir)

	key, err := cfg.APIKey(afero.NewMemMapFs())
	require.NoError(t, err)
	assert.Equal(t, "secret", key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"output dir", func(c *Config) { c.Output.Dir = " " }},
		{"url", func(c *Config) { c.Tiles.URL = "https://example.com/tile.png" }},
		{"zoom", func(c *Config) { c.Tiles.Zoom = 40 }},
		{"bbox", func(c *Config) { c.Area.MinX, c.Area.MaxX = 10, 5 }},
		{"compare threshold", func(c *Config) { c.Compare.Threshold = 2 }},
		{"quality", func(c *Config) { c.Stitch.Quality = 0 }},
		{"role", func(c *Config) { c.Stitch.Role = "result" }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, failure.ErrConfiguration)
		})
	}
}

func TestAPIKeyFromFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Default()

	_, err := cfg.APIKey(fs)
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	require.NoError(t, afero.WriteFile(fs, "secrets/genai_key.txt", []byte("  abc123\n"), 0o600))
	key, err := cfg.APIKey(fs)
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)

	require.NoError(t, afero.WriteFile(fs, "secrets/genai_key.txt", []byte("\n"), 0o600))
	_, err = cfg.APIKey(fs)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestLoadPrompts(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Default()

	_, _, err := cfg.LoadPrompts(fs)
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	require.NoError(t, afero.WriteFile(fs, "prompt.txt", []byte("Turn this into a map.\n"), 0o644))
	primary, fallback, err := cfg.LoadPrompts(fs)
	require.NoError(t, err)
	assert.Equal(t, "Turn this into a map.", primary)
	assert.Empty(t, fallback)

	cfg.Prompts.Primary = "inline"
	cfg.Prompts.FallbackFile = "fallback.txt"
	_, _, err = cfg.LoadPrompts(fs)
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	require.NoError(t, afero.WriteFile(fs, "fallback.txt", []byte("Be bolder."), 0o644))
	primary, fallback, err = cfg.LoadPrompts(fs)
	require.NoError(t, err)
	assert.Equal(t, "inline", primary)
	assert.Equal(t, "Be bolder.", fallback)
}
