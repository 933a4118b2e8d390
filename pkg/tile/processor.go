package tile

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/internal/raster"
)

// DefaultURLTemplate is the swisstopo SWISSIMAGE WMTS endpoint in the EPSG:2056 matrix set.
// For EPSG:2056 the path order is col/row.
const DefaultURLTemplate = "https://wmts.geo.admin.ch/1.0.0/ch.swisstopo.swissimage/default/current/2056/{z}/{x}/{y}.jpeg"

// DefaultFetchTimeout bounds one tile download.
const DefaultFetchTimeout = 30 * time.Second

// maxTileBytes caps a tile response body.
const maxTileBytes = 32 << 20

// Fetched is a downloaded and decoded source tile.
type Fetched struct {
	Data   []byte
	Image  image.Image
	Format string
}

// Processor handles tile downloading and decoding
type Processor struct {
	client    *http.Client
	template  string
	userAgent string
	headers   map[string]string
}

// NewProcessor creates a tile processor for a URL template with {z}, {x} (column) and {y} (row).
func NewProcessor(template, userAgent string, timeout time.Duration) *Processor {
	if template == "" {
		template = DefaultURLTemplate
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Processor{
		client:    &http.Client{Timeout: timeout},
		template:  template,
		userAgent: userAgent,
	}
}

// WithHeaders sets extra request headers and returns p.
func (p *Processor) WithHeaders(h map[string]string) *Processor {
	p.headers = h
	return p
}

// ValidateTemplate checks that a URL template has all placeholders
func ValidateTemplate(template string) error {
	if !strings.Contains(template, "{z}") ||
		!strings.Contains(template, "{x}") ||
		!strings.Contains(template, "{y}") {
		return fmt.Errorf("%w: tile url must contain {z}, {x}, and {y} placeholders", failure.ErrConfiguration)
	}
	return nil
}

// URL returns the tile URL for idx at zoom.
func (p *Processor) URL(idx Index, zoom int) string {
	return BuildURL(p.template, zoom, idx.Col, idx.Row)
}

// DownloadTile downloads a tile. Transport errors and non-200 answers wrap failure.ErrTransport.
func (p *Processor) DownloadTile(ctx context.Context, idx Index, zoom int) ([]byte, error) {
	url := p.URL(idx, zoom)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrConfiguration, err)
	}

	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	for key, value := range p.headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: GET %s: %v", failure.ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: HTTP %d: %s", failure.ErrTransport, url, resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", failure.ErrTransport, url, err)
	}
	return data, nil
}

// FetchTile downloads and decodes the tile at idx.
func (p *Processor) FetchTile(ctx context.Context, idx Index, zoom int) (*Fetched, error) {
	data, err := p.DownloadTile(ctx, idx, zoom)
	if err != nil {
		return nil, err
	}
	img, format, err := raster.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", idx, err)
	}
	return &Fetched{Data: data, Image: img, Format: format}, nil
}

// BuildURL replaces URL template tokens
func BuildURL(template string, zoom, col, row int) string {
	url := template
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(zoom))
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(col))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(row))
	// Handle {s} for subdomains (simple implementation)
	if strings.Contains(url, "{s}") {
		n := (col + row) % 3
		if n < 0 {
			n += 3
		}
		url = strings.ReplaceAll(url, "{s}", string(rune('a'+n)))
	}
	return url
}
