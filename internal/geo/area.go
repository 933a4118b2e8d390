package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paulmach/orb"

	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// DefaultAreaURL is the shared map.geo.admin.ch drawing used when no area is given.
const DefaultAreaURL = "https://public.geo.admin.ch/api/kml/files/GOgTC2UBSsWhqx5w2gFGEQ"

const maxKMLBytes = 8 << 20

// Area is a parsed area of interest.
type Area struct {
	// Points are the KML vertices projected to LV95.
	Points []orb.Point
	BBox   tile.BoundingBox
}

// BBox returns the planar bounds of points.
func BBox(points []orb.Point) tile.BoundingBox {
	b := orb.MultiPoint(points).Bound()
	return tile.BoundingBox{MinX: b.Min.X(), MaxX: b.Max.X(), MinY: b.Min.Y(), MaxY: b.Max.Y()}
}

// AreaFromKML parses a KML document into an LV95 area.
func AreaFromKML(data []byte) (*Area, error) {
	wgs, err := ParseKML(data)
	if err != nil {
		return nil, err
	}
	pts := ToLV95(wgs)
	return &Area{Points: pts, BBox: BBox(pts)}, nil
}

// Downloader fetches KML documents over HTTP.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a downloader; timeout <= 0 means 30s.
func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{client: &http.Client{Timeout: timeout}}
}

// Download GETs url. Failures and non-2xx answers wrap failure.ErrTransport.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrConfiguration, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: GET %s: %v", failure.ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", failure.ErrTransport, url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxKMLBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", failure.ErrTransport, url, err)
	}
	return data, nil
}

// FetchArea downloads and parses the KML at url.
func (d *Downloader) FetchArea(ctx context.Context, url string) (*Area, error) {
	data, err := d.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	return AreaFromKML(data)
}
