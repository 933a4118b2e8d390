package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/mapstyle/internal/failure"
)

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Placemark>
      <Polygon><outerBoundaryIs><LinearRing>
        <coordinates>
          7.43,46.95,0 7.45,46.95,0
          7.45,46.96,0 7.43,46.96,0
        </coordinates>
      </LinearRing></outerBoundaryIs></Polygon>
    </Placemark>
    <Placemark>
      <Point><coordinates>7.44,46.97</coordinates></Point>
    </Placemark>
  </Document>
</kml>`

func TestParseKML(t *testing.T) {
	pts, err := ParseKML([]byte(sampleKML))
	require.NoError(t, err)
	require.Len(t, pts, 5)
	assert.Equal(t, orb.Point{7.43, 46.95}, pts[0])
	assert.Equal(t, orb.Point{7.44, 46.97}, pts[4])
}

func TestParseKMLErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no coordinates", `<kml><Document/></kml>`},
		{"empty coordinates", `<kml><coordinates>   </coordinates></kml>`},
		{"bad tuple", `<kml><coordinates>7.4</coordinates></kml>`},
		{"bad number", `<kml><coordinates>x,46.9</coordinates></kml>`},
		{"broken xml", `<kml><coordinates>7.4,46.9`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKML([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, failure.ErrDataIntegrity)
		})
	}
}

func TestWGS84ToLV95(t *testing.T) {
	// Zimmerwald observatory
	e, n := WGS84ToLV95(7+27.0/60+54.983/3600, 46+52.0/60+37.540/3600)
	assert.InDelta(t, 2602030.74, e, 0.1)
	assert.InDelta(t, 1191775.03, n, 0.1)

	// projection origin of the approximation
	e, n = WGS84ToLV95(26782.5/3600, 169028.66/3600)
	assert.InDelta(t, 2600072.37, e, 1e-6)
	assert.InDelta(t, 1200147.07, n, 1e-6)
}

func TestBBox(t *testing.T) {
	b := BBox([]orb.Point{{3, 9}, {1, 4}, {2, 7}})
	assert.Equal(t, 1.0, b.MinX)
	assert.Equal(t, 3.0, b.MaxX)
	assert.Equal(t, 4.0, b.MinY)
	assert.Equal(t, 9.0, b.MaxY)
}

func TestAreaFromKML(t *testing.T) {
	a, err := AreaFromKML([]byte(sampleKML))
	require.NoError(t, err)
	require.Len(t, a.Points, 5)
	assert.Less(t, a.BBox.MinX, a.BBox.MaxX)
	assert.Less(t, a.BBox.MinY, a.BBox.MaxY)
	// Bern lies around E 2.6M, N 1.2M
	assert.InDelta(t, 2600000, a.BBox.MinX, 5000)
	assert.InDelta(t, 1200000, a.BBox.MinY, 5000)
}

func TestDownloaderFetchArea(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(sampleKML))
	}))
	defer srv.Close()

	d := NewDownloader(0)
	a, err := d.FetchArea(context.Background(), srv.URL+"/area.kml")
	require.NoError(t, err)
	assert.Len(t, a.Points, 5)

	_, err = d.FetchArea(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrTransport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.FetchArea(ctx, srv.URL+"/area.kml")
	assert.ErrorIs(t, err, context.Canceled)
}
