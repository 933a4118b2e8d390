package server

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/mapstyle/internal/compare"
	"github.com/kiesman99/mapstyle/internal/pipeline"
	"github.com/kiesman99/mapstyle/internal/raster"
	"github.com/kiesman99/mapstyle/internal/store"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

func solid(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func checker() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if (x/2+y/2)%2 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func put(t *testing.T, s store.Store, col, row int, role tile.Role, ext string, data []byte) {
	t.Helper()
	_, err := s.Put(context.Background(), tile.Key{Index: tile.Index{Col: col, Row: row}, Role: role}, ext, data)
	require.NoError(t, err)
}

func png(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, err := raster.EncodeBytes(img, raster.FormatPNG, 0)
	require.NoError(t, err)
	return data
}

// Test server setup
func setupTestServer(t *testing.T) (*httptest.Server, *store.FS) {
	t.Helper()
	st, err := store.NewFS(afero.NewMemMapFs(), "tiles")
	require.NoError(t, err)

	apiServer := NewServer(st, Options{Version: "1.0.0-test", Zoom: 26, BaseDir: "tiles"}, nil)
	server := httptest.NewServer(apiServer.Handler(30 * time.Second))
	t.Cleanup(server.Close)
	return server, st
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	var health HealthResponse
	resp := getJSON(t, server.URL+"/api/v1/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Healthy, health.Status)
	require.NotNil(t, health.Version)
	assert.Equal(t, "1.0.0-test", *health.Version)
	require.NotNil(t, health.Uptime)
	assert.GreaterOrEqual(t, *health.Uptime, 0)
	assert.WithinDuration(t, time.Now(), health.Timestamp, time.Minute)
}

func TestLegacyHealthRedirect(t *testing.T) {
	server, _ := setupTestServer(t)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/api/v1/health", resp.Header.Get("Location"))
}

func TestTilesEndpoint(t *testing.T) {
	server, st := setupTestServer(t)

	put(t, st, 0, 0, tile.RoleOriginal, "png", png(t, solid(color.White)))
	put(t, st, 0, 0, tile.RoleStyled, "png", png(t, checker()))
	score := 0.12
	result, err := json.Marshal(pipeline.GenerationResult{
		Tile:     tile.Index{Col: 0, Row: 0},
		State:    pipeline.StateAccepted,
		Success:  true,
		Score:    &score,
		Attempts: 1,
	})
	require.NoError(t, err)
	put(t, st, 0, 0, tile.RoleResult, tile.ResultExt, result)

	var tiles TilesResponse
	resp := getJSON(t, server.URL+"/api/v1/tiles?min_x=2420000&max_x=2420200&min_y=1349800&max_y=1350000", &tiles)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 26, tiles.Zoom)
	assert.Equal(t, 4, tiles.Count)
	assert.Equal(t, tile.Bounds{MinCol: 0, MaxCol: 1, MinRow: 0, MaxRow: 1}, tiles.Bounds)
	require.Len(t, tiles.Tiles, 4)

	first := tiles.Tiles[0]
	assert.Equal(t, 0, first.Col)
	assert.Equal(t, 0, first.Row)
	assert.True(t, first.Original)
	assert.True(t, first.Styled)
	assert.Equal(t, string(pipeline.StateAccepted), first.State)
	require.NotNil(t, first.Score)
	assert.InDelta(t, 0.12, *first.Score, 1e-9)
	assert.Equal(t, 2420000.0, first.Extent.MinX)
	assert.Equal(t, 1350000.0, first.Extent.MaxY)

	// column-major
	assert.Equal(t, 0, tiles.Tiles[1].Col)
	assert.Equal(t, 1, tiles.Tiles[1].Row)
	assert.False(t, tiles.Tiles[1].Styled)
	assert.Empty(t, tiles.Tiles[1].State)
}

func TestTilesEndpoint_ValidationErrors(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"missing parameter", "?min_x=1&max_x=2&min_y=1", "INVALID_PARAMETER"},
		{"not a number", "?min_x=a&max_x=2&min_y=1&max_y=2", "INVALID_PARAMETER"},
		{"bad zoom", "?min_x=2420000&max_x=2420100&min_y=1349900&max_y=1350000&zoom=x", "INVALID_PARAMETER"},
		{"unknown zoom", "?min_x=2420000&max_x=2420100&min_y=1349900&max_y=1350000&zoom=99", "INVALID_REQUEST"},
		{"inverted bbox", "?min_x=2420100&max_x=2420000&min_y=1349900&max_y=1350000", "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			resp := getJSON(t, server.URL+"/api/v1/tiles"+tt.query, &errResp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, errResp.Error)
			assert.NotEmpty(t, errResp.Message)
			assert.NotNil(t, errResp.RequestId)
		})
	}
}

func TestReportEndpoint(t *testing.T) {
	server, st := setupTestServer(t)

	put(t, st, 0, 0, tile.RoleOriginal, "png", png(t, checker()))
	put(t, st, 0, 0, tile.RoleStyled, "png", png(t, checker()))
	put(t, st, 0, 1, tile.RoleOriginal, "png", png(t, checker()))
	put(t, st, 0, 1, tile.RoleStyled, "png", png(t, solid(color.RGBA{R: 200, A: 255})))

	var report compare.Report
	resp := getJSON(t, server.URL+"/api/v1/report?threshold=0.5", &report)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 2, report.Summary.TotalTiles)
	assert.Equal(t, 1, report.Summary.SuccessfulTransformations)
	assert.Equal(t, 1, report.Summary.FailedTransformations)
	assert.Equal(t, 0.5, report.Summary.SSIMThreshold)
	require.Len(t, report.Tiles, 2)
	assert.Equal(t, compare.StatusFailed, report.Tiles[0].Status)
	assert.Equal(t, compare.StatusSuccess, report.Tiles[1].Status)

	var errResp ErrorResponse
	resp = getJSON(t, server.URL+"/api/v1/report?threshold=7", &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errResp.Error)
}

func TestReportEndpoint_Empty(t *testing.T) {
	server, _ := setupTestServer(t)

	var report compare.Report
	resp := getJSON(t, server.URL+"/api/v1/report", &report)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, report.Summary.TotalTiles)
	assert.Equal(t, 0.0, report.Summary.SuccessRate)
	assert.Equal(t, compare.DefaultThreshold, report.Summary.SSIMThreshold)
}

func TestMosaicEndpoint(t *testing.T) {
	server, st := setupTestServer(t)

	put(t, st, 0, 0, tile.RoleStyled, "png", png(t, solid(color.Black)))
	put(t, st, 0, 1, tile.RoleStyled, "png", png(t, solid(color.Black)))
	put(t, st, 1, 0, tile.RoleStyled, "png", png(t, solid(color.Black)))

	resp, err := http.Get(server.URL + "/api/v1/mosaic")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "3", resp.Header.Get("X-Tile-Count"))
	assert.Equal(t, "1", resp.Header.Get("X-Gap-Count"))

	img, _, err := image.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), img.Bounds())

	r, g, b, _ := img.At(20, 20).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b}, "gap stays white")
	r, g, b, _ = img.At(4, 4).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0}, [3]uint32{r, g, b})
}

func TestMosaicEndpoint_Errors(t *testing.T) {
	server, st := setupTestServer(t)

	var noTiles NoTilesResponse
	resp := getJSON(t, server.URL+"/api/v1/mosaic", &noTiles)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NO_VALID_TILES", noTiles.Error)

	put(t, st, 0, 0, tile.RoleStyled, "png", []byte("not an image"))
	noTiles = NoTilesResponse{}
	resp = getJSON(t, server.URL+"/api/v1/mosaic", &noTiles)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, noTiles.TotalTiles)
	require.Len(t, noTiles.FailedTiles, 1)
	assert.Equal(t, "0_0", noTiles.FailedTiles[0].Tile)

	var errResp ErrorResponse
	resp = getJSON(t, server.URL+"/api/v1/mosaic?role=result", &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PARAMETER", errResp.Error)
}

func TestCORSHeaders(t *testing.T) {
	server, _ := setupTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/v1/tiles", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "GET")
}
