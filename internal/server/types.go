package server

import (
	"time"

	"github.com/kiesman99/mapstyle/pkg/tile"
)

// HealthStatus is the service state reported by the health endpoint
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

// HealthResponse is returned by GET /api/v1/health
type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Uptime    *int         `json:"uptime,omitempty"`
	Version   *string      `json:"version,omitempty"`
	Store     *string      `json:"store,omitempty"`
}

// TileInfo describes one tile of the requested area and what is stored for it
type TileInfo struct {
	Col      int              `json:"col"`
	Row      int              `json:"row"`
	Extent   tile.BoundingBox `json:"extent"`
	Original bool             `json:"original"`
	Styled   bool             `json:"styled"`
	State    string           `json:"state,omitempty"`
	Score    *float64         `json:"score,omitempty"`
}

// TilesResponse is returned by GET /api/v1/tiles
type TilesResponse struct {
	Zoom   int              `json:"zoom"`
	BBox   tile.BoundingBox `json:"bbox"`
	Bounds tile.Bounds      `json:"bounds"`
	Count  int              `json:"count"`
	Tiles  []TileInfo       `json:"tiles"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	RequestId *string         `json:"request_id,omitempty"`
	Details   *map[string]any `json:"details,omitempty"`
}

// FailedTile is a stored tile the mosaic had to leave out
type FailedTile struct {
	Tile  string `json:"tile"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// NoTilesResponse is returned when the mosaic has nothing to draw
type NoTilesResponse struct {
	Error       string       `json:"error"`
	Message     string       `json:"message"`
	FailedTiles []FailedTile `json:"failed_tiles"`
	TotalTiles  int          `json:"total_tiles"`
	RequestId   *string      `json:"request_id,omitempty"`
}
