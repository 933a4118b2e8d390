// Package server exposes the tile store over HTTP: tile listings, the
// similarity report and the stitched mosaic.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"

	"github.com/kiesman99/mapstyle/internal/compare"
	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/internal/logging"
	"github.com/kiesman99/mapstyle/internal/pipeline"
	"github.com/kiesman99/mapstyle/internal/raster"
	"github.com/kiesman99/mapstyle/internal/stitcher"
	"github.com/kiesman99/mapstyle/internal/store"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

// Options configures a Server
type Options struct {
	Version string
	Grid    tile.Grid
	// Zoom is used when a request does not name one.
	Zoom             int
	CompareThreshold float64
	// BaseDir prefixes tile names in reports.
	BaseDir string
}

// Server serves a tile store
type Server struct {
	startTime time.Time
	opts      Options
	store     store.Store
	logger    *slog.Logger
}

// NewServer creates a new server instance
func NewServer(st store.Store, opts Options, logger *slog.Logger) *Server {
	if opts.Grid.TileSize == 0 {
		opts.Grid = tile.SwissGrid()
	}
	if opts.CompareThreshold == 0 {
		opts.CompareThreshold = compare.DefaultThreshold
	}
	return &Server{
		startTime: time.Now(),
		opts:      opts,
		store:     st,
		logger:    logging.OrNop(logger),
	}
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())
	response := HealthResponse{
		Status:    Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.opts.Version,
	}
	if _, err := s.store.List(r.Context(), tile.RoleResult); err != nil {
		msg := err.Error()
		response.Status = Unhealthy
		response.Store = &msg
		s.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

// GetTiles lists the tiles covering a bounding box, with what is stored for each
func (s *Server) GetTiles(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	query := r.URL.Query()

	var bbox tile.BoundingBox
	for name, dest := range map[string]*float64{
		"min_x": &bbox.MinX,
		"max_x": &bbox.MaxX,
		"min_y": &bbox.MinY,
		"max_y": &bbox.MaxY,
	} {
		if err := runtime.BindQueryParameter("form", true, true, name, query, dest); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), requestID, map[string]any{"parameter": name})
			return
		}
	}
	var zoomParam *int
	if err := runtime.BindQueryParameter("form", true, false, "zoom", query, &zoomParam); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), requestID, map[string]any{"parameter": "zoom"})
		return
	}
	zoom := s.opts.Zoom
	if zoomParam != nil {
		zoom = *zoomParam
	}

	indices, err := s.opts.Grid.EnumerateTiles(bbox, zoom)
	if err != nil {
		s.handleError(w, err, requestID)
		return
	}
	bounds, _ := tile.CalculateBounds(indices)

	set, err := store.Scan(r.Context(), s.store)
	if err != nil {
		s.handleError(w, err, requestID)
		return
	}

	response := TilesResponse{Zoom: zoom, BBox: bbox, Bounds: bounds, Count: len(indices), Tiles: make([]TileInfo, 0, len(indices))}
	for _, idx := range indices {
		ext, err := s.opts.Grid.TileExtent(idx, zoom)
		if err != nil {
			s.handleError(w, err, requestID)
			return
		}
		info := TileInfo{Col: idx.Col, Row: idx.Row, Extent: ext}
		roles := set[idx]
		_, info.Original = roles[tile.RoleOriginal]
		_, info.Styled = roles[tile.RoleStyled]
		if e, ok := roles[tile.RoleResult]; ok {
			s.attachResult(r.Context(), &info, e)
		}
		response.Tiles = append(response.Tiles, info)
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) attachResult(ctx context.Context, info *TileInfo, e store.Entry) {
	data, err := s.store.Read(ctx, e)
	if err != nil {
		s.logger.Warn("unreadable result", "tile", e.Name, "error", err)
		return
	}
	res, err := pipeline.DecodeResult(data)
	if err != nil {
		s.logger.Warn("corrupt result", "tile", e.Name, "error", err)
		return
	}
	info.State = string(res.State)
	info.Score = res.Score
}

// GetReport compares every stored original with its styled tile
func (s *Server) GetReport(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	threshold := s.opts.CompareThreshold
	var param *float64
	if err := runtime.BindQueryParameter("form", true, false, "threshold", r.URL.Query(), &param); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), requestID, map[string]any{"parameter": "threshold"})
		return
	}
	if param != nil {
		threshold = *param
	}

	engine, err := compare.NewEngine(threshold, s.opts.BaseDir, s.logger)
	if err != nil {
		s.handleError(w, err, requestID)
		return
	}
	report, err := engine.CompareStore(r.Context(), s.store)
	if err != nil {
		s.handleError(w, err, requestID)
		return
	}

	var buf bytes.Buffer
	if err := compare.WriteJSON(&buf, report); err != nil {
		s.handleError(w, err, requestID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("error writing response", "error", err)
	}
}

// GetMosaic stitches the stored tiles into one PNG
func (s *Server) GetMosaic(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	role := tile.RoleStyled
	var param *string
	if err := runtime.BindQueryParameter("form", true, false, "role", r.URL.Query(), &param); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), requestID, map[string]any{"parameter": "role"})
		return
	}
	if param != nil {
		role = tile.Role(*param)
	}
	if role != tile.RoleStyled && role != tile.RoleOriginal {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_PARAMETER",
			fmt.Sprintf("role must be %s or %s", tile.RoleStyled, tile.RoleOriginal), requestID, map[string]any{"parameter": "role"})
		return
	}

	st := stitcher.New(stitcher.Options{Role: role}, s.logger)
	result, err := st.Stitch(r.Context(), s.store)
	if err != nil {
		s.handleError(w, err, requestID)
		return
	}

	data, err := raster.EncodeBytes(result.Image, raster.FormatPNG, 0)
	if err != nil {
		s.handleError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", raster.MIMEType(raster.FormatPNG))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Tile-Count", strconv.Itoa(result.Pasted))
	w.Header().Set("X-Gap-Count", strconv.Itoa(len(result.Gaps)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("error writing response", "error", err)
	}
}

// handleError maps an error onto a status code and error body
func (s *Server) handleError(w http.ResponseWriter, err error, requestID string) {
	var noTiles *stitcher.NoValidTilesError
	if errors.As(err, &noTiles) {
		failed := make([]FailedTile, len(noTiles.FailedTiles))
		for i, ft := range noTiles.FailedTiles {
			failed[i] = FailedTile{Tile: ft.Index.String(), Name: ft.Name, Error: ft.Error}
		}
		s.writeJSON(w, http.StatusNotFound, NoTilesResponse{
			Error:       "NO_VALID_TILES",
			Message:     noTiles.Message,
			FailedTiles: failed,
			TotalTiles:  noTiles.TotalTiles,
			RequestId:   optional(requestID),
		})
		return
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, http.StatusGatewayTimeout, "TIMEOUT", "request timed out", requestID, nil)
	case errors.Is(err, context.Canceled):
		// client went away
		s.logger.Debug("request cancelled", "request_id", requestID)
	case errors.Is(err, failure.ErrConfiguration):
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), requestID, nil)
	default:
		s.logger.Error("request failed", "request_id", requestID, "error", err, "code", failure.Classify(err))
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", requestID, nil)
	}
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message, requestID string, details map[string]any) {
	response := ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: optional(requestID),
	}
	if details != nil {
		response.Details = &details
	}
	s.writeJSON(w, statusCode, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("error encoding response", "error", err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
