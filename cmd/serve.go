package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kiesman99/mapstyle/internal/server"
	"github.com/kiesman99/mapstyle/internal/store"
	"github.com/kiesman99/mapstyle/pkg/tile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the tile store",
	Long: `Start an HTTP server that exposes the tile directory as a REST API.

Endpoints:
  GET /api/v1/health
  GET /api/v1/tiles?min_x=&max_x=&min_y=&max_y=[&zoom=]
  GET /api/v1/report[?threshold=]
  GET /api/v1/mosaic[?role=styled|original]

Examples:
  # Start server on default port 8080
  mapstyle serve

  # Start server with custom bind address
  mapstyle serve --bind 0.0.0.0 --port 8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 60*time.Second, "request timeout")

	bindFlags(serveCmd.Flags(), map[string]string{
		"server.bind":    "bind",
		"server.port":    "port",
		"server.timeout": "timeout",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.NewFS(afero.NewOsFs(), cfg.Output.Dir)
	if err != nil {
		return err
	}
	apiServer := server.NewServer(st, server.Options{
		Version:          Version,
		Grid:             tile.SwissGrid(),
		Zoom:             cfg.Tiles.Zoom,
		CompareThreshold: cfg.Compare.Threshold,
		BaseDir:          cfg.Output.Dir,
	}, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(cfg.Server.Timeout),
		ReadHeaderTimeout: 10 * time.Second,
		// mosaics of large stores take a while to encode
		WriteTimeout: cfg.Server.Timeout + 10*time.Second,
	}

	// Graceful shutdown
	ctx := cmd.Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting mapstyle server", "addr", addr, "dir", st.Dir())
	fmt.Fprintf(cmd.ErrOrStderr(), "Health check: http://%s/api/v1/health\n", addr)
	fmt.Fprintf(cmd.ErrOrStderr(), "Mosaic: http://%s/api/v1/mosaic\n", addr)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-done
	return nil
}
