package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/logging"
	"github.com/mchmarny/metarank/pkg/metrics"
	"github.com/urfave/cli/v2"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 300
	serverMaxHeaderBytes      = 20
	serverPortDefault         = 8080
	serverAddressDefault      = "127.0.0.1"
)

var (
	portFlag = &cli.IntFlag{
		Name:     "port",
		Usage:    "Port on which the server will listen",
		Value:    serverPortDefault,
		Required: false,
	}

	addressFlag = &cli.StringFlag{
		Name:  "address",
		Usage: "Interface on which the server will listen",
		Value: serverAddressDefault,
	}

	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Server log format [text, json]",
		Value: logging.FormatText,
	}

	serverCmd = &cli.Command{
		Name:    "server",
		Aliases: []string{"serve"},
		Usage:   "Start HTTP API over the stored snapshots and runs",
		Action:  cmdStartServer,
		Flags: []cli.Flag{
			addressFlag,
			portFlag,
			logFormatFlag,
		},
	}
)

func cmdStartServer(c *cli.Context) error {
	cfg := getConfig(c)
	slog.SetDefault(logging.NewServerLogger(c.App.ErrWriter, cfg.Config.LogLevel, c.String(logFormatFlag.Name)))

	address := fmt.Sprintf("%s:%d", c.String(addressFlag.Name), c.Int(portFlag.Name))

	s := &http.Server{
		Addr:              address,
		Handler:           makeRouter(cfg.DB, cfg.Config),
		ReadHeaderTimeout: serverTimeoutSeconds * time.Second,
		ReadTimeout:       serverTimeoutSeconds * time.Second,
		WriteTimeout:      serverTimeoutSeconds * time.Second,
		MaxHeaderBytes:    1 << serverMaxHeaderBytes,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server started", "address", fmt.Sprintf("http://%s", address))

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("error starting server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error shutting down server", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

func makeRouter(db *sql.DB, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, metrics.Instrument(pattern, h))
	}

	// Data API
	handle("GET /data/snapshots", snapshotsAPIHandler(db))
	handle("GET /data/snapshots/{id}", snapshotAPIHandler(db))
	handle("GET /data/runs", runsAPIHandler(db))
	handle("GET /data/runs/latest", latestRunAPIHandler(db))
	handle("GET /data/runs/{id}", runAPIHandler(db))
	handle("POST /data/rank", rankAPIHandler(db, cfg))

	// Operations
	handle("GET /health", healthHandler(db))
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}
