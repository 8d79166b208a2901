package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/insurepredict/internal/api"
	"github.com/kalambet/insurepredict/internal/config"
	"github.com/kalambet/insurepredict/internal/ingest"
	"github.com/kalambet/insurepredict/internal/metrics"
	"github.com/kalambet/insurepredict/internal/predict"
	"github.com/kalambet/insurepredict/internal/schema"
	"github.com/kalambet/insurepredict/internal/session"
	"github.com/kalambet/insurepredict/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload page and session API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

// setupLogging installs the default slog handler on stderr.
func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// buildPipeline resolves the configured schema and row cap.
func buildPipeline(cfg config.Config) (*ingest.Pipeline, error) {
	sch, err := schema.Lookup(cfg.Ingest.Schema)
	if err != nil {
		return nil, err
	}
	return ingest.NewPipeline(sch, cfg.Ingest.MaxPreviewRows), nil
}

func serverURL(cfg config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "insurepredict version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		printWarning("insurepredict is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, err := storage.Open()
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	versions, err := store.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	slog.Debug("storage ready", "migrations", versions)

	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	predictor, err := predict.New(cfg.Predict)
	if err != nil {
		return fmt.Errorf("building predictor: %w", err)
	}
	if predictor.Mode() == config.ModeStub {
		slog.Warn("using the stub predictor; responses are placeholders", "kind", cfg.Predict.StubResponse)
	}

	mgr := session.NewManager(pipeline, predictor, store)
	handler := api.NewHandler(api.Deps{
		Sessions:       mgr,
		MaxUploadBytes: int64(cfg.Ingest.MaxUploadBytes),
		Version:        version,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server started",
			"addr", addr,
			"schema", pipeline.Schema().Name,
			"max_preview_rows", pipeline.MaxRows(),
			"predict_mode", predictor.Mode(),
		)
		fmt.Fprintf(os.Stderr, "insurepredict listening on http://%s\n", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	mgr.Close(shutdownCtx)
	return err
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(serverURL(cfg) + "/health")
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	default:
		var health struct {
			Version     string `json:"version"`
			Sessions    int    `json:"sessions"`
			Uploads     int    `json:"uploads"`
			UploadBytes int64  `json:"upload_bytes"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		printStatus("Server", "running on port %d", cfg.Server.Port)
		if decodeErr == nil {
			printStatus("Version", "%s", health.Version)
			printStatus("Sessions", "%d", health.Sessions)
			printStatus("Uploads", "%d (%d bytes)", health.Uploads, health.UploadBytes)
		}
	}

	printStatus("Schema", "%s", cfg.Ingest.Schema)
	printStatus("Preview cap", "%d rows", cfg.Ingest.MaxPreviewRows)
	switch cfg.Predict.Mode {
	case config.ModeRemote:
		printStatus("Predictor", "remote at %s", cfg.Predict.BaseURL)
	default:
		printStatus("Predictor", "stub (%s)", cfg.Predict.StubResponse)
	}
	printStatus("Config file", "%s", config.FilePath())
	return nil
}
