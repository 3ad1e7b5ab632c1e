package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fr0stylo/platesync/internal/adapters"
	"github.com/fr0stylo/platesync/internal/app/ports"
	"github.com/fr0stylo/platesync/internal/app/services"
	"github.com/fr0stylo/platesync/internal/config"
	"github.com/fr0stylo/platesync/internal/notify"
	"github.com/fr0stylo/platesync/internal/observability"
	"github.com/fr0stylo/platesync/internal/server"
	"github.com/fr0stylo/platesync/internal/server/routes"
)

func Run() error {
	baseHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	log := slog.New(observability.WrapSlogHandler(baseHandler))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.SetupOpenTelemetry(ctx, log, observability.OpenTelemetryConfig{
		Enabled:           cfg.Observability.Enabled,
		OTLPEndpoint:      cfg.Observability.OTLPEndpoint,
		OTLPTraceHeaders:  cfg.Observability.OTLPTraceHeaders,
		OTLPMetricHeaders: cfg.Observability.OTLPMetricHeaders,
		ServiceName:       cfg.Observability.ServiceName,
		ServiceVer:        cfg.Observability.ServiceVer,
		SamplingRatio:     cfg.Observability.SamplingRatio,
		MetricsConsole:    cfg.Observability.MetricsConsole,
		StoreBackend:      cfg.Database.Driver,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	backend, err := adapters.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	if cfg.Database.LogTiming {
		go logDBLatencyStats(ctx, log, backend)
	}

	events := notify.NewBroadcaster()
	observers := []ports.JobObserver{events}
	if cfg.Notify.URL != "" {
		observers = append(observers, &notify.Webhook{
			Endpoint: cfg.Notify.URL,
			Token:    cfg.Notify.Token,
			Secret:   cfg.Notify.Secret,
			Timeout:  cfg.Notify.Timeout,
		})
		slog.Info("Import notifications enabled", "endpoint", cfg.Notify.URL)
	}

	imports := services.NewImportService(backend.Stores, cfg.ImportOptions(), cfg.Import.InitialStatus, observers...)
	if _, err := imports.RecoverInterrupted(ctx, cfg.Import.StaleAfter); err != nil {
		return err
	}

	srv := server.New(log)
	srv.RegisterRouter(routes.NewImportRoutes(imports, events))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", cfg.Server.Port, "driver", backend.Driver)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := imports.Shutdown(shutdownCtx); err != nil {
		slog.Error("Import runs did not stop in time", "error", err, "running", imports.Running())
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shutdown server", "error", err)
	}
	return nil
}

func main() {
	if err := Run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func logDBLatencyStats(ctx context.Context, log *slog.Logger, backend *adapters.Backend) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := backend.QueryLatencyStats()
		limit := min(5, len(stats))
		for index := 0; index < limit; index++ {
			entry := stats[index]
			log.Info("db_query_latency",
				"driver", backend.Driver,
				"query", entry.Name,
				"count", entry.Count,
				"p50_ms", entry.P50.Milliseconds(),
				"p95_ms", entry.P95.Milliseconds(),
				"max_ms", entry.Max.Milliseconds(),
			)
		}
	}
}
