package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/device"
	"github.com/Brownie44l1/xray-api/internal/handlers"
	"github.com/Brownie44l1/xray-api/internal/logger"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.AppName, cfg.AppLogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(cfg *config.Configs) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := model.InitRuntime(cfg.OnnxLibPath); err != nil {
		return err
	}
	defer model.ShutdownRuntime()

	kind := device.Probe(cfg.DeviceForceCPU)
	pipeline := preprocess.Default()

	log.Info().Str("model", cfg.ModelPath).Str("device", kind.String()).Msg("Loading model")

	modelServer, err := model.NewServer(cfg.ModelPath, pipeline.Shape(), kind)
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	handler := handlers.NewHandler(modelServer, pipeline, kind, cfg.ServerMaxUploadBytes)
	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: handlers.NewRouter(handler, cfg.IsProduction()),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.AppPort).Msg("Server starting")
		log.Info().Msg("  GET  /health  - Health check")
		log.Info().Msg("  POST /predict - Classify an uploaded chest X-ray (form field 'file')")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
