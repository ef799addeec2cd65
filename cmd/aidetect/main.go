package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	internal "github.com/ZanzyTHEbar/aidetect/detect"
	"github.com/ZanzyTHEbar/aidetect/detect/config"
	"github.com/ZanzyTHEbar/aidetect/detect/server"
	"github.com/ZanzyTHEbar/aidetect/detect/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search ./config.yaml, /etc/aidetect, ~/.config/aidetect)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		internal.GetLogger().Fatal().Err(err).Msg("aidetect exited")
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := internal.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	det := service.New(service.OptionsFromConfig(cfg), logger)
	defer det.Close()
	if err := det.Start(ctx); err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	handler := server.NewHandler(det, server.Options{PredictTimeout: cfg.Server.PredictTimeout}, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(handler, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server failure")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	return runErr
}
