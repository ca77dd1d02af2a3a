package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config()
	cfg.logger.Debug("configuration loaded", "outlets", len(cfg.outlets))

	scheduler := NewScheduler(cfg)
	cfg.logger.Info(
		"starting scheduler",
		"tick", cfg.settings.TickInterval.String(),
		"refresh", cfg.settings.RefreshInterval.String(),
		"initial_weather_state", cfg.weather.State().String(),
	)
	if err := scheduler.Start(); err != nil {
		cfg.logger.Error("scheduler startup failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           cfg.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		cfg.logger.Info("starting server", "port", cfg.port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.logger.Error("server startup failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	cfg.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		cfg.logger.Warn("server shutdown incomplete", "error", err)
	}
	scheduler.Stop()
}

func (cfg *apiConfig) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", cfg.handlerStatus)
	mux.HandleFunc("/healthz", cfg.handlerHealthz)
	mux.HandleFunc("/api/config", cfg.handlerConfig)
	mux.Handle("/metrics", promhttp.Handler())

	if cfg.devMode {
		cfg.logger.Debug("development mode enabled. Registering /dev/reset-state endpoint.")
		mux.HandleFunc("/dev/reset-state", cfg.handlerResetState)
	}

	return metricsMiddleware(corsMiddleware(mux))
}
