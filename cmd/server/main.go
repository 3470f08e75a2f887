package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"JobMailer/internal/api"
	"JobMailer/internal/config"
	"JobMailer/internal/db"
	"JobMailer/internal/email"
	"JobMailer/internal/engine"
	"JobMailer/internal/ingest"
	"JobMailer/internal/metrics"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database (connect + migrate)
	// ------------------------------------------------
	store, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DatabaseConnectAttempts, logger)
	if err != nil {
		logger.Fatal("database setup failed", zap.Error(err))
	}
	defer store.Close()

	// Settings row exists before the first tick or request.
	if _, err := store.Get(ctx); err != nil {
		logger.Fatal("failed to load settings", zap.Error(err))
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Mail Transport
	// ------------------------------------------------
	transports := email.SMTPFactory{
		ResumeDir: cfg.UploadDir,
		Timeout:   cfg.SMTPTimeout,
	}

	// ------------------------------------------------
	// Dispatch Engine + Scheduler
	// ------------------------------------------------
	eng := engine.New(store, store, transports, engine.Options{
		Hours: engine.WorkingHours{
			Start:    cfg.WorkHoursStart,
			End:      cfg.WorkHoursEnd,
			Location: cfg.Location(),
		},
		Log: logger.Named("engine"),
	})

	scheduler := engine.NewScheduler(eng, cfg.TickInterval, logger.Named("scheduler"))
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Store: store,
		Ingest: ingest.New(store, store, transports, ingest.Options{
			UploadDir: cfg.UploadDir,
			MaxRows:   cfg.CSVMaxRows,
			Log:       logger.Named("ingest"),
		}),
		Engine:         eng,
		Scheduler:      scheduler,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Log:            logger.Named("api"),
	}

	router := api.NewRouter(apiHandler, api.RouterOptions{
		Auth: &api.Auth{
			Secret:        []byte(cfg.JWTSecret),
			PasswordHash:  []byte(cfg.AdminPasswordHash),
			TokenDuration: cfg.TokenDuration,
			Disabled:      cfg.AuthDisabled,
		},
		SendLimiter:    api.NewSendLimiter(cfg.SendRatePerMinute, cfg.SendRateBurst),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	if cfg.AuthDisabled {
		logger.Warn("authentication is disabled")
	}

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// Cancels an in-flight drain; the contact being sent stays pending.
	scheduler.Stop()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
