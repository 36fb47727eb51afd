package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/api"
	"github.com/mohamedkhairy/momentum-screener/internal/app"
	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/scheduler"
	"github.com/mohamedkhairy/momentum-screener/internal/wsgateway"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting screener API service",
		logger.Int("port", cfg.API.Port),
		logger.Int("rate_limit_rps", cfg.API.RateLimitRPS),
		logger.String("cron", cfg.Scheduler.Cron),
	)

	// The hub receives every committed batch in-process
	hub := wsgateway.NewHub(cfg.WSGateway, wsgateway.NewAuthManager(cfg.WSGateway.JWTSecret))
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start WebSocket hub", logger.ErrorField(err))
	}

	ctx := context.Background()
	screenerApp, err := app.New(ctx, cfg, app.WithPublisher(hub))
	if err != nil {
		logger.Fatal("Failed to assemble screener", logger.ErrorField(err))
	}
	defer screenerApp.Close()

	sched, err := scheduler.NewFromConfig(cfg.Scheduler, screenerApp.Pipeline, cfg.Timeouts.Run)
	if err != nil {
		logger.Fatal("Failed to initialize scheduler", logger.ErrorField(err))
	}

	handler := api.NewRouter(api.Deps{
		Scanner:   screenerApp.Pipeline,
		Tickers:   screenerApp.Session,
		Archive:   screenerApp.Archive,
		WebSocket: hub,
		Ready:     screenerApp.Ready,
	}, cfg.API)

	// Refreshes can take as long as a full run
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Timeouts.Run + 10*time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server",
			logger.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server",
				logger.ErrorField(err),
			)
		}
	}()

	sched.Start(cfg.Scheduler.RunOnStart)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down screener API service")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}
	hub.Stop()

	logger.Info("Screener API service stopped")
}
