package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/middleware"
	"scribe/internal/parcel"
	"scribe/internal/workspace"

	"go.uber.org/zap"
)

func main() {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal("failed to get working directory:", err)
	}
	root, err := workspace.FindRoot(wd)
	if err != nil {
		log.Fatal(err)
	}

	// Load configuration
	cfg, err := config.ForRoot(root)
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	p, err := parcel.New(root, parcel.Options{Config: cfg, Logger: logger.Logger})
	if err != nil {
		logger.Fatal("failed to open working tree", zap.Error(err))
	}
	defer p.Close()

	if _, err := p.Recover(context.Background()); err != nil {
		logger.Error("recovering interrupted transactions", zap.Error(err))
	}

	// Set up router
	mux := http.NewServeMux()
	api.NewHandler(p, logger).Register(mux)

	// Apply middleware
	handler := middleware.Chain(
		mux,
		middleware.Logger(logger),
		middleware.Recover(logger),
		middleware.RequestID,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		logger.Info("starting server", zap.String("address", addr), zap.String("root", p.Root))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
