package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/boardsync/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := server.NewConfigFromEnv()
	logger := server.NewLogger(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(cfg, logger)
	logger.Info("starting boardsync",
		"port", srv.Config().Port,
		"room_policy", string(srv.Registry().Policy()),
		"allowed_origins", srv.Config().AllowedOrigins)
	srv.Start()

	httpServer := server.CreateServer(srv.Config().Port, srv.Handler())

	go func() {
		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server crashed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
		logger.Error("http shutdown incomplete", "err", err)
	}
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		logger.Error("relay shutdown incomplete", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
