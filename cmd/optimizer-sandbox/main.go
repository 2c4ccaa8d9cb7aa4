// Command optimizer-sandbox serves a local stand-in for the route optimizer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"routeopt/internal/config"
	"routeopt/internal/logging"
	"routeopt/internal/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Production())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	if cfg.Production() {
		logger.Fatal("the sandbox optimizer must not run in production")
	}

	sb := sandbox.New(logger.Named("sandbox"))
	addr := fmt.Sprintf(":%d", cfg.SandboxPort)
	srv := &http.Server{Addr: addr, Handler: sb.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("sandbox optimizer listening", zap.String("addr", addr), zap.String("model", sandbox.ModelVersion))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// SIGUSR1 flips health so the API's unavailable path can be exercised by hand.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	healthy := true
	for s := range sig {
		if s == syscall.SIGUSR1 {
			healthy = !healthy
			sb.SetHealthy(healthy)
			logger.Info("sandbox health toggled", zap.Bool("healthy", healthy))
			continue
		}
		break
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
