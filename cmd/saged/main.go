// Command saged runs the sage daemon: the wired agent runtime behind a
// websocket session endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sage/internal/apperrors"
	"sage/internal/config"
	"sage/internal/di"
	"sage/internal/server"
)

const (
	exitConfig   = 1
	exitStore    = 2
	exitInternal = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "saged: invalid configuration: %v\n", err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := di.NewServices(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "saged: startup failed: %v\n", err)
		if apperrors.Is(err, apperrors.KindStoreUnavailable) {
			return exitStore
		}
		return exitInternal
	}

	srv := server.New(services)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		services.Logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			services.Logger.Error("server failed", "error", err)
			_ = shutdownAll(srv, services)
			return exitInternal
		}
	}

	if err := shutdownAll(srv, services); err != nil {
		services.Logger.Error("shutdown incomplete", "error", err)
		return exitInternal
	}
	return 0
}

func shutdownAll(srv *server.Server, services *di.Services) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srvErr := srv.Shutdown(ctx)
	svcErr := services.Shutdown(ctx)
	if srvErr != nil {
		return srvErr
	}
	return svcErr
}
