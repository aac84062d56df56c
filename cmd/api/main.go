package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"example.com/taskboard/internal/app"
	"example.com/taskboard/internal/config"
	"example.com/taskboard/internal/server"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "", 0)
	a, err := app.New(cfg, logger)
	if err != nil {
		// No degraded mode: an unreachable store halts the process.
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	srv := server.New(cfg.HTTPAddr, a.Router, logger)
	log.Printf("server listening on %s (env=%s storage=%s)", cfg.HTTPAddr, cfg.Env, cfg.Storage)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	select {
	case sig := <-stop:
		log.Printf("signal %s received, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server error: %v", err)
	}
}
