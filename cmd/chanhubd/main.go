// Command chanhubd runs a chanhub pub/sub broadcast server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/arlonorlan/chanhub/internal/config"
	"github.com/arlonorlan/chanhub/internal/logging"
	"github.com/arlonorlan/chanhub/internal/server"
	_ "go.uber.org/automaxprocs"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	startupLog := log.New(os.Stdout, "[chanhubd] ", log.LstdFlags)
	startupLog.Printf("GOMAXPROCS: %d (via automaxprocs)", runtime.GOMAXPROCS(0))

	cfg, err := config.Load(nil)
	if err != nil {
		startupLog.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	srv := server.New(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrc := make(chan error, 1)
	go func() {
		serveErrc <- srv.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErrc:
		if err != nil {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}
