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

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/gateway"
	"github.com/wudi/gateway/internal/logging"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 normal shutdown, 1 invalid
// configuration (including a missing JWT secret in production, which config
// validation rejects) or a logger/server/shutdown error, 2 gateway.New failed.
func run() int {
	configPath := flag.String("config", "configs/gateway.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gateway %s\n", version)
		return 0
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		return 0
	}

	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}
	logging.SetGlobal(logger)
	defer logger.Sync()

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		logger.Sugar().Errorf("failed to initialize gateway: %v", err)
		return 2
	}
	defer gw.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      gw.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Sugar().Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Sugar().Errorf("server error: %v", err)
		return 1
	case sig := <-sigCh:
		logger.Sugar().Infof("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Errorf("graceful shutdown failed: %v", err)
		return 1
	}
	return 0
}
