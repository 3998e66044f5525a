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

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"hashland/pkg/env"
	"hashland/pkg/initialization"
	"hashland/pkg/logger"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	// Load environment variables for logger and bootstrap
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	// Initialize Logger early so bootstrap can use it
	logger.Init(env.LogLevel())
	logger.Info("Starting Hashland", "version", Version)

	comp, err := initialization.Bootstrap()
	if err != nil {
		initialization.WaitForInputAndExit(err)
	}
	cfg := comp.Config
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go comp.Hub.Run(ctx)
	go comp.Users.RunCleanup(ctx, time.Hour)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           comp.API.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner(addr, comp.Resolver.Providers(), cfg.LoadedPath)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		initialization.WaitForInputAndExit(fmt.Errorf("server failed: %w", err))
	}

	// Close sockets first so Shutdown does not wait on hijacked connections.
	comp.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "err", err)
	}
	logger.Info("Server stopped")
	logger.Close()
}

func printBanner(addr string, providers []string, configPath string) {
	title := color.New(color.FgCyan, color.Bold)
	title.Println("Hashland relay")
	fmt.Printf("  %s %s\n", color.GreenString("listen   "), addr)
	fmt.Printf("  %s ws://<host>%s/ws\n", color.GreenString("relay    "), addr)
	fmt.Printf("  %s %v\n", color.GreenString("providers"), providers)
	fmt.Printf("  %s %s\n", color.GreenString("config   "), configPath)
}
