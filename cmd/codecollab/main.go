/*
Package main is the entry point for the collaboration server.

It loads configuration, initializes the global logging system, builds the
connection gate and the collaboration hub, starts the HTTP server, and handles
operating system interrupt signals (SIGINT, SIGTERM) for a graceful shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codecollab/internal/app/collab"
	"codecollab/internal/configs"
	"codecollab/internal/handler"
	"codecollab/internal/pkg/auth/jwt"
	"codecollab/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("public_key_path", cfg.PublicKeyPath).
		Msg("Configuration loaded successfully")

	// Build the connection gate
	publicKey, err := jwt.LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		logx.Fatal(err, "Failed to load credential public key")
	}
	verifier := jwt.NewVerifier(publicKey, cfg.AuthVerifyTimeout)

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The registry is the single shared mutable resource: created here,
	// injected into the hub, torn down with it.
	registry := collab.NewRegistry()
	hub := collab.NewHub(registry)

	deps := &handler.AppDeps{
		Hub:      hub,
		Config:   cfg,
		Verifier: verifier,
	}

	router := handler.Router(deps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Collaboration server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	hub.Shutdown()

	logx.Info("Server gracefully stopped.")
}
