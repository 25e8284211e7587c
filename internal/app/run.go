package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"agent-triggers/internal/auth"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/config"
)

// shutdownTimeout bounds graceful shutdown of workers and the listener
const shutdownTimeout = 30 * time.Second

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	// Parse command line flags
	var issueToken, workspace string
	flag.StringVar(&issueToken, "issue-token", "", "Print an admin API token for this subject and exit")
	flag.StringVar(&workspace, "workspace", "", "Workspace claim of the token printed by -issue-token")
	flag.Parse()

	// Load and validate configuration
	cfg := config.Load()

	if issueToken != "" {
		return printToken(cfg, issueToken, workspace)
	}

	// Initialize logging
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile, cfg.LogJSON)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefault(logger)
	defer logging.Sync(logger)

	logger.Info("Starting agent trigger service",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("database", cfg.DatabaseType),
		logging.String("dispatch", cfg.DispatchBackend),
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize application
	app, err := New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Start(ctx); err != nil {
		logger.Error("Failed to start background workers", err)
		return err
	}

	// Start server
	srv, _ := app.RunServer()
	if err := srv.Start(); err != nil {
		logger.Error("Server failed to start", err)
		return err
	}

	// Wait for interrupt signal or a listener failure
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-srv.Errors():
	}

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown HTTP server first so no new work arrives
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", err)
	}

	// Shutdown application components
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error during app shutdown", logging.Err(err))
	}

	logger.Info("Server exited")
	return serveErr
}

// printToken mints an admin token with the configured secret
func printToken(cfg *config.Config, subject, workspace string) error {
	a, err := auth.New(cfg.JWTSecret, cfg.JWTTTL, logging.NewNopLogger())
	if err != nil {
		return err
	}
	token, err := a.GenerateJWT(subject, workspace)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
