package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/gin-gonic/gin"

	"tokenvelocity/internal/api"
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/velocity"
	"tokenvelocity/server"
)

// discoveryTimeout bounds provider discovery at startup.
const discoveryTimeout = 30 * time.Second

func Run() error {
	// Initialize logger first
	logging.App = logging.New()
	logger := logging.App

	config := server.LoadEnvironmentConfig()
	for _, problem := range server.ValidateEnvironmentConfig() {
		logger.Warn("⚠️ Configuration: %s", problem)
	}

	// Set Gin mode based on environment
	if config.GinMode == "" {
		gin.SetMode(gin.DebugMode)
	}

	discoverCtx, cancelDiscovery := context.WithTimeout(context.Background(), discoveryTimeout)
	catalog, err := server.DiscoverProviders(discoverCtx, config, &http.Client{Timeout: discoveryTimeout}, logger)
	cancelDiscovery()
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}

	opener := velocity.FromTransport(api.NewTransport(logger))
	app := server.New(config, server.LoadCORSConfigFromEnv(), catalog, opener, logger)
	router := server.NewRouter(app)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", config.Port),
		Handler:        router,
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   0, // SSE and WebSocket streams stay open
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("Server starting on port %s", config.Port)
		logger.Info("%d providers from %s, provider timeout %s", catalog.Count, catalog.Source,
			units.HumanDuration(config.ProviderTimeout))
		logger.Info("API endpoints available at http://localhost:%s/api", config.Port)
		logger.Info("UI available at http://localhost:%s/ui", config.Port)
		logger.Info("WebSocket endpoint available at ws://localhost:%s/ws", config.Port)
		if config.MetricsDir != "" {
			logger.Info("Metrics snapshots written to %s", config.MetricsDir)
		}

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	app.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited gracefully")
	return nil
}
