package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes for the server
func SetupRoutes(router *gin.Engine, s *Server) {
	handlers := s.Handlers()
	sseHandler := NewSSEHandler(s.JobManager, s.Logger)

	// Apply global middleware in order
	router.Use(RecoveryMiddleware(s.Logger))
	router.Use(RequestIDMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware(s.CORS))
	router.Use(LoggingMiddleware(s.Logger))
	router.Use(ErrorHandlingMiddleware())

	// Live samples, results and job transitions
	router.GET("/ws", s.Hub.ServeWS)

	api := router.Group("/api")
	{
		api.Use(RequestValidationMiddleware())

		api.GET("/health", handlers.HealthHandler)
		api.GET("/status", handlers.SystemStatusHandler)
		api.GET("/system-status/stream", sseHandler.StreamSystemStatus)

		// Provider registry and activation
		api.GET("/providers", handlers.ProvidersHandler)
		api.PUT("/providers/active", handlers.SetActiveProvidersHandler)
		api.POST("/providers/:key/activate", handlers.ActivateProviderHandler)
		api.POST("/providers/:key/deactivate", handlers.DeactivateProviderHandler)

		// Benchmark execution
		api.POST("/benchmark", handlers.BenchmarkHandler)
		api.POST("/benchmark/async", handlers.StartBenchmarkHandler)

		// Jobs
		api.GET("/jobs", handlers.ListJobs)
		api.DELETE("/jobs", handlers.CleanupJobs)
		api.GET("/jobs/:jobId", handlers.GetJobStatus)
		api.POST("/jobs/:jobId/cancel", handlers.CancelJob)
		api.GET("/jobs/:jobId/stream", sseHandler.StreamJobProgress)
		api.GET("/jobs/:jobId/export", handlers.ExportJobHandler)

		// Recorded metrics
		api.GET("/metrics/latest", handlers.LatestMetricsHandler)
		api.GET("/metrics/recent", handlers.RecentMetricsHandler)
		api.GET("/metrics/providers", handlers.ProviderMetricsHandler)
		api.GET("/metrics/providers/all", handlers.ProviderMetricsHandler)
		api.GET("/metrics/provider/:name", handlers.ProviderMetricHandler)
	}

	staticPath := os.Getenv("STATIC_PATH")
	if staticPath == "" {
		staticPath = "dist"
	}

	// Root endpoint - redirect to /ui or show API info
	router.GET("/", func(c *gin.Context) {
		indexPath := filepath.Join(staticPath, "index.html")
		if _, err := os.Stat(indexPath); os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{
				"message": "Token Velocity Benchmark API",
				"version": Version,
				"status":  "ok",
				"endpoints": gin.H{
					"health":    "/api/health",
					"providers": "/api/providers",
					"benchmark": "/api/benchmark",
					"jobs":      "/api/jobs",
					"metrics": gin.H{
						"latest":    "/api/metrics/latest",
						"recent":    "/api/metrics/recent",
						"providers": "/api/metrics/providers/all",
					},
					"websocket": "/ws",
				},
			})
			return
		}
		c.Redirect(http.StatusMovedPermanently, "/ui/")
	})

	router.StaticFS("/ui", http.Dir(staticPath))

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not Found",
				Message: "The requested endpoint does not exist",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested resource does not exist",
		})
	})
}

// NewRouter builds a gin engine with every route of s
func NewRouter(s *Server) *gin.Engine {
	router := gin.New()
	SetupRoutes(router, s)
	return router
}
