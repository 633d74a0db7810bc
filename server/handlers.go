package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/metrics"
	"tokenvelocity/internal/registry"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Handlers contains the HTTP handlers of the API
type Handlers struct {
	service    *BenchmarkService
	jobManager *JobManager
	catalog    *ProviderCatalog
	metrics    metrics.Reader
	recentRuns int
	hub        *Hub
	logger     *logging.Logger
}

func abortWithError(c *gin.Context, code int, message string) {
	c.JSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

// statusFor maps benchmark and registry errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, benchmark.ErrEmptyPrompt),
		errors.Is(err, benchmark.ErrNoActiveProviders),
		errors.Is(err, registry.ErrUnknownProvider):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HealthHandler returns server health status
func (h *Handlers) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   Version,
		Timestamp: time.Now(),
	})
}

// SystemStatusHandler returns the global system status
func (h *Handlers) SystemStatusHandler(c *gin.Context) {
	status := h.jobManager.GetSystemStatus()
	c.JSON(http.StatusOK, gin.H{
		"activeJobs":       status.ActiveJobs,
		"isBusy":           status.IsBusy,
		"totalJobs":        status.TotalJobs,
		"timestamp":        status.Timestamp,
		"providers":        h.catalog.Count,
		"activeProviders":  h.service.Selection().Active().Len(),
		"providerSource":   h.catalog.Source,
		"websocketClients": h.hub.ClientCount(),
	})
}

func (h *Handlers) providersResponse() ProvidersResponse {
	selection := h.service.Selection()
	flags := selection.Flags()
	providers := selection.Registry().Providers()

	resp := ProvidersResponse{
		Providers: make([]ProviderView, 0, len(providers)),
		Count:     len(providers),
		Source:    h.catalog.Source,
	}
	for _, cfg := range providers {
		view := newProviderView(cfg, flags[cfg.Key])
		if view.Active {
			resp.Active++
		}
		resp.Providers = append(resp.Providers, view)
	}
	return resp
}

// ProvidersHandler lists the registered providers with their activation
func (h *Handlers) ProvidersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.providersResponse())
}

// SetActiveProvidersHandler applies several activation flags at once
func (h *Handlers) SetActiveProvidersHandler(c *gin.Context) {
	var req ActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}
	if err := h.service.Selection().Set(req.Providers); err != nil {
		abortWithError(c, statusFor(err), err.Error())
		return
	}
	h.logger.InfoWithFields("Provider selection updated", map[string]interface{}{
		"requestId": c.GetString("requestId"),
		"flags":     req.Providers,
	})
	c.JSON(http.StatusOK, h.providersResponse())
}

func (h *Handlers) toggleProvider(c *gin.Context, on bool) {
	key := c.Param("key")
	selection := h.service.Selection()

	var err error
	if on {
		err = selection.Activate(key)
	} else {
		err = selection.Deactivate(key)
	}
	if errors.Is(err, registry.ErrUnknownProvider) {
		abortWithError(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}

	cfg, _ := selection.Registry().Lookup(key)
	c.JSON(http.StatusOK, newProviderView(cfg, on))
}

// ActivateProviderHandler includes a provider in subsequent runs
func (h *Handlers) ActivateProviderHandler(c *gin.Context) {
	h.toggleProvider(c, true)
}

// DeactivateProviderHandler excludes a provider from subsequent runs
func (h *Handlers) DeactivateProviderHandler(c *gin.Context) {
	h.toggleProvider(c, false)
}

// BenchmarkHandler runs a benchmark and answers once every provider finished
func (h *Handlers) BenchmarkHandler(c *gin.Context) {
	var req BenchmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}

	logCtx := &logging.LogContext{RequestID: c.GetString("requestId"), Operation: "benchmark"}
	h.logger.InfoWithContext(logCtx, "Starting synchronous benchmark")

	run, err := h.service.Run(c.Request.Context(), "", req.Prompt, req.Providers, nil)
	if err != nil {
		h.logger.ErrorWithContext(logCtx, "Benchmark failed: %v", err)
		abortWithError(c, statusFor(err), err.Error())
		return
	}

	logCtx.RunID = run.ID
	h.logger.InfoWithContext(logCtx, "Benchmark completed in %s", run.Duration())
	c.JSON(http.StatusOK, run)
}

// StartBenchmarkHandler starts a background benchmark job and returns its ID
func (h *Handlers) StartBenchmarkHandler(c *gin.Context) {
	var req BenchmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("StartBenchmark failed to bind JSON: %v", err)
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}

	job, err := h.jobManager.StartJob(req)
	if err != nil {
		abortWithError(c, statusFor(err), err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":     job.ID,
		"message":   "Benchmark job started successfully",
		"status":    job.Status,
		"providers": job.Providers,
		"sse": gin.H{
			"url":     "/api/jobs/" + job.ID + "/stream",
			"message": "Connect to SSE endpoint for real-time progress updates",
		},
		"websocket": "/ws",
	})
}

// GetJobStatus returns the current status of a job
func (h *Handlers) GetJobStatus(c *gin.Context) {
	job, exists := h.jobManager.GetJob(c.Param("jobId"))
	if !exists {
		abortWithError(c, http.StatusNotFound, "Job not found")
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs returns all jobs
func (h *Handlers) ListJobs(c *gin.Context) {
	jobs := h.jobManager.ListJobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob cancels a running job
func (h *Handlers) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")

	if !h.jobManager.CancelJob(jobID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Job not found or not cancellable",
			"jobId":  jobID,
			"status": "not_found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled successfully",
		"jobId":   jobID,
		"status":  JobStatusCancelled,
	})
}

// CleanupJobs removes finished jobs older than an hour
func (h *Handlers) CleanupJobs(c *gin.Context) {
	removed := h.jobManager.CleanupOldJobs(time.Hour)
	c.JSON(http.StatusOK, gin.H{"message": "Old jobs cleaned up", "removed": removed})
}

// ExportJobHandler downloads a completed job's run as JSON or CSV
func (h *Handlers) ExportJobHandler(c *gin.Context) {
	job, exists := h.jobManager.GetJob(c.Param("jobId"))
	if !exists {
		abortWithError(c, http.StatusNotFound, "Job not found")
		return
	}
	if job.Result == nil {
		abortWithError(c, http.StatusConflict, fmt.Sprintf("Job is %s and has no results", job.Status))
		return
	}

	stamp := job.Result.CompletedAt.Format("20060102_150405")
	switch format := c.DefaultQuery("format", "json"); format {
	case "json":
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=velocity_results_%s.json", stamp))
		c.JSON(http.StatusOK, job.Result)
	case "csv":
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=velocity_results_%s.csv", stamp))
		c.Data(http.StatusOK, "text/csv", []byte(generateCSV(job.Result)))
	default:
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Unsupported export format %q", format))
	}
}

// generateCSV converts a run to CSV format
func generateCSV(run *benchmark.Run) string {
	var csv strings.Builder

	csv.WriteString("Provider,Name,Model,Status,Average (tokens/s),Peak (tokens/s),Lowest (tokens/s),Samples,Failure,Timestamp\n")
	for _, res := range run.Ordered() {
		csv.WriteString(fmt.Sprintf("%s,%s,%s,%s,%.2f,%.2f,%.2f,%d,%s,%s\n",
			escapeCsvField(res.Provider),
			escapeCsvField(res.Name),
			escapeCsvField(res.Model),
			res.Status,
			res.Average,
			res.Peak,
			res.Lowest,
			len(res.Samples),
			res.Failure,
			run.CompletedAt.Format(time.RFC3339),
		))
	}
	return csv.String()
}

// escapeCsvField escapes CSV field if it contains special characters
func escapeCsvField(field string) string {
	if strings.ContainsAny(field, ",\"\n") {
		return fmt.Sprintf(`"%s"`, strings.ReplaceAll(field, `"`, `""`))
	}
	return field
}

// LatestMetricsHandler returns the velocity of the most recent run
func (h *Handlers) LatestMetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Latest())
}

// RecentMetricsHandler returns the last runs, oldest first. ?n= overrides
// the configured count; the sink caps it at its history.
func (h *Handlers) RecentMetricsHandler(c *gin.Context) {
	n := h.recentRuns
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Invalid run count %q", raw))
			return
		}
		n = v
	}
	c.JSON(http.StatusOK, h.metrics.Recent(n))
}

// ProviderMetricsHandler returns per-provider statistics across runs
func (h *Handlers) ProviderMetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Providers())
}

// ProviderMetricHandler returns the statistics of one provider by display
// name
func (h *Handlers) ProviderMetricHandler(c *gin.Context) {
	name := c.Param("name")
	pm, ok := h.metrics.Providers()[name]
	if !ok {
		abortWithError(c, http.StatusNotFound, fmt.Sprintf("No metrics for provider %q", name))
		return
	}
	c.JSON(http.StatusOK, pm)
}
