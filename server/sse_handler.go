package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"tokenvelocity/internal/logging"
)

const defaultSSEKeepAlive = 30 * time.Second

// SSEHandler handles Server-Sent Events for benchmark progress
type SSEHandler struct {
	jobManager *JobManager
	logger     *logging.Logger
	keepAlive  time.Duration
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(jobManager *JobManager, logger *logging.Logger) *SSEHandler {
	return &SSEHandler{
		jobManager: jobManager,
		logger:     logging.OrDefault(logger),
		keepAlive:  defaultSSEKeepAlive,
	}
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

func (h *SSEHandler) ping(c *gin.Context) {
	c.Writer.WriteString(fmt.Sprintf("data: {\"type\":\"ping\",\"timestamp\":%q}\n\n", time.Now().Format(time.RFC3339)))
	c.Writer.Flush()
}

// StreamJobProgress streams job updates until the job stops or the client
// disconnects
func (h *SSEHandler) StreamJobProgress(c *gin.Context) {
	jobID := c.Param("jobId")

	if _, exists := h.jobManager.GetJob(jobID); !exists {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Not Found",
			Message: "Job not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	// Register before reading the snapshot so no transition is missed.
	updateChan := h.jobManager.RegisterSSEListener(jobID)
	defer h.jobManager.UnregisterSSEListener(jobID, updateChan)

	job, _ := h.jobManager.GetJob(jobID)
	setSSEHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.WriteString(job.ToSSEMessage())
	c.Writer.Flush()
	if job.Terminal() {
		return
	}

	ctx := c.Request.Context()
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.InfoWithContext(&logging.LogContext{JobID: jobID}, "SSE connection closed for job")
			return
		case <-ticker.C:
			h.ping(c)
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			c.Writer.WriteString(update.ToSSEMessage())
			c.Writer.Flush()
			if update.Terminal() {
				return
			}
		}
	}
}

// StreamSystemStatus streams the global job status
func (h *SSEHandler) StreamSystemStatus(c *gin.Context) {
	listener := h.jobManager.RegisterSystemStatusListener()
	defer h.jobManager.UnregisterSystemStatusListener(listener)

	setSSEHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ping(c)
		case status, ok := <-listener:
			if !ok {
				return
			}
			data, err := sonic.Marshal(status)
			if err != nil {
				h.logger.Error("Failed to marshal system status: %v", err)
				continue
			}
			c.Writer.WriteString(fmt.Sprintf("data: %s\n\n", data))
			c.Writer.Flush()
		}
	}
}
