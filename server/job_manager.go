package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
)

// Job statuses
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job represents a benchmark job with basic status tracking
type Job struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Progress    int              `json:"progress"` // 0-100
	Message     string           `json:"message"`
	Result      *benchmark.Run   `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Request     BenchmarkRequest `json:"request"`
	Providers   []string         `json:"providers"`

	finished   int
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Terminal reports whether the job has stopped
func (j Job) Terminal() bool {
	return j.Status != JobStatusRunning
}

// snapshot copies the exported state so it can leave the manager lock
func (j *Job) snapshot() Job {
	out := *j
	out.Providers = append([]string(nil), j.Providers...)
	out.ctx = nil
	out.cancelFunc = nil
	return out
}

// ToJSON converts job to JSON for SSE streaming
func (j Job) ToJSON() ([]byte, error) {
	return sonic.Marshal(j)
}

// ToSSEMessage formats job as SSE message
func (j Job) ToSSEMessage() string {
	data, err := j.ToJSON()
	if err != nil {
		logging.Default().ErrorWithContext(&logging.LogContext{JobID: j.ID}, "Failed to marshal job to JSON: %v", err)
		return fmt.Sprintf("data: {\"jobId\":%q,\"status\":%q,\"progress\":%d}\n\n", j.ID, j.Status, j.Progress)
	}
	return fmt.Sprintf("data: %s\n\n", data)
}

// SystemStatus is the global job state
type SystemStatus struct {
	ActiveJobs int       `json:"activeJobs"`
	IsBusy     bool      `json:"isBusy"`
	TotalJobs  int       `json:"totalJobs"`
	Timestamp  time.Time `json:"timestamp"`
}

// JobManager runs benchmarks in the background and tracks their progress
type JobManager struct {
	service               *BenchmarkService
	hub                   *Hub
	logger                *logging.Logger
	jobs                  map[string]*Job
	listeners             map[string][]chan Job
	systemStatusListeners []chan SystemStatus
	activeJobCount        int
	mutex                 sync.RWMutex
}

// NewJobManager creates a job manager running benchmarks through service
func NewJobManager(service *BenchmarkService, hub *Hub, logger *logging.Logger) *JobManager {
	return &JobManager{
		service:   service,
		hub:       hub,
		logger:    logging.OrDefault(logger),
		jobs:      make(map[string]*Job),
		listeners: make(map[string][]chan Job),
	}
}

// StartJob validates the request, registers a job and runs it in the
// background
func (jm *JobManager) StartJob(request BenchmarkRequest) (Job, error) {
	if strings.TrimSpace(request.Prompt) == "" {
		return Job{}, benchmark.ErrEmptyPrompt
	}
	active, err := jm.service.ActiveFor(request.Providers)
	if err != nil {
		return Job{}, err
	}
	if active.Empty() {
		return Job{}, benchmark.ErrNoActiveProviders
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:         uuid.New().String(),
		Status:     JobStatusRunning,
		Message:    "Starting benchmark...",
		CreatedAt:  time.Now(),
		Request:    request,
		Providers:  active.Keys(),
		ctx:        ctx,
		cancelFunc: cancel,
	}

	jm.mutex.Lock()
	jm.jobs[job.ID] = job
	jm.activeJobCount++
	snap := job.snapshot()
	activeJobs := jm.activeJobCount
	jm.mutex.Unlock()

	jm.logger.InfoWithFields("Job created", map[string]interface{}{
		"jobId":      job.ID,
		"providers":  len(snap.Providers),
		"activeJobs": activeJobs,
	})
	jm.broadcastSystemStatus()

	go jm.run(ctx, snap)
	return snap, nil
}

func (jm *JobManager) run(ctx context.Context, job Job) {
	total := len(job.Providers)
	observer := benchmark.ObserverFuncs{
		Result: func(r benchmark.ProviderResult) {
			jm.providerFinished(job.ID, r, total)
		},
	}

	run, err := jm.service.Run(ctx, job.ID, job.Request.Prompt, job.Providers, observer)
	if err != nil {
		jm.FailJob(job.ID, err.Error())
		return
	}
	if ctx.Err() != nil {
		// CancelJob already recorded the outcome.
		return
	}
	jm.CompleteJob(job.ID, run)
}

func (jm *JobManager) providerFinished(jobID string, r benchmark.ProviderResult, total int) {
	jm.mutex.Lock()
	job, ok := jm.jobs[jobID]
	if !ok || job.Terminal() {
		jm.mutex.Unlock()
		return
	}
	job.finished++
	// Completion owns 100.
	job.Progress = job.finished * 99 / total
	job.Message = fmt.Sprintf("%s finished (%d/%d)", r.Name, job.finished, total)
	snap := job.snapshot()
	jm.broadcastUpdate(snap)
	jm.mutex.Unlock()

	jm.logger.InfoWithContext(&logging.LogContext{JobID: jobID}, "Job progress updated: %d%% - %s", snap.Progress, snap.Message)
	jm.hub.Broadcast(NewStatusMessage(jobID, statusUpdate(snap)))
}

func statusUpdate(job Job) StatusUpdate {
	return StatusUpdate{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Message:   job.Message,
		CreatedAt: job.CreatedAt,
		UpdatedAt: time.Now(),
	}
}

// GetJob retrieves a job by ID
func (jm *JobManager) GetJob(jobID string) (Job, bool) {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return Job{}, false
	}
	return job.snapshot(), true
}

// finish moves a running job to a terminal status. It returns false when the
// job is unknown or already stopped.
func (jm *JobManager) finish(jobID string, apply func(*Job)) (Job, bool) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists || job.Terminal() {
		return Job{}, false
	}
	apply(job)
	now := time.Now()
	job.CompletedAt = &now
	if jm.activeJobCount > 0 {
		jm.activeJobCount--
	}
	job.cancelFunc()
	snap := job.snapshot()
	jm.broadcastUpdate(snap)
	return snap, true
}

// CompleteJob marks a job as completed with results
func (jm *JobManager) CompleteJob(jobID string, run *benchmark.Run) {
	snap, ok := jm.finish(jobID, func(job *Job) {
		job.Status = JobStatusCompleted
		job.Progress = 100
		job.Message = "Benchmark completed successfully"
		if !run.HasData() {
			job.Message = "Benchmark completed without data"
		}
		job.Result = run
	})
	if !ok {
		jm.logger.WarnWithContext(&logging.LogContext{JobID: jobID}, "Job not running, completion ignored")
		return
	}

	jm.logger.InfoWithFields("Job completed successfully", map[string]interface{}{
		"jobId":    jobID,
		"runId":    run.ID,
		"duration": run.Duration().String(),
	})
	jm.hub.Broadcast(NewCompletionMessage(jobID, CompletionMessage{
		JobID:     jobID,
		Status:    snap.Status,
		Results:   run,
		Duration:  run.Duration().Seconds(),
		Completed: *snap.CompletedAt,
	}))
	jm.broadcastSystemStatus()
}

// FailJob marks a job as failed with error message
func (jm *JobManager) FailJob(jobID string, errorMsg string) {
	_, ok := jm.finish(jobID, func(job *Job) {
		job.Status = JobStatusFailed
		job.Message = "Benchmark failed"
		job.Error = errorMsg
	})
	if !ok {
		return
	}

	jm.logger.ErrorWithFields("Job failed", map[string]interface{}{
		"jobId": jobID,
		"error": errorMsg,
	})
	jm.hub.Broadcast(NewErrorMessage(jobID, ErrorMessage{
		JobID:   jobID,
		Error:   "benchmark_failed",
		Message: errorMsg,
	}))
	jm.broadcastSystemStatus()
}

// CancelJob cancels a running job by cancelling its context
func (jm *JobManager) CancelJob(jobID string) bool {
	snap, ok := jm.finish(jobID, func(job *Job) {
		job.Status = JobStatusCancelled
		job.Message = "Job cancelled by user"
		job.Error = "Job cancelled by user"
	})
	if !ok {
		jm.logger.WarnWithContext(&logging.LogContext{JobID: jobID}, "Job cannot be cancelled")
		return false
	}

	jm.logger.InfoWithContext(&logging.LogContext{JobID: jobID}, "Job cancelled")
	jm.hub.Broadcast(NewCancellationMessage(jobID, CancellationMessage{
		JobID:     jobID,
		Status:    snap.Status,
		Message:   snap.Message,
		Cancelled: *snap.CompletedAt,
	}))
	jm.broadcastSystemStatus()
	return true
}

// ListJobs returns all jobs, newest first
func (jm *JobManager) ListJobs() []Job {
	jm.mutex.RLock()
	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	jm.mutex.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// CleanupOldJobs removes finished jobs older than maxAge
func (jm *JobManager) CleanupOldJobs(maxAge time.Duration) int {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range jm.jobs {
		if job.Terminal() && job.CreatedAt.Before(cutoff) {
			delete(jm.jobs, id)
			removed++
		}
	}
	return removed
}

// Shutdown cancels every running job
func (jm *JobManager) Shutdown() {
	jm.mutex.RLock()
	ids := make([]string, 0, len(jm.jobs))
	for id, job := range jm.jobs {
		if !job.Terminal() {
			ids = append(ids, id)
		}
	}
	jm.mutex.RUnlock()

	for _, id := range ids {
		jm.CancelJob(id)
	}
}

// RegisterSSEListener registers a channel to receive job updates
func (jm *JobManager) RegisterSSEListener(jobID string) chan Job {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	updateChan := make(chan Job, 16)
	jm.listeners[jobID] = append(jm.listeners[jobID], updateChan)
	return updateChan
}

// UnregisterSSEListener removes a channel from job updates
func (jm *JobManager) UnregisterSSEListener(jobID string, updateChan chan Job) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	listeners := jm.listeners[jobID]
	for i, ch := range listeners {
		if ch == updateChan {
			jm.listeners[jobID] = append(listeners[:i], listeners[i+1:]...)
			close(updateChan)
			break
		}
	}
	if len(jm.listeners[jobID]) == 0 {
		delete(jm.listeners, jobID)
	}
}

// broadcastUpdate sends job updates to all registered listeners. Callers
// hold the lock.
func (jm *JobManager) broadcastUpdate(job Job) {
	for _, ch := range jm.listeners[job.ID] {
		select {
		case ch <- job:
		default:
			jm.logger.WarnWithContext(&logging.LogContext{JobID: job.ID}, "Channel full, skipping update")
		}
	}
}

// GetActiveJobCount returns the number of currently running jobs
func (jm *JobManager) GetActiveJobCount() int {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()
	return jm.activeJobCount
}

// GetSystemStatus returns the global system status
func (jm *JobManager) GetSystemStatus() SystemStatus {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()
	return jm.systemStatus()
}

func (jm *JobManager) systemStatus() SystemStatus {
	return SystemStatus{
		ActiveJobs: jm.activeJobCount,
		IsBusy:     jm.activeJobCount > 0,
		TotalJobs:  len(jm.jobs),
		Timestamp:  time.Now(),
	}
}

// RegisterSystemStatusListener registers a listener for system status
// changes. The current status is queued immediately.
func (jm *JobManager) RegisterSystemStatusListener() chan SystemStatus {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	listener := make(chan SystemStatus, 10)
	listener <- jm.systemStatus()
	jm.systemStatusListeners = append(jm.systemStatusListeners, listener)
	return listener
}

// UnregisterSystemStatusListener removes a system status listener
func (jm *JobManager) UnregisterSystemStatusListener(listener chan SystemStatus) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	for i, l := range jm.systemStatusListeners {
		if l == listener {
			jm.systemStatusListeners = append(jm.systemStatusListeners[:i], jm.systemStatusListeners[i+1:]...)
			close(listener)
			break
		}
	}
}

// broadcastSystemStatus sends system status to all listeners
func (jm *JobManager) broadcastSystemStatus() {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	status := jm.systemStatus()
	for _, listener := range jm.systemStatusListeners {
		select {
		case listener <- status:
		default:
		}
	}
}
