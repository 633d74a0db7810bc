package server

import (
	"time"

	"github.com/bytedance/sonic"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/velocity"
)

// WebSocket message types
const (
	MessageTypeSample    = "sample"
	MessageTypeResult    = "result"
	MessageTypeStatus    = "status"
	MessageTypeError     = "error"
	MessageTypeComplete  = "complete"
	MessageTypeCancelled = "cancelled"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
)

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      string      `json:"type"`
	JobID     string      `json:"jobId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// SampleUpdate is one live velocity reading
type SampleUpdate struct {
	Provider        string  `json:"provider"`
	Seq             int     `json:"seq"`
	TokensPerSecond float64 `json:"tokensPerSecond"`
	Words           int     `json:"words"`
	Elapsed         float64 `json:"elapsed"` // seconds
	Failure         string  `json:"failure,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// StatusUpdate represents job status information
type StatusUpdate struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ErrorMessage represents error information
type ErrorMessage struct {
	JobID   string `json:"jobId"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// CompletionMessage represents benchmark completion information
type CompletionMessage struct {
	JobID     string         `json:"jobId"`
	Status    string         `json:"status"`
	Results   *benchmark.Run `json:"results,omitempty"`
	Duration  float64        `json:"duration"` // total duration in seconds
	Completed time.Time      `json:"completed"`
}

// CancellationMessage represents benchmark cancellation information
type CancellationMessage struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Cancelled time.Time `json:"cancelled"`
}

func newMessage(kind, jobID string, data interface{}) *WebSocketMessage {
	return &WebSocketMessage{
		Type:      kind,
		JobID:     jobID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewSampleMessage creates a live sample message
func NewSampleMessage(jobID string, sample velocity.Sample) *WebSocketMessage {
	update := SampleUpdate{
		Provider:        sample.Provider,
		Seq:             sample.Seq,
		TokensPerSecond: sample.TokensPerSecond,
		Words:           sample.Words,
		Elapsed:         sample.Elapsed.Seconds(),
		Failure:         string(sample.Failure),
	}
	if sample.Err != nil {
		update.Error = sample.Err.Error()
	}
	return newMessage(MessageTypeSample, jobID, update)
}

// NewResultMessage creates a per-provider result message
func NewResultMessage(jobID string, result benchmark.ProviderResult) *WebSocketMessage {
	return newMessage(MessageTypeResult, jobID, result)
}

// NewStatusMessage creates a status update message
func NewStatusMessage(jobID string, status StatusUpdate) *WebSocketMessage {
	return newMessage(MessageTypeStatus, jobID, status)
}

// NewErrorMessage creates an error message
func NewErrorMessage(jobID string, msg ErrorMessage) *WebSocketMessage {
	return newMessage(MessageTypeError, jobID, msg)
}

// NewCompletionMessage creates a completion message
func NewCompletionMessage(jobID string, completion CompletionMessage) *WebSocketMessage {
	return newMessage(MessageTypeComplete, jobID, completion)
}

// NewCancellationMessage creates a cancellation message
func NewCancellationMessage(jobID string, cancellation CancellationMessage) *WebSocketMessage {
	return newMessage(MessageTypeCancelled, jobID, cancellation)
}

// ToJSON converts a WebSocket message to JSON bytes
func (m *WebSocketMessage) ToJSON() ([]byte, error) {
	return sonic.Marshal(m)
}

// FromJSON creates a WebSocket message from JSON bytes
func FromJSON(data []byte) (*WebSocketMessage, error) {
	var msg WebSocketMessage
	err := sonic.Unmarshal(data, &msg)
	return &msg, err
}
