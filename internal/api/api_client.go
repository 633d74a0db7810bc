package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/registry"
)

const (
	chunkSize        = 4096
	errorBodyLimit   = 4096
	defaultIdleConns = 100
)

// TransportError is a failed request: a non-2xx status, a connection
// failure, or a read error on the response body.
type TransportError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		if e.Body != "" {
			return fmt.Sprintf("provider %s: HTTP error! status: %d: %s", e.Provider, e.Status, truncate(e.Body, 200))
		}
		return fmt.Sprintf("provider %s: HTTP error! status: %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("provider %s: transport failure: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport issues one streaming request per provider.
type Transport struct {
	Client     *http.Client
	Strategies map[string]Strategy
	Logger     *logging.Logger
}

// NewTransport creates a transport with the default strategies. The client has
// no overall timeout: streams are bounded by the caller's context.
func NewTransport(logger *logging.Logger) *Transport {
	return &Transport{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultIdleConns,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Strategies: DefaultStrategies(),
		Logger:     logger,
	}
}

// Strategy returns the call strategy registered for the provider.
func (t *Transport) Strategy(cfg registry.ProviderConfig) (Strategy, error) {
	s, ok := t.Strategies[cfg.Strategy]
	if !ok {
		return nil, fmt.Errorf("no call strategy %q for provider %s", cfg.Strategy, cfg.Key)
	}
	return s, nil
}

// Open sends the prompt to the provider and returns its event stream. The
// body is left unread; the caller pulls increments with Stream.Next.
func (t *Transport) Open(ctx context.Context, cfg registry.ProviderConfig, prompt string) (*Stream, error) {
	logger := logging.OrDefault(t.Logger).WithContext(&logging.LogContext{Provider: cfg.Key, Operation: "stream"})

	strategy, err := t.Strategy(cfg)
	if err != nil {
		return nil, &TransportError{Provider: cfg.Key, Err: err}
	}

	req, err := strategy.BuildRequest(ctx, cfg, prompt)
	if err != nil {
		return nil, &TransportError{Provider: cfg.Key, Err: err}
	}

	logger.Debug("🔌 Creating chat completion stream for model: %s", cfg.Model)
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Error("❌ Request failed: %v", err)
		return nil, &TransportError{Provider: cfg.Key, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		logger.Error("❌ Provider returned status %d", resp.StatusCode)
		return nil, &TransportError{Provider: cfg.Key, Status: resp.StatusCode, Body: string(body)}
	}

	logger.Debug("✅ Chat completion stream created successfully")
	stream := &Stream{
		provider: cfg.Key,
		body:     resp.Body,
		buf:      make([]byte, chunkSize),
	}
	stream.decoder = NewDecoder(strategy, func(de *DecodeError) {
		logger.Warn("Error parsing JSON: %v", de)
	})
	return stream, nil
}

// Stream is an open provider response.
type Stream struct {
	provider string
	body     io.ReadCloser
	buf      []byte
	decoder  *Decoder
	queue    []Increment
	eof      bool
	closed   bool
}

// ReadChunk returns the next raw chunk of the body as it arrives. The slice is
// only valid until the next call.
func (s *Stream) ReadChunk() ([]byte, error) {
	if s.eof {
		return nil, io.EOF
	}
	n, err := s.body.Read(s.buf)
	if errors.Is(err, io.EOF) {
		s.eof = true
		if n > 0 {
			return s.buf[:n], nil
		}
		return nil, io.EOF
	}
	if err != nil {
		return s.buf[:n], &TransportError{Provider: s.provider, Err: err}
	}
	return s.buf[:n], nil
}

// Next returns the next content increment. It returns io.EOF after the [DONE]
// sentinel or the end of the body, and a *TransportError if the body read
// fails. Malformed events are skipped.
func (s *Stream) Next() (Increment, error) {
	for {
		if len(s.queue) > 0 {
			inc := s.queue[0]
			s.queue = s.queue[1:]
			return inc, nil
		}
		if s.decoder.Done() {
			return Increment{}, io.EOF
		}

		chunk, err := s.ReadChunk()
		if len(chunk) > 0 {
			s.queue = append(s.queue, s.decoder.Feed(chunk)...)
		}
		if errors.Is(err, io.EOF) {
			s.queue = append(s.queue, s.decoder.Flush()...)
			if len(s.queue) == 0 {
				return Increment{}, io.EOF
			}
			continue
		}
		if err != nil {
			return Increment{}, err
		}
	}
}

// DecodeAttempts is the number of event payloads parsed so far.
func (s *Stream) DecodeAttempts() int {
	return s.decoder.Attempts()
}

// DecodeErrors returns the malformed events skipped so far.
func (s *Stream) DecodeErrors() []*DecodeError {
	return s.decoder.Failures()
}

// Close releases the response body.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
