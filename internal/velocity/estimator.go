// Package velocity turns a provider's streamed completion into a running
// tokens-per-second estimate.
package velocity

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"tokenvelocity/internal/api"
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/registry"
)

// FailureKind classifies why a provider's stream degraded to zero.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransport FailureKind = "transport"
	FailureDecode    FailureKind = "decode"
	FailureTimeout   FailureKind = "timeout"
	FailureCanceled  FailureKind = "canceled"
)

// Sample is one velocity reading. A terminal failure sample has
// TokensPerSecond 0 and Err set.
type Sample struct {
	Provider        string        `json:"provider"`
	Seq             int           `json:"seq"`
	TokensPerSecond float64       `json:"tokensPerSecond"`
	Words           int           `json:"words"`
	Elapsed         time.Duration `json:"elapsed"`
	Failure         FailureKind   `json:"failure,omitempty"`
	Err             error         `json:"-"`
}

// Terminal reports whether the sample is a degrade-to-zero marker.
func (s Sample) Terminal() bool {
	return s.Err != nil
}

// Source yields content increments until io.EOF.
type Source interface {
	Next() (api.Increment, error)
	Close() error
}

// Opener starts a provider stream.
type Opener interface {
	Open(ctx context.Context, cfg registry.ProviderConfig, prompt string) (Source, error)
}

type transportOpener struct {
	transport *api.Transport
}

func (o transportOpener) Open(ctx context.Context, cfg registry.ProviderConfig, prompt string) (Source, error) {
	stream, err := o.transport.Open(ctx, cfg, prompt)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// FromTransport adapts an api.Transport to an Opener.
func FromTransport(t *api.Transport) Opener {
	return transportOpener{transport: t}
}

// Estimator produces velocity samples for one provider and prompt.
type Estimator struct {
	Opener Opener
	// MinInterval is the minimum time between two yielded samples. Zero
	// yields a sample for every content increment.
	MinInterval time.Duration
	// Now is the clock; nil means time.Now.
	Now    func() time.Time
	Logger *logging.Logger
}

// Sequence is a lazy, single-use series of samples.
type Sequence struct {
	estimator *Estimator
	ctx       context.Context
	cfg       registry.ProviderConfig
	prompt    string
	used      atomic.Bool
}

// Estimate prepares the sample sequence. Nothing is sent until the sequence
// is iterated.
func (e *Estimator) Estimate(ctx context.Context, cfg registry.ProviderConfig, prompt string) *Sequence {
	return &Sequence{estimator: e, ctx: ctx, cfg: cfg, prompt: prompt}
}

// All iterates the samples. Only the first call produces anything; the
// sequence cannot be restarted.
func (s *Sequence) All() iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		if !s.used.CompareAndSwap(false, true) {
			return
		}
		s.estimator.run(s.ctx, s.cfg, s.prompt, yield)
	}
}

func (e *Estimator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Estimator) run(ctx context.Context, cfg registry.ProviderConfig, prompt string, yield func(Sample) bool) {
	logger := logging.OrDefault(e.Logger).WithContext(&logging.LogContext{Provider: cfg.Key, Operation: "velocity"})

	fail := func(seq int, err error) {
		kind := Classify(ctx, err)
		logger.Error("Stream for %s degraded to zero (%s): %v", cfg.DisplayName(), kind, err)
		yield(Sample{Provider: cfg.Key, Seq: seq, Failure: kind, Err: err})
	}

	source, err := e.Opener.Open(ctx, cfg, prompt)
	if err != nil {
		fail(0, err)
		return
	}
	defer source.Close()

	start := e.now()
	var (
		words    int
		seq      int
		lastEmit time.Time
		emitted  bool
	)

	for {
		inc, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(seq, err)
			return
		}
		if inc.Content == "" {
			continue
		}

		n := len(strings.Fields(inc.Content))
		if n == 0 {
			continue
		}
		words += n

		now := e.now()
		elapsed := now.Sub(start)
		if elapsed <= 0 {
			continue
		}
		if emitted && now.Sub(lastEmit) < e.MinInterval {
			continue
		}

		sample := Sample{
			Provider:        cfg.Key,
			Seq:             seq,
			TokensPerSecond: float64(words) / elapsed.Seconds(),
			Words:           words,
			Elapsed:         elapsed,
		}
		seq++
		emitted = true
		lastEmit = now
		if !yield(sample) {
			return
		}
	}

	// a stream whose every event was malformed is a decode failure, not a
	// silent empty run
	if d, ok := source.(interface {
		DecodeAttempts() int
		DecodeErrors() []*api.DecodeError
	}); ok && !emitted && d.DecodeAttempts() > 0 && len(d.DecodeErrors()) == d.DecodeAttempts() {
		fail(seq, d.DecodeErrors()[0])
		return
	}

	logger.Debug("Stream for %s ended after %d words", cfg.DisplayName(), words)
}

// Classify maps an error from the transport or decoder to a FailureKind.
// ctx is the provider's context; its expiry wins over the raw error.
func Classify(ctx context.Context, err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if ctx != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return FailureTimeout
		case errors.Is(ctx.Err(), context.Canceled):
			return FailureCanceled
		}
	}

	var decodeErr *api.DecodeError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.As(err, &decodeErr):
		return FailureDecode
	default:
		return FailureTransport
	}
}
