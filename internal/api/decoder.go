package api

import (
	"bytes"
	"fmt"
)

const (
	eventPrefix  = "data:"
	doneSentinel = "[DONE]"
)

// DecodeError is a single event line that could not be parsed. The stream
// carries on past it.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed event %q: %v", truncate(e.Line, 120), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns raw body chunks into content increments. A line split across
// two chunks is held back until its newline arrives.
type Decoder struct {
	strategy Strategy
	pending  []byte
	done     bool
	attempts int
	failures []*DecodeError
	onError  func(*DecodeError)
}

// NewDecoder creates a decoder that parses events with strategy. onError, if
// set, is called for every malformed line.
func NewDecoder(strategy Strategy, onError func(*DecodeError)) *Decoder {
	return &Decoder{strategy: strategy, onError: onError}
}

// Feed consumes one chunk and returns the increments completed by it.
func (d *Decoder) Feed(chunk []byte) []Increment {
	if d.done {
		return nil
	}
	d.pending = append(d.pending, chunk...)

	var out []Increment
	for !d.done {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := d.pending[:i]
		if inc, ok := d.line(line); ok {
			out = append(out, inc)
		}
		d.pending = d.pending[i+1:]
	}
	if d.done {
		d.pending = nil
	}
	return out
}

// Flush processes a trailing line that ended without a newline.
func (d *Decoder) Flush() []Increment {
	if d.done || len(d.pending) == 0 {
		return nil
	}
	line := d.pending
	d.pending = nil
	if inc, ok := d.line(line); ok {
		return []Increment{inc}
	}
	return nil
}

// Done reports whether the end-of-stream sentinel has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Attempts is the number of event payloads handed to the strategy.
func (d *Decoder) Attempts() int {
	return d.attempts
}

// Failures returns the malformed lines seen so far.
func (d *Decoder) Failures() []*DecodeError {
	return d.failures
}

func (d *Decoder) line(raw []byte) (Increment, bool) {
	raw = bytes.TrimRight(raw, "\r")
	payload, ok := bytes.CutPrefix(raw, []byte(eventPrefix))
	if !ok {
		return Increment{}, false
	}
	payload = bytes.TrimSpace(payload)
	if string(payload) == doneSentinel {
		d.done = true
		return Increment{}, false
	}

	d.attempts++
	inc, err := d.strategy.DecodeEvent(payload)
	if err != nil {
		decodeErr := &DecodeError{Line: string(payload), Err: err}
		d.failures = append(d.failures, decodeErr)
		if d.onError != nil {
			d.onError(decodeErr)
		}
		return Increment{}, false
	}
	return inc, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
