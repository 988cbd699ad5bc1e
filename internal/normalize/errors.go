package normalize

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoTranscoder is returned by [Normalizer.ValidateAndRepair] when a file
// needs repair but no transcoder is configured.
var ErrNoTranscoder = errors.New("normalize: no transcoder configured")

// errNoSamples marks a strategy that decoded successfully but produced nothing.
var errNoSamples = errors.New("decoded zero samples")

// ValidationError reports input that can never be decoded into usable audio,
// regardless of strategy: an empty file or a clip that is too short.
type ValidationError struct {
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return "normalize: " + e.Reason
}

// Attempt records one failed strategy.
type Attempt struct {
	Method string
	Err    error
}

// DecodeError is returned when every strategy failed. Its message names the
// declared extension and each attempted method.
type DecodeError struct {
	Extension string
	Attempts  []Attempt
}

// Error implements error.
func (e *DecodeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "normalize: could not decode %q audio", e.Extension)
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Method, a.Err)
	}
	return b.String()
}

// Unwrap exposes the per-strategy errors to errors.Is and errors.As.
func (e *DecodeError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Methods returns the names of the attempted strategies in order.
func (e *DecodeError) Methods() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Method
	}
	return out
}
