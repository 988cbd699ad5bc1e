// Package mock provides test doubles for the stt package interfaces.
//
// Use Recognizer to script per-call results and inspect which audio windows
// and options were delivered.
//
// Example:
//
//	r := &mock.Recognizer{
//	    Results: []mock.Result{
//	        {Transcript: stt.Transcript{Text: "hello"}},
//	        {Err: errors.New("boom")},
//	    },
//	}
//	t, err := r.Recognize(ctx, pcm, stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// Result is one scripted response.
type Result struct {
	Transcript stt.Transcript
	Err        error
	// Panic, if non-empty, makes the call panic with this value.
	Panic string
}

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Samples is the number of samples in the window.
	Samples int
	// Opts is the Options value passed to Recognize.
	Opts stt.Options
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// Results are consumed in order, one per call. When exhausted, Default
	// is returned.
	Results []Result

	// Default is returned once Results is exhausted.
	Default Result

	// Func, if set, overrides Results and Default.
	Func func(ctx context.Context, pcm audio.PCM, opts stt.Options) (stt.Transcript, error)

	// Calls records every call to Recognize.
	Calls []RecognizeCall
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)

// Recognize records the call and returns the next scripted result.
func (r *Recognizer) Recognize(ctx context.Context, pcm audio.PCM, opts stt.Options) (stt.Transcript, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, RecognizeCall{Samples: len(pcm.Samples), Opts: opts})
	fn := r.Func
	res := r.Default
	if len(r.Results) > 0 {
		res = r.Results[0]
		r.Results = r.Results[1:]
	}
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, opts)
	}
	if res.Panic != "" {
		panic(res.Panic)
	}
	return res.Transcript, res.Err
}

// Name returns NameValue or "mock".
func (r *Recognizer) Name() string {
	if r.NameValue == "" {
		return "mock"
	}
	return r.NameValue
}

// CallCount returns the number of Recognize calls so far. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
}
