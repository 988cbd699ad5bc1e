// Package recognize drives a batch [stt.Recognizer] over long clips.
//
// Clips are cut into fixed windows (30 s by default) and recognized one at a
// time. Each window produces an [Update] with the running transcript, so a
// caller ranging over [Driver.Transcribe] can publish progress between
// windows. A window that fails is logged and skipped; it never aborts the
// clip.
package recognize

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// WindowSamples is the default window length: 30 s at [audio.TargetRate].
const WindowSamples = 30 * audio.TargetRate

// NoSpeech is the final text when no window produced any words.
const NoSpeech = "no speech detected"

// Update is one progress emission.
type Update struct {
	// Progress is in [0, 100]. The final update always carries 100.
	Progress int
	// Text is the transcript accumulated so far.
	Text string
}

// RecognitionError wraps a recognizer failure for a single window.
type RecognitionError struct {
	Window int
	Err    error
}

// Error implements error.
func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognize: window %d: %v", e.Window, e.Err)
}

// Unwrap returns the recognizer error.
func (e *RecognitionError) Unwrap() error { return e.Err }

// Driver windows audio and feeds it to a recognizer. A Driver is safe for
// concurrent use if its recognizer is.
type Driver struct {
	rec     stt.Recognizer
	window  int
	metrics *observe.Metrics
}

// Option configures a [Driver].
type Option func(*Driver)

// WithWindow overrides the window length in samples. Non-positive values are
// ignored.
func WithWindow(samples int) Option {
	return func(d *Driver) {
		if samples > 0 {
			d.window = samples
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New returns a Driver for rec.
func New(rec stt.Recognizer, opts ...Option) *Driver {
	d := &Driver{rec: rec, window: WindowSamples}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Recognizer returns the underlying recognizer.
func (d *Driver) Recognizer() stt.Recognizer { return d.rec }

// Transcribe returns a sequence of updates for pcm, which must be canonical.
// For n windows it yields n per-window updates with progress
// round(100*(i+1)/n), then a final update with progress 100 and either the
// full transcript or [NoSpeech].
//
// The sequence is single-use: ranging over it a second time yields nothing.
// Cancelling ctx stops it before the next window without a final update.
func (d *Driver) Transcribe(ctx context.Context, pcm audio.PCM, opts stt.Options) iter.Seq[Update] {
	var used atomic.Bool
	return func(yield func(Update) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		log := observe.Logger(ctx)

		total := len(pcm.Samples)
		n := (total + d.window - 1) / d.window
		var parts []string

		for i := range n {
			if ctx.Err() != nil {
				return
			}
			end := min((i+1)*d.window, total)
			win := audio.PCM{
				Samples:    pcm.Samples[i*d.window : end],
				SampleRate: pcm.SampleRate,
				Channels:   pcm.Channels,
			}

			text, err := d.recognize(ctx, win, opts)
			if err != nil {
				rerr := &RecognitionError{Window: i, Err: err}
				d.metrics.WindowFailures.Add(ctx, 1)
				log.Warn("recognize: skipping window", "window", i, "windows", n, "err", rerr)
			} else if text = strings.TrimSpace(text); text != "" {
				parts = append(parts, text)
			}

			progress := int(math.Round(100 * float64(i+1) / float64(n)))
			if !yield(Update{Progress: progress, Text: strings.Join(parts, " ")}) {
				return
			}
		}

		final := strings.Join(parts, " ")
		if final == "" {
			final = NoSpeech
		}
		yield(Update{Progress: 100, Text: final})
	}
}

// recognize runs one window, turning a recognizer panic into an error.
func (d *Driver) recognize(ctx context.Context, win audio.PCM, opts stt.Options) (text string, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer panic: %v", r)
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		d.metrics.RecognizeDuration.Record(ctx, time.Since(start).Seconds())
		d.metrics.RecordProviderRequest(ctx, d.rec.Name(), status)
	}()

	t, err := d.rec.Recognize(ctx, win, opts)
	if err != nil {
		return "", err
	}
	return t.Text, nil
}
