package recognize_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/recognize"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/stt/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newDriver(t *testing.T, rec stt.Recognizer, window int) (*recognize.Driver, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return recognize.New(rec, recognize.WithWindow(window), recognize.WithMetrics(m)), reader
}

func clip(samples int) audio.PCM {
	return audio.PCM{Samples: make([]float32, samples), SampleRate: audio.TargetRate, Channels: 1}
}

func collect(seq func(func(recognize.Update) bool)) []recognize.Update {
	var out []recognize.Update
	for u := range seq {
		out = append(out, u)
	}
	return out
}

func windowFailures(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "vocalis.recognize.window_failures" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				return total
			}
		}
	}
	return 0
}

func TestTranscribe_ProgressAndText(t *testing.T) {
	t.Parallel()
	rec := &mock.Recognizer{Results: []mock.Result{
		{Transcript: stt.Transcript{Text: " hello "}},
		{Transcript: stt.Transcript{Text: "brave"}},
		{Transcript: stt.Transcript{Text: "world"}},
	}}
	d, _ := newDriver(t, rec, 1000)

	got := collect(d.Transcribe(context.Background(), clip(2500), stt.Options{Language: "en"}))

	want := []recognize.Update{
		{Progress: 33, Text: "hello"},
		{Progress: 67, Text: "hello brave"},
		{Progress: 100, Text: "hello brave world"},
		{Progress: 100, Text: "hello brave world"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d updates %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("update %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if rec.CallCount() != 3 {
		t.Fatalf("recognizer calls = %d, want 3", rec.CallCount())
	}
	if rec.Calls[2].Samples != 500 {
		t.Errorf("last window samples = %d, want 500", rec.Calls[2].Samples)
	}
	if rec.Calls[0].Opts.Language != "en" {
		t.Errorf("options not forwarded: %+v", rec.Calls[0].Opts)
	}
}

func TestTranscribe_FailedWindowSkipped(t *testing.T) {
	t.Parallel()
	rec := &mock.Recognizer{Results: []mock.Result{
		{Transcript: stt.Transcript{Text: "one"}},
		{Err: errors.New("backend down")},
		{Panic: "boom"},
		{Transcript: stt.Transcript{Text: "four"}},
	}}
	d, reader := newDriver(t, rec, 100)

	got := collect(d.Transcribe(context.Background(), clip(400), stt.Options{}))

	last := got[len(got)-1]
	if last.Progress != 100 || last.Text != "one four" {
		t.Errorf("final = %+v, want (100, \"one four\")", last)
	}
	if n := windowFailures(t, reader); n != 2 {
		t.Errorf("window failures = %d, want 2", n)
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	t.Parallel()
	rec := &mock.Recognizer{Default: mock.Result{Transcript: stt.Transcript{Text: "   "}}}
	d, _ := newDriver(t, rec, 100)

	got := collect(d.Transcribe(context.Background(), clip(250), stt.Options{}))
	last := got[len(got)-1]
	if last != (recognize.Update{Progress: 100, Text: recognize.NoSpeech}) {
		t.Errorf("final = %+v", last)
	}
}

func TestTranscribe_EmptyClipYieldsFinalOnly(t *testing.T) {
	t.Parallel()
	rec := &mock.Recognizer{}
	d, _ := newDriver(t, rec, 100)

	got := collect(d.Transcribe(context.Background(), clip(0), stt.Options{}))
	if len(got) != 1 || got[0].Text != recognize.NoSpeech {
		t.Errorf("got %+v", got)
	}
	if rec.CallCount() != 0 {
		t.Errorf("recognizer called %d times", rec.CallCount())
	}
}

func TestTranscribe_ProgressNonDecreasing(t *testing.T) {
	t.Parallel()
	rec := &mock.Recognizer{Default: mock.Result{Transcript: stt.Transcript{Text: "w"}}}
	d, _ := newDriver(t, rec, 7)

	prev := 0
	for u := range d.Transcribe(context.Background(), clip(100), stt.Options{}) {
		if u.Progress < prev || u.Progress > 100 {
			t.Fatalf("progress went %d -> %d", prev, u.Progress)
		}
		prev = u.Progress
	}
	if prev != 100 {
		t.Errorf("last progress = %d, want 100", prev)
	}
}

func TestTranscribe_NotRestartable(t *testing.T) {
	t.Parallel()
	rec := &mock.Recognizer{Default: mock.Result{Transcript: stt.Transcript{Text: "x"}}}
	d, _ := newDriver(t, rec, 100)

	seq := d.Transcribe(context.Background(), clip(200), stt.Options{})
	if first := collect(seq); len(first) != 3 {
		t.Fatalf("first range yielded %d updates, want 3", len(first))
	}
	if second := collect(seq); len(second) != 0 {
		t.Errorf("second range yielded %d updates, want 0", len(second))
	}
	if rec.CallCount() != 2 {
		t.Errorf("recognizer calls = %d, want 2", rec.CallCount())
	}
}

func TestTranscribe_EarlyBreakStopsRecognition(t *testing.T) {
	t.Parallel()
	rec := &mock.Recognizer{Default: mock.Result{Transcript: stt.Transcript{Text: "x"}}}
	d, _ := newDriver(t, rec, 100)

	for range d.Transcribe(context.Background(), clip(1000), stt.Options{}) {
		break
	}
	if rec.CallCount() != 1 {
		t.Errorf("recognizer calls = %d, want 1", rec.CallCount())
	}
}

func TestTranscribe_CancelledContextStops(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &mock.Recognizer{Default: mock.Result{Transcript: stt.Transcript{Text: "x"}}}
	d, _ := newDriver(t, rec, 100)

	var got []recognize.Update
	for u := range d.Transcribe(ctx, clip(500), stt.Options{}) {
		got = append(got, u)
		cancel()
	}
	if len(got) != 1 {
		t.Errorf("got %d updates after cancel, want 1", len(got))
	}
}

func TestRecognitionError_Unwrap(t *testing.T) {
	t.Parallel()
	base := errors.New("timeout")
	err := error(&recognize.RecognitionError{Window: 3, Err: base})
	if !errors.Is(err, base) {
		t.Error("RecognitionError should unwrap to the recognizer error")
	}
	if err.Error() != "recognize: window 3: timeout" {
		t.Errorf("Error() = %q", err.Error())
	}
}
