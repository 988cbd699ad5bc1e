package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

var _ stt.Recognizer = (*NativeRecognizer)(nil)

// NativeRecognizer runs whisper.cpp in-process through the CGO bindings.
// Building it needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// The model is loaded once and shared. Each Recognize call gets its own
// whisper.cpp context, so concurrent calls are safe; they compete for CPU.
type NativeRecognizer struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption configures a [NativeRecognizer].
type NativeOption func(*NativeRecognizer)

// WithNativeLanguage sets the fallback language for calls without one.
// "auto" asks whisper.cpp to detect it. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeRecognizer) { p.language = lang }
}

// WithNativeThreads caps the CPU threads of one inference. Zero keeps the
// whisper.cpp default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeRecognizer) { p.threads = n }
}

// NewNative loads the ggml model at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeRecognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path is required")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeRecognizer{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *NativeRecognizer) Name() string { return "whisper-native" }

// Close frees the model.
func (p *NativeRecognizer) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Recognize decodes one window. Words carry segment-level timing: each
// segment's span is shared evenly among its words. Cancelling ctx before the
// encoder starts aborts the inference.
func (p *NativeRecognizer) Recognize(ctx context.Context, pcm audio.PCM, opts stt.Options) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	if err := stt.CheckAudio(pcm); err != nil {
		return stt.Transcript{}, err
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: new context: %w", err)
	}

	lang := baseLanguage(opts.Language)
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: language rejected by model, keeping model default", "language", lang, "err", err)
	}
	wctx.SetTranslate(opts.Task == stt.TaskTranslate)
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(pcm.Samples, keepGoing, nil, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: %w", ctxErr)
		}
		return stt.Transcript{}, fmt.Errorf("whisper: process: %w", err)
	}

	var (
		parts []string
		words []stt.WordDetail
	)
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		for _, w := range stt.SyntheticWords(text, seg.End-seg.Start) {
			w.Start += seg.Start
			w.End += seg.Start
			words = append(words, w)
		}
	}

	if lang == "auto" {
		lang = wctx.DetectedLanguage()
	}
	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: lang,
		Words:    words,
		Duration: pcm.Duration(),
	}, nil
}
