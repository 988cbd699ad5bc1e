// Package openai provides a speech recognizer backed by the OpenAI audio API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// DefaultModel is used when New is given an empty model name.
const DefaultModel = oai.AudioModelWhisper1

// Recognizer implements stt.Recognizer using the OpenAI transcription and
// translation endpoints. It is safe for concurrent use.
type Recognizer struct {
	client oai.Client
	model  oai.AudioModel
}

var _ stt.Recognizer = (*Recognizer)(nil)

// config holds optional configuration for the recognizer.
type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Recognizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries a failed request.
// Negative values keep the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a Recognizer. apiKey must be non-empty.
func New(apiKey, model string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	m := oai.AudioModel(model)
	if m == "" {
		m = DefaultModel
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Recognizer{client: oai.NewClient(reqOpts...), model: m}, nil
}

// Name implements stt.Recognizer.
func (r *Recognizer) Name() string { return "openai" }

// Recognize uploads pcm as a WAV file. TaskTranslate uses the translation
// endpoint, which always produces English.
func (r *Recognizer) Recognize(ctx context.Context, pcm audio.PCM, opts stt.Options) (stt.Transcript, error) {
	if err := stt.CheckAudio(pcm); err != nil {
		return stt.Transcript{}, err
	}
	wav, err := audio.EncodeWAV(pcm)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai: %w", err)
	}
	file := oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav")

	if opts.Task == stt.TaskTranslate {
		res, err := r.client.Audio.Translations.New(ctx, oai.AudioTranslationNewParams{
			File:  file,
			Model: r.model,
		})
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("openai: translate: %w", err)
		}
		return stt.Transcript{
			Text:     strings.TrimSpace(res.Text),
			Language: "en",
			Duration: pcm.Duration(),
		}, nil
	}

	params := oai.AudioTranscriptionNewParams{
		File:           file,
		Model:          r.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	lang := baseLanguage(opts.Language)
	if lang != "" {
		params.Language = oai.String(lang)
	}
	res, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai: transcribe: %w", err)
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(res.Text),
		Language: lang,
		Duration: pcm.Duration(),
	}, nil
}

// baseLanguage reduces "de-DE" to the ISO-639-1 code the API accepts.
func baseLanguage(tag string) string {
	tag = strings.TrimSpace(strings.ToLower(tag))
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	if tag == "auto" {
		return ""
	}
	return tag
}
