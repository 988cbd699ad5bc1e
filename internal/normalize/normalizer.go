// Package normalize turns uploaded audio of unknown quality into canonical
// mono 16 kHz float32 samples.
//
// Decoding runs through an ordered chain of [Strategy] values. The first one
// that yields samples wins; its output is resampled and downmixed with
// [audio.Canonical]. When every strategy fails the caller gets a
// [*DecodeError] listing each attempt. Inputs that can never succeed (empty
// files, clips shorter than [audio.MinSamples]) are reported as
// [*ValidationError] instead.
//
// [Normalizer.ValidateAndRepair] is the pre-pass: it rewrites files with a
// broken WAV header, and any non-WAV container, into a temporary WAV through
// the transcoder.
package normalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/pkg/audio"
)

// Transcoder is the subset of the ffmpeg wrapper the normalizer needs.
// [*transcoder.FFmpeg] satisfies it.
type Transcoder interface {
	ToWAV(ctx context.Context, in, out string) error
	DecodeFloat32(ctx context.Context, in string) ([]float32, error)
}

// Strategy decodes a file into PCM in whatever layout the source has.
// ext is the lower-case extension without the dot and may be empty.
type Strategy interface {
	Name() string
	Decode(ctx context.Context, path, ext string) (audio.PCM, error)
}

// Normalizer runs the decode chain. It holds no per-call state and is safe
// for concurrent use.
type Normalizer struct {
	strategies []Strategy
	transcoder Transcoder
	scratchDir string
	metrics    *observe.Metrics
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithScratchDir sets the directory for repaired temp files.
// Default: os.TempDir()/vocalis.
func WithScratchDir(dir string) Option {
	return func(n *Normalizer) { n.scratchDir = dir }
}

// WithStrategies replaces the default decode chain.
func WithStrategies(s ...Strategy) Option {
	return func(n *Normalizer) { n.strategies = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(n *Normalizer) { n.metrics = m }
}

// New returns a Normalizer with the default chain: native, library,
// container and, when tc is non-nil, transcoder.
func New(tc Transcoder, opts ...Option) *Normalizer {
	n := &Normalizer{
		transcoder: tc,
		scratchDir: filepath.Join(os.TempDir(), "vocalis"),
	}
	n.strategies = []Strategy{Native{}, Library{}, Container{}}
	if tc != nil {
		n.strategies = append(n.strategies, Transcode{Transcoder: tc})
	}
	for _, o := range opts {
		o(n)
	}
	if n.metrics == nil {
		n.metrics = observe.DefaultMetrics()
	}
	return n
}

// ScratchDir returns the directory repaired files are written to.
func (n *Normalizer) ScratchDir() string { return n.scratchDir }

// Normalize decodes the file at path into canonical audio. ext is the
// declared extension (with or without the dot); when empty it is taken from
// path.
func (n *Normalizer) Normalize(ctx context.Context, path, ext string) (audio.PCM, error) {
	ext = cleanExt(ext)
	if ext == "" {
		ext = cleanExt(filepath.Ext(path))
	}

	fi, err := os.Stat(path)
	if err != nil {
		return audio.PCM{}, &ValidationError{Reason: fmt.Sprintf("audio file not readable: %v", err)}
	}
	if fi.Size() == 0 {
		return audio.PCM{}, &ValidationError{Reason: "audio file is empty"}
	}

	log := observe.Logger(ctx)
	var attempts []Attempt
	for _, s := range n.strategies {
		if err := ctx.Err(); err != nil {
			return audio.PCM{}, fmt.Errorf("normalize: %w", err)
		}
		pcm, err := s.Decode(ctx, path, ext)
		if err == nil && len(pcm.Samples) == 0 {
			err = errNoSamples
		}
		n.metrics.RecordDecodeAttempt(ctx, s.Name(), err == nil)
		if err != nil {
			log.Debug("normalize: strategy failed", "method", s.Name(), "ext", ext, "err", err)
			attempts = append(attempts, Attempt{Method: s.Name(), Err: err})
			continue
		}

		log.Debug("normalize: decoded", "method", s.Name(), "format", pcm.String())
		pcm = audio.Canonical(pcm)
		if len(pcm.Samples) < audio.MinSamples {
			return audio.PCM{}, &ValidationError{
				Reason: fmt.Sprintf("audio too short: %d samples, need at least %d", len(pcm.Samples), audio.MinSamples),
			}
		}
		return pcm, nil
	}
	return audio.PCM{}, &DecodeError{Extension: ext, Attempts: attempts}
}

func cleanExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
