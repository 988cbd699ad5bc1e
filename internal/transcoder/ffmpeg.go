// Package transcoder shells out to ffmpeg to turn arbitrary audio containers
// into formats vocalis can decode in-process.
//
// Two failure modes are reported distinctly so operators can tell a broken
// installation from a broken upload: [ErrNotFound] when the binary cannot be
// resolved, and [*ExitError] when ffmpeg ran but exited non-zero. A run that
// exits cleanly but produces nothing yields [ErrEmptyOutput].
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
)

// ErrNotFound is returned when the ffmpeg binary cannot be resolved.
var ErrNotFound = errors.New("transcoder: ffmpeg binary not found")

// ErrEmptyOutput is returned when ffmpeg exits 0 but produces no audio.
var ErrEmptyOutput = errors.New("transcoder: ffmpeg produced no output")

// ExitError reports a non-zero ffmpeg exit.
type ExitError struct {
	Code   int
	Stderr string
}

// Error implements error.
func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 300 {
		msg = msg[:300] + "…"
	}
	if msg == "" {
		return fmt.Sprintf("transcoder: ffmpeg exited with code %d", e.Code)
	}
	return fmt.Sprintf("transcoder: ffmpeg exited with code %d: %s", e.Code, msg)
}

const defaultTimeout = 60 * time.Second

// FFmpeg invokes the ffmpeg binary. It is safe for concurrent use; each call
// spawns its own process.
type FFmpeg struct {
	binary  string
	runner  CommandRunner
	timeout time.Duration
}

// Option is a functional option for [New].
type Option func(*FFmpeg)

// WithBinary overrides the ffmpeg executable name or path. Default: "ffmpeg".
func WithBinary(path string) Option {
	return func(f *FFmpeg) {
		if path != "" {
			f.binary = path
		}
	}
}

// WithRunner injects a [CommandRunner]. Tests use this to avoid spawning
// real processes.
func WithRunner(r CommandRunner) Option {
	return func(f *FFmpeg) { f.runner = r }
}

// WithTimeout bounds each ffmpeg invocation. Default: 60s.
func WithTimeout(d time.Duration) Option {
	return func(f *FFmpeg) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// New returns an FFmpeg transcoder.
func New(opts ...Option) *FFmpeg {
	f := &FFmpeg{
		binary:  "ffmpeg",
		runner:  ExecRunner{},
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Available resolves the binary and returns its path, or [ErrNotFound].
func (f *FFmpeg) Available() (string, error) {
	path, err := f.runner.LookPath(f.binary)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrNotFound, f.binary, err)
	}
	return path, nil
}

// ToWAV transcodes in to a 16-bit mono WAV at 16 kHz written to out. out is
// overwritten if it exists.
func (f *FFmpeg) ToWAV(ctx context.Context, in, out string) error {
	if _, err := f.run(ctx, WAVArgs(in, out)); err != nil {
		return err
	}
	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmptyOutput, err)
	}
	if info.Size() == 0 {
		return ErrEmptyOutput
	}
	return nil
}

// DecodeFloat32 decodes in to mono float32 samples at 16 kHz, read from
// ffmpeg's standard output.
func (f *FFmpeg) DecodeFloat32(ctx context.Context, in string) ([]float32, error) {
	stdout, err := f.run(ctx, Float32Args(in))
	if err != nil {
		return nil, err
	}
	if len(stdout) < 4 {
		return nil, ErrEmptyOutput
	}
	return audio.LEFloat32(stdout), nil
}

func (f *FFmpeg) run(ctx context.Context, args []string) ([]byte, error) {
	bin, err := f.Available()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := f.runner.Run(ctx, bin, args...)
	if err != nil || res.ExitCode != 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("transcoder: ffmpeg: %w", ctxErr)
		}
		code := res.ExitCode
		if code == 0 {
			code = -1
		}
		return nil, &ExitError{Code: code, Stderr: res.Stderr}
	}
	return res.Stdout, nil
}

// WAVArgs builds the argument list for a WAV transcode of in to out.
func WAVArgs(in, out string) []string {
	return []string{
		"-i", in,
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(audio.TargetRate),
		"-f", "wav",
		"-loglevel", "error",
		"-y", out,
	}
}

// Float32Args builds the argument list for decoding in to raw little-endian
// float32 mono PCM on standard output.
func Float32Args(in string) []string {
	return []string{
		"-nostdin",
		"-i", in,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(audio.TargetRate),
		"-loglevel", "error",
		"pipe:1",
	}
}
