// Package stt defines the Recognizer interface for speech-to-text back-ends.
//
// A Recognizer wraps a speech recognition model (a local whisper.cpp model, a
// whisper.cpp server, or a hosted transcription API) and turns one window of
// canonical audio into text. The call is synchronous from the caller's point
// of view; long clips are split into windows by the recognition driver before
// they reach a Recognizer.
//
// Concurrency is part of each implementation's contract: every Recognizer
// documents whether a single instance may serve concurrent Recognize calls.
// The job runner relies on that statement when it schedules several jobs
// against one shared instance.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/vocalis/pkg/audio"
)

// ErrUnsupportedAudio is returned when a Recognizer receives audio that is
// not mono at [audio.TargetRate].
var ErrUnsupportedAudio = errors.New("stt: audio must be mono 16 kHz")

// Task selects what the recognizer produces.
type Task string

const (
	// TaskTranscribe emits text in the spoken language.
	TaskTranscribe Task = "transcribe"

	// TaskTranslate emits English text regardless of the spoken language.
	// Only some back-ends support it.
	TaskTranslate Task = "translate"
)

// IsValid reports whether t is a recognised task.
func (t Task) IsValid() bool {
	return t == TaskTranscribe || t == TaskTranslate
}

// Options carries recognition hints for a single call.
type Options struct {
	// Language is the BCP-47 or ISO-639-1 language tag for recognition
	// (e.g., "en", "de-DE"). An empty string lets the back-end auto-detect
	// the language, if supported.
	Language string

	// Task selects transcription or translation. Empty means [TaskTranscribe].
	Task Task
}

// Recognizer is the abstraction over any batch STT back-end.
type Recognizer interface {
	// Recognize transcribes pcm, which must be mono at [audio.TargetRate].
	// Implementations return [ErrUnsupportedAudio] for any other format.
	//
	// A returned error is scoped to this call; callers are expected to carry
	// on with the next window.
	Recognize(ctx context.Context, pcm audio.PCM, opts Options) (Transcript, error)

	// Name identifies the back-end in logs and metrics (e.g., "whisper-native").
	Name() string
}

// CheckAudio returns [ErrUnsupportedAudio] when pcm is not canonical.
func CheckAudio(pcm audio.PCM) error {
	if !pcm.IsCanonical() {
		return ErrUnsupportedAudio
	}
	return nil
}
