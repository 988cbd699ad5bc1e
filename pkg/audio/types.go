package audio

import "time"

// TargetRate is the sample rate every recognizer in vocalis consumes.
const TargetRate = 16000

// MinSamples is the shortest clip accepted after normalization (0.1 s at
// [TargetRate]).
const MinSamples = TargetRate / 10

// PCM is a decoded clip of interleaved float32 samples in the range [-1, 1].
//
// After normalization SampleRate is [TargetRate], Channels is 1 and the clip
// holds at least [MinSamples] samples.
type PCM struct {
	// Samples holds interleaved samples, Channels values per frame.
	Samples []float32

	// SampleRate in Hz (e.g., 44100 for CD audio, 16000 for recognizers).
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Frames returns the number of sample frames (samples per channel).
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Duration returns the playback length of the clip.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// IsCanonical reports whether p is mono at [TargetRate].
func (p PCM) IsCanonical() bool {
	return p.SampleRate == TargetRate && p.Channels == 1
}

// String returns a human-readable description, e.g. "44100Hz stereo 2.5s".
func (p PCM) String() string {
	return formatString(p.SampleRate, p.Channels) + " " + p.Duration().String()
}
