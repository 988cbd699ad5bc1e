package stt

import (
	"strings"
	"time"
)

// Transcript represents a speech-to-text result from a Recognizer.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the back-end detected or was told to use.
	// May be empty.
	Language string

	// Words contains per-word detail when available.
	// May be nil for back-ends that don't support word-level output.
	Words []WordDetail

	// Duration is the length of the recognized audio.
	Duration time.Duration
}

// WordDetail holds per-word timing.
type WordDetail struct {
	Word       string        `json:"word"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence,omitempty"`
}

// SyntheticWords splits text on whitespace and assigns each word an equal,
// contiguous slice of duration. The timings are not measured; they exist so
// clients can lay words out on a timeline.
func SyntheticWords(text string, duration time.Duration) []WordDetail {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	slice := duration / time.Duration(len(words))
	out := make([]WordDetail, len(words))
	for i, w := range words {
		out[i] = WordDetail{
			Word:  w,
			Start: time.Duration(i) * slice,
			End:   time.Duration(i+1) * slice,
		}
	}
	// Absorb the integer division remainder in the last word.
	out[len(out)-1].End = duration
	return out
}
