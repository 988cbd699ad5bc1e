package pronunciation

import (
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"
)

// neutralScore replaces a subscore whose computation failed.
const neutralScore = 50.0

// AccuracyScore is 100·max(0,(W−E)/W) rounded to one decimal. W == 0 scores
// 100.
func AccuracyScore(referenceWords int, errs []Error) float64 {
	if referenceWords == 0 {
		return 100
	}
	w := float64(referenceWords)
	return round1(100 * math.Max(0, (w-float64(len(errs)))/w))
}

// OverallScore is 100·max(0,(W−C)/W) rounded to one decimal, where C is the
// sum of error confidences.
func OverallScore(referenceWords int, errs []Error) float64 {
	if referenceWords == 0 {
		return 100
	}
	var c float64
	for _, e := range errs {
		c += e.Confidence
	}
	w := float64(referenceWords)
	return round1(100 * math.Max(0, (w-c)/w))
}

// FluencyScore rates how complete and natural transcript sounds, in
// [30, 100]. An empty transcript scores exactly 50.
func FluencyScore(transcript string) float64 {
	words := strings.Fields(transcript)
	n := len(words)
	if n == 0 {
		return neutralScore
	}

	var count float64
	switch {
	case n <= 2:
		count = 60
	case n <= 5:
		count = 70 + 5*float64(n-2)
	case n <= 10:
		count = 85 + 2*float64(n-5)
	default:
		count = 95
	}

	completeness := 85.0
	text := strings.TrimSpace(transcript)
	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?") {
		completeness += 10
	}
	if utf8.RuneCountInString(text) < 10 {
		completeness -= 15
	}

	naturalness := 80.0
	if n > 1 {
		total := 0
		for _, w := range words {
			total += utf8.RuneCountInString(w)
		}
		mean := float64(total) / float64(n)
		switch {
		case mean >= 3 && mean <= 6:
			naturalness = 90
		case mean < 2:
			naturalness = 70
		}
	}

	score := 0.4*count + 0.4*completeness + 0.2*naturalness
	return round1(math.Max(30, math.Min(100, score)))
}

// safeScore runs fn and clamps its result to [0, 100]. A panic or a
// non-finite result yields [neutralScore].
func safeScore(log *slog.Logger, name string, fn func() float64) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("pronunciation: score computation panicked", "score", name, "panic", r)
			score = neutralScore
		}
	}()
	v := fn()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		log.Warn("pronunciation: non-finite score", "score", name)
		return neutralScore
	}
	return math.Max(0, math.Min(100, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
