// Package pronunciation compares a recognized transcript against the text a
// speaker was asked to read and scores the result.
//
// Both texts are tokenized, aligned word by word ([AlignTokens]) and every
// non-matching pair is turned into an [Error] with a confidence and a
// suggestion drawn from the language's [Ruleset]. Three scores summarise the
// attempt: accuracy counts errors, overall weighs them by confidence and
// fluency rates the transcript's shape.
//
// [Analyzer.Analyze] never panics and never returns an error: degenerate
// input and internal faults both produce a well-formed [Analysis].
package pronunciation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// ErrAlignmentDegraded is logged when greedy alignment is discarded for
// positional pairing.
var ErrAlignmentDegraded = errors.New("pronunciation: alignment degraded to positional pairing")

// Sentinel transcripts for degraded analyses.
const (
	TranscriptFailed = "[Transcription failed]"
	AnalysisFailed   = "[Analysis failed]"
	NotAvailable     = "[Not available]"
)

// Analysis is the report for one pronunciation attempt.
type Analysis struct {
	OverallScore       float64          `json:"overall_score"`
	AccuracyScore      float64          `json:"accuracy_score"`
	FluencyScore       float64          `json:"fluency_score"`
	Errors             []Error          `json:"pronunciation_errors"`
	Transcript         string           `json:"transcript"`
	PhoneticTranscript string           `json:"phonetic_transcript"`
	WordsAnalyzed      int              `json:"words_analyzed"`
	TotalErrors        int              `json:"total_errors"`
	Words              []stt.WordDetail `json:"words,omitempty"`
	AlignmentDegraded  bool             `json:"alignment_degraded"`
}

// Clone returns a deep copy of a.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.Errors = append([]Error(nil), a.Errors...)
	if c.Errors == nil {
		c.Errors = []Error{}
	}
	if a.Words != nil {
		c.Words = append([]stt.WordDetail(nil), a.Words...)
	}
	return &c
}

// Request is the input to [Analyzer.Analyze].
type Request struct {
	// Transcript is the recognizer output. Empty means nothing was heard.
	Transcript string
	// Reference is the text the speaker was asked to read.
	Reference string
	// Ruleset selects confusion and stress tables. Nil uses an empty ruleset.
	Ruleset *Ruleset
	// Duration of the clip, used for synthetic word timings. Zero omits them.
	Duration time.Duration
}

// Analyzer scores pronunciation attempts. It is stateless and safe for
// concurrent use.
type Analyzer struct {
	metrics *observe.Metrics
	align   func(hyp, ref []string) ([]Pair, bool)
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{align: AlignTokens}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Analyze compares req.Transcript with req.Reference.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (res Analysis) {
	log := observe.Logger(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error("pronunciation: analysis failed", "panic", r)
			res = Failed(req)
		}
	}()

	rs := req.Ruleset
	if rs == nil {
		rs = RulesetFor("")
	}
	ref := Tokenize(req.Reference, rs.Tag())
	hyp := Tokenize(req.Transcript, rs.Tag())

	if len(hyp) == 0 {
		return Missing(ref, req.Transcript)
	}

	if len(ref) == 0 {
		// Nothing to compare against: no word can be wrong.
		return Analysis{
			OverallScore:       OverallScore(0, nil),
			AccuracyScore:      AccuracyScore(0, nil),
			FluencyScore:       safeScore(log, "fluency", func() float64 { return FluencyScore(req.Transcript) }),
			Errors:             []Error{},
			Transcript:         req.Transcript,
			PhoneticTranscript: Phonetic(req.Transcript),
		}
	}

	pairs, degraded := a.align(hyp, ref)
	if degraded {
		log.Warn("pronunciation: too many deletions, pairing by position",
			"err", ErrAlignmentDegraded,
			"hypothesis_words", len(hyp),
			"reference_words", len(ref),
		)
		a.metrics.AlignmentFallbacks.Add(ctx, 1)
	}

	errs := classify(pairs, rs)
	if errs == nil {
		errs = []Error{}
	}
	w := len(ref)

	res = Analysis{
		OverallScore:       safeScore(log, "overall", func() float64 { return OverallScore(w, errs) }),
		AccuracyScore:      safeScore(log, "accuracy", func() float64 { return AccuracyScore(w, errs) }),
		FluencyScore:       safeScore(log, "fluency", func() float64 { return FluencyScore(req.Transcript) }),
		Errors:             errs,
		Transcript:         req.Transcript,
		PhoneticTranscript: Phonetic(req.Transcript),
		WordsAnalyzed:      w,
		TotalErrors:        len(errs),
		AlignmentDegraded:  degraded,
	}
	if req.Duration > 0 {
		res.Words = stt.SyntheticWords(req.Transcript, req.Duration)
	}
	return res
}

// Missing is the analysis of an attempt in which nothing was recognized:
// every reference token is a deletion and overall and accuracy are 0.
func Missing(ref []string, transcript string) Analysis {
	errs := missingErrors(ref)
	return Analysis{
		OverallScore:       0,
		AccuracyScore:      0,
		FluencyScore:       neutralScore,
		Errors:             errs,
		Transcript:         strings.TrimSpace(transcript),
		PhoneticTranscript: NotAvailable,
		WordsAnalyzed:      len(ref),
		TotalErrors:        len(errs),
	}
}

// TranscriptionFailed is the analysis for an attempt whose recognition
// failed outright. It scores like [Missing] but carries [TranscriptFailed].
func TranscriptionFailed(req Request) Analysis {
	rs := req.Ruleset
	if rs == nil {
		rs = RulesetFor("")
	}
	res := Missing(Tokenize(req.Reference, rs.Tag()), "")
	res.Transcript = TranscriptFailed
	return res
}

// Failed is the analysis returned when analysis itself broke: every
// reference token is a processing error and all scores are 0.
func Failed(req Request) Analysis {
	rs := req.Ruleset
	if rs == nil {
		rs = RulesetFor("")
	}
	words := Tokenize(req.Reference, rs.Tag())
	errs := processingErrors(words)
	return Analysis{
		Errors:             errs,
		Transcript:         AnalysisFailed,
		PhoneticTranscript: NotAvailable,
		WordsAnalyzed:      len(words),
		TotalErrors:        len(errs),
	}
}
