package pronunciation_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/pronunciation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newAnalyzer(t *testing.T) *pronunciation.Analyzer {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return pronunciation.NewAnalyzer(pronunciation.WithMetrics(m))
}

func analyze(t *testing.T, hyp, ref string) pronunciation.Analysis {
	t.Helper()
	return newAnalyzer(t).Analyze(context.Background(), pronunciation.Request{
		Transcript: hyp,
		Reference:  ref,
		Ruleset:    pronunciation.RulesetFor("en"),
	})
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAnalyze_PerfectMatch(t *testing.T) {
	t.Parallel()
	got := analyze(t, "the quick brown fox", "the quick brown fox")

	if got.TotalErrors != 0 || len(got.Errors) != 0 {
		t.Fatalf("errors = %+v, want none", got.Errors)
	}
	if got.AccuracyScore != 100 || got.OverallScore != 100 {
		t.Errorf("accuracy=%v overall=%v, want 100/100", got.AccuracyScore, got.OverallScore)
	}
	if got.FluencyScore != 84 {
		t.Errorf("fluency = %v, want 84", got.FluencyScore)
	}
	if got.WordsAnalyzed != 4 {
		t.Errorf("words analyzed = %d, want 4", got.WordsAnalyzed)
	}
}

func TestAnalyze_SingleSubstitution(t *testing.T) {
	t.Parallel()
	got := analyze(t, "the kwik brown fox", "the quick brown fox")

	if len(got.Errors) != 1 {
		t.Fatalf("errors = %+v, want exactly one", got.Errors)
	}
	e := got.Errors[0]
	if e.Type != pronunciation.ErrorSubstitution || e.Position != 1 {
		t.Errorf("error = %+v, want substitution at position 1", e)
	}
	if want := 1 - pronunciation.Similarity("kwik", "quick"); !near(e.Confidence, want) {
		t.Errorf("confidence = %v, want %v", e.Confidence, want)
	}
	if !near(e.Confidence, 0.6) {
		t.Errorf("confidence = %v, want 0.6", e.Confidence)
	}
	if e.Word != "quick" || e.Actual != "kwik" {
		t.Errorf("word/actual = %q/%q", e.Word, e.Actual)
	}
	if e.Suggestion != "Practice saying 'quick' slowly" {
		t.Errorf("suggestion = %q", e.Suggestion)
	}
	if got.AccuracyScore != 75 || got.OverallScore != 85 {
		t.Errorf("accuracy=%v overall=%v, want 75/85", got.AccuracyScore, got.OverallScore)
	}
}

func TestAnalyze_Deletion(t *testing.T) {
	t.Parallel()
	got := analyze(t, "a c", "a b c")

	if len(got.Errors) != 1 {
		t.Fatalf("errors = %+v, want one deletion", got.Errors)
	}
	e := got.Errors[0]
	if e.Type != pronunciation.ErrorDeletion || e.Word != "b" || e.Position != 1 {
		t.Errorf("error = %+v, want deletion of b at 1", e)
	}
	if e.Confidence != 0.9 || e.Actual != "[missing]" {
		t.Errorf("error = %+v", e)
	}
	if e.Suggestion != "Don't forget to pronounce 'b'" {
		t.Errorf("suggestion = %q", e.Suggestion)
	}
	if got.AccuracyScore != 66.7 {
		t.Errorf("accuracy = %v, want 66.7", got.AccuracyScore)
	}
	if got.OverallScore != 70 {
		t.Errorf("overall = %v, want 70", got.OverallScore)
	}
}

func TestAnalyze_EmptyHypothesis(t *testing.T) {
	t.Parallel()
	for _, hyp := range []string{"", "   ", "... !"} {
		got := analyze(t, hyp, "a b c")
		if len(got.Errors) != 3 {
			t.Fatalf("hyp %q: errors = %d, want 3", hyp, len(got.Errors))
		}
		for i, e := range got.Errors {
			if e.Type != pronunciation.ErrorDeletion || e.Position != i || e.Confidence != 0.9 {
				t.Errorf("hyp %q: error %d = %+v", hyp, i, e)
			}
		}
		if got.Errors[0].Suggestion != "Make sure to pronounce 'a'" {
			t.Errorf("suggestion = %q", got.Errors[0].Suggestion)
		}
		if got.OverallScore != 0 || got.AccuracyScore != 0 || got.FluencyScore != 50 {
			t.Errorf("hyp %q: scores = %v/%v/%v, want 0/0/50", hyp, got.OverallScore, got.AccuracyScore, got.FluencyScore)
		}
	}
}

func TestAnalyze_Insertion(t *testing.T) {
	t.Parallel()
	got := analyze(t, "a x b c", "a b c")

	if len(got.Errors) != 1 {
		t.Fatalf("errors = %+v, want one insertion", got.Errors)
	}
	e := got.Errors[0]
	if e.Type != pronunciation.ErrorInsertion || e.Word != "x" || e.Position != 1 {
		t.Errorf("error = %+v, want insertion of x before reference word 1", e)
	}
	if e.Expected != "[none]" || e.Confidence != 1 {
		t.Errorf("error = %+v", e)
	}
	if got.AccuracyScore != 66.7 {
		t.Errorf("accuracy = %v, want 66.7", got.AccuracyScore)
	}
}

func TestAnalyze_FuzzyMatchStillReported(t *testing.T) {
	t.Parallel()
	got := analyze(t, "quik", "quick")

	if len(got.Errors) != 1 || got.Errors[0].Type != pronunciation.ErrorSubstitution {
		t.Fatalf("errors = %+v, want one substitution", got.Errors)
	}
	if !near(got.Errors[0].Confidence, 0.2) {
		t.Errorf("confidence = %v, want 0.2", got.Errors[0].Confidence)
	}
}

func TestAnalyze_Suggestions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		hyp  string
		ref  string
		want string
	}{
		{"confusion", "sink", "think", "Focus on the 'th' sound in 'think'"},
		{"stress", "fotografy", "photography", "Pay attention to stress: pho-TOG-ra-phy"},
		{"fallback", "kwik", "quick", "Practice saying 'quick' slowly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := analyze(t, tt.hyp, tt.ref)
			if len(got.Errors) != 1 {
				t.Fatalf("errors = %+v", got.Errors)
			}
			if got.Errors[0].Suggestion != tt.want {
				t.Errorf("suggestion = %q, want %q", got.Errors[0].Suggestion, tt.want)
			}
		})
	}
}

func TestAnalyze_GermanConfusion(t *testing.T) {
	t.Parallel()
	got := newAnalyzer(t).Analyze(context.Background(), pronunciation.Request{
		Transcript: "Bucher",
		Reference:  "Bücher",
		Ruleset:    pronunciation.RulesetFor("de-DE"),
	})
	if len(got.Errors) != 1 {
		t.Fatalf("errors = %+v", got.Errors)
	}
	// ü is checked before ch, and "bucher" contains the substitute "u".
	if got.Errors[0].Suggestion != "Focus on the 'ü' sound in 'bücher'" {
		t.Errorf("suggestion = %q", got.Errors[0].Suggestion)
	}
}

func TestAnalyze_DegradedAlignment(t *testing.T) {
	t.Parallel()
	got := analyze(t, "delta", "alpha beta gamma delta")

	if !got.AlignmentDegraded {
		t.Error("expected positional fallback")
	}
	if got.TotalErrors != 4 {
		t.Errorf("total errors = %d, want 4", got.TotalErrors)
	}
	if got.Errors[0].Type != pronunciation.ErrorSubstitution || got.Errors[0].Word != "alpha" {
		t.Errorf("first error = %+v", got.Errors[0])
	}
}

func TestAnalyze_SyntheticWords(t *testing.T) {
	t.Parallel()
	got := newAnalyzer(t).Analyze(context.Background(), pronunciation.Request{
		Transcript: "hello big world",
		Reference:  "hello big world",
		Duration:   3 * time.Second,
	})
	if len(got.Words) != 3 {
		t.Fatalf("words = %+v", got.Words)
	}
	if got.Words[2].End != 3*time.Second {
		t.Errorf("last word end = %v", got.Words[2].End)
	}
}

func TestAnalyze_ScoresClamped(t *testing.T) {
	t.Parallel()
	// Many insertions push E and C above W.
	got := analyze(t, "x y z w v u a", "a")
	for name, s := range map[string]float64{
		"overall":  got.OverallScore,
		"accuracy": got.AccuracyScore,
		"fluency":  got.FluencyScore,
	} {
		if s < 0 || s > 100 {
			t.Errorf("%s = %v, outside [0,100]", name, s)
		}
	}
}

func TestTranscriptionFailed(t *testing.T) {
	t.Parallel()
	got := pronunciation.TranscriptionFailed(pronunciation.Request{Reference: "Hello, world."})
	if got.Transcript != pronunciation.TranscriptFailed {
		t.Errorf("transcript = %q", got.Transcript)
	}
	if got.TotalErrors != 2 || got.Errors[1].Word != "world" {
		t.Errorf("errors = %+v", got.Errors)
	}
	if got.OverallScore != 0 || got.FluencyScore != 50 {
		t.Errorf("scores = %v/%v", got.OverallScore, got.FluencyScore)
	}
}

func TestAnalysis_Clone(t *testing.T) {
	t.Parallel()
	a := analyze(t, "a c", "a b c")
	c := a.Clone()
	c.Errors[0].Word = "changed"
	if a.Errors[0].Word != "b" {
		t.Error("Clone shares the Errors slice")
	}
	var nilAnalysis *pronunciation.Analysis
	if nilAnalysis.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestFluencyScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want float64
	}{
		{"", 50},
		{"hi", 68},
		{"I a", 66},
		{"the quick brown fox", 84},
		{"Hello there, how are you today?", 90.8},
		{"a a a a a a a a a a a a", 86},
	}
	for _, tt := range tests {
		if got := pronunciation.FluencyScore(tt.text); !near(got, tt.want) {
			t.Errorf("FluencyScore(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestAccuracyAndOverall_NoReferenceWords(t *testing.T) {
	t.Parallel()
	if got := pronunciation.AccuracyScore(0, nil); got != 100 {
		t.Errorf("AccuracyScore = %v", got)
	}
	if got := pronunciation.OverallScore(0, nil); got != 100 {
		t.Errorf("OverallScore = %v", got)
	}
}

func TestAnalyze_ReferenceWithoutWords(t *testing.T) {
	t.Parallel()
	got := analyze(t, "hello world", "... !!")

	if got.WordsAnalyzed != 0 {
		t.Errorf("WordsAnalyzed = %d, want 0", got.WordsAnalyzed)
	}
	if got.TotalErrors != 0 || len(got.Errors) != 0 {
		t.Errorf("errors = %+v, want none", got.Errors)
	}
	if got.AccuracyScore != 100 || got.OverallScore != 100 {
		t.Errorf("scores = %v/%v, want 100/100", got.AccuracyScore, got.OverallScore)
	}
	if got.Transcript != "hello world" {
		t.Errorf("Transcript = %q", got.Transcript)
	}
}
