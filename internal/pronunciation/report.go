package pronunciation

import "fmt"

// ErrorType classifies a pronunciation error. ErrorStress is reserved for
// prosodic analysis; no current path emits it.
type ErrorType string

const (
	ErrorSubstitution    ErrorType = "substitution"
	ErrorDeletion        ErrorType = "deletion"
	ErrorInsertion       ErrorType = "insertion"
	ErrorStress          ErrorType = "stress"
	ErrorProcessingError ErrorType = "processing_error"
)

// Placeholders used for the missing side of an error.
const (
	missingWord = "[missing]"
	noneWord    = "[none]"
	errorWord   = "[error]"
)

// deletionConfidence is the fixed confidence of a deletion.
const deletionConfidence = 0.9

// Error is one detected pronunciation problem. Position is the index of the
// reference word the error belongs to; for insertions it is the index of the
// next reference word.
type Error struct {
	Word       string    `json:"word"`
	Expected   string    `json:"expected_pronunciation"`
	Actual     string    `json:"actual_pronunciation"`
	Confidence float64   `json:"confidence"`
	Type       ErrorType `json:"error_type"`
	Position   int       `json:"position"`
	Suggestion string    `json:"suggestion"`
}

// classify turns every non-matching pair into an Error. Fuzzy matches with
// differing text are errors too; only identical tokens are skipped.
func classify(pairs []Pair, rs *Ruleset) []Error {
	var errs []Error
	refIdx := 0
	for _, p := range pairs {
		pos := refIdx
		if p.HasRef {
			refIdx++
		}
		if p.IsMatch() {
			continue
		}
		switch {
		case !p.HasHyp:
			errs = append(errs, Error{
				Word:       p.Ref,
				Expected:   p.Ref,
				Actual:     missingWord,
				Confidence: deletionConfidence,
				Type:       ErrorDeletion,
				Position:   pos,
				Suggestion: fmt.Sprintf("Don't forget to pronounce '%s'", p.Ref),
			})
		case !p.HasRef:
			errs = append(errs, Error{
				Word:       p.Hyp,
				Expected:   noneWord,
				Actual:     p.Hyp,
				Confidence: confidence(p.Hyp, ""),
				Type:       ErrorInsertion,
				Position:   pos,
				Suggestion: fmt.Sprintf("Leave out '%s', it is not part of the reference", p.Hyp),
			})
		default:
			// Confusion-table hits, single edits and larger mismatches are all
			// reported as substitutions; only the suggestion differs.
			errs = append(errs, Error{
				Word:       p.Ref,
				Expected:   p.Ref,
				Actual:     p.Hyp,
				Confidence: confidence(p.Hyp, p.Ref),
				Type:       ErrorSubstitution,
				Position:   pos,
				Suggestion: suggest(p.Ref, p.Hyp, rs),
			})
		}
	}
	return errs
}

func confidence(hyp, ref string) float64 {
	return max(0.1, 1-Similarity(hyp, ref))
}

func suggest(ref, hyp string, rs *Ruleset) string {
	if sound, ok := rs.Confusion(ref, hyp); ok {
		return fmt.Sprintf("Focus on the '%s' sound in '%s'", sound, ref)
	}
	if pattern, ok := rs.Stress(ref); ok {
		return "Pay attention to stress: " + pattern
	}
	return fmt.Sprintf("Practice saying '%s' slowly", ref)
}

// missingErrors marks every reference token as unspoken.
func missingErrors(ref []string) []Error {
	errs := make([]Error, len(ref))
	for i, w := range ref {
		errs[i] = Error{
			Word:       w,
			Expected:   w,
			Actual:     missingWord,
			Confidence: deletionConfidence,
			Type:       ErrorDeletion,
			Position:   i,
			Suggestion: fmt.Sprintf("Make sure to pronounce '%s'", w),
		}
	}
	return errs
}

// processingErrors marks every reference token as unanalysable.
func processingErrors(ref []string) []Error {
	errs := make([]Error, len(ref))
	for i, w := range ref {
		errs[i] = Error{
			Word:       w,
			Expected:   w,
			Actual:     errorWord,
			Confidence: 0.5,
			Type:       ErrorProcessingError,
			Position:   i,
			Suggestion: fmt.Sprintf("Unable to analyze '%s' due to processing error", w),
		}
	}
	return errs
}
