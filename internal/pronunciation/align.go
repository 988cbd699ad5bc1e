package pronunciation

// Pair is one alignment step. At least one of HasHyp and HasRef is true.
type Pair struct {
	Hyp    string
	Ref    string
	HasHyp bool
	HasRef bool
}

// IsMatch reports whether both sides are present and identical.
func (p Pair) IsMatch() bool {
	return p.HasHyp && p.HasRef && p.Hyp == p.Ref
}

func match(h, r string) Pair { return Pair{Hyp: h, Ref: r, HasHyp: true, HasRef: true} }
func insertion(h string) Pair { return Pair{Hyp: h, HasHyp: true} }
func deletion(r string) Pair { return Pair{Ref: r, HasRef: true} }

// Align pairs hypothesis and reference tokens greedily with one token of
// lookahead. When neither lookahead matches, the current tokens are paired as
// a substitution, even if the two sequences are merely transposed locally.
func Align(hyp, ref []string) []Pair {
	pairs := make([]Pair, 0, max(len(hyp), len(ref)))
	t, r := 0, 0
	for t < len(hyp) && r < len(ref) {
		h, w := hyp[t], ref[r]
		switch {
		case FuzzyEqual(h, w):
			pairs = append(pairs, match(h, w))
			t++
			r++
		case t+1 < len(hyp) && FuzzyEqual(hyp[t+1], w):
			pairs = append(pairs, insertion(h))
			t++
		case r+1 < len(ref) && FuzzyEqual(ref[r+1], h):
			pairs = append(pairs, deletion(w))
			r++
		default:
			pairs = append(pairs, match(h, w))
			t++
			r++
		}
	}
	for ; t < len(hyp); t++ {
		pairs = append(pairs, insertion(hyp[t]))
	}
	for ; r < len(ref); r++ {
		pairs = append(pairs, deletion(ref[r]))
	}
	return pairs
}

// Positional pairs tokens strictly by index, padding the shorter side.
func Positional(hyp, ref []string) []Pair {
	n := max(len(hyp), len(ref))
	pairs := make([]Pair, n)
	for i := range n {
		var p Pair
		if i < len(hyp) {
			p.Hyp, p.HasHyp = hyp[i], true
		}
		if i < len(ref) {
			p.Ref, p.HasRef = ref[i], true
		}
		pairs[i] = p
	}
	return pairs
}

// Deletions counts pairs with a reference token and no hypothesis token.
func Deletions(pairs []Pair) int {
	n := 0
	for _, p := range pairs {
		if p.HasRef && !p.HasHyp {
			n++
		}
	}
	return n
}

// AlignTokens runs [Align] and falls back to [Positional] when more than
// half of the reference tokens came out as deletions. degraded reports
// whether the fallback was taken.
func AlignTokens(hyp, ref []string) (pairs []Pair, degraded bool) {
	pairs = Align(hyp, ref)
	if float64(Deletions(pairs)) > 0.5*float64(len(ref)) {
		return Positional(hyp, ref), true
	}
	return pairs, false
}
