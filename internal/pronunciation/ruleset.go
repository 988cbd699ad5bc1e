package pronunciation

import (
	"strings"

	"golang.org/x/text/language"
)

// Confusion lists substitutes a learner commonly produces for a sound.
type Confusion struct {
	Sound       string
	Substitutes []string
}

// Ruleset holds the per-language confusion and stress tables. A Ruleset is
// immutable after construction and safe to share between goroutines.
type Ruleset struct {
	lang       string
	tag        language.Tag
	confusions []Confusion
	stress     map[string]string
}

// NewRuleset builds a Ruleset, copying its inputs. Confusions are checked in
// the given order.
func NewRuleset(lang string, confusions []Confusion, stress map[string]string) *Ruleset {
	rs := &Ruleset{
		lang:   lang,
		tag:    language.Make(lang),
		stress: make(map[string]string, len(stress)),
	}
	for _, c := range confusions {
		rs.confusions = append(rs.confusions, Confusion{
			Sound:       c.Sound,
			Substitutes: append([]string(nil), c.Substitutes...),
		})
	}
	for k, v := range stress {
		rs.stress[k] = v
	}
	return rs
}

// Language returns the base language code, e.g. "en".
func (rs *Ruleset) Language() string { return rs.lang }

// Tag returns the language tag used for case folding.
func (rs *Ruleset) Tag() language.Tag { return rs.tag }

// Confusion returns the first sound that occurs in ref while one of its
// substitutes occurs in hyp.
func (rs *Ruleset) Confusion(ref, hyp string) (sound string, ok bool) {
	for _, c := range rs.confusions {
		if !strings.Contains(ref, c.Sound) {
			continue
		}
		for _, sub := range c.Substitutes {
			if strings.Contains(hyp, sub) {
				return c.Sound, true
			}
		}
	}
	return "", false
}

// Stress returns the stress pattern for a known multisyllabic word.
func (rs *Ruleset) Stress(word string) (string, bool) {
	p, ok := rs.stress[word]
	return p, ok
}

var builtinRulesets = map[string]*Ruleset{
	"en": NewRuleset("en",
		[]Confusion{
			{Sound: "th", Substitutes: []string{"s", "z", "f", "v", "d", "t"}},
			{Sound: "r", Substitutes: []string{"w", "l"}},
			{Sound: "v", Substitutes: []string{"w", "b", "f"}},
			{Sound: "w", Substitutes: []string{"v", "u"}},
		},
		map[string]string{
			"photograph":   "PHO-to-graph",
			"photography":  "pho-TOG-ra-phy",
			"photographer": "pho-TOG-ra-pher",
		},
	),
	"de": NewRuleset("de",
		[]Confusion{
			{Sound: "ü", Substitutes: []string{"u", "ue", "y"}},
			{Sound: "ö", Substitutes: []string{"o", "oe"}},
			{Sound: "ä", Substitutes: []string{"a", "ae", "e"}},
			{Sound: "ch", Substitutes: []string{"sh", "k", "h"}},
			{Sound: "r", Substitutes: []string{"ah", "er"}},
		},
		nil,
	),
}

// RulesetFor returns the built-in ruleset for lang ("en", "de-DE", ...).
// Languages without tables get an empty ruleset that still carries the
// language's casing rules.
func RulesetFor(lang string) *Ruleset {
	base := baseLanguage(lang)
	if rs, ok := builtinRulesets[base]; ok {
		return rs
	}
	return NewRuleset(base, nil, nil)
}

func baseLanguage(lang string) string {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return "und"
	}
	b, _ := tag.Base()
	return b.String()
}
