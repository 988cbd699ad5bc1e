package whisper

import "strings"

// baseLanguage reduces a BCP-47 tag to the ISO-639-1 code whisper.cpp
// understands ("en-US" → "en", "pt_BR" → "pt"). "auto" passes through.
func baseLanguage(tag string) string {
	tag = strings.TrimSpace(strings.ToLower(tag))
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return tag
}
