package pronunciation

import "strings"

var phoneticReplacer = strings.NewReplacer(
	"th", "θ",
	"sh", "ʃ",
	"ch", "tʃ",
	"ng", "ŋ",
	"ph", "f",
	"gh", "f",
)

// Phonetic returns a coarse grapheme-to-IPA rendering of text. It only maps
// a handful of digraphs and is not a real phonetic transcription.
func Phonetic(text string) string {
	return phoneticReplacer.Replace(strings.ToLower(text))
}
