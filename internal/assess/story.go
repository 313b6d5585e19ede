package assess

import (
	"strings"

	"github.com/rivo/uniseg"
)

// RemainingText returns the part of story a reader has not reached yet.
// progress is the completed fraction of the story's words; values outside
// [0, 1] are clamped. Whitespace between the remaining words is collapsed to
// single spaces.
func RemainingText(story string, progress float64) string {
	words := strings.Fields(story)
	progress = min(max(progress, 0), 1)
	start := int(progress * float64(len(words)))
	return strings.Join(words[start:], " ")
}

// NextSentence splits text after its first sentence, following the Unicode
// sentence boundary rules (UAX #29). Both parts are trimmed. A text without a
// sentence terminator is returned whole as the sentence.
func NextSentence(text string) (sentence, rest string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	sentence, rest, _ = uniseg.FirstSentenceInString(text, -1)
	return strings.TrimSpace(sentence), strings.TrimSpace(rest)
}

// Sentences splits text into its sentences.
func Sentences(text string) []string {
	var out []string
	for rest := text; ; {
		var s string
		s, rest = NextSentence(rest)
		if s == "" {
			return out
		}
		out = append(out, s)
	}
}
