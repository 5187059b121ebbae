package subtitle

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// terminalMarks end a sentence; a line ending in one gets no extra period.
const terminalMarks = ".!?"

// normalizer capitalizes and terminates line text at flush time.
// It is not safe for concurrent use.
type normalizer struct {
	upper      cases.Caser
	capitalize bool
	punctuate  bool
}

func newNormalizer(tag language.Tag, capitalize, punctuate bool) *normalizer {
	return &normalizer{
		upper:      cases.Upper(tag),
		capitalize: capitalize,
		punctuate:  punctuate,
	}
}

func (n *normalizer) apply(text string) string {
	if text == "" {
		return text
	}
	if n.capitalize {
		r, size := utf8.DecodeRuneInString(text)
		if r != utf8.RuneError {
			text = n.upper.String(string(r)) + text[size:]
		}
	}
	if n.punctuate && !endsSentence(text) {
		text += "."
	}
	return text
}

func endsSentence(text string) bool {
	r, _ := utf8.DecodeLastRuneInString(text)
	return strings.ContainsRune(terminalMarks, r)
}
