package stt

import (
	"regexp"
	"strings"
)

var (
	// regexTimestamp matches inline timestamps like [00:00:00.000 --> 00:00:04.000]
	regexTimestamp = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}[.,]\d{3}\s-->\s\d{2}:\d{2}:\d{2}[.,]\d{3}\]`)
	// regexArtifacts matches non-speech markers such as [BLANK_AUDIO] or (music)
	regexArtifacts = regexp.MustCompile(`\[(?:BLANK_AUDIO|MUSIC|NOISE|SILENCE|INAUDIBLE)\]|\((?i:music|silence|noise|inaudible)\)`)
	regexSpaces    = regexp.MustCompile(`\s+`)
)

// cleanText strips timestamps and non-speech markers and collapses whitespace.
func cleanText(text string) string {
	text = regexTimestamp.ReplaceAllString(text, "")
	text = regexArtifacts.ReplaceAllString(text, "")
	text = regexSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
