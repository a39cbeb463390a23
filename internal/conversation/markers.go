package conversation

import (
	"regexp"
	"strings"
)

var dtmfMarker = regexp.MustCompile(`\[DTMF:([0-9*#]+)\]`)

// extractDTMF strips any [DTMF:digits] markers from chunk and returns the
// cleaned text plus the digit groups found, in order. Markers are
// extracted before a chunk is spoken so the tones fire only after the
// carrier sentence finishes playing.
func extractDTMF(chunk string) (cleaned string, digitGroups []string) {
	matches := dtmfMarker.FindAllStringSubmatch(chunk, -1)
	for _, m := range matches {
		digitGroups = append(digitGroups, m[1])
	}
	cleaned = dtmfMarker.ReplaceAllString(chunk, "")
	return cleaned, digitGroups
}

// extractCallComplete strips the call-complete marker from text and
// reports whether it was present.
func extractCallComplete(text string) (cleaned string, isComplete bool) {
	if strings.Contains(text, callCompleteMarker) {
		return strings.ReplaceAll(text, callCompleteMarker, ""), true
	}
	return text, false
}

// StripCallComplete removes any call-complete marker from text. The call
// session applies it to streamed chunks before speaking them so the
// protocol marker never reaches TTS or a transcript.
func StripCallComplete(text string) string {
	cleaned, _ := extractCallComplete(text)
	return cleaned
}
