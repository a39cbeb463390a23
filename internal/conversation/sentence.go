package conversation

import "regexp"

var (
	sentenceTerminal = regexp.MustCompile(`[.!?]\s`)
	commaBoundary    = regexp.MustCompile(`,\s`)
)

// sentenceBoundaryMinLen is the buffer length at which a comma becomes an
// acceptable fallback split point, so a single run-on clause doesn't sit
// in the streaming buffer forever waiting for terminal punctuation.
const sentenceBoundaryMinLen = 40

// SentenceBoundary scans buf for the next point at which a chunk of text
// can be handed off to TTS without waiting for the rest of the LLM's
// response: a sentence-terminal punctuation mark followed by whitespace,
// or — once buf has grown past sentenceBoundaryMinLen with no terminal
// found — a comma followed by whitespace. It returns the index just past
// the punctuation and its whitespace (a terminal at index i yields i+2),
// so buf[:idx] is the chunk to speak and buf[idx:] is the remainder to
// keep buffering, along with whether a boundary was found.
func SentenceBoundary(buf string) (idx int, found bool) {
	if loc := sentenceTerminal.FindStringIndex(buf); loc != nil {
		return loc[1], true
	}
	if len(buf) >= sentenceBoundaryMinLen {
		if loc := commaBoundary.FindStringIndex(buf); loc != nil {
			return loc[1], true
		}
	}
	return 0, false
}
