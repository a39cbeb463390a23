package conversation

import (
	"regexp"
	"strings"
)

var greetingWords = map[string]bool{
	"hello": true, "hi": true, "hey": true, "hi there": true,
	"hello there": true, "good morning": true, "good afternoon": true,
	"good evening": true,
}

var repeatPhrase = regexp.MustCompile(`(?i)\brepeat\b|\bsay that again\b|\bcome again\b|\bwhat was that\b`)

var speedComplaintPhrase = regexp.MustCompile(`(?i)\bslow\b|\blag(gy|ging)?\b|\btaking too long\b|\bhurry up\b|\bspeed up\b`)

var anotherOnePhrase = regexp.MustCompile(`(?i)\banother\b|\bone more\b`)

var interrogativeWords = map[string]bool{
	"what": true, "why": true, "how": true, "who": true, "when": true,
	"where": true, "which": true, "is": true, "are": true, "do": true,
	"does": true, "did": true, "can": true, "could": true, "would": true,
	"will": true, "should": true,
}

var danglingEndWords = map[string]bool{
	// prepositions
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"with": true, "for": true, "from": true, "by": true, "about": true,
	"into": true, "onto": true, "upon": true, "over": true, "under": true,
	// pronouns
	"it": true, "this": true, "that": true, "they": true, "he": true,
	"she": true, "we": true, "you": true, "i": true, "them": true, "us": true,
	// aux verbs
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "does": true, "did": true, "have": true,
	"has": true, "had": true, "will": true, "would": true, "can": true,
	"could": true, "should": true, "must": true, "may": true, "might": true,
}

var shortAckPhrase = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|sure|ok|okay|correct|right|no|nope)\s*\.?\s*$`)

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(text, ".!? ")))
}

func isReengagement(history []Turn, text string) bool {
	if !hasAssistantTurn(history) {
		return false
	}
	return greetingWords[normalize(text)]
}

func isRepeatRequest(text string) bool {
	return repeatPhrase.MatchString(text)
}

func isSpeedComplaint(text string) bool {
	return speedComplaintPhrase.MatchString(text)
}

func isAnotherOne(history []Turn, text string) bool {
	return anotherOnePhrase.MatchString(text) && hasAssistantTurn(history)
}

func isShortAcknowledgement(text string) bool {
	return shortAckPhrase.MatchString(text)
}

// IsShortAcknowledgement reports whether text is a short yes/no-style
// acknowledgement. Exported so the call session can populate
// TurnContext.ShortAcknowledgement from a raw STT transcript before
// calling Respond/RespondStreaming.
func IsShortAcknowledgement(text string) bool {
	return isShortAcknowledgement(text)
}

// isIncompleteUtterance matches a short fragment with no terminal
// punctuation that starts like a question and trails off on a word that
// can't end a sentence on its own (a preposition, pronoun, or auxiliary
// verb) — "what should I" rather than "what should I do".
func isIncompleteUtterance(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?") {
		return false
	}

	words := strings.Fields(trimmed)
	if len(words) < 2 || len(words) > 8 {
		return false
	}

	first := strings.ToLower(strings.Trim(words[0], ".,!?"))
	if !interrogativeWords[first] {
		return false
	}

	last := strings.ToLower(strings.Trim(words[len(words)-1], ".,!?"))
	return danglingEndWords[last]
}

func hasAssistantTurn(history []Turn) bool {
	for _, t := range history {
		if t.Role == RoleAssistant {
			return true
		}
	}
	return false
}

func lastAssistantTurn(history []Turn) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleAssistant {
			return history[i].Content, true
		}
	}
	return "", false
}
