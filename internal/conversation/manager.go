package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/voxrelay/callengine/internal/resilience"
)

const (
	repeatNoneApology   = "I'm sorry, I don't have anything to repeat yet."
	speedComplaintReply = "Sorry about that. Please continue."
	incompleteReply     = "Sorry, could you finish that?"
	unclearSpeechReply  = "Sorry, I didn't catch that. Could you say that again?"

	// FallbackReply is the one-shot utterance the call session falls back
	// to when the LLM round-trip fails mid-turn.
	FallbackReply = "Sorry, could you repeat that?"

	reengagementMaxChars = 60
)

// Manager owns one call's conversation history and talks to the LLM on
// behalf of the call session. Its mutable state is guarded by mu: the
// call session calls it from its event loop, its greeting prefetch
// goroutine and its response goroutine.
type Manager struct {
	client oai.Client
	model  string
	goal   string

	mu           sync.Mutex
	history      []Turn
	isComplete   bool
	reengagement string

	breaker *resilience.CircuitBreaker
	log     zerolog.Logger
}

// NewManager constructs a conversation manager backed by the OpenAI chat
// completions API. goal is the operator-supplied objective for the call,
// used to build the greeting and the re-engagement sentence.
func NewManager(apiKey, model, goal string, log zerolog.Logger) *Manager {
	client := oai.NewClient(option.WithAPIKey(apiKey))
	return &Manager{
		client:  client,
		model:   model,
		goal:    goal,
		breaker: resilience.NewCircuitBreaker("conversation-llm", 5, 30*time.Second),
		log:     log.With().Str("component", "conversation").Logger(),
	}
}

// History returns a copy of the current turn history.
func (m *Manager) History() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.history))
	copy(out, m.history)
	return out
}

// IsComplete reports whether the agent has signalled it wants to hang up.
func (m *Manager) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isComplete
}

// Greeting returns one short sentence introducing the agent and the
// purpose of the call. A stray [CALL_COMPLETE] marker in the LLM's
// greeting is stripped and ignored — a greeting can never end the call.
func (m *Manager) Greeting(ctx context.Context) (string, error) {
	prompt := fmt.Sprintf(
		"In one sentence under 15 words, introduce yourself as an AI calling on behalf of a customer for the following purpose, and state the general purpose: %s",
		m.goal,
	)

	text, err := m.callLLM(ctx, prompt)
	if err != nil {
		return "", &ErrLLMFailure{Err: err}
	}

	cleaned, _ := extractCallComplete(text)

	m.mu.Lock()
	m.history = append(m.history, Turn{Role: RoleAssistant, Content: cleaned})
	m.mu.Unlock()

	return cleaned, nil
}

// Respond classifies humanText and returns the agent's reply. It returns
// ok=false iff the conversation is already complete, in which case reply
// is empty and no history mutation occurs.
func (m *Manager) Respond(ctx context.Context, humanText string, tc *TurnContext) (reply string, ok bool, err error) {
	m.mu.Lock()
	if m.isComplete {
		m.mu.Unlock()
		return "", false, nil
	}
	history := append([]Turn(nil), m.history...)
	m.mu.Unlock()

	canned, isCanned := m.classify(history, humanText, tc)
	if isCanned {
		m.appendTurn(RoleUser, humanText)
		m.appendTurn(RoleAssistant, canned)
		return canned, true, nil
	}

	prompt := m.promptFor(history, humanText, tc)

	m.appendTurn(RoleUser, humanText)
	text, err := m.callLLMOverridingLast(ctx, prompt)
	if err != nil {
		m.popLastUserTurn()
		return FallbackReply, true, &ErrLLMFailure{Err: err}
	}

	cleaned, complete := extractCallComplete(text)
	m.mu.Lock()
	m.history = append(m.history, Turn{Role: RoleAssistant, Content: cleaned})
	if complete {
		m.isComplete = true
	}
	m.mu.Unlock()

	return cleaned, true, nil
}

// RespondToUnclearSpeech records a canned "didn't catch that" turn for
// STT transcripts too low-confidence to classify or send to the LLM.
func (m *Manager) RespondToUnclearSpeech() string {
	m.appendTurn(RoleUser, "[unclear speech]")
	m.appendTurn(RoleAssistant, unclearSpeechReply)
	return unclearSpeechReply
}

// StreamChunk is one piece of a streamed response: either spoken text or
// a DTMF digit group extracted from a just-completed sentence.
type StreamChunk struct {
	Text  string
	DTMF  []string
	Final bool
}

// RespondStreaming is the streaming counterpart to Respond. Canned-reply
// paths yield the whole reply as a single chunk; LLM paths yield one
// chunk per completed sentence as the model streams tokens.
func (m *Manager) RespondStreaming(ctx context.Context, humanText string, tc *TurnContext) (<-chan StreamChunk, error) {
	m.mu.Lock()
	if m.isComplete {
		m.mu.Unlock()
		ch := make(chan StreamChunk)
		close(ch)
		return ch, nil
	}
	history := append([]Turn(nil), m.history...)
	m.mu.Unlock()

	canned, isCanned := m.classify(history, humanText, tc)
	if isCanned {
		m.appendTurn(RoleUser, humanText)
		m.appendTurn(RoleAssistant, canned)
		ch := make(chan StreamChunk, 1)
		cleaned, digits := extractDTMF(canned)
		ch <- StreamChunk{Text: cleaned, DTMF: digits, Final: true}
		close(ch)
		return ch, nil
	}

	prompt := m.promptFor(history, humanText, tc)
	m.appendTurn(RoleUser, humanText)

	params := m.buildParamsOverridingLast(prompt)
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		m.popLastUserTurn()
		return nil, &ErrLLMFailure{Err: err}
	}

	out := make(chan StreamChunk, 8)
	go m.pumpStream(ctx, stream, out)
	return out, nil
}

// llmStream is the subset of openai-go's SSE stream type pumpStream
// needs; declared so pumpStream doesn't have to name the concrete
// ssestream.Stream[oai.ChatCompletionChunk] type directly.
type llmStream interface {
	Next() bool
	Current() oai.ChatCompletionChunk
	Err() error
	Close() error
}

func (m *Manager) pumpStream(ctx context.Context, stream llmStream, out chan<- StreamChunk) {
	defer close(out)
	defer stream.Close()

	var buf strings.Builder
	var full strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		buf.WriteString(delta)
		full.WriteString(delta)

		for {
			s := buf.String()
			idx, found := SentenceBoundary(s)
			if !found {
				break
			}
			sentence := s[:idx]
			buf.Reset()
			buf.WriteString(s[idx:])

			cleaned, digits := extractDTMF(sentence)
			if strings.TrimSpace(cleaned) == "" && len(digits) == 0 {
				continue
			}
			select {
			case out <- StreamChunk{Text: cleaned, DTMF: digits}:
			case <-ctx.Done():
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		m.popLastUserTurn()
		m.log.Error().Err(err).Msg("llm stream failed mid-response")
		select {
		case out <- StreamChunk{Text: FallbackReply, Final: true}:
		case <-ctx.Done():
		}
		return
	}

	if rem := buf.String(); strings.TrimSpace(rem) != "" {
		cleaned, digits := extractDTMF(rem)
		select {
		case out <- StreamChunk{Text: cleaned, DTMF: digits}:
		case <-ctx.Done():
			return
		}
	}

	fullText, complete := extractCallComplete(full.String())
	m.mu.Lock()
	m.history = append(m.history, Turn{Role: RoleAssistant, Content: fullText})
	if complete {
		m.isComplete = true
	}
	m.mu.Unlock()

	select {
	case out <- StreamChunk{Final: true}:
	case <-ctx.Done():
	}
}

// classify applies the pre-LLM classifier table. It returns the canned
// reply and true if one of the deterministic rules fired.
func (m *Manager) classify(history []Turn, text string, tc *TurnContext) (string, bool) {
	if isReengagement(history, text) {
		return m.reengagementSentence(), true
	}
	if isRepeatRequest(text) {
		if last, ok := lastAssistantTurn(history); ok {
			return last, true
		}
		return repeatNoneApology, true
	}
	if isSpeedComplaint(text) {
		return speedComplaintReply, true
	}
	if isIncompleteUtterance(text) {
		return incompleteReply, true
	}
	return "", false
}

// promptFor builds the humanText the LLM actually sees, including the
// forbid-repetition and interpret-as-answer prefixes the remaining
// classifiers add without fully canning the reply.
func (m *Manager) promptFor(history []Turn, text string, tc *TurnContext) string {
	if isAnotherOne(history, text) {
		return "Without repeating anything you've already said, " + text
	}
	if tc != nil && tc.ShortAcknowledgement {
		return "Interpret this as the answer to your most recent question, then ask exactly one next question: " + text
	}
	return text
}

func (m *Manager) reengagementSentence() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reengagement != "" {
		return m.reengagement
	}
	sentence := "Hi again, just checking back in about " + m.goal + "."
	if len(sentence) > reengagementMaxChars {
		sentence = sentence[:reengagementMaxChars]
	}
	m.reengagement = sentence
	return sentence
}

func (m *Manager) appendTurn(role Role, content string) {
	m.mu.Lock()
	m.history = append(m.history, Turn{Role: role, Content: content})
	m.mu.Unlock()
}

func (m *Manager) popLastUserTurn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Role == RoleUser {
			m.history = append(m.history[:i], m.history[i+1:]...)
			return
		}
	}
}

// callLLM sends a single user message with no prior history — used only
// by Greeting, which is always the first turn of the call.
func (m *Manager) callLLM(ctx context.Context, prompt string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(m.model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)},
	}
	return m.runCompletion(ctx, params)
}

// callLLMOverridingLast sends the full history, replacing the content of
// the last (just-appended) user turn with prompt. History keeps the
// caller's literal words; the LLM sees whatever steering prefix a
// classifier added for this one call.
func (m *Manager) callLLMOverridingLast(ctx context.Context, prompt string) (string, error) {
	params := m.buildParamsOverridingLast(prompt)
	return m.runCompletion(ctx, params)
}

func (m *Manager) runCompletion(ctx context.Context, params oai.ChatCompletionNewParams) (string, error) {
	var text string
	err := m.breaker.Call(func() error {
		resp, err := m.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty choices in chat completion response")
		}
		text = resp.Choices[0].Message.Content
		return nil
	})
	return text, err
}

// buildParamsOverridingLast builds the message list from history,
// substituting prompt for the content of the final turn (assumed to be
// the user turn the caller just appended).
func (m *Manager) buildParamsOverridingLast(prompt string) oai.ChatCompletionNewParams {
	m.mu.Lock()
	history := append([]Turn(nil), m.history...)
	m.mu.Unlock()

	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(history))
	for i, t := range history {
		content := t.Content
		if i == len(history)-1 {
			content = prompt
		}
		switch t.Role {
		case RoleUser:
			messages = append(messages, oai.UserMessage(content))
		case RoleAssistant:
			messages = append(messages, oai.AssistantMessage(content))
		}
	}

	return oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(m.model),
		Messages: messages,
	}
}
