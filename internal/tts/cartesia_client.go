package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
)

const (
	cartesiaTTSURL   = "https://api.cartesia.ai/tts/bytes"
	cartesiaUsageURL = "https://api.cartesia.ai/api-keys/usage"
	ttsReadChunkSize = 4096
)

// CartesiaClient implements Client using Cartesia's TTS API, reading the
// HTTP response body incrementally so audio() events fire as bytes arrive
// rather than once after the whole body is buffered.
type CartesiaClient struct {
	apiKey     string
	modelID    string
	voiceID    string
	httpClient *http.Client

	events chan Event

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	generation int64
}

// ttsRequest is the request payload for Cartesia's streaming bytes
// endpoint. MP3 output is requested as-is: this client is a non-decoding
// pass-through, and the MP3→µ-law transcoding happens downstream in the
// streaming decoder.
type ttsRequest struct {
	ModelID     string      `json:"model_id"`
	Transcript  string      `json:"transcript"`
	Voice       voiceSelect `json:"voice"`
	OutputFmt   outputFmt   `json:"output_format"`
	Language    string      `json:"language,omitempty"`
}

type voiceSelect struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFmt struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client.
func NewCartesiaClient(apiKey, modelID, voiceID string) *CartesiaClient {
	return &CartesiaClient{
		apiKey:     apiKey,
		modelID:    modelID,
		voiceID:    voiceID,
		httpClient: &http.Client{},
		events:     make(chan Event, 32),
	}
}

// Speak starts a streaming synthesis for generation. Audio/done/error
// events are delivered asynchronously on Events().
func (c *CartesiaClient) Speak(text string, generation int64) error {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc() // any prior in-flight request for an older generation is aborted
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel
	c.generation = generation
	c.mu.Unlock()

	go c.run(ctx, text, generation)
	return nil
}

func (c *CartesiaClient) run(ctx context.Context, text string, generation int64) {
	reqBody := ttsRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      voiceSelect{Mode: "id", ID: c.voiceID},
		OutputFmt:  outputFmt{Container: "mp3"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		c.emit(Event{Kind: EventError, Generation: generation, Err: fmt.Errorf("marshal tts request: %w", err)})
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cartesiaTTSURL, bytes.NewReader(jsonData))
	if err != nil {
		c.emit(Event{Kind: EventError, Generation: generation, Err: fmt.Errorf("build tts request: %w", err)})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", "2024-06-10")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.emit(Event{Kind: EventCancelled, Generation: generation})
			return
		}
		c.emit(Event{Kind: EventError, Generation: generation, Err: fmt.Errorf("tts request failed: %w", err)})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusTooManyRequests {
		c.emit(Event{Kind: EventError, Generation: generation, Err: &ErrQuotaExceeded{}})
		return
	}
	if resp.StatusCode != http.StatusOK {
		c.emit(Event{Kind: EventError, Generation: generation, Err: fmt.Errorf("cartesia tts returned status %d", resp.StatusCode)})
		return
	}

	buf := make([]byte, ttsReadChunkSize)
	for {
		if ctx.Err() != nil {
			c.emit(Event{Kind: EventCancelled, Generation: generation})
			return
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.emit(Event{Kind: EventAudio, Generation: generation, Audio: chunk})
		}
		if readErr != nil {
			break
		}
	}

	c.emit(Event{Kind: EventDone, Generation: generation})
}

func (c *CartesiaClient) emit(e Event) {
	select {
	case c.events <- e:
	default:
		log.Printf("warning: tts event channel full, dropping %v event (generation %d)", e.Kind, e.Generation)
	}
}

// Cancel aborts the in-flight request, if any.
func (c *CartesiaClient) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// Events returns the channel of tagged TTS events.
func (c *CartesiaClient) Events() <-chan Event {
	return c.events
}

// EstimateCharacterBudget returns the bounded character estimate for a call.
func (c *CartesiaClient) EstimateCharacterBudget(goal, context string) int {
	return EstimateCharacterBudget(goal, context)
}

// CheckQuota queries Cartesia's remaining character quota for the
// configured API key and compares it against estimatedChars.
func (c *CartesiaClient) CheckQuota(estimatedChars int) error {
	req, err := http.NewRequest(http.MethodGet, cartesiaUsageURL, nil)
	if err != nil {
		return fmt.Errorf("build quota request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("quota request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cartesia usage endpoint returned status %d", resp.StatusCode)
	}

	var usage struct {
		RemainingCharacters int `json:"remaining_characters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return fmt.Errorf("decode quota response: %w", err)
	}

	if usage.RemainingCharacters < estimatedChars {
		return &ErrQuotaExceeded{Remaining: usage.RemainingCharacters, Needed: estimatedChars}
	}
	return nil
}

// Close releases resources; idempotent.
func (c *CartesiaClient) Close() error {
	c.Cancel()
	return nil
}

