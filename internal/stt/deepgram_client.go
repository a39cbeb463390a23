package stt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/voxrelay/callengine/internal/audio"
	"github.com/voxrelay/callengine/internal/config"
	"github.com/voxrelay/callengine/internal/observability"
	"github.com/voxrelay/callengine/internal/resilience"
)

// messageCallbackHandler implements the LiveMessageCallback interface,
// embedding the default handler for everything we don't override.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onOpen    func()
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Open(ocr *msginterfaces.OpenResponse) error {
	m.onOpen()
	return nil
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.onMessage(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.onError != nil {
		return m.onError(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements Client using Deepgram's streaming API, with the
// circuit breaker / reconnect wiring supplied by the resilience package.
type DeepgramClient struct {
	config         *config.Config
	client         *listenClient.WSCallback
	events         chan Event
	preOpenQueue   *audio.FrameQueue
	mu             sync.RWMutex
	isActive       bool
	isOpen         bool
	openOnce       sync.Once
	openedAt       time.Time
	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
}

// NewDeepgramClient creates a new Deepgram streaming client.
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	circuitBreaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	return &DeepgramClient{
		config:         cfg,
		events:         make(chan Event, 100),
		preOpenQueue:   audio.NewFrameQueue(cfg.PreSTTQueueFrames),
		ctx:            ctx,
		cancel:         cancel,
		circuitBreaker: circuitBreaker,
	}
}

// Connect starts the session in the background and blocks only until
// either EventOpen fires, the provider reports an error, or
// STTConnectTimeoutMs elapses. The initial dial is retried with backoff
// inside that window before the session is declared unavailable.
func (d *DeepgramClient) Connect(ctx context.Context) error {
	opened := make(chan error, 1)
	go func() {
		opened <- resilience.Reconnect(ctx, d.start, &resilience.ReconnectConfig{
			MaxAttempts: d.config.ReconnectMaxAttempts,
			Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  5 * time.Second,
		})
	}()

	timeout := time.Duration(d.config.STTConnectTimeoutMs) * time.Millisecond
	select {
	case err := <-opened:
		if err != nil {
			return &ErrSTTUnavailable{Err: err}
		}
		return nil
	case <-time.After(timeout):
		return &ErrSTTUnavailable{Err: fmt.Errorf("no open event within %s", timeout)}
	case <-ctx.Done():
		return &ErrSTTUnavailable{Err: ctx.Err()}
	}
}

func (d *DeepgramClient) start() error {
	d.mu.Lock()
	if d.isActive {
		d.mu.Unlock()
		return fmt.Errorf("deepgram client is already active")
	}
	d.mu.Unlock()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "300", // endpointing threshold within the utterance
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     8000,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onOpen:                 d.handleOpen,
		onMessage:              d.handleDeepgramMessage,
		onError: func(errorResponse *msginterfaces.ErrorResponse) error {
			log.Printf("deepgram error: %+v", errorResponse)
			d.circuitBreaker.Call(func() error { return fmt.Errorf("provider error") })
			observability.UpdateCircuitBreakerState("stt", int(d.circuitBreaker.GetState()))
			observability.IncrementCircuitBreakerFailures("stt")
			d.emit(Event{Kind: EventError, Err: fmt.Errorf("deepgram: %v", errorResponse)})
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.config.DeepgramAPIKey,
		nil,
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}
	if !client.Connect() {
		return fmt.Errorf("deepgram websocket dial failed")
	}

	d.mu.Lock()
	d.client = client
	d.isActive = true
	d.mu.Unlock()

	return nil
}

func (d *DeepgramClient) handleOpen() {
	d.openOnce.Do(func() {
		d.mu.Lock()
		d.isOpen = true
		d.openedAt = time.Now()
		queued := d.preOpenQueue.Drain()
		d.mu.Unlock()

		for _, frame := range queued {
			_ = d.writeThrough(frame)
		}
		d.emit(Event{Kind: EventOpen})
	})
}

// handleDeepgramMessage processes messages from Deepgram and turns them
// into tagged Events.
func (d *DeepgramClient) handleDeepgramMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		log.Printf("deepgram metadata: %+v", msg.Metadata)

	case "SpeechStarted":
		// No session-level event; the call session's own VAD drives pre-greeting logic.

	case "UtteranceEnd":
		// Endpointing signal; final transcripts already carry isFinal.

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		isFinal := msg.IsFinal
		confidence := alt.Confidence

		var words []Word
		for _, w := range alt.Words {
			words = append(words, Word{Word: w.Word, Start: w.Start, End: w.End, Confidence: w.Confidence})
		}

		d.emit(Event{
			Kind:       EventTranscript,
			Text:       alt.Transcript,
			IsFinal:    isFinal,
			Confidence: confidence,
			Words:      words,
		})

		if isFinal && confidence > 0 && confidence < lowConfidenceThreshold {
			d.emit(Event{Kind: EventUnclearSpeech, Text: alt.Transcript, Confidence: confidence})
		}

	default:
		log.Printf("deepgram: unrecognized message type: %s", msg.Type)
	}
}

func (d *DeepgramClient) emit(e Event) {
	select {
	case d.events <- e:
	default:
		log.Printf("warning: stt event channel full, dropping %v event", e.Kind)
	}
}

// SendAudio sends one PCM frame, queuing it (bounded, oldest dropped) if
// the session has not opened yet.
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	d.mu.RLock()
	open := d.isOpen
	d.mu.RUnlock()

	if !open {
		frame := make([]byte, len(audioData))
		copy(frame, audioData)
		d.preOpenQueue.Push(frame)
		return nil
	}

	return d.writeThrough(audioData)
}

func (d *DeepgramClient) writeThrough(audioData []byte) error {
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram client is not active")
		}

		_, err := client.Write(audioData)
		return err
	})

	observability.UpdateCircuitBreakerState("stt", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("stt")
	}
	return err
}

// Events returns the channel of tagged STT events for this session.
func (d *DeepgramClient) Events() <-chan Event {
	return d.events
}

// Close tears down the session; idempotent.
func (d *DeepgramClient) Close() error {
	d.cancel()

	d.mu.Lock()
	active := d.isActive
	client := d.client
	d.isActive = false
	d.mu.Unlock()

	if active && client != nil {
		client.Finish()
	}

	d.emit(Event{Kind: EventClose})
	return nil
}
