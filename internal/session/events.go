package session

import (
	decoderpkg "github.com/voxrelay/callengine/internal/decoder"
	sttpkg "github.com/voxrelay/callengine/internal/stt"
	ttspkg "github.com/voxrelay/callengine/internal/tts"
)

// decoderEvent tags a raw decoder.Event with the generation of the
// Decoder that produced it, so the loop can discard events from a
// decoder superseded by barge-in before it finished tearing down.
type decoderEvent struct {
	generation int64
	ev         decoderpkg.Event
}

// loopEventKind discriminates the tagged union the event loop selects
// over. Every producer — STT client, TTS client, decoder, media socket
// reader, control-plane, timers — only ever sends a loopEvent; none of
// them touch CallState directly.
type loopEventKind int

const (
	evSTT loopEventKind = iota
	evTTS
	evMedia
	evTimer
	evControl
	evDecoder
	evGreetingReady
	evSpeak
	evDTMF
	evAssistantTurn
	evResponseDone
)

type loopEvent struct {
	kind loopEventKind

	stt sttpkg.Event
	tts ttspkg.Event
	dec decoderEvent

	media MediaFrame

	timer timerID

	control controlMsg

	greetingText string

	speak *speakRequest

	dtmfDigits string

	assistantText string

	responseComplete bool
}

// speakRequest asks the loop to run one speak cycle on behalf of a
// goroutine that is not the loop (the response generator, admin speak).
// done receives exactly one value: nil once the decoder for this
// utterance has closed, or the error that ended the cycle early.
type speakRequest struct {
	text           string
	skipTranscript bool
	done           chan error
}

// timerID names one of the session's cancellable single-shot timers. A
// TimerFired event carries the id it fired for; the loop ignores a fired
// timer whose id no longer matches the currently armed one (it was
// superseded or canceled), which is how stale timers are discarded
// without a shared mutable deadline being compared from two goroutines.
type timerID int

const (
	timerGreeting timerID = iota
	timerMaxGreetingDeferral
	timerDebounce
	timerUnclearSpeechDebounce
	timerCallCompletion
	timerCallAnswer
	timerTTSGrace
	timerTTSRetry
)

// Lifecycle is the outward-facing notification the session emits for
// every event a control-plane subscriber cares about. The session package
// never talks WebSocket itself; the call server owns delivery.
type Lifecycle struct {
	Type    string // call_started | call_ringing | call_connected | transcript | call_ended | error
	CallID  string
	CallSID string
	Text    string
	Role    string
	IsFinal bool
	Summary string
	Status  string
	Message string
}

// Sink receives every lifecycle event a session emits, in order.
type Sink interface {
	Publish(Lifecycle)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(Lifecycle)

func (f SinkFunc) Publish(ev Lifecycle) { f(ev) }
