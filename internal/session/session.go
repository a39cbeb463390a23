package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxrelay/callengine/internal/audio"
	"github.com/voxrelay/callengine/internal/config"
	"github.com/voxrelay/callengine/internal/conversation"
	"github.com/voxrelay/callengine/internal/decoder"
	"github.com/voxrelay/callengine/internal/observability"
	"github.com/voxrelay/callengine/internal/stt"
	"github.com/voxrelay/callengine/internal/telephony"
	"github.com/voxrelay/callengine/internal/tts"
)

// Deps bundles the per-call collaborators a Session orchestrates. The
// call server constructs one set of Deps per origination; nothing here
// is shared across calls.
type Deps struct {
	Config       *config.Config
	Log          zerolog.Logger
	Metrics      *observability.Metrics
	Telephony    *telephony.Adapter
	Conversation *conversation.Manager
	STT          stt.Client
	TTS          tts.Client
	NewDecoder   func(ctx context.Context) (AudioDecoder, error)
	Sink         Sink
}

// Session owns one call. Everything reachable from the event loop
// (dispatch and its callees) is the loop's alone; outside goroutines
// reach in only through State().Snapshot(), the Mark*/Inject*/Hangup
// senders, and speakAndWait.
type Session struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *observability.Metrics

	telephonyAdapter *telephony.Adapter
	conv             *conversation.Manager
	sttClient        stt.Client
	ttsClient        tts.Client
	newDecoder       func(ctx context.Context) (AudioDecoder, error)
	sink             Sink

	state *CallState

	events chan loopEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mediaConn     *websocket.Conn
	mediaPumpDone chan struct{}

	timerStop map[timerID]chan struct{}

	startedMono time.Time

	// turn-taking / echo-suppression state — single-writer, loop only.
	isSpeaking              bool
	suppressSttUntilMs      int64
	decoderGeneration       int64
	isProcessingResponse    bool
	pendingTranscript       string
	lastFinalTranscriptAtMs int64

	greeted                  bool
	humanSpokeBeforeGreeting bool
	remoteSpeechDetectedAtMs int64
	greetingText             string
	preGreetingVAD           *audio.ConsecutiveVoiceDetector

	sttTimelineStartMs int64

	cycle *speakCycle

	started      sync.Once
	endedEmitted bool
	done         chan struct{}
}

// New constructs a Session in the "initiating" state. Start launches the
// event loop; AttachMedia hands over the telephony media socket once it
// connects.
func New(callID, goal, callContext string, deps Deps) *Session {
	s := &Session{
		cfg:              deps.Config,
		log:              deps.Log.With().Str("callId", callID).Logger(),
		metrics:          deps.Metrics,
		telephonyAdapter: deps.Telephony,
		conv:             deps.Conversation,
		sttClient:        deps.STT,
		ttsClient:        deps.TTS,
		newDecoder:       deps.NewDecoder,
		sink:             deps.Sink,
		state: &CallState{
			CallID:    callID,
			Goal:      goal,
			Context:   callContext,
			Status:    StatusInitiating,
			StartedAt: time.Now(),
		},
		events:      make(chan loopEvent, 256),
		timerStop:   make(map[timerID]chan struct{}),
		startedMono: time.Now(),
		done:        make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.preGreetingVAD = audio.NewConsecutiveVoiceDetector(deps.Config.VADEnergyThreshold, 2)
	return s
}

// Start launches the event loop and the STT/TTS event pumps. The server
// calls it as soon as the session is registered, before origination
// returns, so provider status callbacks and reconciliation can advance
// the state machine even if the media stream never attaches (busy,
// failed, no-answer). Idempotent.
func (s *Session) Start() {
	s.started.Do(func() {
		s.wg.Add(3)
		go func() {
			defer s.wg.Done()
			s.run()
		}()
		go func() {
			defer s.wg.Done()
			s.pumpSTTEvents()
		}()
		go func() {
			defer s.wg.Done()
			s.pumpTTSEvents()
		}()
		s.send(loopEvent{kind: evControl, control: controlMsg{Type: controlArmAnswerTimeout}})
	})
}

// State returns the session's call state for external (read-only) use.
func (s *Session) State() *CallState { return s.state }

// Done is closed once the event loop has fully exited and cleanup ran.
func (s *Session) Done() <-chan struct{} { return s.done }

// send enqueues a loop event; called from any producer goroutine.
// Never blocks indefinitely: a full channel means the loop is wedged,
// and dropping is preferable to stalling a provider callback forever.
func (s *Session) send(e loopEvent) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	default:
		s.log.Warn().Int("kind", int(e.kind)).Msg("session event channel full, dropping event")
	}
}

// MarkRinging transitions initiating -> ringing on a provider status
// callback that arrives before the media stream opens.
func (s *Session) MarkRinging() {
	s.send(loopEvent{kind: evControl, control: controlMsg{Type: controlRinging}})
}

// MarkTerminalFromProvider advances the state machine when the call
// server's status reconciliation observes a terminal telephony status
// the session never saw as a webhook.
func (s *Session) MarkTerminalFromProvider(status Status) {
	s.send(loopEvent{kind: evControl, control: controlMsg{Type: controlProviderTerminal, status: status}})
}

// InjectSpeak delivers an administrator-issued utterance from the
// control plane; the session speaks it as if the agent had produced it.
func (s *Session) InjectSpeak(text string) {
	s.send(loopEvent{kind: evControl, control: controlMsg{Type: controlSpeak, Text: text}})
}

// Hangup requests an administrative hangup of the call.
func (s *Session) Hangup() {
	s.send(loopEvent{kind: evControl, control: controlMsg{Type: controlHangup}})
}

// SetExternalCallSID records the provider-assigned call SID once
// origination returns.
func (s *Session) SetExternalCallSID(sid string) {
	s.state.setExternalCallSID(sid)
}

// AttachMedia hands the telephony media socket over to the session. The
// ordering below is load-bearing (the initialization sequence): the
// socket's read pump is wired before anything that could yield, so no
// inbound frame is ever silently dropped during setup; STT connects in
// the background (its client queues pre-open frames); the initial start
// frame is processed last, since it triggers the greeting and needs the
// event pumps (started in Start) already draining.
func (s *Session) AttachMedia(conn *websocket.Conn, initialStart *MediaFrame) {
	s.Start()
	s.mediaConn = conn
	s.mediaPumpDone = make(chan struct{})

	// 1. Attach the media socket's own read pump first.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readMediaPump(conn)
	}()

	// 2. Kick off the STT connect in the background; frames arriving before
	// the provider socket opens are queued by the client and flushed in
	// order on open.
	go func() {
		if err := s.sttClient.Connect(s.ctx); err != nil {
			s.log.Error().Err(err).Msg("stt connect failed")
			s.metrics.RecordError("stt_connect", "session")
		}
	}()

	// 3. Finally, process the initial start frame, if one was already read
	// by the caller while routing this socket to this session.
	if initialStart != nil {
		s.send(loopEvent{kind: evMedia, media: *initialStart})
	}
}

func (s *Session) pumpSTTEvents() {
	for {
		select {
		case ev, ok := <-s.sttClient.Events():
			if !ok {
				return
			}
			s.send(loopEvent{kind: evSTT, stt: ev})
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) pumpTTSEvents() {
	for {
		select {
		case ev, ok := <-s.ttsClient.Events():
			if !ok {
				return
			}
			s.send(loopEvent{kind: evTTS, tts: ev})
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) pumpDecoderEvents(d AudioDecoder, generation int64) {
	for ev := range d.Events() {
		s.send(loopEvent{kind: evDecoder, dec: decoderEvent{generation: generation, ev: ev}})
		if ev.Kind == decoder.EventClose {
			return
		}
	}
}

// run is the single event-loop goroutine. It is the only writer of
// CallState (apart from the external call SID, see SetExternalCallSID)
// and of every turn-taking field on Session.
func (s *Session) run() {
	defer s.cleanup()
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
			if s.state.Status.IsTerminal() && s.pendingCleanupDrained() {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// pendingCleanupDrained allows a couple of trailing events (e.g. a
// decoder close racing the terminal transition) to be processed before
// the loop exits, rather than abandoning them mid-flight.
func (s *Session) pendingCleanupDrained() bool {
	return len(s.events) == 0
}

func (s *Session) dispatch(ev loopEvent) {
	switch ev.kind {
	case evMedia:
		s.handleMediaFrame(ev.media)
	case evSTT:
		s.handleSTTEvent(ev.stt)
	case evTTS:
		s.handleTTSEvent(ev.tts)
	case evDecoder:
		s.handleDecoderEvent(ev.dec)
	case evTimer:
		s.handleTimer(ev.timer)
	case evControl:
		s.handleControl(ev.control)
	case evGreetingReady:
		s.greetingText = ev.greetingText
	case evSpeak:
		s.startSpeak(ev.speak.text, ev.speak.skipTranscript, ev.speak.done)
	case evDTMF:
		s.sendDTMF(ev.dtmfDigits)
	case evAssistantTurn:
		s.appendAssistantTurn(ev.assistantText)
	case evResponseDone:
		s.handleResponseDone(ev.responseComplete)
	}
}

// controlMsg is a command delivered into the loop from outside: an
// administrative speak/hangup from the control plane, or a status
// transition observed by the call server (ringing, provider-terminal).
type controlMsg struct {
	Type   string
	Text   string
	status Status
}

const (
	controlSpeak            = "speak"
	controlHangup           = "hangup"
	controlRinging          = "ringing"
	controlProviderTerminal = "provider_terminal"
	controlArmAnswerTimeout = "arm_answer_timeout"
)

func (s *Session) handleControl(c controlMsg) {
	switch c.Type {
	case controlRinging:
		if s.state.Snapshot().Status == StatusInitiating {
			s.state.setStatus(StatusRinging)
			s.sink.Publish(Lifecycle{Type: "call_ringing", CallID: s.state.CallID})
		}
	case controlProviderTerminal:
		s.terminate(c.status, "provider reported terminal status")
	case controlHangup:
		s.hangupCall(StatusCompleted, "administrative hangup")
	case controlSpeak:
		s.startSpeak(c.Text, false, nil)
	case controlArmAnswerTimeout:
		s.armTimer(timerCallAnswer, time.Duration(s.cfg.CallAnswerTimeoutMs)*time.Millisecond)
	}
}

// terminate moves the call to a terminal status and tears down
// resources. Idempotent: once terminal, further calls are no-ops beyond
// the guaranteed-once emitEnded.
func (s *Session) terminate(status Status, reason string) {
	wasTerminal := s.state.Snapshot().Status.IsTerminal()
	s.state.setStatus(status)
	if !wasTerminal {
		s.log.Info().Str("status", string(status)).Str("reason", reason).Msg("call ending")
	}
	s.cancelAllTimers()
	if s.cycle != nil {
		s.ttsClient.Cancel()
		_ = s.cycle.dec.Stop()
		settleWaiter(s.cycle.waiter, errCallEnded)
		s.cycle = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// cleanup runs once, when the event loop exits. It is idempotent:
// resources are released at most once, and emitEnded guards the
// call_ended lifecycle notification with endedEmitted.
func (s *Session) cleanup() {
	s.cancelAllTimers()
	if s.cycle != nil {
		_ = s.cycle.dec.Stop()
		settleWaiter(s.cycle.waiter, errCallEnded)
		s.cycle = nil
	}
	_ = s.sttClient.Close()
	_ = s.ttsClient.Close()
	if s.mediaConn != nil {
		_ = s.mediaConn.Close()
	}
	s.emitEnded()
	close(s.done)
}

func (s *Session) emitEnded() {
	if s.endedEmitted {
		return
	}
	s.endedEmitted = true

	snapshot := s.state.Snapshot()
	summary := summarizeTranscript(snapshot.Transcript)
	s.state.setSummary(summary)
	s.metrics.RecordCallEnd()

	s.sink.Publish(Lifecycle{
		Type:    "call_ended",
		CallID:  s.state.CallID,
		CallSID: snapshot.ExternalCallSID,
		Summary: summary,
		Status:  string(snapshot.Status),
	})
}

func summarizeTranscript(entries []TranscriptEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(fmt.Sprintf("%s: %s", e.Role, e.Text))
	}
	return b.String()
}

// base64DecodeMedia decodes the provider's base64 µ-law media payload.
func base64DecodeMedia(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

func base64EncodeMedia(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
