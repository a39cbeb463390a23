package session

import (
	"context"
	"errors"
	"time"

	"github.com/voxrelay/callengine/internal/audio"
	"github.com/voxrelay/callengine/internal/decoder"
	"github.com/voxrelay/callengine/internal/echooracle"
	"github.com/voxrelay/callengine/internal/tts"
)

var (
	// errSuperseded tells a waiting speak caller a newer speak() call
	// cancelled this one before its audio finished (agent barge-in).
	errSuperseded = errors.New("session: utterance superseded by newer speech")

	errCallEnded     = errors.New("session: call already ended")
	errNoAudioOutput = errors.New("session: tts produced no audio output")
	errNoMediaStream = errors.New("session: no media stream attached")
)

const (
	// ttsNoAudioGraceMs is how long after TTS done the loop waits for a
	// first decoder chunk before treating the synthesis as empty.
	ttsNoAudioGraceMs = 250
	// ttsRetryDelayMs is the pause before the single empty-TTS retry.
	ttsRetryDelayMs = 200
)

// AudioDecoder is the streaming MP3→µ-law transcoder surface the session
// drives, one instance per speak generation. *decoder.Decoder satisfies
// it; tests substitute an in-memory fake.
type AudioDecoder interface {
	Write(mp3Bytes []byte) error
	End() error
	Stop() error
	Events() <-chan decoder.Event
}

// speakCycle is the loop-owned record of one in-flight speak()
// generation, from TTS request to decoder close.
type speakCycle struct {
	generation     int64
	text           string
	skipTranscript bool
	waiter         chan error

	dec            AudioDecoder
	ttsDone        bool
	chunks         int
	bytesEmitted   int64
	firstChunkAtMs int64
	retried        bool
}

func settleWaiter(w chan error, err error) {
	if w == nil {
		return
	}
	select {
	case w <- err:
	default:
	}
}

// speakAndWait runs one speak cycle on the loop and blocks the calling
// goroutine until the utterance's decoder has closed (or the cycle
// failed). Never called from the loop itself — loop-side callers use
// startSpeak directly.
func (s *Session) speakAndWait(text string, skipTranscript bool) error {
	done := make(chan error, 1)
	s.send(loopEvent{kind: evSpeak, speak: &speakRequest{text: text, skipTranscript: skipTranscript, done: done}})
	select {
	case err := <-done:
		return err
	case <-s.ctx.Done():
		return errCallEnded
	}
}

// startSpeak begins a speak cycle for one sentence chunk. If a cycle is
// already in flight this is the intentional agent barge-in path: the old
// generation's TTS and decoder are cancelled and a clear frame discards
// any audio the provider has buffered but not yet played.
func (s *Session) startSpeak(text string, skipTranscript bool, waiter chan error) {
	if s.state.Snapshot().Status.IsTerminal() {
		settleWaiter(waiter, errCallEnded)
		return
	}

	if s.cycle != nil {
		s.ttsClient.Cancel()
		_ = s.cycle.dec.Stop()
		if err := s.sendMediaFrame(outboundMediaFrame{Event: "clear"}); err != nil {
			s.log.Warn().Err(err).Msg("failed to send clear frame on barge-in")
		}
		settleWaiter(s.cycle.waiter, errSuperseded)
		s.cycle = nil
		s.metrics.RecordBargeIn()
	}

	s.decoderGeneration++
	gen := s.decoderGeneration

	d, err := s.newDecoder(s.ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to start decoder")
		s.metrics.RecordError("decoder_start", "session")
		s.isSpeaking = false
		settleWaiter(waiter, err)
		return
	}

	s.cycle = &speakCycle{
		generation:     gen,
		text:           text,
		skipTranscript: skipTranscript,
		waiter:         waiter,
		dec:            d,
	}
	s.isSpeaking = true

	go s.pumpDecoderEvents(d, gen)

	s.metrics.RecordTTSStart()
	if err := s.ttsClient.Speak(text, gen); err != nil {
		s.failSpeak(err)
	}
}

func (s *Session) handleTTSEvent(ev tts.Event) {
	c := s.cycle
	if c == nil || ev.Generation != c.generation {
		return // stale generation
	}

	switch ev.Kind {
	case tts.EventAudio:
		if err := c.dec.Write(ev.Audio); err != nil {
			s.log.Warn().Err(err).Msg("decoder write failed")
		}

	case tts.EventDone:
		s.metrics.RecordTTSEnd(true)
		c.ttsDone = true
		if err := c.dec.End(); err != nil {
			s.log.Warn().Err(err).Msg("decoder end failed")
		}
		if c.chunks == 0 {
			s.armTimer(timerTTSGrace, ttsNoAudioGraceMs*time.Millisecond)
		}

	case tts.EventError:
		s.metrics.RecordTTSEnd(false)
		var quota *tts.ErrQuotaExceeded
		if errors.As(ev.Err, &quota) {
			s.failSpeak(ev.Err)
			s.publishError("TTS character quota exceeded, ending call")
			s.hangupCall(StatusCompleted, "tts quota exceeded")
			return
		}
		s.failSpeak(ev.Err)

	case tts.EventCancelled:
		// Cancellation always belongs to a superseded generation;
		// startSpeak already settled its waiter.
	}
}

func (s *Session) handleDecoderEvent(de decoderEvent) {
	c := s.cycle
	if c == nil || de.generation != c.generation {
		return // stale generation
	}

	switch de.ev.Kind {
	case decoder.EventData:
		if c.firstChunkAtMs == 0 {
			c.firstChunkAtMs = s.nowMs()
			s.cancelTimer(timerTTSGrace)
		}
		c.chunks++
		c.bytesEmitted += int64(len(de.ev.Chunk))
		if err := s.sendMediaFrame(outboundMediaFrame{
			Event: "media",
			Media: &outboundMedia{Payload: base64EncodeMedia(de.ev.Chunk)},
		}); err != nil {
			s.log.Warn().Err(err).Msg("outbound media write failed")
			return
		}
		s.metrics.RecordAudioBytes("out", int64(len(de.ev.Chunk)))

	case decoder.EventError:
		s.log.Error().Err(de.ev.Err).Msg("decoder error")
		s.metrics.RecordError("decoder", "session")

	case decoder.EventClose:
		s.finishSpeak(c)
	}
}

// finishSpeak runs on decoder close for the current generation. The empty
// path falls through to the one-shot retry; the normal path extends the
// STT suppression window by the estimated still-buffered audio and
// settles the waiter.
func (s *Session) finishSpeak(c *speakCycle) {
	if c.chunks == 0 {
		if c.ttsDone {
			s.retryOrFailEmptySpeak(c)
		}
		// Decoder died before TTS finished; the TTS error/done handler
		// decides what happens next.
		return
	}

	now := s.nowMs()
	streamingElapsedMs := now - c.firstChunkAtMs
	s.suppressSttUntilMs = echooracle.ExtendForDecoderClose(
		s.suppressSttUntilMs, now, c.bytesEmitted, streamingElapsedMs,
		int64(s.cfg.PostTTSSTTSuppressionMs),
	)
	s.isSpeaking = false
	s.cycle = nil
	s.cancelTimer(timerTTSGrace)

	if !c.skipTranscript {
		s.appendAssistantTurn(c.text)
	}
	settleWaiter(c.waiter, nil)
}

func (s *Session) retryOrFailEmptySpeak(c *speakCycle) {
	s.cancelTimer(timerTTSGrace)
	if c.retried {
		s.failSpeak(errNoAudioOutput)
		return
	}
	s.armTimer(timerTTSRetry, ttsRetryDelayMs*time.Millisecond)
}

// retryEmptySpeak re-runs the synthesis once, under a fresh generation so
// any stragglers from the first attempt are discarded.
func (s *Session) retryEmptySpeak() {
	c := s.cycle
	if c == nil || c.chunks > 0 {
		return
	}
	_ = c.dec.Stop()

	s.decoderGeneration++
	c.generation = s.decoderGeneration
	c.retried = true
	c.ttsDone = false

	d, err := s.newDecoder(s.ctx)
	if err != nil {
		s.failSpeak(err)
		return
	}
	c.dec = d
	go s.pumpDecoderEvents(d, c.generation)

	s.log.Warn().Str("text", c.text).Msg("tts produced no audio, retrying synthesis once")
	s.metrics.RecordTTSStart()
	if err := s.ttsClient.Speak(c.text, c.generation); err != nil {
		s.failSpeak(err)
	}
}

func (s *Session) failSpeak(err error) {
	c := s.cycle
	if c == nil {
		return
	}
	s.cancelTimer(timerTTSGrace)
	s.cancelTimer(timerTTSRetry)
	_ = c.dec.Stop()
	s.isSpeaking = false
	s.cycle = nil
	settleWaiter(c.waiter, err)
}

// appendAssistantTurn records one final assistant turn in the call
// transcript and forwards it to control clients.
func (s *Session) appendAssistantTurn(text string) {
	s.state.appendTranscript(TranscriptEntry{Role: "assistant", Text: text, Timestamp: time.Now(), IsFinal: true})
	s.sink.Publish(Lifecycle{Type: "transcript", CallID: s.state.CallID, Text: text, Role: "assistant", IsFinal: true})
}

// sendDTMF synthesizes the digit tones and writes them straight to the
// media socket, bypassing TTS and the decoder, then extends the STT
// suppression window to cover the tones' playout.
func (s *Session) sendDTMF(digits string) {
	tones, err := audio.GenerateDTMF(digits)
	if err != nil {
		s.log.Warn().Err(err).Str("digits", digits).Msg("dtmf generation failed")
		return
	}
	if err := s.sendMediaFrame(outboundMediaFrame{
		Event: "media",
		Media: &outboundMedia{Payload: base64EncodeMedia(tones)},
	}); err != nil {
		s.log.Warn().Err(err).Msg("dtmf media write failed")
		return
	}
	s.suppressSttUntilMs = echooracle.ExtendForDTMF(
		s.suppressSttUntilMs, s.nowMs(),
		int64(audio.DTMFDurationMs(digits)),
		int64(s.cfg.PostTTSSTTSuppressionMs),
	)
	s.metrics.RecordDTMFEmitted(len(digits))
	s.metrics.RecordAudioBytes("out", int64(len(tones)))
	s.log.Info().Str("digits", digits).Msg("emitted dtmf tones")
}

// hangupCall requests provider-side termination and moves the session to
// a terminal status. The provider call runs off-loop on a background
// context because terminate cancels the session's own.
func (s *Session) hangupCall(status Status, reason string) {
	sid := s.state.Snapshot().ExternalCallSID
	if sid != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.telephonyAdapter.Hangup(ctx, sid); err != nil {
				s.log.Warn().Err(err).Msg("provider hangup failed")
			}
		}()
	}
	s.terminate(status, reason)
}

func (s *Session) publishError(msg string) {
	s.metrics.RecordError("session", "session")
	s.sink.Publish(Lifecycle{Type: "error", CallID: s.state.CallID, Message: msg})
}
