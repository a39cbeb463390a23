package session

import (
	"encoding/json"

	"github.com/gorilla/websocket"
)

// MediaFrame is the tagged union of inbound frames the telephony
// provider's media WebSocket sends: {event: "connected"|"start"|"media"|"stop"}.
// Exported so the call server can peek at the first frames of a fresh
// socket to route it to the right session before handing it over.
type MediaFrame struct {
	Event string `json:"event"`

	Start *mediaStart `json:"start,omitempty"`
	Media *mediaData  `json:"media,omitempty"`
	Stop  *mediaStop  `json:"stop,omitempty"`

	StreamSID string `json:"streamSid,omitempty"`
}

type mediaStart struct {
	StreamSID        string            `json:"streamSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaData struct {
	Payload string `json:"payload"` // base64 µ-law
}

type mediaStop struct {
	CallSID string `json:"callSid,omitempty"`
}

// ParseMediaFrame decodes one raw media WebSocket message.
func ParseMediaFrame(raw []byte) (MediaFrame, error) {
	var f MediaFrame
	err := json.Unmarshal(raw, &f)
	return f, err
}

// StartCallID extracts the callId named parameter the provider attaches
// to the start frame — the only place the media socket carries it (the
// URL itself does not).
func (f *MediaFrame) StartCallID() (string, bool) {
	if f.Start == nil {
		return "", false
	}
	id, ok := f.Start.CustomParameters["callId"]
	return id, ok
}

// outbound frame shapes the session writes back on the same socket.
type outboundMediaFrame struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
	Mark      *outboundMark  `json:"mark,omitempty"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Name string `json:"name"`
}

// readMediaPump owns reading conn for the lifetime of the session. It is
// started once AttachMedia hands the socket over, and it only ever sends
// loopEvents; it never touches CallState.
func (s *Session) readMediaPump(conn *websocket.Conn) {
	defer close(s.mediaPumpDone)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.send(loopEvent{kind: evMedia, media: MediaFrame{Event: "stop"}})
			return
		}
		frame, err := ParseMediaFrame(raw)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed media frame")
			continue
		}
		s.send(loopEvent{kind: evMedia, media: frame})
	}
}

// sendMediaFrame writes one outbound frame. Safe to call from the event
// loop only; gorilla's Conn is not safe for concurrent writers, and the
// loop is this socket's sole writer for its lifetime.
func (s *Session) sendMediaFrame(f outboundMediaFrame) error {
	if s.mediaConn == nil {
		return errNoMediaStream
	}
	f.StreamSID = s.state.Snapshot().StreamSID
	return s.mediaConn.WriteJSON(f)
}
