package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxrelay/callengine/internal/session"
)

const (
	// mediaStartDeadline bounds how long a fresh media socket may sit
	// without producing its start frame before the server gives up on it.
	mediaStartDeadline = 10 * time.Second

	// maxPreStartFrames bounds how many frames the server will read while
	// waiting for start ("connected" normally arrives first, then start).
	maxPreStartFrames = 8
)

// handleMediaWS terminates the telephony provider's media stream. The
// provider does not carry the callId in the URL, so the server reads
// frames until the start frame arrives, extracts the callId named
// parameter, and hands the socket (plus that frame) to the owning
// session. An unroutable socket is closed with a policy-violation code.
func (s *Server) handleMediaWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("media websocket upgrade failed")
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(mediaStartDeadline))

	for i := 0; i < maxPreStartFrames; i++ {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.log.Warn().Err(err).Msg("media socket closed before start frame")
			_ = conn.Close()
			return
		}

		frame, err := session.ParseMediaFrame(raw)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed pre-start media frame")
			continue
		}
		if frame.Event != "start" {
			continue
		}

		callID, ok := frame.StartCallID()
		if !ok {
			s.closeMediaPolicy(conn, "start frame missing callId parameter")
			return
		}
		sess, ok := s.lookupSession(callID)
		if !ok {
			s.closeMediaPolicy(conn, "no session for callId")
			return
		}

		_ = conn.SetReadDeadline(time.Time{})
		s.log.Info().Str("callId", callID).Str("streamSid", frame.StreamSID).Msg("media stream attached")
		sess.AttachMedia(conn, &frame)
		return
	}

	s.closeMediaPolicy(conn, "no start frame received")
}

func (s *Server) closeMediaPolicy(conn *websocket.Conn, reason string) {
	s.log.Warn().Str("reason", reason).Msg("closing media socket")
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = conn.Close()
}
