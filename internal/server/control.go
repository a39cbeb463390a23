package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxrelay/callengine/internal/session"
)

// ClientMessage is one JSON frame a control-plane client sends.
type ClientMessage struct {
	Type        string `json:"type"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Goal        string `json:"goal,omitempty"`
	Context     string `json:"context,omitempty"`
	CallID      string `json:"callId,omitempty"`
	Text        string `json:"text,omitempty"`
}

// ServerMessage is one JSON frame broadcast to every control client.
type ServerMessage struct {
	Type    string `json:"type"`
	CallID  string `json:"callId,omitempty"`
	CallSID string `json:"callSid,omitempty"`
	Text    string `json:"text,omitempty"`
	Role    string `json:"role,omitempty"`
	IsFinal bool   `json:"isFinal"`
	Summary string `json:"summary,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

func serverMessageFromLifecycle(ev session.Lifecycle) ServerMessage {
	return ServerMessage{
		Type:    ev.Type,
		CallID:  ev.CallID,
		CallSID: ev.CallSID,
		Text:    ev.Text,
		Role:    ev.Role,
		IsFinal: ev.IsFinal,
		Summary: ev.Summary,
		Status:  ev.Status,
		Message: ev.Message,
	}
}

const controlWriteTimeout = 10 * time.Second

// controlClient is one connected control-plane subscriber. Outbound
// frames go through a buffered channel so one slow client never blocks
// the broadcast path; a client that can't keep up is dropped.
type controlClient struct {
	conn *websocket.Conn
	send chan ServerMessage
}

// controlHub fans ServerMessages out to every connected control client.
// Registration, unregistration and broadcast are serialized through its
// run loop.
type controlHub struct {
	log        zerolog.Logger
	clients    map[*controlClient]bool
	register   chan *controlClient
	unregister chan *controlClient
	events     chan ServerMessage
	count      chan chan int
}

func newControlHub(log zerolog.Logger) *controlHub {
	return &controlHub{
		log:        log.With().Str("component", "control-hub").Logger(),
		clients:    make(map[*controlClient]bool),
		register:   make(chan *controlClient),
		unregister: make(chan *controlClient),
		events:     make(chan ServerMessage, 64),
		count:      make(chan chan int),
	}
}

func (h *controlHub) run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.events:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.log.Warn().Msg("control client too slow, dropping connection")
					delete(h.clients, c)
					close(c.send)
				}
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			return
		}
	}
}

func (h *controlHub) broadcast(msg ServerMessage) {
	select {
	case h.events <- msg:
	default:
		h.log.Warn().Str("type", msg.Type).Msg("control broadcast queue full, dropping message")
	}
}

func (h *controlHub) clientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-time.After(time.Second):
		return 0
	}
}

// handleControlWS upgrades a control-plane client and serves it until
// disconnect. Control-plane disconnect never terminates a call.
func (s *Server) handleControlWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("control websocket upgrade failed")
		return
	}

	client := &controlClient{conn: conn, send: make(chan ServerMessage, 32)}
	s.hub.register <- client

	go s.controlWritePump(client)
	s.controlReadPump(client)
}

func (s *Server) controlWritePump(c *controlClient) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

func (s *Server) controlReadPump(c *controlClient) {
	defer func() {
		s.hub.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendControlError(c, "", "malformed client message")
			continue
		}
		s.handleClientMessage(c, msg)
	}
}

func (s *Server) handleClientMessage(c *controlClient, msg ClientMessage) {
	switch msg.Type {
	case "initiate_call":
		go func() {
			callID, err := s.initiateCall(s.ctx, msg.PhoneNumber, msg.Goal, msg.Context)
			if err != nil {
				s.log.Error().Err(err).Msg("initiate_call failed")
				s.sendControlError(c, callID, err.Error())
			}
		}()

	case "speak":
		sess, ok := s.lookupSession(msg.CallID)
		if !ok {
			s.sendControlError(c, msg.CallID, "unknown callId")
			return
		}
		sess.InjectSpeak(msg.Text)

	case "hangup":
		sess, ok := s.lookupSession(msg.CallID)
		if !ok {
			s.sendControlError(c, msg.CallID, "unknown callId")
			return
		}
		sess.Hangup()

	default:
		s.sendControlError(c, "", "unknown message type: "+msg.Type)
	}
}

func (s *Server) sendControlError(c *controlClient, callID, message string) {
	select {
	case c.send <- ServerMessage{Type: "error", CallID: callID, Message: message}:
	default:
	}
}
