package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"xpfinance.app/internal/protocol"
)

const queueSize = 16

type Server struct {
	hub    *Hub
	accept func(userID string) bool
	digest func() string
	log    *log.Logger

	upgrader websocket.Upgrader
}

// NewServer serves hub over websockets. accept decides which user ids may
// subscribe; nil accepts all. digest, if set, reports the catalog digest
// sent in WELCOME.
func NewServer(hub *Hub, accept func(userID string) bool, digest func() string, logger *log.Logger) *Server {
	if logger == nil {
		logger = hub.log
	}
	return &Server{
		hub:    hub,
		accept: accept,
		digest: digest,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.handshake(conn)
		if c == nil {
			return
		}
		s.hub.subscribe(c)
		defer s.hub.unsubscribe(c)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-c.done:
					_ = conn.Close()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						c.close()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop: clients only ever send HELLO; reading detects close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		c.close()
	}
}

func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, "malformed HELLO"))
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.UserID == "" || (s.accept != nil && !s.accept(hello.UserID)) {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrUnknownUser, "no session for user"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown user"), time.Now().Add(time.Second))
		return nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		UserID:          hello.UserID,
	}
	if s.digest != nil {
		welcome.CatalogDigest = s.digest()
	}
	if v, ok := s.hub.Last(hello.UserID); ok {
		welcome.Profile = &v
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	s.log.Printf("ws session %s for %s", welcome.SessionID, hello.UserID)
	return &client{userID: hello.UserID, out: make(chan []byte, queueSize), done: make(chan struct{})}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
