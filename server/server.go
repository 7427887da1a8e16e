// Package server exposes the chat service over HTTP, WebSocket and NATS.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/gitagpt/pkg/chat"
)

// WebSocket message types.
const (
	TypeChat     = "chat"
	TypeStream   = "stream"
	TypeResponse = "response"
	TypeError    = "error"
)

type Message struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	ThreadID string `json:"thread_id,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// WSServer streams chat replies over a WebSocket. Messages on one connection
// are handled in order, so a client driving one thread needs no locking.
type WSServer struct {
	svc         chat.Service
	log         *zap.Logger
	upgrader    websocket.Upgrader
	newThreadID func() string
}

func NewWSServer(svc chat.Service, log *zap.Logger) *WSServer {
	if log == nil {
		log = zap.NewNop()
	}

	return &WSServer{
		svc:         svc,
		log:         log.With(zap.String("transport", "websocket")),
		newThreadID: uuid.NewString,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("connection closed", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.send(conn, Message{Type: TypeError, Content: "invalid message"})
			continue
		}

		if err := s.handleMessage(r.Context(), conn, msg); err != nil {
			s.log.Debug("write failed", zap.Error(err))
			return
		}
	}
}

func (s *WSServer) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	if msg.Type != "" && msg.Type != TypeChat {
		return s.send(conn, Message{Type: TypeError, Content: "unsupported message type: " + msg.Type})
	}

	req := chat.ChatRequest{
		Message:  msg.Content,
		ThreadID: msg.ThreadID,
	}

	// Streamed chunks of a new thread carry the id the final response will.
	if req.ThreadID == "" && strings.TrimSpace(req.Message) != "" {
		req.ThreadID = s.newThreadID()
	}

	resp, _ := s.svc.ChatStream(ctx, req, func(chunk string) error {
		return s.send(conn, Message{Type: TypeStream, Content: chunk, ThreadID: req.ThreadID})
	})

	return s.send(conn, Message{
		Type:     TypeResponse,
		Content:  resp.Reply,
		ThreadID: resp.ThreadID,
		Data:     resp,
	})
}

func (s *WSServer) send(conn *websocket.Conn, msg Message) error {
	return conn.WriteJSON(msg)
}
