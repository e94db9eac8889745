package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dailyux/eldercare-go/adapter/codec"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(env *codec.Envelope) error {
	data, err := codec.EncodeBytes(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// handleWebSocket runs a chat over a WebSocket. Each text frame is a chat
// request ({"content": "..."} or a request envelope); the reply is streamed
// back as event envelopes ending with stream_end. Replies to scheduled
// follow-ups arrive as "follow_up" events between turns.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	followUps, unsubscribe := s.opts.Assistant.Subscribe(sessionID)
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-followUps:
				if !ok {
					return
				}
				if err := ws.send(eventEnvelope(msg.MetadataString("task_id"), msg)); err != nil {
					return
				}
			case <-ticker.C:
				if err := ws.ping(); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.InfoContext(ctx, "websocket connected", "session_id", sessionID)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.DebugContext(ctx, "websocket read ended", "session_id", sessionID, "error", err)
			}
			break
		}
		req, err := codec.DecodeChatRequest(data)
		if err != nil {
			if ws.send(codec.ErrorEnvelope("unknown", err)) != nil {
				break
			}
			continue
		}
		if err := s.relay(ctx, sessionID, req.Content, uuid.New().String(), ws.send); err != nil {
			s.logger.WarnContext(ctx, "websocket turn failed", "session_id", sessionID, "error", err)
		}
	}

	cancel()
	<-done
	s.logger.InfoContext(r.Context(), "websocket closed", "session_id", sessionID)
}
