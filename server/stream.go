package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dailyux/eldercare-go/adapter/codec"
	"github.com/dailyux/eldercare-go/eldercare"
)

// sendFunc delivers one envelope to a streaming client.
type sendFunc func(*codec.Envelope) error

// eventEnvelope wraps a streamed message. Messages without an event name are
// sent as "message".
func eventEnvelope(requestID string, msg *eldercare.Message) *codec.Envelope {
	event := msg.MetadataString("event")
	if event == "" {
		event = "message"
	}
	return codec.CreateEventEnvelope(requestID, event, map[string]interface{}{
		"message": codec.EncodeMessage(msg),
	})
}

// relay runs one streamed turn and forwards every event, then a stream_end
// envelope. A failed turn ends with an error envelope instead.
func (s *Server) relay(ctx context.Context, sessionID, content, requestID string, send sendFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, errs := s.opts.Assistant.ChatStream(ctx, sessionID, content)
	for msg := range messages {
		if err := send(eventEnvelope(requestID, msg)); err != nil {
			cancel()
			for range messages {
			}
			return err
		}
	}
	if err := <-errs; err != nil {
		pe := protocolError(err)
		if sendErr := send(codec.CreateErrorEnvelope(requestID, pe.Code, pe.Message, pe.Details)); sendErr != nil {
			return sendErr
		}
		return err
	}
	return send(codec.CreateStreamEndEnvelope(requestID))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	req, err := readChatRequest(w, r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, r, codec.NewError(codec.CodeInternal, "streaming not supported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	requestID := uuid.New().String()
	sessionID := chi.URLParam(r, "sessionID")
	err = s.relay(r.Context(), sessionID, req.Content, requestID, func(env *codec.Envelope) error {
		if err := writeSSE(w, env); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.logger.WarnContext(r.Context(), "stream ended with error", "session_id", sessionID, "error", err)
	}
}

func writeSSE(w http.ResponseWriter, env *codec.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
