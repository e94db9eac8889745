package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dailyux/eldercare-go/adapter/codec"
	"github.com/dailyux/eldercare-go/archive"
	"github.com/dailyux/eldercare-go/assistant"
	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/memory"
	"github.com/dailyux/eldercare-go/notify"
	"github.com/dailyux/eldercare-go/safety"
	"github.com/dailyux/eldercare-go/scheduler"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	Agent        string `json:"agent,omitempty"`
	LLMAvailable bool   `json:"llm_available"`

	Memory      *memory.Usage `json:"memory,omitempty"`
	MemoryError string        `json:"memory_error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: s.opts.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Assistant != nil && s.opts.Assistant.Available() {
		resp.Agent = s.opts.Assistant.Agent().Name()
		resp.LLMAvailable = true
	} else {
		resp.Status = "degraded"
	}
	if s.opts.Assistant != nil {
		usage, err := s.opts.Assistant.MemoryUsage(r.Context())
		if err != nil {
			resp.Status = "degraded"
			resp.MemoryError = err.Error()
		} else {
			resp.Memory = &usage
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.opts.Records.Profile(r.Context())
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.opts.Records.Schedule(r.Context())
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"medications": schedule})
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.opts.Records.Contacts(r.Context())
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contacts": contacts})
}

type specialistLister interface {
	Specialists() map[string]*eldercare.IntrospectionResult
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	agent := s.opts.Assistant.Agent()
	resp := map[string]interface{}{"supervisor": agent.Introspect()}
	if lister, ok := agent.(specialistLister); ok {
		resp["specialists"] = lister.Specialists()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuickActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"quick_actions": assistant.QuickActions()})
}

func (s *Server) handleAdherence(w http.ResponseWriter, r *http.Request) {
	if s.opts.Adherence == nil {
		s.sendError(w, r, codec.NewError(codec.CodeUnavailable, "adherence tracking is disabled", nil))
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Adherence.Report())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notifications := []notify.Notification{}
	if s.opts.Notifications != nil {
		notifications = append(notifications, s.opts.Notifications.List()...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": s.opts.Assistant.NewSession()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	if err := s.opts.Assistant.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	req, err := readChatRequest(w, r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	requestID := uuid.New().String()
	reply, err := s.opts.Assistant.Chat(r.Context(), chi.URLParam(r, "sessionID"), req.Content)
	if err != nil {
		s.sendErrorID(w, r, requestID, err)
		return
	}
	writeEnvelope(w, http.StatusOK, codec.CreateResponseEnvelope(requestID, reply))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	messages, err := s.opts.Assistant.History(r.Context(), sessionID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	encoded := make([]codec.MessageData, len(messages))
	for i, m := range messages {
		encoded[i] = codec.EncodeMessage(m)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   encoded,
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	tasks := s.opts.Assistant.Tasks(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	task, err := s.opts.Assistant.Task(chi.URLParam(r, "taskID"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	task, err := s.opts.Assistant.CancelTask(chi.URLParam(r, "taskID"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleQuickAction(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	result, err := s.opts.Assistant.RunQuickAction(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "action"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action":    result.Action,
		"message":   codec.EncodeMessage(result.Reply),
		"follow_up": result.FollowUp,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	location, err := s.opts.Assistant.Export(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"location": location})
}

// available writes a 503 and returns false when no assistant can answer.
func (s *Server) available(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Assistant != nil && s.opts.Assistant.Available() {
		return true
	}
	s.sendError(w, r, assistant.ErrUnavailable)
	return false
}

func readChatRequest(w http.ResponseWriter, r *http.Request) (codec.ChatRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return codec.ChatRequest{}, codec.NewError(codec.CodeInvalidRequest, "failed to read request body", nil)
	}
	defer r.Body.Close()
	return codec.DecodeChatRequest(body)
}

// protocolError maps service errors onto protocol error codes.
func protocolError(err error) *codec.Error {
	var (
		pe *codec.Error
		ve *safety.ValidationError
	)
	switch {
	case errors.As(err, &pe):
		return pe
	case errors.As(err, &ve):
		return &codec.Error{Code: codec.CodeInvalidMessage, Message: ve.Reason, Details: ve.Details, Cause: err}
	case errors.Is(err, assistant.ErrUnavailable), errors.Is(err, archive.ErrDisabled):
		return codec.WrapError(codec.CodeUnavailable, err)
	case errors.Is(err, assistant.ErrUnknownAction), errors.Is(err, scheduler.ErrTaskNotFound):
		return codec.WrapError(codec.CodeNotFound, err)
	case errors.Is(err, assistant.ErrEmptyMessage):
		return codec.WrapError(codec.CodeInvalidMessage, err)
	case errors.Is(err, scheduler.ErrNotPending):
		return codec.WrapError(codec.CodeInvalidRequest, err)
	default:
		return codec.WrapError(codec.CodeExecution, err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	s.sendErrorID(w, r, "unknown", err)
}

func (s *Server) sendErrorID(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	pe := protocolError(err)
	status := codec.HTTPStatus(pe.Code)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", pe.Code, "error", err)
	}
	writeEnvelope(w, status, codec.CreateErrorEnvelope(requestID, pe.Code, pe.Message, pe.Details))
}

func writeEnvelope(w http.ResponseWriter, status int, env *codec.Envelope) {
	data, err := codec.EncodeBytes(env)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
