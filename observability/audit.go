package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// AuditEventType names something the care team may need to reconstruct
// later.
type AuditEventType string

const (
	AgentRequest        AuditEventType = "agent_request"
	AgentResponse       AuditEventType = "agent_response"
	AgentError          AuditEventType = "agent_error"
	MedicationTaken     AuditEventType = "medication_taken"
	MedicationMissed    AuditEventType = "medication_missed"
	MedicationEscalated AuditEventType = "medication_escalated"
	FamilyNotified      AuditEventType = "family_notified"
	EmergencyPlanIssued AuditEventType = "emergency_plan_issued"
	FollowUpScheduled   AuditEventType = "follow_up_scheduled"
	TranscriptExported  AuditEventType = "transcript_exported"
	InputRejected       AuditEventType = "input_rejected"
)

// AuditSeverity is the severity of an audit event.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	EventType AuditEventType         `json:"event_type"`
	Severity  AuditSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
}

// NewAuditEvent creates an event stamped with the span in ctx, if any.
func NewAuditEvent(ctx context.Context, eventType AuditEventType, severity AuditSeverity, message string) *AuditEvent {
	event := &AuditEvent{
		EventType: eventType,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		event.TraceID = sc.TraceID().String()
		event.SpanID = sc.SpanID().String()
	}
	return event
}

// AuditAdapter writes audit events somewhere.
type AuditAdapter interface {
	LogEvent(event *AuditEvent) error
}

// JSONAuditAdapter writes events as JSON lines.
type JSONAuditAdapter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONAuditAdapter writes to w, or stdout when w is nil.
func NewJSONAuditAdapter(w io.Writer) *JSONAuditAdapter {
	if w == nil {
		w = os.Stdout
	}
	return &JSONAuditAdapter{w: w}
}

// LogEvent writes the event.
func (a *JSONAuditAdapter) LogEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = fmt.Fprintln(a.w, string(data))
	return err
}

// FileAuditAdapter appends JSON lines to a file.
type FileAuditAdapter struct {
	*JSONAuditAdapter
	file *os.File
}

// NewFileAuditAdapter opens path for appending, creating it with mode 0600.
func NewFileAuditAdapter(path string) (*FileAuditAdapter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileAuditAdapter{JSONAuditAdapter: NewJSONAuditAdapter(file), file: file}, nil
}

// Close closes the file.
func (a *FileAuditAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// SlogAuditAdapter forwards events to a slog logger at a level matching
// their severity.
type SlogAuditAdapter struct {
	logger *slog.Logger
}

// NewSlogAuditAdapter forwards to logger, or slog.Default() when nil.
func NewSlogAuditAdapter(logger *slog.Logger) *SlogAuditAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditAdapter{logger: logger}
}

// LogEvent logs the event.
func (a *SlogAuditAdapter) LogEvent(event *AuditEvent) error {
	level := slog.LevelInfo
	switch event.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError, SeverityCritical:
		level = slog.LevelError
	}
	a.logger.Log(context.Background(), level, event.Message,
		"audit", string(event.EventType),
		"severity", string(event.Severity),
		"session_id", event.SessionID,
		"actor", event.Actor,
		"resource", event.Resource,
	)
	return nil
}

// AuditLogger fans events out to its adapters. A nil *AuditLogger discards
// events.
type AuditLogger struct {
	adapters []AuditAdapter
}

// NewAuditLogger creates a logger. With no adapters, events go to
// slog.Default().
func NewAuditLogger(adapters ...AuditAdapter) *AuditLogger {
	if len(adapters) == 0 {
		adapters = []AuditAdapter{NewSlogAuditAdapter(nil)}
	}
	return &AuditLogger{adapters: adapters}
}

// LogEvent writes the event to every adapter. Adapter failures are reported
// to stderr and do not stop the others.
func (l *AuditLogger) LogEvent(event *AuditEvent) {
	if l == nil {
		return
	}
	for _, adapter := range l.adapters {
		if err := adapter.LogEvent(event); err != nil {
			fmt.Fprintf(os.Stderr, "audit adapter error: %v\n", err)
		}
	}
}

// LogAgentRequest records a request routed to agent.
func (l *AuditLogger) LogAgentRequest(ctx context.Context, sessionID, agent, content string) {
	event := NewAuditEvent(ctx, AgentRequest, SeverityInfo, "Request for "+agent)
	event.SessionID = sessionID
	event.Resource = agent
	event.Metadata["content_length"] = len(content)
	l.LogEvent(event)
}

// LogAgentResponse records the answer produced by agent.
func (l *AuditLogger) LogAgentResponse(ctx context.Context, sessionID, agent string, steps int) {
	event := NewAuditEvent(ctx, AgentResponse, SeverityInfo, "Response from "+agent)
	event.SessionID = sessionID
	event.Resource = agent
	event.Metadata["steps"] = steps
	l.LogEvent(event)
}

// LogAgentError records a failed request.
func (l *AuditLogger) LogAgentError(ctx context.Context, sessionID, agent string, err error) {
	event := NewAuditEvent(ctx, AgentError, SeverityError, fmt.Sprintf("Agent %s failed: %v", agent, err))
	event.SessionID = sessionID
	event.Resource = agent
	l.LogEvent(event)
}

// LogMedicationTaken records a dose the user confirmed taking.
func (l *AuditLogger) LogMedicationTaken(ctx context.Context, medication string, delay time.Duration) {
	event := NewAuditEvent(ctx, MedicationTaken, SeverityInfo, medication+" taken")
	event.Resource = medication
	event.Metadata["delay"] = delay.String()
	l.LogEvent(event)
}

// LogMedicationMissed records a verification that found a dose not taken.
func (l *AuditLogger) LogMedicationMissed(ctx context.Context, medication string) {
	event := NewAuditEvent(ctx, MedicationMissed, SeverityWarning, medication+" not taken")
	event.Resource = medication
	l.LogEvent(event)
}

// LogEscalation records a medication escalation.
func (l *AuditLogger) LogEscalation(ctx context.Context, medication, elapsed string) {
	event := NewAuditEvent(ctx, MedicationEscalated, SeverityWarning,
		fmt.Sprintf("Escalation for %s after %s", medication, elapsed))
	event.Resource = medication
	event.Metadata["time_elapsed"] = elapsed
	l.LogEvent(event)
}

// LogFamilyNotification records a message sent to a family contact.
func (l *AuditLogger) LogFamilyNotification(ctx context.Context, contact, relation, urgency string) {
	severity := SeverityInfo
	if urgency == "high" || urgency == "critical" {
		severity = SeverityWarning
	}
	event := NewAuditEvent(ctx, FamilyNotified, severity,
		fmt.Sprintf("Notified %s (%s), urgency %s", contact, relation, urgency))
	event.Actor = contact
	event.Metadata["urgency"] = urgency
	l.LogEvent(event)
}

// LogEmergencyPlan records an emergency action plan being issued.
func (l *AuditLogger) LogEmergencyPlan(ctx context.Context, emergencyType string, critical bool) {
	severity := SeverityWarning
	if critical {
		severity = SeverityCritical
	}
	event := NewAuditEvent(ctx, EmergencyPlanIssued, severity, "Action plan issued for "+emergencyType)
	event.Resource = emergencyType
	l.LogEvent(event)
}

// LogFollowUpScheduled records a delayed follow-up.
func (l *AuditLogger) LogFollowUpScheduled(ctx context.Context, sessionID, taskID string, executeAt time.Time) {
	event := NewAuditEvent(ctx, FollowUpScheduled, SeverityInfo, "Follow-up scheduled")
	event.SessionID = sessionID
	event.Resource = taskID
	event.Metadata["execute_at"] = executeAt.UTC().Format(time.RFC3339)
	l.LogEvent(event)
}

// LogTranscriptExported records a transcript upload.
func (l *AuditLogger) LogTranscriptExported(ctx context.Context, sessionID, location string) {
	event := NewAuditEvent(ctx, TranscriptExported, SeverityInfo, "Transcript exported")
	event.SessionID = sessionID
	event.Resource = location
	l.LogEvent(event)
}

// LogInputRejected records user input blocked by the input guard.
func (l *AuditLogger) LogInputRejected(ctx context.Context, sessionID, reason string, score int) {
	event := NewAuditEvent(ctx, InputRejected, SeverityWarning, reason)
	event.SessionID = sessionID
	if score > 0 {
		event.Metadata["score"] = score
	}
	l.LogEvent(event)
}
