package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/observability"
	"github.com/dailyux/eldercare-go/patterns"
)

// OutputMode controls what a supervised turn returns besides the answer.
type OutputMode string

const (
	// OutputLastMessage returns only the specialist's final answer.
	OutputLastMessage OutputMode = "last_message"
	// OutputFullHistory also returns every message of the turn, including
	// routing and handoff-back messages, under the "transcript" metadata key.
	OutputFullHistory OutputMode = "full_history"
)

// ParseOutputMode validates s. An empty string yields OutputLastMessage.
func ParseOutputMode(s string) (OutputMode, error) {
	switch OutputMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputLastMessage:
		return OutputLastMessage, nil
	case OutputFullHistory:
		return OutputFullHistory, nil
	default:
		return "", fmt.Errorf("invalid output mode %q (want last_message or full_history)", s)
	}
}

// Metadata keys set on supervisor replies.
const (
	MetaSessionID  = "session_id"
	MetaRoutedTo   = "routed_to"
	MetaRoutedBy   = "routed_by"
	MetaTranscript = "transcript"
	MetaEvent      = "event"
)

// SupervisorOptions tune a Supervisor.
type SupervisorOptions struct {
	OutputMode          OutputMode
	HandoffBackMessages bool
	Metrics             *observability.Instruments
	Audit               *observability.AuditLogger
	Logger              *slog.Logger
}

// Supervisor hands each turn to exactly one specialist chosen by its router.
type Supervisor struct {
	router      *patterns.RouterAgent
	outputMode  OutputMode
	handoffBack bool
	metrics     *observability.Instruments
	audit       *observability.AuditLogger
	logger      *slog.Logger
}

var _ eldercare.StreamingAgent = (*Supervisor)(nil)

// NewSupervisor wraps router.
func NewSupervisor(router *patterns.RouterAgent, opts SupervisorOptions) (*Supervisor, error) {
	if router == nil {
		return nil, fmt.Errorf("router is required")
	}
	mode, err := ParseOutputMode(string(opts.OutputMode))
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		router:      router,
		outputMode:  mode,
		handoffBack: opts.HandoffBackMessages,
		metrics:     opts.Metrics,
		audit:       opts.Audit,
		logger:      logger,
	}, nil
}

// Name returns "supervisor".
func (s *Supervisor) Name() string { return SupervisorName }

// Capabilities returns the router's capabilities plus streaming.
func (s *Supervisor) Capabilities() []string {
	return append(s.router.Capabilities(), "supervisor", "streaming")
}

// Introspect reports the routing configuration.
func (s *Supervisor) Introspect() *eldercare.IntrospectionResult {
	result := s.router.Introspect()
	result.AgentName = SupervisorName
	result.Capabilities = s.Capabilities()
	result.InternalState["output_mode"] = string(s.outputMode)
	result.InternalState["handoff_back_messages"] = s.handoffBack
	return result
}

// Specialists returns the introspection of every specialist, keyed by name.
func (s *Supervisor) Specialists() map[string]*eldercare.IntrospectionResult {
	out := make(map[string]*eldercare.IntrospectionResult)
	for _, name := range s.router.Routes() {
		if agent, ok := s.router.Agent(name); ok {
			out[name] = agent.Introspect()
		}
	}
	return out
}

// transcript collects the messages of one turn from its events.
type transcript struct {
	mu       sync.Mutex
	messages []*eldercare.Message
}

func (t *transcript) add(role, name, content string) {
	msg := eldercare.NewMessage(role, content).WithMetadata("name", name)
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
}

func (t *transcript) observe(e patterns.Event) {
	switch e.Type {
	case patterns.EventToolCall:
		input, _ := json.Marshal(e.Input)
		t.add(eldercare.RoleAssistant, e.Agent, fmt.Sprintf("Action: %s\nAction Input: %s", e.Tool, input))
	case patterns.EventToolResult:
		t.add(eldercare.RoleTool, e.Tool, e.Content)
	}
}

// Process routes the message to one specialist and returns its answer.
// Progress events go to the observer attached to ctx, if any.
func (s *Supervisor) Process(ctx context.Context, message *eldercare.Message) (*eldercare.Message, error) {
	if message == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	sessionID := message.MetadataString(MetaSessionID)
	start := time.Now()

	ctx, span := observability.Tracer().Start(ctx, "supervisor.turn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	history := &transcript{}
	history.add(eldercare.RoleUser, "user", message.Content)
	ctx = patterns.WithObserver(ctx, history.observe)

	route, err := s.router.Route(ctx, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.audit.LogAgentError(ctx, sessionID, SupervisorName, err)
		return nil, fmt.Errorf("routing failed: %w", err)
	}
	span.SetAttributes(
		attribute.String("agent.routed_to", route.Name),
		attribute.String("agent.routed_by", route.Classifier),
	)
	s.metrics.RecordRoute(ctx, route.Name, route.Classifier)
	s.logger.InfoContext(ctx, "routed request", "session_id", sessionID, "agent", route.Name, "classifier", route.Classifier)

	history.add(eldercare.RoleAssistant, SupervisorName, "Transferring to "+route.Name)
	history.add(eldercare.RoleTool, "transfer_to_"+route.Name, "Successfully transferred to "+route.Name)
	patterns.Emit(ctx, patterns.Event{Type: patterns.EventRouting, Agent: route.Name, Content: route.Reason})
	patterns.Emit(ctx, patterns.Event{Type: patterns.EventAgentStart, Agent: route.Name})
	s.audit.LogAgentRequest(ctx, sessionID, route.Name, message.Content)

	answer, err := route.Agent.Process(ctx, message)
	s.metrics.RecordRequest(ctx, SupervisorName, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.audit.LogAgentError(ctx, sessionID, route.Name, err)
		return nil, fmt.Errorf("%s: %w", route.Name, err)
	}

	steps, _ := answer.Metadata["steps"].(int)
	s.audit.LogAgentResponse(ctx, sessionID, route.Name, steps)
	history.add(eldercare.RoleAssistant, route.Name, answer.Content)
	patterns.Emit(ctx, patterns.Event{Type: patterns.EventAgentResponse, Agent: route.Name, Content: answer.Content})

	if s.handoffBack {
		history.add(eldercare.RoleAssistant, route.Name, "Transferring back to "+SupervisorName)
		history.add(eldercare.RoleTool, "transfer_back_to_"+SupervisorName, "Successfully transferred back to "+SupervisorName)
		patterns.Emit(ctx, patterns.Event{Type: patterns.EventHandoffBack, Agent: route.Name, Content: "Transferring back to " + SupervisorName})
	}

	reply := eldercare.NewMessage(eldercare.RoleAssistant, answer.Content)
	for k, v := range answer.Metadata {
		if k == "trace_context" {
			continue
		}
		reply.Metadata[k] = v
	}
	reply.Metadata["agent"] = route.Name
	reply.Metadata[MetaRoutedTo] = route.Name
	reply.Metadata[MetaRoutedBy] = route.Classifier
	reply.Metadata["output_mode"] = string(s.outputMode)
	if sessionID != "" {
		reply.Metadata[MetaSessionID] = sessionID
	}
	if s.outputMode == OutputFullHistory {
		history.mu.Lock()
		reply.Metadata[MetaTranscript] = append([]*eldercare.Message(nil), history.messages...)
		history.mu.Unlock()
	}

	span.SetStatus(codes.Ok, "")
	patterns.Emit(ctx, patterns.Event{Type: patterns.EventFinal, Agent: route.Name, Content: reply.Content})
	return reply, nil
}

// Stream runs Process and sends one message per progress event, followed by
// the reply itself. Every message carries its event type under the "event"
// metadata key; the reply's is "final".
func (s *Supervisor) Stream(ctx context.Context, message *eldercare.Message) (<-chan *eldercare.Message, <-chan error) {
	out := make(chan *eldercare.Message)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		send := func(msg *eldercare.Message) bool {
			select {
			case out <- msg:
				return true
			case <-ctx.Done():
				return false
			}
		}

		streamCtx := patterns.WithObserver(ctx, func(e patterns.Event) {
			if e.Type == patterns.EventFinal {
				return
			}
			send(EventMessage(e))
		})

		reply, err := s.Process(streamCtx, message)
		if err != nil {
			errs <- err
			return
		}
		reply.Metadata[MetaEvent] = string(patterns.EventFinal)
		if !send(reply) {
			errs <- ctx.Err()
		}
	}()

	return out, errs
}

// EventMessage converts a progress event into a message for streaming
// clients.
func EventMessage(e patterns.Event) *eldercare.Message {
	role := eldercare.RoleAgent
	if e.Type == patterns.EventToolResult {
		role = eldercare.RoleTool
	}
	msg := eldercare.NewMessage(role, e.Content)
	for k, v := range e.Fields() {
		if k == "content" {
			continue
		}
		msg.Metadata[k] = v
	}
	msg.Metadata[MetaEvent] = string(e.Type)
	return msg
}
