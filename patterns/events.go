package patterns

import (
	"context"
	"time"
)

// EventType names a step of a supervised turn.
type EventType string

const (
	// EventRouting is emitted once the supervisor has chosen a specialist.
	EventRouting EventType = "routing"
	// EventAgentStart is emitted when the specialist begins work.
	EventAgentStart EventType = "agent_start"
	// EventToolCall is emitted before a tool runs.
	EventToolCall EventType = "tool_call"
	// EventToolResult is emitted with the tool's observation.
	EventToolResult EventType = "tool_result"
	// EventAgentResponse carries the specialist's final answer.
	EventAgentResponse EventType = "agent_response"
	// EventHandoffBack is emitted when control returns to the supervisor.
	EventHandoffBack EventType = "handoff_back"
	// EventFinal carries the answer returned to the user.
	EventFinal EventType = "final"
)

// Event describes progress within one turn. Fields that do not apply to a
// given type are left empty.
type Event struct {
	Type      EventType              `json:"type"`
	Agent     string                 `json:"agent,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Success   bool                   `json:"success,omitempty"`
	Step      int                    `json:"step,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Fields flattens the event for envelopes and log lines. The type is not
// included.
func (e Event) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.Agent != "" {
		fields["agent"] = e.Agent
	}
	if e.Tool != "" {
		fields["tool"] = e.Tool
	}
	if e.Input != nil {
		fields["input"] = e.Input
	}
	if e.Content != "" {
		fields["content"] = e.Content
	}
	if e.Type == EventToolResult {
		fields["success"] = e.Success
	}
	if e.Step > 0 {
		fields["step"] = e.Step
	}
	return fields
}

// Observer receives events. It is called synchronously from the agent's
// goroutine and must not block for long.
type Observer func(Event)

type observerKey struct{}

// WithObserver attaches an observer to ctx. Agents further down the call
// chain report their progress to it. Observers already attached to ctx keep
// receiving events after the new one.
func WithObserver(ctx context.Context, observer Observer) context.Context {
	if outer, ok := ctx.Value(observerKey{}).(Observer); ok && outer != nil {
		inner := observer
		observer = func(e Event) {
			inner(e)
			outer(e)
		}
	}
	return context.WithValue(ctx, observerKey{}, observer)
}

// Emit reports an event to the observer in ctx, if any. A zero timestamp is
// set to now.
func Emit(ctx context.Context, event Event) {
	observer, ok := ctx.Value(observerKey{}).(Observer)
	if !ok || observer == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	observer(event)
}
