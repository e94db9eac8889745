// Package eldercare provides the core types shared by the assistant: messages,
// agents, tools and tool results.
package eldercare

import (
	"context"
	"fmt"
	"time"
)

// Message roles understood by every component.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
	RoleAgent     = "agent"
)

const (
	maxRoleLength     = 20
	maxContentSize    = 1024 * 1024
	maxMetadataKeys   = 100
	maxMetadataKeyLen = 50
	maxMetadataValue  = 10 * 1024
)

// Message represents a message exchanged between the user, agents and tools.
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewMessage creates a new message with the given role and content.
// The message is not validated; call Validate for input that came off the wire.
func NewMessage(role, content string) *Message {
	return &Message{
		Role:      role,
		Content:   content,
		Metadata:  make(map[string]interface{}),
		Timestamp: time.Now().UTC(),
	}
}

// NewValidatedMessage creates a message and validates it.
func NewValidatedMessage(role, content string) (*Message, error) {
	m := NewMessage(role, content)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// WithMetadata adds metadata to the message and returns the message for chaining.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}

// MetadataString returns the metadata value for key if it is a string.
func (m *Message) MetadataString(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

// Validate checks role, content size and metadata limits.
func (m *Message) Validate() error {
	if m.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if len(m.Role) > maxRoleLength {
		return fmt.Errorf("message role exceeds maximum length of %d characters (got %d)", maxRoleLength, len(m.Role))
	}

	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RoleAgent:
	default:
		return fmt.Errorf("invalid message role: %s. Must be one of: user, assistant, system, tool, agent", m.Role)
	}

	if len(m.Content) > maxContentSize {
		return fmt.Errorf("message content exceeds maximum size of %d bytes (got %d bytes)", maxContentSize, len(m.Content))
	}

	if m.Metadata != nil {
		if len(m.Metadata) > maxMetadataKeys {
			return fmt.Errorf("message metadata exceeds maximum of %d keys (got %d)", maxMetadataKeys, len(m.Metadata))
		}
		for key, value := range m.Metadata {
			if len(key) > maxMetadataKeyLen {
				return fmt.Errorf("metadata key '%s...' exceeds maximum length of %d characters (got %d)",
					key[:min(20, len(key))], maxMetadataKeyLen, len(key))
			}
			if size := len(fmt.Sprintf("%v", value)); size > maxMetadataValue {
				return fmt.Errorf("metadata value for key '%s' exceeds maximum size of %d bytes (got %d bytes)",
					key, maxMetadataValue, size)
			}
		}
	}

	return nil
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	Success  bool                   `json:"success"`
	Data     interface{}            `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata"`
}

// NewToolResult creates a successful tool result.
func NewToolResult(data interface{}) *ToolResult {
	return &ToolResult{
		Success:  true,
		Data:     data,
		Metadata: make(map[string]interface{}),
	}
}

// NewToolError creates a tool result representing an error.
func NewToolError(err string) *ToolResult {
	return &ToolResult{
		Success:  false,
		Error:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithMetadata adds metadata to the tool result and returns it for chaining.
func (t *ToolResult) WithMetadata(key string, value interface{}) *ToolResult {
	t.Metadata[key] = value
	return t
}

// Agent is the core interface implemented by the supervisor and every specialist.
type Agent interface {
	// Name returns the unique identifier for this agent.
	Name() string

	// Process handles a message and returns a response.
	Process(ctx context.Context, message *Message) (*Message, error)

	// Capabilities returns a list of capability identifiers this agent supports.
	Capabilities() []string

	// Introspect returns a snapshot of the agent's state, used by the
	// /v1/agents endpoint and in tests.
	Introspect() *IntrospectionResult
}

// StreamingAgent extends Agent to support streaming responses.
//
// The message channel is closed when streaming is complete. At most one error
// is sent on the error channel, which is closed afterwards.
type StreamingAgent interface {
	Agent

	Stream(ctx context.Context, message *Message) (<-chan *Message, <-chan error)
}

// Parameter describes one named argument a tool accepts.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Tool represents an executable capability that agents can use.
type Tool interface {
	// Name returns the unique identifier for this tool. The model refers to
	// tools by this name, so it must stay stable.
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Parameters lists the arguments the tool accepts. Tools without
	// arguments return nil.
	Parameters() []Parameter

	// Execute runs the tool with the given parameters and returns a result.
	Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error)
}
