// Package codec provides the JSON envelope exchanged with HTTP, SSE,
// WebSocket and gRPC clients.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dailyux/eldercare-go/eldercare"
)

const ProtocolVersion = "1.0"

// Envelope types
const (
	TypeRequest   = "request"
	TypeResponse  = "response"
	TypeError     = "error"
	TypeHeartbeat = "heartbeat"
	TypeEvent     = "event"
	TypeStreamEnd = "stream_end"
)

var validTypes = map[string]bool{
	TypeRequest:   true,
	TypeResponse:  true,
	TypeError:     true,
	TypeHeartbeat: true,
	TypeEvent:     true,
	TypeStreamEnd: true,
}

// Envelope represents a protocol message envelope.
type Envelope struct {
	Version   string                 `json:"version"`
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// MessageData represents the serialized form of a Message.
type MessageData struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// ToolResultData represents the serialized form of a ToolResult.
type ToolResultData struct {
	Success  bool                   `json:"success"`
	Data     interface{}            `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ChatRequest is the body clients send to start a turn.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// EncodeMessage converts a Message to its serializable form.
func EncodeMessage(msg *eldercare.Message) MessageData {
	return MessageData{
		Role:      msg.Role,
		Content:   msg.Content,
		Metadata:  msg.Metadata,
		Timestamp: msg.Timestamp.Format(time.RFC3339Nano),
	}
}

// DecodeMessage converts serialized message data to a validated Message. A
// missing or malformed timestamp is replaced with the current time.
func DecodeMessage(data MessageData) (*eldercare.Message, error) {
	timestamp, err := time.Parse(time.RFC3339Nano, data.Timestamp)
	if err != nil {
		timestamp = time.Now().UTC()
	}
	metadata := data.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	msg := &eldercare.Message{
		Role:      data.Role,
		Content:   data.Content,
		Metadata:  metadata,
		Timestamp: timestamp,
	}
	if err := msg.Validate(); err != nil {
		return nil, NewError(CodeInvalidMessage, err.Error(), nil)
	}
	return msg, nil
}

// EncodeToolResult converts a ToolResult to its serializable form.
func EncodeToolResult(result *eldercare.ToolResult) ToolResultData {
	return ToolResultData{
		Success:  result.Success,
		Data:     result.Data,
		Error:    result.Error,
		Metadata: result.Metadata,
	}
}

// DecodeToolResult converts serialized tool result data to a ToolResult.
func DecodeToolResult(data ToolResultData) *eldercare.ToolResult {
	metadata := data.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &eldercare.ToolResult{
		Success:  data.Success,
		Data:     data.Data,
		Error:    data.Error,
		Metadata: metadata,
	}
}

func newEnvelope(envType, id string, payload map[string]interface{}) *Envelope {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Envelope{
		Version:   ProtocolVersion,
		Type:      envType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

// CreateRequestEnvelope creates a chat request envelope with a fresh ID.
func CreateRequestEnvelope(sessionID, content string) *Envelope {
	payload := map[string]interface{}{"content": content}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}
	return newEnvelope(TypeRequest, uuid.New().String(), payload)
}

// CreateResponseEnvelope wraps the assistant's answer to requestID.
func CreateResponseEnvelope(requestID string, msg *eldercare.Message) *Envelope {
	return newEnvelope(TypeResponse, requestID, map[string]interface{}{
		"message": EncodeMessage(msg),
	})
}

// CreateErrorEnvelope creates a protocol error envelope.
func CreateErrorEnvelope(requestID, errorCode, errorMessage string, errorDetails map[string]interface{}) *Envelope {
	if errorDetails == nil {
		errorDetails = make(map[string]interface{})
	}
	return newEnvelope(TypeError, requestID, map[string]interface{}{
		"error_code":    errorCode,
		"error_message": errorMessage,
		"error_details": errorDetails,
	})
}

// CreateEventEnvelope wraps one streaming event. The event name is stored
// under "event" and data fields are copied alongside it.
func CreateEventEnvelope(requestID, event string, data map[string]interface{}) *Envelope {
	payload := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["event"] = event
	return newEnvelope(TypeEvent, requestID, payload)
}

// CreateStreamEndEnvelope creates a protocol stream end envelope.
func CreateStreamEndEnvelope(requestID string) *Envelope {
	return newEnvelope(TypeStreamEnd, requestID, nil)
}

// CreateHeartbeatEnvelope creates a keep-alive envelope.
func CreateHeartbeatEnvelope() *Envelope {
	return newEnvelope(TypeHeartbeat, uuid.New().String(), nil)
}

// ValidateEnvelope validates a protocol envelope.
func ValidateEnvelope(env *Envelope) error {
	if env.Version == "" {
		return NewError(CodeInvalidRequest, "missing 'version' field in envelope", nil)
	}
	if env.Version != ProtocolVersion {
		return NewError(CodeInvalidRequest, "unsupported protocol version: "+env.Version, nil)
	}
	if env.Type == "" {
		return NewError(CodeInvalidRequest, "missing 'type' field in envelope", nil)
	}
	if !validTypes[env.Type] {
		return NewError(CodeInvalidRequest, "invalid message type: "+env.Type, nil)
	}
	if env.ID == "" {
		return NewError(CodeInvalidRequest, "missing 'id' field in envelope", nil)
	}
	if env.Payload == nil {
		return NewError(CodeInvalidRequest, "missing 'payload' field in envelope", nil)
	}
	return nil
}

// EncodeBytes encodes an envelope to bytes for transmission.
func EncodeBytes(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeBytes decodes and validates an envelope.
func DecodeBytes(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewError(CodeInvalidRequest, fmt.Sprintf("failed to decode JSON: %v", err), nil)
	}
	if err := ValidateEnvelope(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DecodeChatRequest accepts either a bare ChatRequest object or a request
// envelope carrying one, and rejects empty content.
func DecodeChatRequest(data []byte) (ChatRequest, error) {
	var header struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return ChatRequest{}, NewError(CodeInvalidRequest, fmt.Sprintf("failed to decode JSON: %v", err), nil)
	}

	var req ChatRequest
	if header.Version != "" {
		env, err := DecodeBytes(data)
		if err != nil {
			return ChatRequest{}, err
		}
		if env.Type != TypeRequest {
			return ChatRequest{}, NewError(CodeInvalidRequest, "expected request envelope, got "+env.Type, nil)
		}
		req.Content, _ = env.Payload["content"].(string)
		req.SessionID, _ = env.Payload["session_id"].(string)
	} else if err := json.Unmarshal(data, &req); err != nil {
		return ChatRequest{}, NewError(CodeInvalidRequest, fmt.Sprintf("failed to decode JSON: %v", err), nil)
	}

	if strings.TrimSpace(req.Content) == "" {
		return ChatRequest{}, NewError(CodeInvalidMessage, "content cannot be empty", nil)
	}
	return req, nil
}
