// Package llm defines the small contract the assistant needs from a hosted
// language model and adapts OpenAI-compatible endpoints (OpenAI, Groq,
// Ollama), Gemini and Amazon Bedrock to it.
package llm

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/dailyux/eldercare-go/eldercare"
)

// ErrNotConfigured is returned when a provider is selected but its
// credentials are missing.
var ErrNotConfigured = errors.New("llm: provider not configured")

// LLM is the interface every provider adapter implements.
//
// Messages are converted to the provider's format: system messages become
// the system prompt, user and tool messages are sent as user turns and
// everything else as assistant turns.
//
//	model, err := llm.New(ctx, llm.Config{Provider: "groq", APIKey: key})
//	if err != nil {
//	    return err
//	}
//	reply, err := model.Complete(ctx, []*eldercare.Message{
//	    eldercare.NewMessage(eldercare.RoleSystem, "You are a caring assistant."),
//	    eldercare.NewMessage(eldercare.RoleUser, "Is it time for my medicine?"),
//	}, llm.WithTemperature(0.2))
type LLM interface {
	// Complete returns a single assistant message. Reasoning blocks such as
	// <think>...</think> are removed from the content.
	Complete(ctx context.Context, messages []*eldercare.Message, opts ...CallOption) (*eldercare.Message, error)

	// Stream sends content chunks as they arrive. The channel is closed when
	// the response ends; a failure mid-stream arrives as a final chunk with
	// an "error" metadata entry.
	Stream(ctx context.Context, messages []*eldercare.Message, opts ...CallOption) (<-chan *eldercare.Message, error)

	// Model returns the model identifier.
	Model() string

	// Unwrap returns the provider's native client.
	Unwrap() interface{}
}

// CallOptions holds per-call settings.
type CallOptions struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	Stop        []string

	// Extra carries provider-specific settings.
	Extra map[string]interface{}
}

// CallOption configures a call.
type CallOption func(*CallOptions)

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) CallOption {
	return func(opts *CallOptions) {
		opts.Temperature = &temperature
	}
}

// WithMaxTokens caps the number of generated tokens.
func WithMaxTokens(maxTokens int) CallOption {
	return func(opts *CallOptions) {
		opts.MaxTokens = &maxTokens
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float64) CallOption {
	return func(opts *CallOptions) {
		opts.TopP = &topP
	}
}

// WithStop sets stop sequences. The ReAct loop stops generation before the
// model invents its own observation.
func WithStop(stop ...string) CallOption {
	return func(opts *CallOptions) {
		opts.Stop = append(opts.Stop, stop...)
	}
}

// WithExtra adds a provider-specific option.
func WithExtra(key string, value interface{}) CallOption {
	return func(opts *CallOptions) {
		if opts.Extra == nil {
			opts.Extra = make(map[string]interface{})
		}
		opts.Extra[key] = value
	}
}

// BuildCallOptions applies opts to an empty CallOptions.
func BuildCallOptions(opts ...CallOption) *CallOptions {
	options := &CallOptions{Extra: make(map[string]interface{})}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?(</think>|$)`)

// StripThinking removes <think> blocks that reasoning models such as
// qwen3 emit before their answer. An unterminated block is dropped to the
// end of the text.
func StripThinking(content string) string {
	if !strings.Contains(content, "<think>") {
		return content
	}
	return strings.TrimSpace(thinkPattern.ReplaceAllString(content, ""))
}

func newReply(content, model string) *eldercare.Message {
	reply := eldercare.NewMessage(eldercare.RoleAssistant, StripThinking(content))
	reply.Metadata["model"] = model
	return reply
}

func newChunk(content, model string) *eldercare.Message {
	chunk := eldercare.NewMessage(eldercare.RoleAssistant, content)
	chunk.Metadata["streaming"] = true
	chunk.Metadata["model"] = model
	return chunk
}

func newErrorChunk(err error, model string) *eldercare.Message {
	chunk := newChunk("", model)
	chunk.Metadata["error"] = err.Error()
	return chunk
}

// splitSystem separates system messages from the conversation and joins
// them into one prompt.
func splitSystem(messages []*eldercare.Message) (string, []*eldercare.Message) {
	var system []string
	rest := make([]*eldercare.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == eldercare.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func isUserTurn(role string) bool {
	return role == eldercare.RoleUser || role == eldercare.RoleTool
}
