package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/dailyux/eldercare-go/eldercare"
)

// Base URLs of OpenAI-compatible providers.
const (
	GroqBaseURL   = "https://api.groq.com/openai/v1"
	OllamaBaseURL = "http://localhost:11434/v1"
)

// OpenAILLM talks to any OpenAI-compatible chat completions endpoint.
type OpenAILLM struct {
	client *openai.Client
	model  string
}

// NewOpenAILLM creates an adapter. An empty baseURL uses api.openai.com.
func NewOpenAILLM(apiKey, baseURL, model string) *OpenAILLM {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAILLM{client: openai.NewClientWithConfig(cfg), model: model}
}

// Model returns the model identifier.
func (o *OpenAILLM) Model() string {
	return o.model
}

func (o *OpenAILLM) request(messages []*eldercare.Message, options *CallOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: convertOpenAIMessages(messages),
		Stop:     options.Stop,
	}
	if options.Temperature != nil {
		req.Temperature = float32(*options.Temperature)
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if options.TopP != nil {
		req.TopP = float32(*options.TopP)
	}
	if fp, ok := options.Extra["frequency_penalty"].(float64); ok {
		req.FrequencyPenalty = float32(fp)
	}
	if pp, ok := options.Extra["presence_penalty"].(float64); ok {
		req.PresencePenalty = float32(pp)
	}
	return req
}

// Complete generates a completion.
func (o *OpenAILLM) Complete(ctx context.Context, messages []*eldercare.Message, opts ...CallOption) (*eldercare.Message, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages, BuildCallOptions(opts...)))
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	reply := newReply(resp.Choices[0].Message.Content, resp.Model)
	reply.Metadata["usage"] = map[string]interface{}{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	}
	reply.Metadata["finish_reason"] = string(resp.Choices[0].FinishReason)
	reply.Metadata["id"] = resp.ID
	return reply, nil
}

// Stream generates completion chunks.
func (o *OpenAILLM) Stream(ctx context.Context, messages []*eldercare.Message, opts ...CallOption) (<-chan *eldercare.Message, error) {
	req := o.request(messages, BuildCallOptions(opts...))
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai stream error: %w", err)
	}

	out := make(chan *eldercare.Message)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			var chunk *eldercare.Message
			if err != nil {
				chunk = newErrorChunk(err, o.model)
			} else if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
				chunk = newChunk(resp.Choices[0].Delta.Content, o.model)
			} else {
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

func convertOpenAIMessages(messages []*eldercare.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleAssistant
		switch {
		case m.Role == eldercare.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case isUserTurn(m.Role):
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// Unwrap returns the *openai.Client.
func (o *OpenAILLM) Unwrap() interface{} {
	return o.client
}
