package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dailyux/eldercare-go/eldercare"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiLLM adapts Google's Gemini models.
type GeminiLLM struct {
	client *genai.Client
	model  string
}

// NewGeminiLLM creates an adapter. apiKey is required.
func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w: set GEMINI_API_KEY or GOOGLE_API_KEY", ErrNotConfigured)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiLLM{client: client, model: model}, nil
}

// Model returns the model identifier.
func (g *GeminiLLM) Model() string {
	return g.model
}

func (g *GeminiLLM) session(messages []*eldercare.Message, options *CallOptions) (*genai.ChatSession, []genai.Part, error) {
	system, rest := splitSystem(messages)
	if len(rest) == 0 {
		return nil, nil, errors.New("gemini: no user message to send")
	}

	model := g.client.GenerativeModel(g.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if options.Temperature != nil {
		model.SetTemperature(float32(*options.Temperature))
	}
	if options.MaxTokens != nil {
		model.SetMaxOutputTokens(int32(*options.MaxTokens))
	}
	if options.TopP != nil {
		model.SetTopP(float32(*options.TopP))
	}
	if topK, ok := options.Extra["top_k"].(int); ok {
		model.SetTopK(int32(topK))
	}
	if len(options.Stop) > 0 {
		model.StopSequences = options.Stop
	}

	chat := model.StartChat()
	for _, m := range rest[:len(rest)-1] {
		chat.History = append(chat.History, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	last := rest[len(rest)-1]
	return chat, []genai.Part{genai.Text(last.Content)}, nil
}

func geminiRole(role string) string {
	if isUserTurn(role) {
		return "user"
	}
	return "model"
}

// Complete generates a completion.
func (g *GeminiLLM) Complete(ctx context.Context, messages []*eldercare.Message, opts ...CallOption) (*eldercare.Message, error) {
	chat, parts, err := g.session(messages, BuildCallOptions(opts...))
	if err != nil {
		return nil, err
	}

	resp, err := chat.SendMessage(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini api error: %w", err)
	}

	reply := newReply(geminiText(resp), g.model)
	if resp.UsageMetadata != nil {
		reply.Metadata["usage"] = map[string]interface{}{
			"prompt_tokens":     resp.UsageMetadata.PromptTokenCount,
			"completion_tokens": resp.UsageMetadata.CandidatesTokenCount,
			"total_tokens":      resp.UsageMetadata.TotalTokenCount,
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != 0 {
		reply.Metadata["finish_reason"] = resp.Candidates[0].FinishReason.String()
	}
	return reply, nil
}

// Stream generates completion chunks.
func (g *GeminiLLM) Stream(ctx context.Context, messages []*eldercare.Message, opts ...CallOption) (<-chan *eldercare.Message, error) {
	chat, parts, err := g.session(messages, BuildCallOptions(opts...))
	if err != nil {
		return nil, err
	}
	iter := chat.SendMessageStream(ctx, parts...)

	out := make(chan *eldercare.Message)
	go func() {
		defer close(out)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			var chunk *eldercare.Message
			if err != nil {
				chunk = newErrorChunk(err, g.model)
			} else if text := geminiText(resp); text != "" {
				chunk = newChunk(text, g.model)
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

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

// Close closes the client.
func (g *GeminiLLM) Close() error {
	return g.client.Close()
}

// Unwrap returns the *genai.Client.
func (g *GeminiLLM) Unwrap() interface{} {
	return g.client
}
