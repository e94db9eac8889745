package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/dailyux/eldercare-go/eldercare"
)

// DefaultBedrockModel is used when no model is configured.
const DefaultBedrockModel = "anthropic.claude-3-5-haiku-20241022-v1:0"

const defaultBedrockMaxTokens = 2048

// BedrockConfig selects the model and credentials. Empty credentials use the
// default AWS chain.
type BedrockConfig struct {
	ModelID         string
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	EndpointURL     string
}

// BedrockLLM adapts models served by Amazon Bedrock through the Converse API.
type BedrockLLM struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockLLM loads AWS configuration and creates a client.
func NewBedrockLLM(ctx context.Context, cfg BedrockConfig) (*BedrockLLM, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultBedrockModel
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*bedrockruntime.Options)
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	return &BedrockLLM{
		client:  bedrockruntime.NewFromConfig(awsCfg, clientOpts...),
		modelID: cfg.ModelID,
	}, nil
}

// Model returns the model identifier.
func (b *BedrockLLM) Model() string {
	return b.modelID
}

func inferenceConfig(options *CallOptions) *types.InferenceConfiguration {
	maxTokens := defaultBedrockMaxTokens
	if options.MaxTokens != nil {
		maxTokens = *options.MaxTokens
	}
	ic := &types.InferenceConfiguration{
		MaxTokens:     aws.Int32(int32(maxTokens)),
		StopSequences: options.Stop,
	}
	if options.Temperature != nil {
		ic.Temperature = aws.Float32(float32(*options.Temperature))
	}
	if options.TopP != nil {
		ic.TopP = aws.Float32(float32(*options.TopP))
	}
	return ic
}

// Complete generates a completion.
func (b *BedrockLLM) Complete(ctx context.Context, messages []*eldercare.Message, opts ...CallOption) (*eldercare.Message, error) {
	msgs, system := convertBedrockMessages(messages)
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(b.modelID),
		Messages:        msgs,
		System:          system,
		InferenceConfig: inferenceConfig(BuildCallOptions(opts...)),
	}

	output, err := b.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock api error: %w", err)
	}

	var sb strings.Builder
	if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				sb.WriteString(text.Value)
			}
		}
	}

	reply := newReply(sb.String(), b.modelID)
	if output.Usage != nil {
		reply.Metadata["usage"] = map[string]interface{}{
			"prompt_tokens":     aws.ToInt32(output.Usage.InputTokens),
			"completion_tokens": aws.ToInt32(output.Usage.OutputTokens),
			"total_tokens":      aws.ToInt32(output.Usage.TotalTokens),
		}
	}
	if output.StopReason != "" {
		reply.Metadata["finish_reason"] = string(output.StopReason)
	}
	return reply, nil
}

// Stream generates completion chunks.
func (b *BedrockLLM) Stream(ctx context.Context, messages []*eldercare.Message, opts ...CallOption) (<-chan *eldercare.Message, error) {
	msgs, system := convertBedrockMessages(messages)
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(b.modelID),
		Messages:        msgs,
		System:          system,
		InferenceConfig: inferenceConfig(BuildCallOptions(opts...)),
	}

	output, err := b.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock api error: %w", err)
	}

	out := make(chan *eldercare.Message)
	go func() {
		defer close(out)
		stream := output.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			delta, ok := event.(*types.ConverseStreamOutputMemberContentBlockDelta)
			if !ok {
				continue
			}
			text, ok := delta.Value.Delta.(*types.ContentBlockDeltaMemberText)
			if !ok {
				continue
			}
			select {
			case out <- newChunk(text.Value, b.modelID):
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- newErrorChunk(err, b.modelID):
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// convertBedrockMessages maps messages to Converse turns. Converse rejects
// consecutive turns with the same role, so those are merged.
func convertBedrockMessages(messages []*eldercare.Message) ([]types.Message, []types.SystemContentBlock) {
	system, rest := splitSystem(messages)

	var blocks []types.SystemContentBlock
	if system != "" {
		blocks = append(blocks, &types.SystemContentBlockMemberText{Value: system})
	}

	var out []types.Message
	for _, m := range rest {
		role := types.ConversationRoleAssistant
		if isUserTurn(m.Role) {
			role = types.ConversationRoleUser
		}
		content := &types.ContentBlockMemberText{Value: m.Content}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, content)
			continue
		}
		out = append(out, types.Message{Role: role, Content: []types.ContentBlock{content}})
	}
	return out, blocks
}

// Unwrap returns the *bedrockruntime.Client.
func (b *BedrockLLM) Unwrap() interface{} {
	return b.client
}
