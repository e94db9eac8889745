package llm

import (
	"context"
	"fmt"

	"github.com/dailyux/eldercare-go/eldercare"
)

// LLMAgent answers each message with one model call under a fixed system
// prompt. The supervisor's classifier and the chat fallback use it.
type LLMAgent struct {
	name         string
	model        LLM
	systemPrompt string
	opts         []CallOption
}

var _ eldercare.StreamingAgent = (*LLMAgent)(nil)

// NewLLMAgent creates an agent.
func NewLLMAgent(name string, model LLM, systemPrompt string, opts ...CallOption) *LLMAgent {
	return &LLMAgent{name: name, model: model, systemPrompt: systemPrompt, opts: opts}
}

// Name returns the agent name.
func (a *LLMAgent) Name() string { return a.name }

// Capabilities returns the agent capabilities.
func (a *LLMAgent) Capabilities() []string { return []string{"llm", "streaming"} }

// Introspect reports the model in use.
func (a *LLMAgent) Introspect() *eldercare.IntrospectionResult {
	result := eldercare.DefaultIntrospectionResult(a)
	result.InternalState["model"] = a.model.Model()
	return result
}

func (a *LLMAgent) prompt(message *eldercare.Message) []*eldercare.Message {
	var msgs []*eldercare.Message
	if a.systemPrompt != "" {
		msgs = append(msgs, eldercare.NewMessage(eldercare.RoleSystem, a.systemPrompt))
	}
	return append(msgs, message)
}

// Process sends the system prompt and message to the model.
func (a *LLMAgent) Process(ctx context.Context, message *eldercare.Message) (*eldercare.Message, error) {
	reply, err := a.model.Complete(ctx, a.prompt(message), a.opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.name, err)
	}
	reply.Metadata["agent"] = a.name
	return reply, nil
}

// Stream forwards model chunks. A chunk carrying an error ends the stream
// with that error.
func (a *LLMAgent) Stream(ctx context.Context, message *eldercare.Message) (<-chan *eldercare.Message, <-chan error) {
	out := make(chan *eldercare.Message)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		chunks, err := a.model.Stream(ctx, a.prompt(message), a.opts...)
		if err != nil {
			errs <- fmt.Errorf("%s: %w", a.name, err)
			return
		}
		for chunk := range chunks {
			if msg := chunk.MetadataString("error"); msg != "" {
				errs <- fmt.Errorf("%s: stream: %s", a.name, msg)
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return out, errs
}
