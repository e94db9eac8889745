// Package llmtest provides a scripted llm.LLM for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dailyux/eldercare-go/adapter/llm"
	"github.com/dailyux/eldercare-go/eldercare"
)

// ErrScriptExhausted is returned when more calls are made than replies were
// scripted.
var ErrScriptExhausted = errors.New("llmtest: no scripted reply left")

// ScriptedLLM replies with canned responses in order. When Reply is set it
// is used instead of the queue.
type ScriptedLLM struct {
	mu      sync.Mutex
	replies []string
	calls   [][]*eldercare.Message
	options []*llm.CallOptions

	// Reply computes a response from the prompt.
	Reply func(messages []*eldercare.Message) (string, error)
}

var _ llm.LLM = (*ScriptedLLM)(nil)

// New returns a model that answers with replies in order.
func New(replies ...string) *ScriptedLLM {
	return &ScriptedLLM{replies: replies}
}

// Complete pops the next reply.
func (s *ScriptedLLM) Complete(ctx context.Context, messages []*eldercare.Message, opts ...llm.CallOption) (*eldercare.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	copied := make([]*eldercare.Message, len(messages))
	copy(copied, messages)
	s.calls = append(s.calls, copied)
	s.options = append(s.options, llm.BuildCallOptions(opts...))

	var (
		content string
		err     error
	)
	switch {
	case s.Reply != nil:
		s.mu.Unlock()
		content, err = s.Reply(messages)
	case len(s.replies) == 0:
		s.mu.Unlock()
		err = ErrScriptExhausted
	default:
		content = s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}

	reply := eldercare.NewMessage(eldercare.RoleAssistant, llm.StripThinking(content))
	reply.Metadata["model"] = s.Model()
	return reply, nil
}

// Stream completes and sends the reply word by word.
func (s *ScriptedLLM) Stream(ctx context.Context, messages []*eldercare.Message, opts ...llm.CallOption) (<-chan *eldercare.Message, error) {
	reply, err := s.Complete(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	out := make(chan *eldercare.Message)
	go func() {
		defer close(out)
		for i, word := range strings.SplitAfter(reply.Content, " ") {
			if word == "" && i > 0 {
				continue
			}
			select {
			case out <- eldercare.NewMessage(eldercare.RoleAssistant, word):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Model returns "scripted".
func (s *ScriptedLLM) Model() string { return "scripted" }

// Unwrap returns the mock itself.
func (s *ScriptedLLM) Unwrap() interface{} { return s }

// Calls returns the prompts received so far.
func (s *ScriptedLLM) Calls() [][]*eldercare.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]*eldercare.Message, len(s.calls))
	copy(out, s.calls)
	return out
}

// Options returns the call options received so far.
func (s *ScriptedLLM) Options() []*llm.CallOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*llm.CallOptions, len(s.options))
	copy(out, s.options)
	return out
}
