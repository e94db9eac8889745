package patterns

import (
	"context"
	"fmt"
	"sync"

	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/tools"
)

// scriptedAgent replies with canned responses in order and records the
// prompts it was given.
type scriptedAgent struct {
	mu        sync.Mutex
	name      string
	responses []string
	prompts   []string
	err       error
}

func (m *scriptedAgent) Name() string {
	if m.name == "" {
		return "scripted"
	}
	return m.name
}

func (m *scriptedAgent) Capabilities() []string {
	return []string{"mock"}
}

func (m *scriptedAgent) Introspect() *eldercare.IntrospectionResult {
	return eldercare.DefaultIntrospectionResult(m)
}

func (m *scriptedAgent) Process(ctx context.Context, msg *eldercare.Message) (*eldercare.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, msg.Content)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("no more mock responses available")
	}
	response := m.responses[0]
	m.responses = m.responses[1:]
	return eldercare.NewMessage(eldercare.RoleAssistant, response), nil
}

func (m *scriptedAgent) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// recordingTool returns a fixed string and remembers its arguments.
type recordingTool struct {
	mu       sync.Mutex
	name     string
	params   []eldercare.Parameter
	response string
	fail     error
	calls    []map[string]interface{}
}

func (t *recordingTool) Name() string                      { return t.name }
func (t *recordingTool) Description() string               { return "test tool " + t.name }
func (t *recordingTool) Parameters() []eldercare.Parameter { return t.params }

func (t *recordingTool) Execute(ctx context.Context, params map[string]interface{}) (*eldercare.ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, params)
	if t.fail != nil {
		return nil, t.fail
	}
	return eldercare.NewToolResult(t.response), nil
}

func (t *recordingTool) lastCall() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) == 0 {
		return nil
	}
	return t.calls[len(t.calls)-1]
}

func newTestRegistry(ts ...eldercare.Tool) *tools.ToolRegistry {
	registry := tools.NewToolRegistry()
	for _, tool := range ts {
		if err := registry.Register(tool); err != nil {
			panic(err)
		}
	}
	return registry
}

// stubClassifier returns a fixed route or error.
type stubClassifier struct {
	name  string
	route string
	err   error
}

func (s *stubClassifier) Name() string { return s.name }

func (s *stubClassifier) Classify(ctx context.Context, msg *eldercare.Message) (string, error) {
	return s.route, s.err
}
