package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dailyux/eldercare-go/adapter/llm/llmtest"
	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/middleware"
	"github.com/dailyux/eldercare-go/notify"
	"github.com/dailyux/eldercare-go/patterns"
	"github.com/dailyux/eldercare-go/records"
	"github.com/dailyux/eldercare-go/tools"
)

func newTeam(t *testing.T, model *llmtest.ScriptedLLM, mode OutputMode, handoff bool) (*Supervisor, *notify.Recorder) {
	t.Helper()
	recorder := notify.NewRecorder(0)
	registry, err := tools.NewRegistry(tools.Deps{
		Records:  records.NewMockRepository(records.FixedClock(19, 30)),
		Notifier: recorder,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	supervisor, err := Build(Config{
		Model:               model,
		Tools:               registry,
		Retry:               middleware.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		Timeout:             time.Second,
		OutputMode:          mode,
		HandoffBackMessages: handoff,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return supervisor, recorder
}

func TestBuildValidation(t *testing.T) {
	if _, err := Build(Config{}); err == nil {
		t.Error("expected error without a model")
	}
	if _, err := Build(Config{Model: llmtest.New()}); err == nil {
		t.Error("expected error without tools")
	}

	supervisor, _ := newTeam(t, llmtest.New(), OutputLastMessage, false)
	specialists := supervisor.Specialists()
	if len(specialists) != 3 {
		t.Fatalf("expected 3 specialists, got %d", len(specialists))
	}
	wantTools := map[string]int{MedicationAgent: 9, EmergencyAgent: 5, CommunicationAgent: 2}
	for name, count := range wantTools {
		got, _ := specialists[name].InternalState["tools"].([]string)
		if len(got) != count {
			t.Errorf("%s has %d tools, want %d", name, len(got), count)
		}
	}
}

func TestSupervisorMedicationTurn(t *testing.T) {
	model := llmtest.New(
		"medication_reminder_agent",
		"Thought: check what is due\nAction: medicine_notification\nAction Input: {}",
		"Thought: I now know the final answer\nFinal Answer: It's 7:30 PM, time for your aspirin 650.",
	)
	supervisor, _ := newTeam(t, model, OutputLastMessage, false)

	msg := eldercare.NewMessage(eldercare.RoleUser, "It's 7:30 PM, what should I take?").
		WithMetadata(MetaSessionID, "s-1")
	reply, err := supervisor.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reply.Content != "It's 7:30 PM, time for your aspirin 650." {
		t.Errorf("unexpected content %q", reply.Content)
	}
	if reply.Metadata[MetaRoutedTo] != MedicationAgent || reply.Metadata[MetaRoutedBy] != "llm+keyword" {
		t.Errorf("unexpected routing metadata %v", reply.Metadata)
	}
	if reply.Metadata[MetaSessionID] != "s-1" {
		t.Errorf("session id not propagated")
	}
	if _, ok := reply.Metadata[MetaTranscript]; ok {
		t.Error("last_message mode should not include a transcript")
	}

	calls := model.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 model calls, got %d", len(calls))
	}
	observation := calls[2][len(calls[2])-1].Content
	if !strings.Contains(observation, "Observation: MEDICATIONS DUE NOW (7:30pm): aspirin 650") {
		t.Errorf("tool observation missing from prompt:\n%s", observation)
	}
	if calls[1][0].Role != eldercare.RoleSystem || !strings.Contains(calls[1][0].Content, "Medication Reminder Agent") {
		t.Errorf("specialist prompt should be the system message")
	}
	opts := model.Options()[1]
	if len(opts.Stop) != 1 || opts.Stop[0] != "Observation:" {
		t.Errorf("specialist calls should stop at observations, got %v", opts.Stop)
	}
}

func TestSupervisorKeywordFallback(t *testing.T) {
	model := llmtest.New(
		"I am not sure who should handle this.",
		"Action: get_action_plan\nAction Input: {\"emergency_type\": \"gas leak\"}",
		"Final Answer: Leave the house now and call 911.",
	)
	supervisor, _ := newTeam(t, model, OutputLastMessage, false)

	reply, err := supervisor.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "I smell gas in the kitchen"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reply.Metadata[MetaRoutedTo] != EmergencyAgent {
		t.Errorf("expected emergency route, got %v", reply.Metadata[MetaRoutedTo])
	}
	if reply.Content != "Leave the house now and call 911." {
		t.Errorf("unexpected content %q", reply.Content)
	}
}

func TestSupervisorDefaultRoute(t *testing.T) {
	model := llmtest.New("nobody", "Final Answer: Hello! How can I help with your medications?")
	supervisor, _ := newTeam(t, model, OutputLastMessage, false)

	reply, err := supervisor.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "good evening"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reply.Metadata[MetaRoutedTo] != MedicationAgent || reply.Metadata[MetaRoutedBy] != "default" {
		t.Errorf("expected default route, got %v / %v", reply.Metadata[MetaRoutedTo], reply.Metadata[MetaRoutedBy])
	}
}

func TestSupervisorFullHistory(t *testing.T) {
	model := llmtest.New(
		"communication_agent",
		"Action: send_message\nAction Input: {\"recipient\": \"John\", \"devices\": \"phone,watch\", \"message\": \"I'm fine\"}",
		"Final Answer: I told John you're fine.",
	)
	supervisor, recorder := newTeam(t, model, OutputFullHistory, true)

	reply, err := supervisor.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "Tell John I'm fine"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	history, ok := reply.Metadata[MetaTranscript].([]*eldercare.Message)
	if !ok {
		t.Fatalf("expected transcript, got %T", reply.Metadata[MetaTranscript])
	}

	var contents []string
	for _, m := range history {
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, "\n")
	for _, want := range []string{
		"Tell John I'm fine",
		"Transferring to communication_agent",
		"Message successfully delivered to John on devices: phone, watch.",
		"I told John you're fine.",
		"Successfully transferred back to supervisor",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("transcript missing %q:\n%s", want, joined)
		}
	}
	if len(recorder.List()) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(recorder.List()))
	}
}

func TestSupervisorStream(t *testing.T) {
	model := llmtest.New(
		"emergency_agent",
		"Action: get_action_plan\nAction Input: {\"emergency_type\": \"fire alarm\"}",
		"Final Answer: Evacuate now.",
	)
	supervisor, _ := newTeam(t, model, OutputLastMessage, true)

	out, errs := supervisor.Stream(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "the fire alarm is ringing"))
	var events []string
	var final *eldercare.Message
	for msg := range out {
		events = append(events, msg.MetadataString(MetaEvent))
		final = msg
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream error: %v", err)
	}

	want := []string{"routing", "agent_start", "tool_call", "tool_result", "agent_response", "handoff_back", "final"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}
	if final.Content != "Evacuate now." {
		t.Errorf("final content %q", final.Content)
	}
}

func TestSupervisorModelFailure(t *testing.T) {
	model := llmtest.New()
	model.Reply = func(messages []*eldercare.Message) (string, error) {
		if strings.Contains(messages[len(messages)-1].Content, "Decide which agent") {
			return "medication_reminder_agent", nil
		}
		return "", errors.New("upstream 503")
	}
	supervisor, _ := newTeam(t, model, OutputLastMessage, false)

	_, err := supervisor.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "my pills"))
	if err == nil || !strings.Contains(err.Error(), "upstream 503") {
		t.Errorf("expected model error, got %v", err)
	}
}

func TestParseOutputMode(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputMode
		wantErr bool
	}{
		{"", OutputLastMessage, false},
		{"last_message", OutputLastMessage, false},
		{" FULL_HISTORY ", OutputFullHistory, false},
		{"everything", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestEventMessage(t *testing.T) {
	msg := EventMessage(patterns.Event{Type: patterns.EventToolResult, Agent: EmergencyAgent, Tool: "get_action_plan", Content: "plan", Success: true})
	if msg.Role != eldercare.RoleTool || msg.Content != "plan" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.MetadataString(MetaEvent) != "tool_result" || msg.MetadataString("tool") != "get_action_plan" {
		t.Errorf("unexpected metadata %v", msg.Metadata)
	}
}
