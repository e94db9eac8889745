package patterns

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dailyux/eldercare-go/eldercare"
)

func newMedicationFixture(responses ...string) (*ReActAgent, *scriptedAgent, *recordingTool, *recordingTool) {
	model := &scriptedAgent{responses: responses}
	schedule := &recordingTool{name: "get_medication_schedule", response: "aspirin 650 at 7:30pm"}
	verify := &recordingTool{
		name:     "medicine_intake_verification",
		params:   []eldercare.Parameter{{Name: "medication_name", Type: "string"}},
		response: "VERIFICATION RESULT: aspirin 650 NOT TAKEN.",
	}
	agent, err := NewReActAgent(&ReActConfig{
		Name:         "medication_reminder_agent",
		Agent:        model,
		Tools:        newTestRegistry(schedule, verify),
		Instructions: "You help with medications.",
	})
	if err != nil {
		panic(err)
	}
	return agent, model, schedule, verify
}

func TestNewReActAgentValidation(t *testing.T) {
	tool := &recordingTool{name: "t"}
	tests := []struct {
		name   string
		config *ReActConfig
		want   string
	}{
		{"nil config", nil, "config is required"},
		{"nil agent", &ReActConfig{Tools: newTestRegistry(tool)}, "agent is required"},
		{"no tools", &ReActConfig{Agent: &scriptedAgent{}}, "at least one tool is required"},
		{"empty registry", &ReActConfig{Agent: &scriptedAgent{}, Tools: newTestRegistry()}, "at least one tool is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReActAgent(tt.config)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q error, got %v", tt.want, err)
			}
		})
	}

	agent, err := NewReActAgent(&ReActConfig{Agent: &scriptedAgent{}, Tools: newTestRegistry(tool)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agent.maxSteps != DefaultMaxSteps || agent.Name() != "ReActAgent" {
		t.Errorf("unexpected defaults: %d %s", agent.maxSteps, agent.Name())
	}
}

func TestReActAgentToolThenAnswer(t *testing.T) {
	agent, model, schedule, _ := newMedicationFixture(
		"Thought: I should check the schedule.\nAction: get_medication_schedule\nAction Input: {}",
		"Thought: I now know the final answer\nFinal Answer: It's time for your aspirin 650, the red round pill.",
	)

	var events []Event
	ctx := WithObserver(context.Background(), func(e Event) { events = append(events, e) })

	reply, err := agent.Process(ctx, eldercare.NewMessage(eldercare.RoleUser, "What medicine do I take now?"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reply.Content != "It's time for your aspirin 650, the red round pill." {
		t.Errorf("unexpected content %q", reply.Content)
	}
	if reply.Metadata["stop_reason"] != string(StopReasonFinalAnswer) {
		t.Errorf("stop reason = %v", reply.Metadata["stop_reason"])
	}
	if reply.Metadata["steps"] != 2 {
		t.Errorf("steps = %v", reply.Metadata["steps"])
	}
	if len(schedule.calls) != 1 {
		t.Errorf("schedule tool called %d times", len(schedule.calls))
	}

	if model.calls() != 2 {
		t.Fatalf("model called %d times", model.calls())
	}
	second := model.prompts[1]
	if !strings.Contains(second, "Observation: aspirin 650 at 7:30pm") {
		t.Errorf("observation missing from follow-up prompt:\n%s", second)
	}
	if !strings.HasPrefix(model.prompts[0], "You help with medications.") {
		t.Errorf("instructions should open the prompt")
	}

	if len(events) != 2 || events[0].Type != EventToolCall || events[1].Type != EventToolResult {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[1].Content != "aspirin 650 at 7:30pm" || !events[1].Success {
		t.Errorf("unexpected tool result event %+v", events[1])
	}
}

func TestReActAgentActionInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json", `{"medication_name": "aspirin 650"}`, "aspirin 650"},
		{"repaired json", `{'medication_name': 'aspirin 650',}`, "aspirin 650"},
		{"fenced json", "```json\n{\"medication_name\": \"aspirin 650\"}\n```", "aspirin 650"},
		{"bare text", `aspirin 650`, "aspirin 650"},
		{"quoted text", `"aspirin 650"`, "aspirin 650"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent, _, _, verify := newMedicationFixture(
				"Thought: verify\nAction: medicine_intake_verification\nAction Input: "+tt.input,
				"Final Answer: done",
			)
			if _, err := agent.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "did I take it?")); err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if got := verify.lastCall()["medication_name"]; got != tt.want {
				t.Errorf("medication_name = %v, want %q (call %v)", got, tt.want, verify.lastCall())
			}
		})
	}
}

func TestReActAgentUnknownToolContinues(t *testing.T) {
	agent, model, _, _ := newMedicationFixture(
		"Thought: call\nAction: call_doctor\nAction Input: {}",
		"Final Answer: I could not reach the doctor.",
	)
	reply, err := agent.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "call my doctor"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reply.Metadata["stop_reason"] != string(StopReasonFinalAnswer) {
		t.Errorf("stop reason = %v", reply.Metadata["stop_reason"])
	}
	if !strings.Contains(model.prompts[1], "Unknown tool 'call_doctor'. Available tools: get_medication_schedule, medicine_intake_verification") {
		t.Errorf("expected unknown tool observation, got:\n%s", model.prompts[1])
	}
}

func TestReActAgentStopReasons(t *testing.T) {
	t.Run("max steps", func(t *testing.T) {
		responses := make([]string, 3)
		for i := range responses {
			responses[i] = "Thought: again\nAction: get_medication_schedule\nAction Input: {}"
		}
		model := &scriptedAgent{responses: responses}
		agent, _ := NewReActAgent(&ReActConfig{
			Agent:    model,
			Tools:    newTestRegistry(&recordingTool{name: "get_medication_schedule", response: "x"}),
			MaxSteps: 3,
		})
		reply, err := agent.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "loop"))
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if reply.Metadata["stop_reason"] != string(StopReasonMaxSteps) {
			t.Errorf("stop reason = %v", reply.Metadata["stop_reason"])
		}
		if !strings.Contains(reply.Content, "Unable to complete task (max_steps)") {
			t.Errorf("unexpected content %q", reply.Content)
		}
	})

	t.Run("bare reply", func(t *testing.T) {
		agent, _, _, _ := newMedicationFixture("Thought: easy\nHello! How can I help you today?")
		reply, err := agent.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "hi"))
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if reply.Metadata["stop_reason"] != string(StopReasonInvalidAction) {
			t.Errorf("stop reason = %v", reply.Metadata["stop_reason"])
		}
		if reply.Content != "Hello! How can I help you today?" {
			t.Errorf("unexpected content %q", reply.Content)
		}
	})

	t.Run("tool error", func(t *testing.T) {
		broken := &recordingTool{name: "get_medication_schedule", fail: errors.New("disk on fire")}
		agent, _ := NewReActAgent(&ReActConfig{
			Agent: &scriptedAgent{responses: []string{"Action: get_medication_schedule\nAction Input: {}"}},
			Tools: newTestRegistry(broken),
		})
		reply, err := agent.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "schedule"))
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if reply.Metadata["stop_reason"] != string(StopReasonToolError) {
			t.Errorf("stop reason = %v", reply.Metadata["stop_reason"])
		}
		if !strings.Contains(reply.Content, "disk on fire") {
			t.Errorf("tool error should be reported, got %q", reply.Content)
		}
	})

	t.Run("model error", func(t *testing.T) {
		agent, _ := NewReActAgent(&ReActConfig{
			Name:  "emergency_agent",
			Agent: &scriptedAgent{err: errors.New("rate limited")},
			Tools: newTestRegistry(&recordingTool{name: "x"}),
		})
		_, err := agent.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "gas leak"))
		if err == nil || !strings.Contains(err.Error(), "emergency_agent") {
			t.Errorf("expected wrapped model error, got %v", err)
		}
	})
}

func TestReActAgentHistoryAndVerbose(t *testing.T) {
	model := &scriptedAgent{responses: []string{"Final Answer: Yes, John was told."}}
	agent, _ := NewReActAgent(&ReActConfig{
		Agent:   model,
		Tools:   newTestRegistry(&recordingTool{name: "notify_family"}),
		Verbose: true,
	})
	msg := eldercare.NewMessage(eldercare.RoleUser, "Did you tell him?").
		WithMetadata(HistoryKey, "user: Tell John I'm fine\nassistant: I sent the message.")

	reply, err := agent.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !strings.Contains(model.prompts[0], "Conversation so far:\nuser: Tell John I'm fine") {
		t.Errorf("history missing from prompt:\n%s", model.prompts[0])
	}
	if !strings.Contains(reply.Content, "---") || !strings.HasSuffix(reply.Content, "Yes, John was told.") {
		t.Errorf("verbose reply should carry the trace, got %q", reply.Content)
	}
}

func TestParseReActResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ReActStep
	}{
		{
			name: "action",
			in:   "Thought: notify\nAction: `notify_family`\nAction Input: {\"contact_name\": \"John\"}",
			want: ReActStep{Thought: "notify", Action: "notify_family", ActionInput: `{"contact_name": "John"}`},
		},
		{
			name: "multi-line input",
			in:   "Action: send_message\nAction Input: {\n  \"message\": \"hi\"\n}\nObservation: made up",
			want: ReActStep{Action: "send_message", ActionInput: "{\n\"message\": \"hi\"\n}"},
		},
		{
			name: "final answer",
			in:   "Thought: done\nFinal Answer: Take the red pill.\nIt is on the counter.",
			want: ReActStep{Thought: "done", Answer: "Take the red pill.\nIt is on the counter.", IsFinal: true},
		},
		{
			name: "final after action ignored",
			in:   "Action: get_user_profile()\nAction Input: {}\nFinal Answer: guessed",
			want: ReActStep{Action: "get_user_profile", ActionInput: "{}"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseReActResponse(tt.in)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
