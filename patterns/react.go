// Package patterns provides the ReAct (Reasoning + Acting) tool loop and the
// classifier-driven router the supervisor is built from.
//
// ReAct combines reasoning (thinking through a problem) with acting (using
// tools to gather information or take actions). The agent alternates between:
//  1. Thought: Reasoning about what to do next
//  2. Action: Calling one of its tools
//  3. Observation: Receiving the tool's result
//
// Key concepts:
//   - Interleaved reasoning and acting
//   - Tool results fed back to the model as observations
//   - Bounded number of steps per request
//
// Performance characteristics:
//   - Steps: O(maxSteps) - bounded by configuration
//   - Each step: one model call + at most one tool call
//   - Memory: O(steps) for the running transcript
package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/tools"
)

// DefaultMaxSteps bounds the ReAct loop when no limit is configured.
const DefaultMaxSteps = 8

// HistoryKey is the message metadata key holding the rendered conversation
// that precedes the current request.
const HistoryKey = "history"

// ReActStep represents a single step in the ReAct reasoning-acting loop.
type ReActStep struct {
	// Thought is the agent's reasoning about what to do
	Thought string `json:"thought,omitempty"`
	// Action is the tool to use (if any)
	Action string `json:"action,omitempty"`
	// ActionInput is the raw tool input as written by the model
	ActionInput string `json:"action_input,omitempty"`
	// Observation is the result of the action (if any)
	Observation string `json:"observation,omitempty"`
	// Answer is the final answer when IsFinal is set
	Answer string `json:"answer,omitempty"`
	// IsFinal indicates whether this is the final answer
	IsFinal bool `json:"is_final,omitempty"`
}

// ReActStopReason indicates why the ReAct loop terminated.
type ReActStopReason string

const (
	// StopReasonFinalAnswer indicates the agent provided a final answer
	StopReasonFinalAnswer ReActStopReason = "final_answer"
	// StopReasonMaxSteps indicates the maximum number of steps was reached
	StopReasonMaxSteps ReActStopReason = "max_steps"
	// StopReasonInvalidAction indicates the reply named neither a tool nor a final answer
	StopReasonInvalidAction ReActStopReason = "invalid_action"
	// StopReasonToolError indicates tool execution failed
	StopReasonToolError ReActStopReason = "tool_error"
)

// ReActConfig configures a ReActAgent.
type ReActConfig struct {
	// Name identifies the agent; tool spans and metrics are labelled with it
	Name string
	// Agent produces the Thought/Action text, typically an llm.LLMAgent
	// configured to stop at "Observation:"
	Agent eldercare.Agent
	// Tools available to the agent
	Tools *tools.ToolRegistry
	// Instructions open the prompt, ahead of the tool list
	Instructions string
	// MaxSteps is the maximum number of reasoning-acting steps (default: 8)
	MaxSteps int
	// Verbose includes the step-by-step trace in the returned content
	Verbose bool
	// Logger receives one debug line per step (default: slog.Default())
	Logger *slog.Logger
}

// ReActAgent answers a request by letting the model call tools until it
// produces a final answer.
//
// Expected agent response format:
//
//	Thought: [reasoning about what to do]
//	Action: [tool name]
//	Action Input: [JSON object with the tool's arguments]
//
// Or for final answer:
//
//	Thought: [reasoning about conclusion]
//	Final Answer: [the final answer]
//
// A ReActAgent holds no per-request state and may serve concurrent requests.
type ReActAgent struct {
	name         string
	agent        eldercare.Agent
	tools        *tools.ToolRegistry
	instructions string
	maxSteps     int
	verbose      bool
	logger       *slog.Logger
}

var _ eldercare.Agent = (*ReActAgent)(nil)

// NewReActAgent creates a new ReAct agent.
func NewReActAgent(config *ReActConfig) (*ReActAgent, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if config.Tools == nil || config.Tools.Len() == 0 {
		return nil, fmt.Errorf("at least one tool is required")
	}

	name := config.Name
	if name == "" {
		name = "ReActAgent"
	}
	maxSteps := config.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ReActAgent{
		name:         name,
		agent:        config.Agent,
		tools:        config.Tools,
		instructions: config.Instructions,
		maxSteps:     maxSteps,
		verbose:      config.Verbose,
		logger:       logger.With("agent", name),
	}, nil
}

// Name returns the agent name.
func (r *ReActAgent) Name() string {
	return r.name
}

// Capabilities returns the agent's capabilities.
func (r *ReActAgent) Capabilities() []string {
	return []string{"reasoning", "tool-use", "react"}
}

// Introspect reports the agent's tools and step limit.
func (r *ReActAgent) Introspect() *eldercare.IntrospectionResult {
	result := eldercare.DefaultIntrospectionResult(r)
	result.InternalState["tools"] = r.tools.List()
	result.InternalState["max_steps"] = r.maxSteps
	return result
}

// Tools returns the names of the agent's tools.
func (r *ReActAgent) Tools() []string {
	return r.tools.List()
}

// Prompt renders the opening prompt for a request.
func (r *ReActAgent) Prompt(message *eldercare.Message) string {
	var sb strings.Builder
	if r.instructions != "" {
		sb.WriteString(strings.TrimSpace(r.instructions))
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, `You have access to the following tools:
%s
Use the following format:

Thought: think about what to do next
Action: the tool to use, exactly one of [%s]
Action Input: a JSON object with the tool's arguments, or {} when it takes none
Observation: the tool's result, which will be provided to you
... (repeat Thought/Action/Action Input/Observation as needed)
Thought: I now know the final answer
Final Answer: the reply to the user

Never write an Observation yourself.
`, r.tools.Describe(), strings.Join(r.tools.List(), ", "))

	if history := strings.TrimSpace(message.MetadataString(HistoryKey)); history != "" {
		fmt.Fprintf(&sb, "\nConversation so far:\n%s\n", history)
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", message.Content)
	return sb.String()
}

// Process executes the ReAct reasoning-acting loop. Progress is reported to
// the Observer attached to ctx, if any.
func (r *ReActAgent) Process(ctx context.Context, message *eldercare.Message) (*eldercare.Message, error) {
	if message == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}

	var (
		steps     []ReActStep
		toolCalls []string
	)
	transcript := []string{r.Prompt(message)}

	for i := 0; i < r.maxSteps; i++ {
		response, err := r.agent.Process(ctx, eldercare.NewMessage(eldercare.RoleUser, strings.Join(transcript, "\n")))
		if err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", r.name, i+1, err)
		}

		step := ParseReActResponse(response.Content)
		r.logger.DebugContext(ctx, "react step",
			"step", i+1, "action", step.Action, "final", step.IsFinal)

		if step.IsFinal {
			steps = append(steps, step)
			return r.finish(steps, toolCalls, step.Answer, StopReasonFinalAnswer), nil
		}

		if step.Action == "" {
			steps = append(steps, step)
			return r.finish(steps, toolCalls, bareAnswer(response.Content), StopReasonInvalidAction), nil
		}

		params := r.actionParams(step.Action, step.ActionInput)
		Emit(ctx, Event{Type: EventToolCall, Agent: r.name, Tool: step.Action, Input: params, Step: i + 1})

		result, err := r.tools.Execute(ctx, r.name, step.Action, params)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			step.Observation = fmt.Sprintf("Error: %v", err)
			steps = append(steps, step)
			Emit(ctx, Event{Type: EventToolResult, Agent: r.name, Tool: step.Action, Content: step.Observation, Step: i + 1})
			return r.finish(steps, append(toolCalls, step.Action), "", StopReasonToolError), nil
		}

		toolCalls = append(toolCalls, step.Action)
		step.Observation = observation(result)
		Emit(ctx, Event{
			Type:    EventToolResult,
			Agent:   r.name,
			Tool:    step.Action,
			Content: step.Observation,
			Success: result.Success,
			Step:    i + 1,
		})

		steps = append(steps, step)
		transcript = append(transcript, formatStep(step))
	}

	return r.finish(steps, toolCalls, "", StopReasonMaxSteps), nil
}

// actionParams decodes the model's Action Input. JSON objects are decoded,
// repairing common syntax slips. Any other text is passed under the tool's
// first required parameter, or "input" when it has none.
func (r *ReActAgent) actionParams(action, raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "`")
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return map[string]interface{}{}
	}
	if strings.HasPrefix(raw, "{") {
		var params map[string]interface{}
		if err := unmarshalJSON([]byte(raw), &params); err == nil && params != nil {
			return params
		}
	}

	key := "input"
	if tool, ok := r.tools.Get(action); ok {
		if params := tool.Parameters(); len(params) > 0 {
			key = params[0].Name
			for _, p := range params {
				if p.Required {
					key = p.Name
					break
				}
			}
		}
	}
	return map[string]interface{}{key: strings.Trim(raw, `"'`)}
}

// unmarshalJSON decodes data into v, retrying once through jsonrepair when
// the input is not valid JSON.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, err := jsonrepair.JSONRepair(string(data))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

func observation(result *eldercare.ToolResult) string {
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "Tool execution failed"
		}
		return "Error: " + msg
	}
	switch data := result.Data.(type) {
	case string:
		return data
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(encoded)
	}
}

// ParseReActResponse parses one model reply into a step. Parsing stops at a
// line starting with "Observation:" since observations come from tools. A
// Final Answer after an Action is ignored.
func ParseReActResponse(response string) ReActStep {
	var (
		step  ReActStep
		field *string
	)

lines:
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Thought:"):
			step.Thought = strings.TrimSpace(strings.TrimPrefix(trimmed, "Thought:"))
			field = &step.Thought
		case strings.HasPrefix(trimmed, "Action Input:"):
			step.ActionInput = strings.TrimSpace(strings.TrimPrefix(trimmed, "Action Input:"))
			field = &step.ActionInput
		case strings.HasPrefix(trimmed, "Action:"):
			if step.Action != "" {
				break lines
			}
			step.Action = normalizeAction(strings.TrimPrefix(trimmed, "Action:"))
			field = nil
		case strings.HasPrefix(trimmed, "Observation:"):
			break lines
		case strings.HasPrefix(trimmed, "Final Answer:"):
			if step.Action != "" {
				break lines
			}
			if step.Thought == "" {
				step.Thought = "Reached final answer"
			}
			step.Answer = strings.TrimSpace(strings.TrimPrefix(trimmed, "Final Answer:"))
			step.IsFinal = true
			field = &step.Answer
		default:
			if field != nil && trimmed != "" {
				*field = strings.TrimSpace(*field + "\n" + trimmed)
			}
		}
	}

	return step
}

func normalizeAction(action string) string {
	action = strings.TrimSpace(action)
	action = strings.Trim(action, "`\"'*[] ")
	action = strings.TrimSuffix(action, "()")
	return strings.ToLower(action)
}

// bareAnswer returns a reply that ignored the format, minus any Thought
// lines.
func bareAnswer(response string) string {
	var kept []string
	for _, line := range strings.Split(response, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "Thought:") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// formatStep formats a step for the running transcript.
func formatStep(step ReActStep) string {
	var formatted strings.Builder
	fmt.Fprintf(&formatted, "Thought: %s", step.Thought)

	if step.Action != "" {
		fmt.Fprintf(&formatted, "\nAction: %s", step.Action)
		fmt.Fprintf(&formatted, "\nAction Input: %s", step.ActionInput)
	}

	if step.Observation != "" {
		fmt.Fprintf(&formatted, "\nObservation: %s", step.Observation)
	}

	return formatted.String()
}

// finish builds the reply. answer is used verbatim when non-empty.
func (r *ReActAgent) finish(steps []ReActStep, toolCalls []string, answer string, stopReason ReActStopReason) *eldercare.Message {
	var content strings.Builder

	if r.verbose {
		for i, s := range steps {
			if i > 0 {
				content.WriteString("\n\n")
			}
			content.WriteString(formatStep(s))
		}
		content.WriteString("\n\n---\n\n")
	}

	switch {
	case answer != "":
		content.WriteString(answer)
	case stopReason == StopReasonFinalAnswer:
		content.WriteString("No final answer provided")
	default:
		fmt.Fprintf(&content, "Unable to complete task (%s)", stopReason)
		if len(steps) > 0 {
			last := steps[len(steps)-1]
			if last.Thought != "" {
				fmt.Fprintf(&content, "\nLast thought: %s", last.Thought)
			}
			if stopReason == StopReasonToolError && last.Observation != "" {
				fmt.Fprintf(&content, "\n%s", last.Observation)
			}
		}
	}

	if toolCalls == nil {
		toolCalls = []string{}
	}
	reply := eldercare.NewMessage(eldercare.RoleAssistant, content.String())
	reply.Metadata["agent"] = r.name
	reply.Metadata["stop_reason"] = string(stopReason)
	reply.Metadata["steps"] = len(steps)
	reply.Metadata["tool_calls"] = toolCalls
	reply.Metadata["reasoning"] = steps
	return reply
}
