// Package tools provides the tool registry and the healthcare tools the
// specialist agents call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"go.opentelemetry.io/otel/codes"

	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/observability"
)

// ToolRegistry holds the tools available to one agent.
type ToolRegistry struct {
	tools   map[string]eldercare.Tool
	metrics *observability.Instruments
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]eldercare.Tool)}
}

// WithMetrics records tool invocations on inst.
func (r *ToolRegistry) WithMetrics(inst *observability.Instruments) *ToolRegistry {
	r.metrics = inst
	return r
}

// Register adds a tool. Names must be non-empty and unique.
func (r *ToolRegistry) Register(tool eldercare.Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	if tool.Name() == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool '%s' is already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *ToolRegistry) Get(name string) (eldercare.Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// List returns the registered tool names in sorted order.
func (r *ToolRegistry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int { return len(r.tools) }

// Subset returns a registry holding only the named tools. Every name must be
// registered.
func (r *ToolRegistry) Subset(names ...string) (*ToolRegistry, error) {
	sub := NewToolRegistry().WithMetrics(r.metrics)
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool '%s' is not registered", name)
		}
		if err := sub.Register(tool); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Describe renders the tools for a system prompt: one line per tool with its
// description, followed by the JSON schema of its arguments when it has any.
func (r *ToolRegistry) Describe() string {
	if len(r.tools) == 0 {
		return "No tools available."
	}

	var sb strings.Builder
	for _, name := range r.List() {
		tool := r.tools[name]
		fmt.Fprintf(&sb, "- %s: %s\n", name, tool.Description())
		if params := tool.Parameters(); len(params) > 0 {
			schema, err := json.Marshal(ParameterSchema(params))
			if err == nil {
				fmt.Fprintf(&sb, "  Arguments: %s\n", schema)
			}
		}
	}
	return sb.String()
}

// Execute runs the named tool inside a span. An unknown name is reported as
// a failed result listing the available tools.
func (r *ToolRegistry) Execute(ctx context.Context, agentName, toolName string, params map[string]interface{}) (*eldercare.ToolResult, error) {
	tool, ok := r.tools[toolName]
	if !ok {
		return eldercare.NewToolError(fmt.Sprintf("Unknown tool '%s'. Available tools: %s",
			toolName, strings.Join(r.List(), ", "))), nil
	}

	ctx, span := observability.StartToolSpan(ctx, agentName, toolName)
	defer span.End()

	result, err := tool.Execute(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordToolCall(ctx, agentName, toolName, false)
		return nil, fmt.Errorf("tool %s: %w", toolName, err)
	}
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	r.metrics.RecordToolCall(ctx, agentName, toolName, result.Success)
	return result, nil
}

// ParameterSchema converts a parameter list to a JSON object schema.
func ParameterSchema(params []eldercare.Parameter) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(params)),
	}
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		schema.Properties[p.Name] = &jsonschema.Schema{Type: typ, Description: p.Description}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}
