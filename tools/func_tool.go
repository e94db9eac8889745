package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dailyux/eldercare-go/eldercare"
)

// Args are the parameters passed to a tool.
type Args map[string]interface{}

// String returns the parameter as a trimmed string. Numbers and booleans are
// formatted; missing or null parameters yield "".
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// StringOr returns the parameter, or def when it is blank.
func (a Args) StringOr(key, def string) string {
	if s := a.String(key); s != "" {
		return s
	}
	return def
}

// Bool reports whether the parameter is true. Models often send booleans
// as strings, so "true", "yes" and "1" count too.
func (a Args) Bool(key string) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	switch strings.ToLower(a.String(key)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

// Has reports whether the parameter is present and not blank.
func (a Args) Has(key string) bool {
	return a.String(key) != ""
}

// Func is the body of a FuncTool. Returned errors become failed tool results
// so the model can read them.
type Func func(ctx context.Context, args Args) (interface{}, error)

// FuncTool adapts a function into an eldercare.Tool.
type FuncTool struct {
	name        string
	description string
	params      []eldercare.Parameter
	fn          Func
}

var _ eldercare.Tool = (*FuncTool)(nil)

// NewFuncTool creates a tool.
func NewFuncTool(name, description string, params []eldercare.Parameter, fn Func) *FuncTool {
	return &FuncTool{name: name, description: description, params: params, fn: fn}
}

// Name returns the tool name.
func (t *FuncTool) Name() string { return t.name }

// Description returns the tool description.
func (t *FuncTool) Description() string { return t.description }

// Parameters returns the declared parameters.
func (t *FuncTool) Parameters() []eldercare.Parameter { return t.params }

// Execute validates required parameters and runs the function. Only context
// cancellation is returned as a Go error.
func (t *FuncTool) Execute(ctx context.Context, params map[string]interface{}) (*eldercare.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := Args(params)
	if args == nil {
		args = Args{}
	}
	for _, p := range t.params {
		if p.Required && !args.Has(p.Name) {
			return eldercare.NewToolError(fmt.Sprintf("missing required parameter '%s'", p.Name)), nil
		}
	}

	data, err := t.fn(ctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return eldercare.NewToolError(err.Error()), nil
	}
	return eldercare.NewToolResult(data), nil
}
