package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dailyux/eldercare-go/eldercare"
)

// ErrNoRoute is returned by classifiers that cannot place a message.
var ErrNoRoute = errors.New("no route for message")

// Classifier determines which agent should handle a message.
//
// Classify returns one of the route names the classifier was built with, or
// an error wrapping ErrNoRoute when none applies.
type Classifier interface {
	// Name identifies the classifier in logs and routing metadata
	Name() string

	// Classify determines the route for a message
	Classify(ctx context.Context, message *eldercare.Message) (string, error)
}

// Route is the outcome of classification.
type Route struct {
	// Agent is the selected specialist
	Agent eldercare.Agent
	// Name is the key the agent is registered under
	Name string
	// Classifier names the classifier that chose the route, or "default"
	Classifier string
	// Reason explains a fallback to the default route
	Reason string
}

// RouterAgent routes messages to appropriate agents based on classification.
//
// The router uses a classifier to determine message intent, then delegates
// to exactly one specialist. When classification fails or names an unknown
// agent, the default route is used if one is configured.
type RouterAgent struct {
	name       string
	classifier Classifier
	agents     map[string]eldercare.Agent
	defaultKey string
	logger     *slog.Logger
}

var _ eldercare.Agent = (*RouterAgent)(nil)

// RouterConfig configures a RouterAgent.
type RouterConfig struct {
	// Name of the router (default: "RouterAgent")
	Name string
	// Classifier determines which agent to route to
	Classifier Classifier
	// Agents maps route names to specialist agents
	Agents map[string]eldercare.Agent
	// DefaultKey specifies the fallback agent when classification fails (optional)
	DefaultKey string
	// Logger records routing decisions (default: slog.Default())
	Logger *slog.Logger
}

// NewRouterAgent creates a new router agent.
func NewRouterAgent(config *RouterConfig) (*RouterAgent, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if len(config.Agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	if config.DefaultKey != "" {
		if _, ok := config.Agents[config.DefaultKey]; !ok {
			return nil, fmt.Errorf("default key '%s' not found in agents map", config.DefaultKey)
		}
	}

	name := config.Name
	if name == "" {
		name = "RouterAgent"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RouterAgent{
		name:       name,
		classifier: config.Classifier,
		agents:     config.Agents,
		defaultKey: config.DefaultKey,
		logger:     logger,
	}, nil
}

// Name returns the agent's identifier.
func (r *RouterAgent) Name() string {
	return r.name
}

// Capabilities returns the combined capabilities of all agents.
func (r *RouterAgent) Capabilities() []string {
	capMap := make(map[string]bool)
	for _, agent := range r.agents {
		for _, c := range agent.Capabilities() {
			capMap[c] = true
		}
	}
	capabilities := make([]string, 0, len(capMap)+2)
	for c := range capMap {
		capabilities = append(capabilities, c)
	}
	sort.Strings(capabilities)
	return append(capabilities, "router", "classification")
}

// Introspect lists the routes and the classifier in use.
func (r *RouterAgent) Introspect() *eldercare.IntrospectionResult {
	result := eldercare.DefaultIntrospectionResult(r)
	result.InternalState["routes"] = r.Routes()
	result.InternalState["classifier"] = r.classifier.Name()
	result.InternalState["default_route"] = r.defaultKey
	return result
}

// Routes returns the registered route names in sorted order.
func (r *RouterAgent) Routes() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Agent returns the agent registered under name.
func (r *RouterAgent) Agent(name string) (eldercare.Agent, bool) {
	agent, ok := r.agents[name]
	return agent, ok
}

// Route classifies the message without running the selected agent.
func (r *RouterAgent) Route(ctx context.Context, message *eldercare.Message) (Route, error) {
	if message == nil {
		return Route{}, fmt.Errorf("message cannot be nil")
	}

	name, err := r.classifier.Classify(ctx, message)
	if err == nil {
		if agent, ok := r.agents[name]; ok {
			return Route{Agent: agent, Name: name, Classifier: r.classifier.Name()}, nil
		}
		err = fmt.Errorf("%w: unknown agent %q", ErrNoRoute, name)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Route{}, ctxErr
	}

	if r.defaultKey == "" {
		return Route{}, fmt.Errorf("classification failed (available: %s): %w",
			strings.Join(r.Routes(), ", "), err)
	}
	r.logger.WarnContext(ctx, "routing to default agent", "default", r.defaultKey, "error", err)
	return Route{
		Agent:      r.agents[r.defaultKey],
		Name:       r.defaultKey,
		Classifier: "default",
		Reason:     err.Error(),
	}, nil
}

// Process classifies the message and delegates it to one agent. The reply
// carries routed_to and routed_by metadata.
func (r *RouterAgent) Process(ctx context.Context, message *eldercare.Message) (*eldercare.Message, error) {
	route, err := r.Route(ctx, message)
	if err != nil {
		return nil, err
	}

	result, err := route.Agent.Process(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("agent '%s' failed: %w", route.Name, err)
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]interface{})
	}
	result.Metadata["routed_to"] = route.Name
	result.Metadata["routed_by"] = route.Classifier
	return result, nil
}

// KeywordRoute lists the keywords that select one route.
type KeywordRoute struct {
	Name     string
	Keywords []string
}

// KeywordClassifier picks the route whose keywords occur most often in the
// message, compared case-insensitively. Ties go to the route listed first.
type KeywordClassifier struct {
	routes []KeywordRoute
}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier creates a keyword-based classifier.
func NewKeywordClassifier(routes ...KeywordRoute) *KeywordClassifier {
	return &KeywordClassifier{routes: routes}
}

// Name returns "keyword".
func (c *KeywordClassifier) Name() string {
	return "keyword"
}

// Classify determines the route using keyword matching.
func (c *KeywordClassifier) Classify(ctx context.Context, message *eldercare.Message) (string, error) {
	if message == nil {
		return "", fmt.Errorf("message cannot be nil")
	}
	content := strings.ToLower(message.Content)

	best, bestMatches := "", 0
	for _, route := range c.routes {
		matches := 0
		for _, keyword := range route.Keywords {
			if strings.Contains(content, strings.ToLower(keyword)) {
				matches++
			}
		}
		if matches > bestMatches {
			best, bestMatches = route.Name, matches
		}
	}

	if best == "" {
		return "", fmt.Errorf("%w: no keyword matches found", ErrNoRoute)
	}
	return best, nil
}

// LLMClassifier asks a model to name the agent for a message.
//
// The model is given the route names with a description of each and must
// reply with one of them. A reply that mentions exactly one route name is
// accepted as well, since chat models rarely answer with a bare word.
type LLMClassifier struct {
	agent  eldercare.Agent
	routes []string
	prompt string
}

var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier creates an LLM-based classifier. descriptions maps each
// route name to a one-line description of what it handles; routes are
// offered to the model in the given order.
func NewLLMClassifier(agent eldercare.Agent, routes []string, descriptions map[string]string) *LLMClassifier {
	var sb strings.Builder
	sb.WriteString("Decide which agent should handle the user's message. Available agents:\n")
	for _, name := range routes {
		if desc := descriptions[name]; desc != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", name, desc)
		} else {
			fmt.Fprintf(&sb, "- %s\n", name)
		}
	}
	sb.WriteString("\nOnly assign work to one agent at a time. Reply with ONLY the agent name, nothing else.\n\nMessage: ")

	return &LLMClassifier{
		agent:  agent,
		routes: routes,
		prompt: sb.String(),
	}
}

// Name returns "llm".
func (c *LLMClassifier) Name() string {
	return "llm"
}

// Classify uses the model to determine the route.
func (c *LLMClassifier) Classify(ctx context.Context, message *eldercare.Message) (string, error) {
	if message == nil {
		return "", fmt.Errorf("message cannot be nil")
	}

	result, err := c.agent.Process(ctx, eldercare.NewMessage(eldercare.RoleUser, c.prompt+message.Content))
	if err != nil {
		return "", fmt.Errorf("llm classification failed: %w", err)
	}

	reply := strings.TrimSpace(result.Content)
	for _, route := range c.routes {
		if strings.EqualFold(strings.Trim(reply, "`\"'. "), route) {
			return route, nil
		}
	}

	lower := strings.ToLower(reply)
	var mentioned []string
	for _, route := range c.routes {
		if strings.Contains(lower, strings.ToLower(route)) {
			mentioned = append(mentioned, route)
		}
	}
	if len(mentioned) == 1 {
		return mentioned[0], nil
	}

	return "", fmt.Errorf("%w: llm returned invalid agent '%s' (valid: %s)",
		ErrNoRoute, reply, strings.Join(c.routes, ", "))
}
