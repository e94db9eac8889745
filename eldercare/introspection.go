package eldercare

import "time"

// IntrospectionResult is a snapshot of an agent: who it is, what it can do
// and the settings it runs with. /v1/agents renders one per specialist.
type IntrospectionResult struct {
	AgentName    string    `json:"agent_name"`
	Capabilities []string  `json:"capabilities"`
	Timestamp    time.Time `json:"timestamp"`

	// InternalState holds agent-specific settings such as the tool list,
	// the model name or request counters.
	InternalState map[string]interface{} `json:"internal_state"`
}

// DefaultIntrospectionResult returns the name and capabilities of agent with
// an empty InternalState ready for the agent to fill.
func DefaultIntrospectionResult(agent Agent) *IntrospectionResult {
	caps := agent.Capabilities()
	if caps == nil {
		caps = []string{}
	}
	return &IntrospectionResult{
		AgentName:     agent.Name(),
		Capabilities:  caps,
		Timestamp:     time.Now().UTC(),
		InternalState: make(map[string]interface{}),
	}
}
