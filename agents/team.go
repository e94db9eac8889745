// Package agents assembles the three specialists and the supervisor that
// routes between them.
package agents

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dailyux/eldercare-go/adapter/llm"
	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/middleware"
	"github.com/dailyux/eldercare-go/observability"
	"github.com/dailyux/eldercare-go/patterns"
	"github.com/dailyux/eldercare-go/tools"
)

// DefaultTemperature matches the low-variance setting the assistant was
// tuned with.
const DefaultTemperature = 0.2

// Config holds what Build needs. Model and Tools are required.
type Config struct {
	Model llm.LLM
	// Tools must contain every tool named in the specialists' tool sets.
	Tools *tools.ToolRegistry

	MaxSteps    int
	Temperature float64
	Retry       middleware.RetryConfig
	// Timeout bounds each model call.
	Timeout time.Duration

	OutputMode          OutputMode
	HandoffBackMessages bool
	// DefaultRoute is used when no classifier yields an agent
	// (default: medication_reminder_agent).
	DefaultRoute string

	Metrics *observability.Instruments
	Audit   *observability.AuditLogger
	Logger  *slog.Logger
}

type specialist struct {
	name   string
	prompt string
	tools  []string
}

var specialists = []specialist{
	{MedicationAgent, MedicationPrompt, tools.MedicationTools},
	{EmergencyAgent, EmergencyPrompt, tools.EmergencyTools},
	{CommunicationAgent, CommunicationPrompt, tools.CommunicationTools},
}

// Build constructs the specialists and the supervisor.
func Build(cfg Config) (*Supervisor, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tools are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}
	if cfg.DefaultRoute == "" {
		cfg.DefaultRoute = MedicationAgent
	}

	members := make(map[string]eldercare.Agent, len(specialists))
	for _, s := range specialists {
		agent, err := buildSpecialist(cfg, s)
		if err != nil {
			return nil, err
		}
		members[s.name] = observability.NewTracingAgent(agent)
	}

	classifierModel := middleware.Wrap(
		llm.NewLLMAgent(SupervisorName, cfg.Model, SupervisorPrompt, llm.WithTemperature(0)),
		cfg.Retry, cfg.Timeout, cfg.Metrics,
	)
	routes := make([]patterns.KeywordRoute, 0, len(Names))
	for _, name := range []string{EmergencyAgent, MedicationAgent, CommunicationAgent} {
		routes = append(routes, patterns.KeywordRoute{Name: name, Keywords: Keywords[name]})
	}
	classifier, err := patterns.NewFallbackClassifier(cfg.Logger,
		patterns.NewLLMClassifier(classifierModel, Names, Descriptions),
		patterns.NewKeywordClassifier(routes...),
	)
	if err != nil {
		return nil, err
	}

	router, err := patterns.NewRouterAgent(&patterns.RouterConfig{
		Name:       SupervisorName,
		Classifier: classifier,
		Agents:     members,
		DefaultKey: cfg.DefaultRoute,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return NewSupervisor(router, SupervisorOptions{
		OutputMode:          cfg.OutputMode,
		HandoffBackMessages: cfg.HandoffBackMessages,
		Metrics:             cfg.Metrics,
		Audit:               cfg.Audit,
		Logger:              cfg.Logger,
	})
}

func buildSpecialist(cfg Config, s specialist) (*patterns.ReActAgent, error) {
	toolset, err := cfg.Tools.Subset(s.tools...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}

	model := middleware.Wrap(
		llm.NewLLMAgent(s.name, cfg.Model, s.prompt,
			llm.WithTemperature(cfg.Temperature),
			llm.WithStop("Observation:"),
		),
		cfg.Retry, cfg.Timeout, cfg.Metrics,
	)

	return patterns.NewReActAgent(&patterns.ReActConfig{
		Name:     s.name,
		Agent:    model,
		Tools:    toolset,
		MaxSteps: cfg.MaxSteps,
		Logger:   cfg.Logger,
	})
}
