// Package config loads DailyCare settings from defaults, an optional YAML
// file, a .env file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dailyux/eldercare-go/adapter/llm"
)

// Config holds all DailyCare configuration.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Server        ServerConfig        `yaml:"server"`
	Memory        MemoryConfig        `yaml:"memory"`
	Records       RecordsConfig       `yaml:"records"`
	Notify        NotifyConfig        `yaml:"notify"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
	Safety        SafetyConfig        `yaml:"safety"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // groq (default), openai, ollama, gemini, bedrock
	Model       string  `yaml:"model"`    // empty selects the provider default
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
	Timeout     string  `yaml:"timeout"`
	// Bedrock only.
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// ServerConfig configures the HTTP and gRPC listeners.
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr"`
	GRPCAddr    string   `yaml:"grpc_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	// RateLimit is the per-client request budget per second; 0 disables it.
	RateLimit int `yaml:"rate_limit"`
}

// MemoryConfig configures conversation history storage.
type MemoryConfig struct {
	Backend     string `yaml:"backend"` // memory, redis
	RedisURL    string `yaml:"redis_url"`
	TTL         string `yaml:"ttl"`
	MaxSessions int    `yaml:"max_sessions"`
	MaxMessages int    `yaml:"max_messages"`
}

// RecordsConfig configures where profile, schedule and contacts come from.
type RecordsConfig struct {
	Backend     string `yaml:"backend"` // mock, redis
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
	Seed        bool   `yaml:"seed"`
	// DemoTime pins the household clock, e.g. "19:30". Empty uses the
	// system clock.
	DemoTime string `yaml:"demo_time"`
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	Console  bool   `yaml:"console"`
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// ArchiveConfig configures transcript export.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// SchedulerConfig configures follow-ups.
type SchedulerConfig struct {
	FollowUpDelay string `yaml:"follow_up_delay"`
}

// ObservabilityConfig configures logging, tracing and metrics.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogJSON       bool   `yaml:"log_json"`
	AuditFile     string `yaml:"audit_file"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	ConsoleTraces bool   `yaml:"console_traces"`
	Metrics       bool   `yaml:"metrics"`
}

// SupervisorConfig configures routing and the specialists.
type SupervisorConfig struct {
	OutputMode          string `yaml:"output_mode"` // last_message, full_history
	HandoffBackMessages bool   `yaml:"handoff_back_messages"`
	MaxSteps            int    `yaml:"max_steps"`
	DefaultRoute        string `yaml:"default_route"`
}

// SafetyConfig configures screening of user messages.
type SafetyConfig struct {
	// Strict rejects suspected prompt injections instead of logging them.
	Strict             bool     `yaml:"strict"`
	InjectionThreshold int      `yaml:"injection_threshold"`
	MaxInputChars      int      `yaml:"max_input_chars"`
	BlockedPhrases     []string `yaml:"blocked_phrases"`
	RedactPII          bool     `yaml:"redact_pii"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Temperature: 0.2,
			MaxRetries:  3,
			Timeout:     "60s",
		},
		Server: ServerConfig{
			HTTPAddr:    ":8501",
			GRPCAddr:    ":9501",
			CORSOrigins: []string{"*"},
		},
		Memory: MemoryConfig{
			Backend:     "memory",
			RedisURL:    "redis://localhost:6379/0",
			TTL:         "24h",
			MaxSessions: 1000,
			MaxMessages: 200,
		},
		Records: RecordsConfig{
			Backend:     "mock",
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "dailycare:records",
			DemoTime:    "19:30",
		},
		Notify: NotifyConfig{
			Console:  true,
			Exchange: "dailycare.notifications",
		},
		Archive: ArchiveConfig{
			Bucket: "dailycare-transcripts",
		},
		Scheduler: SchedulerConfig{
			FollowUpDelay: "3m",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Metrics:  true,
		},
		Supervisor: SupervisorConfig{
			OutputMode:          "full_history",
			HandoffBackMessages: true,
			MaxSteps:            8,
		},
		Safety: SafetyConfig{
			Strict:             true,
			InjectionThreshold: 10,
			MaxInputChars:      4000,
			RedactPII:          true,
		},
	}
}

// Load builds the configuration. path names an optional YAML file; a
// missing file is ignored. envFiles are loaded with godotenv (default
// ".env"); variables already set in the environment win.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// WithoutSecrets returns a copy with API keys and storage credentials
// cleared, for writing to disk.
func (c *Config) WithoutSecrets() *Config {
	out := *c
	out.LLM.APIKey = ""
	out.Archive.AccessKey = ""
	out.Archive.SecretKey = ""
	return &out
}

// providerKeys lists the API key variables per provider, in lookup order
// for when no provider is configured.
var providerKeys = []struct {
	provider string
	vars     []string
}{
	{llm.ProviderGroq, []string{"GROQ_API_KEY"}},
	{llm.ProviderOpenAI, []string{"OPENAI_API_KEY"}},
	{llm.ProviderGemini, []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}},
}

func (c *Config) applyEnvOverrides() {
	setString(&c.LLM.Provider, "DAILYCARE_LLM_PROVIDER")
	setString(&c.LLM.Model, "DAILYCARE_LLM_MODEL")
	setString(&c.LLM.BaseURL, "DAILYCARE_LLM_BASE_URL")
	setString(&c.LLM.Timeout, "DAILYCARE_LLM_TIMEOUT")
	setFloat(&c.LLM.Temperature, "DAILYCARE_LLM_TEMPERATURE")
	setInt(&c.LLM.MaxRetries, "DAILYCARE_LLM_MAX_RETRIES")
	setString(&c.LLM.Region, "AWS_REGION")
	setString(&c.LLM.Profile, "AWS_PROFILE")

	if c.LLM.APIKey == "" {
		c.LLM.APIKey = c.providerKey()
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = llm.ProviderGroq
	}
	setString(&c.LLM.APIKey, "DAILYCARE_LLM_API_KEY")

	setString(&c.Server.HTTPAddr, "DAILYCARE_HTTP_ADDR")
	setString(&c.Server.GRPCAddr, "DAILYCARE_GRPC_ADDR")
	if origins := os.Getenv("DAILYCARE_CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}
	setInt(&c.Server.RateLimit, "DAILYCARE_RATE_LIMIT")

	setString(&c.Memory.Backend, "DAILYCARE_MEMORY_BACKEND")
	setString(&c.Memory.RedisURL, "DAILYCARE_REDIS_URL")
	setString(&c.Memory.TTL, "DAILYCARE_MEMORY_TTL")
	setString(&c.Records.Backend, "DAILYCARE_RECORDS_BACKEND")
	setString(&c.Records.RedisURL, "DAILYCARE_REDIS_URL")
	setString(&c.Records.DemoTime, "DAILYCARE_DEMO_TIME")

	setString(&c.Notify.AMQPURL, "DAILYCARE_AMQP_URL")
	setString(&c.Notify.Exchange, "DAILYCARE_AMQP_EXCHANGE")

	setString(&c.Archive.Endpoint, "DAILYCARE_MINIO_ENDPOINT")
	setString(&c.Archive.AccessKey, "DAILYCARE_MINIO_ACCESS_KEY")
	setString(&c.Archive.SecretKey, "DAILYCARE_MINIO_SECRET_KEY")
	setString(&c.Archive.Bucket, "DAILYCARE_MINIO_BUCKET")
	if c.Archive.Endpoint != "" && os.Getenv("DAILYCARE_MINIO_ENDPOINT") != "" {
		c.Archive.Enabled = true
	}

	setString(&c.Scheduler.FollowUpDelay, "DAILYCARE_FOLLOW_UP_DELAY")

	setString(&c.Observability.LogLevel, "DAILYCARE_LOG_LEVEL")
	setBool(&c.Observability.LogJSON, "DAILYCARE_LOG_JSON")
	setString(&c.Observability.AuditFile, "DAILYCARE_AUDIT_FILE")
	setString(&c.Observability.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setString(&c.Supervisor.OutputMode, "DAILYCARE_OUTPUT_MODE")
	setBool(&c.Supervisor.HandoffBackMessages, "DAILYCARE_HANDOFF_BACK_MESSAGES")

	setBool(&c.Safety.Strict, "DAILYCARE_SAFETY_STRICT")
	setInt(&c.Safety.MaxInputChars, "DAILYCARE_MAX_INPUT_CHARS")
}

// providerKey returns the API key for the configured provider. With no
// provider set, the first key found also selects the provider.
func (c *Config) providerKey() string {
	provider := strings.ToLower(c.LLM.Provider)
	for _, pk := range providerKeys {
		if provider != "" && provider != pk.provider {
			continue
		}
		for _, v := range pk.vars {
			if key := os.Getenv(v); key != "" {
				if provider == "" {
					c.LLM.Provider = pk.provider
				}
				return key
			}
		}
	}
	return ""
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, name string) {
	if v, err := strconv.ParseBool(os.Getenv(name)); err == nil {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v, err := strconv.Atoi(os.Getenv(name)); err == nil {
		*dst = v
	}
}

func setFloat(dst *float64, name string) {
	if v, err := strconv.ParseFloat(os.Getenv(name), 64); err == nil {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects unknown providers and backends, bad output modes and
// non-positive durations.
func (c *Config) Validate() error {
	var errs []error

	provider := strings.ToLower(c.LLM.Provider)
	valid := false
	for _, p := range llm.Providers {
		if provider == p {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, fmt.Errorf("invalid llm provider %q (valid: %s)", c.LLM.Provider, strings.Join(llm.Providers, ", ")))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm temperature %v out of range [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("llm max_retries must be at least 1"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server rate_limit cannot be negative"))
	}

	for name, value := range map[string]string{
		"llm.timeout":               c.LLM.Timeout,
		"memory.ttl":                c.Memory.TTL,
		"scheduler.follow_up_delay": c.Scheduler.FollowUpDelay,
	} {
		if _, err := positiveDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch c.Memory.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("invalid memory backend %q (valid: memory, redis)", c.Memory.Backend))
	}
	switch c.Records.Backend {
	case "mock", "redis":
	default:
		errs = append(errs, fmt.Errorf("invalid records backend %q (valid: mock, redis)", c.Records.Backend))
	}
	switch strings.ToLower(strings.TrimSpace(c.Supervisor.OutputMode)) {
	case "", "last_message", "full_history":
	default:
		errs = append(errs, fmt.Errorf("invalid output mode %q (valid: last_message, full_history)", c.Supervisor.OutputMode))
	}
	if c.Supervisor.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("supervisor max_steps must be at least 1"))
	}
	if c.Safety.InjectionThreshold < 0 || c.Safety.MaxInputChars < 0 {
		errs = append(errs, fmt.Errorf("safety limits cannot be negative"))
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		errs = append(errs, fmt.Errorf("archive requires endpoint and bucket"))
	}

	return errors.Join(errs...)
}

func positiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}

// LLMTimeout returns the per-call model timeout.
func (c *Config) LLMTimeout() time.Duration {
	d, err := positiveDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// MemoryTTL returns how long idle sessions are kept in Redis.
func (c *Config) MemoryTTL() time.Duration {
	d, err := positiveDuration(c.Memory.TTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// FollowUpDelay returns the delay before a quick action's follow-up.
func (c *Config) FollowUpDelay() time.Duration {
	d, err := positiveDuration(c.Scheduler.FollowUpDelay)
	if err != nil {
		return 3 * time.Minute
	}
	return d
}

// LLMConfig converts the settings for llm.New.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		Provider: strings.ToLower(c.LLM.Provider),
		Model:    c.LLM.Model,
		BaseURL:  c.LLM.BaseURL,
		APIKey:   c.LLM.APIKey,
		Region:   c.LLM.Region,
		Profile:  c.LLM.Profile,
	}
}
