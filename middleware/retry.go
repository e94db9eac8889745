// Package middleware provides decorators that wrap an eldercare.Agent with
// retry, timeout and metrics behavior. The specialists' model calls are
// wrapped in all three.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailyux/eldercare-go/adapter/llm"
	"github.com/dailyux/eldercare-go/eldercare"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	// Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 10s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0
	BackoffMultiplier float64

	// ShouldRetry determines if an error should trigger a retry.
	// If nil, Retryable is used.
	ShouldRetry func(error) bool

	// Logger receives one warning per failed attempt (default: slog.Default())
	Logger *slog.Logger
}

// DefaultRetryConfig returns the retry policy used for model calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Retryable reports whether err may succeed on a later attempt. Missing
// configuration, cancellation and timeouts are final.
func Retryable(err error) bool {
	var timeout *TimeoutError
	switch {
	case errors.Is(err, llm.ErrNotConfigured),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &timeout):
		return false
	}
	return true
}

// RetryDecorator wraps an agent with retry logic.
type RetryDecorator struct {
	agent  eldercare.Agent
	config RetryConfig
}

// Verify that RetryDecorator implements Agent interface.
var _ eldercare.Agent = (*RetryDecorator)(nil)

// NewRetryDecorator creates a new retry decorator.
func NewRetryDecorator(agent eldercare.Agent, config RetryConfig) *RetryDecorator {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.ShouldRetry == nil {
		config.ShouldRetry = Retryable
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &RetryDecorator{
		agent:  agent,
		config: config,
	}
}

// Name returns the name of the underlying agent.
func (r *RetryDecorator) Name() string {
	return r.agent.Name()
}

// Capabilities returns the capabilities of the underlying agent.
func (r *RetryDecorator) Capabilities() []string {
	return r.agent.Capabilities()
}

// Introspect returns the underlying agent's introspection.
func (r *RetryDecorator) Introspect() *eldercare.IntrospectionResult {
	return r.agent.Introspect()
}

// Process implements the Agent interface with retry logic.
func (r *RetryDecorator) Process(ctx context.Context, message *eldercare.Message) (*eldercare.Message, error) {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		response, err := r.agent.Process(ctx, message)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !r.config.ShouldRetry(err) {
			return nil, fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, r.config.MaxAttempts, err)
		}

		// Don't sleep after the last attempt
		if attempt == r.config.MaxAttempts {
			break
		}

		r.config.Logger.WarnContext(ctx, "agent call failed, retrying",
			"agent", r.agent.Name(),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
			if backoff > r.config.MaxBackoff {
				backoff = r.config.MaxBackoff
			}
		}
	}

	return nil, fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}
