package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/dailyux/eldercare-go/eldercare"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 60 * time.Second

// TimeoutError is returned when a request exceeds the configured timeout.
type TimeoutError struct {
	AgentName string
	Timeout   time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to agent '%s' timed out after %v", e.AgentName, e.Timeout)
}

// TimeoutDecorator wraps an agent with timeout protection.
//
// Example:
//
//	guarded := middleware.NewTimeoutDecorator(agent, 20*time.Second)
//	reply, err := guarded.Process(ctx, message)
//	var te *middleware.TimeoutError
//	if errors.As(err, &te) {
//		// the model did not answer in time
//	}
type TimeoutDecorator struct {
	agent   eldercare.Agent
	timeout time.Duration
}

// Verify that TimeoutDecorator implements Agent interface.
var _ eldercare.Agent = (*TimeoutDecorator)(nil)

// NewTimeoutDecorator creates a new timeout decorator. A non-positive
// timeout uses DefaultTimeout.
func NewTimeoutDecorator(agent eldercare.Agent, timeout time.Duration) *TimeoutDecorator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TimeoutDecorator{agent: agent, timeout: timeout}
}

// Name returns the name of the underlying agent.
func (t *TimeoutDecorator) Name() string {
	return t.agent.Name()
}

// Capabilities returns the capabilities of the underlying agent.
func (t *TimeoutDecorator) Capabilities() []string {
	return t.agent.Capabilities()
}

// Introspect returns the underlying agent's introspection.
func (t *TimeoutDecorator) Introspect() *eldercare.IntrospectionResult {
	return t.agent.Introspect()
}

// Process runs the agent with a deadline. The call runs in its own goroutine
// so agents that ignore ctx are still abandoned on time; the result channel
// is buffered so that goroutine can always finish.
func (t *TimeoutDecorator) Process(ctx context.Context, message *eldercare.Message) (*eldercare.Message, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		msg *eldercare.Message
		err error
	}
	done := make(chan result, 1)

	go func() {
		msg, err := t.agent.Process(timeoutCtx, message)
		done <- result{msg, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &TimeoutError{AgentName: t.Name(), Timeout: t.timeout}
		}
		return res.msg, res.err
	case <-timeoutCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &TimeoutError{AgentName: t.Name(), Timeout: t.timeout}
	}
}
