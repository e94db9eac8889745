package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dailyux/eldercare-go/adapter/llm"
	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/observability"
)

// flakyAgent fails a set number of times before succeeding, optionally
// sleeping on each call.
type flakyAgent struct {
	mu        sync.Mutex
	failCount int
	attempts  int
	delay     time.Duration
	err       error
}

func (f *flakyAgent) Name() string           { return "flaky-agent" }
func (f *flakyAgent) Capabilities() []string { return []string{"test"} }

func (f *flakyAgent) Introspect() *eldercare.IntrospectionResult {
	return eldercare.DefaultIntrospectionResult(f)
}

func (f *flakyAgent) Process(ctx context.Context, message *eldercare.Message) (*eldercare.Message, error) {
	f.mu.Lock()
	f.attempts++
	attempt := f.attempts
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if attempt <= f.failCount {
		if f.err != nil {
			return nil, f.err
		}
		return nil, fmt.Errorf("temporary failure %d", attempt)
	}
	return eldercare.NewMessage(eldercare.RoleAssistant, "ok: "+message.Content), nil
}

func (f *flakyAgent) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRetryDecorator(t *testing.T) {
	tests := []struct {
		name      string
		agent     *flakyAgent
		wantErr   string
		wantCalls int
	}{
		{"succeeds after failures", &flakyAgent{failCount: 2}, "", 3},
		{"exhausts attempts", &flakyAgent{failCount: 5}, "max retry attempts (3) exceeded", 3},
		{"not configured is final", &flakyAgent{failCount: 5, err: fmt.Errorf("groq: %w", llm.ErrNotConfigured)}, "non-retryable", 1},
		{"timeout is final", &flakyAgent{failCount: 5, err: &TimeoutError{AgentName: "x", Timeout: time.Second}}, "non-retryable", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry := NewRetryDecorator(tt.agent, fastRetry())
			reply, err := retry.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "hi"))
			if tt.wantErr == "" {
				if err != nil || reply.Content != "ok: hi" {
					t.Fatalf("got %v, %v", reply, err)
				}
			} else if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if tt.agent.calls() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", tt.agent.calls(), tt.wantCalls)
			}
		})
	}
}

func TestRetryDecoratorPreservesErrorChain(t *testing.T) {
	retry := NewRetryDecorator(&flakyAgent{failCount: 5, err: llm.ErrNotConfigured}, fastRetry())
	_, err := retry.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "hi"))
	if !errors.Is(err, llm.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured in chain, got %v", err)
	}
}

func TestRetryDecoratorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	agent := &flakyAgent{failCount: 5}
	retry := NewRetryDecorator(agent, RetryConfig{MaxAttempts: 3, InitialBackoff: time.Hour})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := retry.Process(ctx, eldercare.NewMessage(eldercare.RoleUser, "hi"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestTimeoutDecorator(t *testing.T) {
	slow := NewTimeoutDecorator(&flakyAgent{delay: time.Second}, 20*time.Millisecond)
	_, err := slow.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "hi"))
	var te *TimeoutError
	if !errors.As(err, &te) || te.AgentName != "flaky-agent" {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if Retryable(err) {
		t.Error("timeouts should not be retried")
	}

	fast := NewTimeoutDecorator(&flakyAgent{}, time.Second)
	reply, err := fast.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "hi"))
	if err != nil || reply.Content != "ok: hi" {
		t.Errorf("got %v, %v", reply, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewTimeoutDecorator(&flakyAgent{delay: time.Second}, time.Second).Process(ctx, eldercare.NewMessage(eldercare.RoleUser, "hi"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("parent cancellation should pass through, got %v", err)
	}

	if NewTimeoutDecorator(&flakyAgent{}, 0).timeout != DefaultTimeout {
		t.Error("zero timeout should use the default")
	}
}

func TestMetricsDecorator(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	instruments, err := observability.NewInstruments(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}

	agent := &flakyAgent{failCount: 1}
	decorated := NewMetricsDecorator(agent, instruments)
	for i := 0; i < 3; i++ {
		_, _ = decorated.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "hi"))
	}

	m := decorated.GetMetrics()
	if m.TotalRequests != 3 || m.ErrorRequests != 1 || m.SuccessRequests != 2 {
		t.Errorf("unexpected counters %+v", m.Snapshot())
	}
	if rate := m.ErrorRate(); rate < 0.33 || rate > 0.34 {
		t.Errorf("error rate = %f", rate)
	}
	if decorated.Introspect().InternalState["metrics"] == nil {
		t.Error("introspection should include metrics")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name == "dailycare.agent.requests" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected dailycare.agent.requests to be exported")
	}
}

func TestWrap(t *testing.T) {
	agent := &flakyAgent{failCount: 1}
	wrapped := Wrap(agent, fastRetry(), time.Second, nil)
	reply, err := wrapped.Process(context.Background(), eldercare.NewMessage(eldercare.RoleUser, "hi"))
	if err != nil || reply.Content != "ok: hi" {
		t.Fatalf("got %v, %v", reply, err)
	}
	if wrapped.Name() != "flaky-agent" || agent.calls() != 2 {
		t.Errorf("name %s, calls %d", wrapped.Name(), agent.calls())
	}
	if wrapped.GetMetrics().TotalRequests != 1 {
		t.Errorf("metrics should count one logical request")
	}
}
