package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/observability"
)

// Metrics holds per-agent request counters kept in process for introspection.
// The same requests are also exported through OpenTelemetry.
type Metrics struct {
	mu sync.RWMutex

	TotalRequests   int64
	SuccessRequests int64
	ErrorRequests   int64

	TotalLatency time.Duration
	MinLatency   time.Duration
	MaxLatency   time.Duration

	InFlightRequests int64
}

// AverageLatency returns the average request latency.
func (m *Metrics) AverageLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.TotalRequests == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.TotalRequests)
}

// ErrorRate returns the error rate as a fraction (0.0 to 1.0).
func (m *Metrics) ErrorRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.TotalRequests == 0 {
		return 0.0
	}
	return float64(m.ErrorRequests) / float64(m.TotalRequests)
}

// Snapshot returns the counters as a map suitable for JSON.
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := map[string]interface{}{
		"total_requests":   m.TotalRequests,
		"success_requests": m.SuccessRequests,
		"error_requests":   m.ErrorRequests,
		"in_flight":        m.InFlightRequests,
		"min_latency_ms":   m.MinLatency.Milliseconds(),
		"max_latency_ms":   m.MaxLatency.Milliseconds(),
	}
	if m.TotalRequests > 0 {
		snapshot["avg_latency_ms"] = (m.TotalLatency / time.Duration(m.TotalRequests)).Milliseconds()
	}
	return snapshot
}

func (m *Metrics) record(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	m.TotalLatency += latency
	if m.MinLatency == 0 || latency < m.MinLatency {
		m.MinLatency = latency
	}
	if latency > m.MaxLatency {
		m.MaxLatency = latency
	}
	if err != nil {
		m.ErrorRequests++
	} else {
		m.SuccessRequests++
	}
}

// MetricsDecorator wraps an agent with metrics collection.
type MetricsDecorator struct {
	agent       eldercare.Agent
	metrics     *Metrics
	instruments *observability.Instruments
}

// Verify that MetricsDecorator implements Agent interface.
var _ eldercare.Agent = (*MetricsDecorator)(nil)

// NewMetricsDecorator creates a new metrics decorator. instruments may be
// nil, in which case only the in-process counters are kept.
func NewMetricsDecorator(agent eldercare.Agent, instruments *observability.Instruments) *MetricsDecorator {
	return &MetricsDecorator{
		agent:       agent,
		metrics:     &Metrics{},
		instruments: instruments,
	}
}

// Name returns the name of the underlying agent.
func (m *MetricsDecorator) Name() string {
	return m.agent.Name()
}

// Capabilities returns the capabilities of the underlying agent.
func (m *MetricsDecorator) Capabilities() []string {
	return m.agent.Capabilities()
}

// Introspect adds the request counters to the underlying agent's
// introspection.
func (m *MetricsDecorator) Introspect() *eldercare.IntrospectionResult {
	result := m.agent.Introspect()
	result.InternalState["metrics"] = m.metrics.Snapshot()
	return result
}

// GetMetrics returns the current metrics.
func (m *MetricsDecorator) GetMetrics() *Metrics {
	return m.metrics
}

// Process implements the Agent interface with metrics collection.
func (m *MetricsDecorator) Process(ctx context.Context, message *eldercare.Message) (*eldercare.Message, error) {
	m.metrics.mu.Lock()
	m.metrics.InFlightRequests++
	m.metrics.mu.Unlock()

	defer func() {
		m.metrics.mu.Lock()
		m.metrics.InFlightRequests--
		m.metrics.mu.Unlock()
	}()

	start := time.Now()
	response, err := m.agent.Process(ctx, message)
	latency := time.Since(start)

	m.metrics.record(latency, err)
	m.instruments.RecordRequest(ctx, m.agent.Name(), latency, err)
	return response, err
}

// Wrap applies the model-call stack used by the specialists: metrics on the
// outside, then retry, then a timeout per attempt.
func Wrap(agent eldercare.Agent, retry RetryConfig, timeout time.Duration, instruments *observability.Instruments) *MetricsDecorator {
	return NewMetricsDecorator(
		NewRetryDecorator(NewTimeoutDecorator(agent, timeout), retry),
		instruments,
	)
}
