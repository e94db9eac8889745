package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMetrics installs a global meter provider backed by a Prometheus
// exporter and returns the handler that serves /metrics.
func InitMetrics(ctx context.Context, serviceName string) (*sdkmetric.MeterProvider, http.Handler, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return provider, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Instruments holds the assistant's counters and histograms. A nil
// *Instruments records nothing.
type Instruments struct {
	requests      metric.Int64Counter
	errors        metric.Int64Counter
	latency       metric.Float64Histogram
	routes        metric.Int64Counter
	toolCalls     metric.Int64Counter
	notifications metric.Int64Counter
	escalations   metric.Int64Counter
	followUps     metric.Int64Counter
}

var (
	defaultInstruments     *Instruments
	defaultInstrumentsOnce sync.Once
)

// DefaultInstruments returns instruments created from the global meter. They
// follow the global provider, so InitMetrics may run before or after.
func DefaultInstruments() *Instruments {
	defaultInstrumentsOnce.Do(func() {
		inst, err := NewInstruments(otel.Meter(InstrumentationName))
		if err == nil {
			defaultInstruments = inst
		}
	})
	return defaultInstruments
}

// NewInstruments creates the instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		inst Instruments
		err  error
	)

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&inst.requests, "dailycare.agent.requests", "Agent requests processed"},
		{&inst.errors, "dailycare.agent.errors", "Agent requests that failed"},
		{&inst.routes, "dailycare.supervisor.routes", "Supervisor routing decisions"},
		{&inst.toolCalls, "dailycare.tool.calls", "Tool invocations"},
		{&inst.notifications, "dailycare.notifications", "Notifications delivered to devices"},
		{&inst.escalations, "dailycare.escalations", "Medication escalations raised"},
		{&inst.followUps, "dailycare.followups", "Scheduled follow-up state changes"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}

	inst.latency, err = meter.Float64Histogram(
		"dailycare.agent.latency",
		metric.WithDescription("Agent processing latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}
	return &inst, nil
}

// RecordRequest records one agent request and its latency.
func (i *Instruments) RecordRequest(ctx context.Context, agent string, elapsed time.Duration, err error) {
	if i == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("agent.name", agent),
		attribute.String("status", status),
	)
	i.requests.Add(ctx, 1, attrs)
	if err != nil {
		i.errors.Add(ctx, 1, attrs)
	}
	i.latency.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
}

// RecordRoute records a routing decision and the classifier that made it.
func (i *Instruments) RecordRoute(ctx context.Context, agent, classifier string) {
	if i == nil {
		return
	}
	i.routes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent.name", agent),
		attribute.String("classifier", classifier),
	))
}

// RecordToolCall records a tool invocation.
func (i *Instruments) RecordToolCall(ctx context.Context, agent, tool string, success bool) {
	if i == nil {
		return
	}
	i.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent.name", agent),
		attribute.String("tool.name", tool),
		attribute.Bool("success", success),
	))
}

// RecordNotification records a device delivery attempt.
func (i *Instruments) RecordNotification(ctx context.Context, device, urgency, status string) {
	if i == nil {
		return
	}
	i.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device", device),
		attribute.String("urgency", urgency),
		attribute.String("status", status),
	))
}

// RecordEscalation records a medication escalation.
func (i *Instruments) RecordEscalation(ctx context.Context, medication string) {
	if i == nil {
		return
	}
	i.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("medication", medication)))
}

// RecordFollowUp records a scheduled follow-up reaching status.
func (i *Instruments) RecordFollowUp(ctx context.Context, status string) {
	if i == nil {
		return
	}
	i.followUps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
