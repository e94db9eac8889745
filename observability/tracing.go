package observability

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/dailyux/eldercare-go/eldercare"
)

// InstrumentationName identifies spans and instruments created by this module.
const InstrumentationName = "github.com/dailyux/eldercare-go"

const traceContextKey = "trace_context"

// InitTracing installs a global tracer provider. Spans go to the OTLP gRPC
// endpoint when one is given and to stderr when consoleExport is set. With
// neither, spans are sampled but dropped. Callers shut the provider down on
// exit.
func InitTracing(ctx context.Context, serviceName, otlpEndpoint string, consoleExport bool) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if otlpEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	if consoleExport {
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

// Tracer returns the module tracer from the global provider, so tests can
// swap the provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// ExtractTraceContext reads a W3C trace context carried in message metadata.
func ExtractTraceContext(ctx context.Context, metadata map[string]interface{}) context.Context {
	raw, ok := metadata[traceContextKey]
	if !ok {
		return ctx
	}

	carrier := make(propagation.MapCarrier)
	switch m := raw.(type) {
	case map[string]interface{}:
		for k, v := range m {
			if s, ok := v.(string); ok {
				carrier[k] = s
			}
		}
	case map[string]string:
		for k, v := range m {
			carrier[k] = v
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// InjectTraceContext writes the current trace context into metadata.
func InjectTraceContext(ctx context.Context, metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	carrier := make(propagation.MapCarrier)
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		tc := make(map[string]interface{}, len(carrier))
		for k, v := range carrier {
			tc[k] = v
		}
		metadata[traceContextKey] = tc
	}
	return metadata
}

// TracingAgent records a span around every Process call of the wrapped agent.
type TracingAgent struct {
	agent    eldercare.Agent
	spanName string
}

var _ eldercare.Agent = (*TracingAgent)(nil)

// NewTracingAgent wraps agent. The span is named agent.<name>.process.
func NewTracingAgent(agent eldercare.Agent) *TracingAgent {
	return &TracingAgent{
		agent:    agent,
		spanName: "agent." + agent.Name() + ".process",
	}
}

// Name returns the wrapped agent's name.
func (t *TracingAgent) Name() string { return t.agent.Name() }

// Capabilities returns the wrapped agent's capabilities.
func (t *TracingAgent) Capabilities() []string { return t.agent.Capabilities() }

// Introspect returns the wrapped agent's introspection.
func (t *TracingAgent) Introspect() *eldercare.IntrospectionResult { return t.agent.Introspect() }

// Process runs the wrapped agent inside a span.
func (t *TracingAgent) Process(ctx context.Context, message *eldercare.Message) (*eldercare.Message, error) {
	ctx = ExtractTraceContext(ctx, message.Metadata)
	ctx, span := Tracer().Start(ctx, t.spanName, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	span.SetAttributes(
		attribute.String("agent.name", t.agent.Name()),
		attribute.String("message.role", message.Role),
		attribute.Int("message.content_length", len(message.Content)),
	)
	if session := message.MetadataString("session_id"); session != "" {
		span.SetAttributes(attribute.String("session.id", session))
	}

	response, err := t.agent.Process(ctx, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")

	response.Metadata = InjectTraceContext(ctx, response.Metadata)
	if routed := response.MetadataString("routed_to"); routed != "" {
		span.SetAttributes(attribute.String("agent.routed_to", routed))
	}
	return response, nil
}

// StartToolSpan starts a span for a tool invocation. The caller ends it.
func StartToolSpan(ctx context.Context, agentName, toolName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool."+toolName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("agent.name", agentName),
			attribute.String("tool.name", toolName),
		),
	)
}
