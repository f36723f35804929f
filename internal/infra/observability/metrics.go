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
)

const meterName = "opsbot"

var invocationBuckets = []float64{1, 2.5, 5, 10, 20, 40, 60, 90, 120, 180, 300}

// Metrics holds the bot pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	gatherer promclient.Gatherer

	invocations       metric.Int64Counter
	invocationLatency metric.Float64Histogram
	tokensInput       metric.Int64Counter
	tokensOutput      metric.Int64Counter
	toolCalls         metric.Int64Counter
	imageFallbacks    metric.Int64Counter
	deliveries        metric.Int64Counter
	auditFailures     metric.Int64Counter
	turns             metric.Int64Counter
}

var (
	defaultMetrics     *Metrics
	defaultMetricsErr  error
	defaultMetricsOnce sync.Once
)

// DefaultMetrics exports to the default Prometheus registry and installs the
// meter provider globally.
func DefaultMetrics() (*Metrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newMetrics(promclient.DefaultRegisterer, promclient.DefaultGatherer)
		if defaultMetricsErr == nil {
			otel.SetMeterProvider(defaultMetrics.provider)
		}
	})
	return defaultMetrics, defaultMetricsErr
}

// NewMetricsWithRegistry allows tests to provide a dedicated registry.
func NewMetricsWithRegistry(reg *promclient.Registry) (*Metrics, error) {
	return newMetrics(reg, reg)
}

func newMetrics(reg promclient.Registerer, gatherer promclient.Gatherer) (*Metrics, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	m := &Metrics{provider: provider, gatherer: gatherer}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.invocations, "opsbot_reasoning_invocations", "Reasoning invocations by context and outcome"},
		{&m.tokensInput, "opsbot_reasoning_tokens_input", "Input tokens reported by the reasoning engine"},
		{&m.tokensOutput, "opsbot_reasoning_tokens_output", "Output tokens reported by the reasoning engine"},
		{&m.toolCalls, "opsbot_reasoning_tool_calls", "Tool calls made inside reasoning invocations"},
		{&m.imageFallbacks, "opsbot_imagegen_fallbacks", "Secondary image generation attempts by backend and outcome"},
		{&m.deliveries, "opsbot_dispatch_deliveries", "Response deliveries by platform and outcome"},
		{&m.auditFailures, "opsbot_audit_write_failures", "Invocation records that could not be persisted"},
		{&m.turns, "opsbot_pipeline_turns", "Inbound messages by platform and result"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	m.invocationLatency, err = meter.Float64Histogram(
		"opsbot_reasoning_invocation_duration",
		metric.WithDescription("Wall time of reasoning invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(invocationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invocation duration histogram: %w", err)
	}
	return m, nil
}

// RecordInvocation records one finished reasoning invocation.
func (m *Metrics) RecordInvocation(contextKind, outcome string, duration time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("context", contextKind),
		attribute.String("outcome", outcome),
	))
	m.invocationLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	if inputTokens > 0 {
		m.tokensInput.Add(ctx, int64(inputTokens))
	}
	if outputTokens > 0 {
		m.tokensOutput.Add(ctx, int64(outputTokens))
	}
}

func (m *Metrics) RecordToolCall(tool string, failed bool) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	m.toolCalls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordImageFallback(backend string, success bool) {
	if m == nil {
		return
	}
	if backend == "" {
		backend = "none"
	}
	m.imageFallbacks.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcomeLabel(success)),
	))
}

func (m *Metrics) RecordDelivery(platform string, success bool) {
	if m == nil {
		return
	}
	m.deliveries.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("outcome", outcomeLabel(success)),
	))
}

func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Add(context.Background(), 1)
}

// RecordTurn counts one inbound message by how the pipeline finished it.
func (m *Metrics) RecordTurn(platform, result string) {
	if m == nil {
		return
	}
	m.turns.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("result", result),
	))
}

// Handler serves the instruments in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
