package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums the samples of the family named with the given prefix
// whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, prefix string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), prefix) {
			continue
		}
		for _, m := range family.GetMetric() {
			if !hasLabels(m, want) || m.GetCounter() == nil {
				continue
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	labels := make(map[string]string, len(m.GetLabel()))
	for _, pair := range m.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	for k, v := range want {
		if labels[k] != v {
			return false
		}
	}
	return true
}

func TestMetricsRecordsPipelineOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetricsWithRegistry(reg)
	require.NoError(t, err)

	m.RecordInvocation("group", "success", 3*time.Second, 120, 40)
	m.RecordInvocation("group", "invocation_timeout", time.Minute, 0, 0)
	m.RecordToolCall("text_to_image", true)
	m.RecordImageFallback("seedream", false)
	m.RecordImageFallback("", false)
	m.RecordDelivery("lark", true)
	m.RecordAuditFailure()
	m.RecordTurn("lark", "replied")

	assert.Equal(t, 1.0, counterValue(t, reg, "opsbot_reasoning_invocations", map[string]string{"context": "group", "outcome": "success"}))
	assert.Equal(t, 120.0, counterValue(t, reg, "opsbot_reasoning_tokens_input", nil))
	assert.Equal(t, 40.0, counterValue(t, reg, "opsbot_reasoning_tokens_output", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "opsbot_reasoning_tool_calls", map[string]string{"tool": "text_to_image", "status": "error"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "opsbot_imagegen_fallbacks", map[string]string{"backend": "none", "outcome": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "opsbot_audit_write_failures", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "opsbot_pipeline_turns", map[string]string{"platform": "lark", "result": "replied"}))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestMetricsHandlerExposesInstruments(t *testing.T) {
	m, err := NewMetricsWithRegistry(prometheus.NewRegistry())
	require.NoError(t, err)
	m.RecordDelivery("wechat", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "opsbot_dispatch_deliveries")
	assert.Contains(t, string(body), `platform="wechat"`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordInvocation("personal", "success", time.Second, 1, 1)
	m.RecordAuditFailure()
	assert.NotNil(t, m.Handler())
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), TracingConfig{})
	require.NoError(t, err)
	_, span := tp.Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))

	_, err = NewTracerProvider(context.Background(), TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	assert.Error(t, err)
}
