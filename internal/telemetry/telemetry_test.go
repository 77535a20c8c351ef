package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/workflow"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.tp, "TracerProvider should be nil when disabled")
	assert.Nil(t, p.mp, "MeterProvider should be nil when disabled")
	assert.NoError(t, p.ForceFlush(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "flowforge-test",
		SampleRate:   0.5,
	}

	p, err := Init(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.True(t, p.Enabled())
	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK, "global TracerProvider should be *sdktrace.TracerProvider")
	assert.True(t, mpIsSDK, "global MeterProvider should be *sdkmetric.MeterProvider")
}

func TestInit_InvalidSampleRate(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	_, err := Init(context.Background(), config.TelemetryConfig{Enabled: true, SampleRate: 2}, nil)
	assert.Error(t, err)
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NoError(t, p.ForceFlush(context.Background()))
	assert.False(t, p.Enabled())
}

func TestProviders_Shutdown_Real(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.DefaultTelemetryConfig()
	cfg.Enabled = true
	cfg.SampleRate = 1.0

	p, err := Init(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	// 没有 collector 时导出可能报 connection refused，只要求按时返回且不 panic
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() {
		_ = p.Shutdown(ctx)
	})
}

// The engine reports through whatever global tracer provider is installed.
func TestEngineSpans_ReachGlobalProvider(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	registry := workflow.NewExecutorRegistry().SetFallback(&workflow.EchoExecutor{})
	engine := workflow.NewEngine(registry, zap.NewNop())
	def := &workflow.WorkflowDefinition{
		ID:   "traced",
		Name: "Traced",
		Steps: []workflow.WorkflowStep{
			{ID: "a", Name: "a", Type: workflow.StepTypeTool},
			{ID: "b", Name: "b", Type: workflow.StepTypeTool},
		},
		Dependencies: map[string][]string{"b": {"a"}},
	}
	rec := engine.Execute(context.Background(), def, nil)
	require.Equal(t, workflow.ExecutionStatusCompleted, rec.Status)

	counts := map[string]int{}
	for _, s := range recorder.Ended() {
		counts[s.Name()]++
	}
	assert.Equal(t, 1, counts["workflow.execute"])
	assert.Equal(t, 2, counts["workflow.step"])
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制中 debug.ReadBuildInfo 通常返回 "(devel)"
	assert.Equal(t, "dev", BuildVersion())

	Version = "v9.9.9"
	t.Cleanup(func() { Version = "" })
	assert.Equal(t, "v9.9.9", BuildVersion())
}
