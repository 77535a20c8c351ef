package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/flowforge/workflow"

// MetricsRecorder receives run and step outcomes. internal/metrics.Collector
// implements it for Prometheus.
type MetricsRecorder interface {
	RecordRunStarted(workflowID string)
	RecordRunFinished(workflowID, status string, duration time.Duration, levels int)
	RecordStep(stepType, status string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordRunStarted(string)                              {}
func (noopRecorder) RecordRunFinished(string, string, time.Duration, int) {}
func (noopRecorder) RecordStep(string, string, time.Duration)             {}

// instruments wraps the OpenTelemetry tracer and meter used by the engine.
// Both are noop until a global provider is installed.
type instruments struct {
	tracer       trace.Tracer
	runTotal     metric.Int64Counter
	stepTotal    metric.Int64Counter
	stepDuration metric.Float64Histogram
	activeRuns   metric.Int64UpDownCounter
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	ins := &instruments{tracer: otel.Tracer(instrumentationName)}

	// Instrument creation only fails on invalid names; nil instruments are skipped.
	var err error
	if ins.runTotal, err = meter.Int64Counter("workflow.run.total",
		metric.WithDescription("Total number of workflow runs"),
		metric.WithUnit("{run}")); err != nil {
		ins.runTotal = nil
	}
	if ins.stepTotal, err = meter.Int64Counter("workflow.step.total",
		metric.WithDescription("Total number of step executions"),
		metric.WithUnit("{step}")); err != nil {
		ins.stepTotal = nil
	}
	if ins.stepDuration, err = meter.Float64Histogram("workflow.step.duration",
		metric.WithDescription("Step execution duration"),
		metric.WithUnit("s")); err != nil {
		ins.stepDuration = nil
	}
	if ins.activeRuns, err = meter.Int64UpDownCounter("workflow.run.active",
		metric.WithDescription("Runs currently executing"),
		metric.WithUnit("{run}")); err != nil {
		ins.activeRuns = nil
	}
	return ins
}

func (ins *instruments) startRun(ctx context.Context, def *WorkflowDefinition, executionID string) (context.Context, trace.Span) {
	ctx, span := ins.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", def.ID),
			attribute.String("workflow.name", def.Name),
			attribute.String("workflow.execution_id", executionID),
			attribute.Int("workflow.step_count", len(def.Steps)),
		))
	if ins.activeRuns != nil {
		ins.activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_id", def.ID)))
	}
	return ctx, span
}

func (ins *instruments) endRun(ctx context.Context, span trace.Span, rec *ExecutionRecord) {
	defer span.End()
	attrs := metric.WithAttributes(
		attribute.String("workflow_id", rec.WorkflowID),
		attribute.String("status", string(rec.Status)),
	)
	if ins.activeRuns != nil {
		ins.activeRuns.Add(ctx, -1, metric.WithAttributes(attribute.String("workflow_id", rec.WorkflowID)))
	}
	if ins.runTotal != nil {
		ins.runTotal.Add(ctx, 1, attrs)
	}
	span.SetAttributes(
		attribute.String("workflow.status", string(rec.Status)),
		attribute.Int("workflow.levels_completed", rec.LevelsCompleted),
		attribute.Int("workflow.total_levels", rec.TotalLevels),
	)
	if rec.Status == ExecutionStatusFailed {
		span.SetStatus(codes.Error, rec.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

func (ins *instruments) startStep(ctx context.Context, step *WorkflowStep, level int) (context.Context, trace.Span) {
	return ins.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.type", string(step.Type)),
			attribute.String("step.agent_id", step.AgentID),
			attribute.Int("step.level", level),
		))
}

func (ins *instruments) endStep(ctx context.Context, span trace.Span, step *WorkflowStep, se *StepExecution) {
	defer span.End()
	attrs := metric.WithAttributes(
		attribute.String("step_type", string(step.Type)),
		attribute.String("status", string(se.Status)),
	)
	if ins.stepTotal != nil {
		ins.stepTotal.Add(ctx, 1, attrs)
	}
	if d, ok := se.Duration(); ok && ins.stepDuration != nil {
		ins.stepDuration.Record(ctx, d.Seconds(), attrs)
	}
	span.SetAttributes(attribute.Int("step.attempts", se.Attempts))
	if se.Status == StepFailed {
		span.SetStatus(codes.Error, se.Error)
	}
}
