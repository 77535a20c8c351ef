package workflow

import (
	"context"
	"time"
)

// =============================================================================
// Run Events
// =============================================================================

// RunEventType defines the type of run event.
type RunEventType string

const (
	// RunEventStarted is emitted once the level plan is known.
	RunEventStarted RunEventType = "run_started"
	// RunEventStepStarted is emitted when a step turns RUNNING.
	RunEventStepStarted RunEventType = "step_started"
	// RunEventStepCompleted is emitted when a step completes.
	RunEventStepCompleted RunEventType = "step_completed"
	// RunEventStepFailed is emitted when a step fails.
	RunEventStepFailed RunEventType = "step_failed"
	// RunEventStepSkipped is emitted when a step is skipped.
	RunEventStepSkipped RunEventType = "step_skipped"
	// RunEventLevelCompleted is emitted after every step of a level is terminal.
	RunEventLevelCompleted RunEventType = "level_completed"
	// RunEventFinished is emitted with the final run status.
	RunEventFinished RunEventType = "run_finished"
)

// RunEvent carries information about a run transition.
type RunEvent struct {
	Type        RunEventType `json:"type"`
	ExecutionID string       `json:"execution_id"`
	WorkflowID  string       `json:"workflow_id"`
	StepID      string       `json:"step_id,omitempty"`
	Level       int          `json:"level"`
	Status      string       `json:"status,omitempty"`
	Error       string       `json:"error,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// RunEventEmitter is a callback that receives run events. It is called from
// step goroutines and must be safe for concurrent use.
type RunEventEmitter func(RunEvent)

type runEventEmitterKey struct{}

// WithRunEventEmitter stores a RunEventEmitter in the context passed to Execute.
func WithRunEventEmitter(ctx context.Context, emitter RunEventEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runEventEmitterKey{}, emitter)
}

func runEventEmitterFromContext(ctx context.Context) (RunEventEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	emit, ok := ctx.Value(runEventEmitterKey{}).(RunEventEmitter)
	return emit, ok && emit != nil
}
