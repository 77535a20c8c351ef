package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowforge/types"
)

// FailurePolicy decides what happens to dependents of a step that did not
// complete.
type FailurePolicy string

const (
	// FailurePolicySkipDependents marks such dependents SKIPPED.
	FailurePolicySkipDependents FailurePolicy = "skip_dependents"
	// FailurePolicyContinue runs them anyway with whatever upstream results exist.
	FailurePolicyContinue FailurePolicy = "continue"
)

// RunArchive persists finished run records outside the process.
type RunArchive interface {
	Archive(ctx context.Context, record *ExecutionRecord) error
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFailurePolicy sets the dependent-of-failure policy.
func WithFailurePolicy(p FailurePolicy) EngineOption {
	return func(e *Engine) { e.failurePolicy = p }
}

// WithLevelConcurrency caps the number of steps running at once inside a
// level. Zero or negative means unlimited.
func WithLevelConcurrency(n int) EngineOption {
	return func(e *Engine) { e.levelConcurrency = n }
}

// WithExecutionStore replaces the in-memory run table.
func WithExecutionStore(s *ExecutionStore) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithRunArchive archives every finished run.
func WithRunArchive(a RunArchive) EngineOption {
	return func(e *Engine) { e.archive = a }
}

// WithMetricsRecorder reports run and step outcomes.
func WithMetricsRecorder(m MetricsRecorder) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEventEmitter receives events for every run of this engine.
func WithEventEmitter(emitter RunEventEmitter) EngineOption {
	return func(e *Engine) { e.emitter = emitter }
}

// Engine executes workflow definitions level by level and keeps the run table.
type Engine struct {
	registry         *ExecutorRegistry
	validator        *DAGValidator
	store            *ExecutionStore
	archive          RunArchive
	metrics          MetricsRecorder
	emitter          RunEventEmitter
	failurePolicy    FailurePolicy
	levelConcurrency int
	ins              *instruments
	logger           *zap.Logger
}

// NewEngine creates an engine dispatching steps through registry.
func NewEngine(registry *ExecutorRegistry, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewExecutorRegistry()
	}
	e := &Engine{
		registry:      registry,
		validator:     NewDAGValidator(logger),
		store:         NewExecutionStore(),
		metrics:       noopRecorder{},
		failurePolicy: FailurePolicySkipDependents,
		ins:           newInstruments(),
		logger:        logger.With(zap.String("component", "workflow_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs def and returns its record. It never returns an error: a
// structurally broken definition yields a failed record before any step
// runs, and step failures are recorded per step. The definition is cloned,
// so the caller may reuse it.
func (e *Engine) Execute(ctx context.Context, def *WorkflowDefinition, inputs map[string]any) *ExecutionRecord {
	if ctx == nil {
		ctx = context.Background()
	}
	def = def.Clone()
	executionID := newExecutionID(def.ID)
	logger := e.logger.With(zap.String("execution_id", executionID), zap.String("workflow_id", def.ID))

	ctx, span := e.ins.startRun(ctx, def, executionID)
	ctx = types.WithWorkflowID(types.WithExecutionID(ctx, executionID), def.ID)

	r := &run{
		id:     executionID,
		engine: e,
		def:    def,
		inputs: inputs,
		logger: logger,
		record: &ExecutionRecord{
			ExecutionID:  executionID,
			WorkflowID:   def.ID,
			WorkflowName: def.Name,
			Status:       ExecutionStatusRunning,
			StepResults:  make(map[string]*StepExecution),
			StartTime:    time.Now(),
		},
	}
	if emit, ok := runEventEmitterFromContext(ctx); ok {
		r.emitters = append(r.emitters, emit)
	}
	if e.emitter != nil {
		r.emitters = append(r.emitters, e.emitter)
	}
	e.metrics.RecordRunStarted(def.ID)

	validation := e.validator.Validate(def)
	if !validation.IsValidDAG {
		err := invalidDAGError(validation.CyclesDetected)
		logger.Warn("workflow rejected", zap.Error(err))
		r.abort(err, validation.CyclesDetected)
		return e.finish(ctx, span, r)
	}
	if errs := def.CheckInvariants(); len(errs) > 0 {
		err := types.Errorf(types.ErrMalformedWorkflow, "malformed workflow: %s", joinErrors(errs))
		logger.Warn("workflow rejected", zap.Error(err))
		r.abort(err, nil)
		return e.finish(ctx, span, r)
	}

	levels := validation.Levels
	r.update(func(rec *ExecutionRecord) {
		rec.Levels = cloneLevels(levels)
		rec.TotalLevels = len(levels)
		for _, id := range def.StepIDs() {
			rec.StepResults[id] = NewStepExecution(id)
		}
	})
	logger.Info("starting workflow execution",
		zap.Int("steps", len(def.Steps)),
		zap.Int("levels", len(levels)),
		zap.Int("max_width", validation.GraphMetrics.MaxWidth),
	)
	r.emit(RunEvent{Type: RunEventStarted, Status: string(ExecutionStatusRunning)})

	for i, level := range levels {
		if err := ctx.Err(); err != nil {
			logger.Warn("workflow execution cancelled", zap.Int("level", i), zap.Error(err))
			r.skipPending(fmt.Sprintf("run cancelled: %v", err))
			break
		}
		e.runLevel(ctx, r, i, level)
		r.update(func(rec *ExecutionRecord) { rec.LevelsCompleted = i + 1 })
		r.emit(RunEvent{Type: RunEventLevelCompleted, Level: i})
	}

	return e.finish(ctx, span, r)
}

// runLevel starts every step of one level concurrently and waits for all.
func (e *Engine) runLevel(ctx context.Context, r *run, levelIndex int, level []string) {
	g := new(errgroup.Group)
	if e.levelConcurrency > 0 {
		g.SetLimit(e.levelConcurrency)
	}
	for _, id := range level {
		step, _ := r.def.Step(id)
		g.Go(func() error {
			e.runStep(ctx, r, step.Clone(), levelIndex)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) runStep(ctx context.Context, r *run, step WorkflowStep, levelIndex int) {
	prereqs := r.def.Prerequisites(step.ID)
	if e.failurePolicy != FailurePolicyContinue {
		if blocker := r.firstIncomplete(prereqs); blocker != "" {
			reason := fmt.Sprintf("prerequisite %s did not complete", blocker)
			r.update(func(rec *ExecutionRecord) { _ = rec.StepResults[step.ID].Skip(reason) })
			r.logger.Debug("step skipped", zap.String("step_id", step.ID), zap.String("reason", reason))
			r.emit(RunEvent{Type: RunEventStepSkipped, StepID: step.ID, Level: levelIndex, Status: string(StepSkipped), Error: reason})
			e.metrics.RecordStep(string(step.Type), string(StepSkipped), 0)
			return
		}
	}

	// 同层排队中的步骤在取消后不再启动
	if err := ctx.Err(); err != nil {
		reason := fmt.Sprintf("run cancelled: %v", err)
		r.update(func(rec *ExecutionRecord) { _ = rec.StepResults[step.ID].Skip(reason) })
		r.logger.Debug("step skipped", zap.String("step_id", step.ID), zap.String("reason", reason))
		r.emit(RunEvent{Type: RunEventStepSkipped, StepID: step.ID, Level: levelIndex, Status: string(StepSkipped), Error: reason})
		e.metrics.RecordStep(string(step.Type), string(StepSkipped), 0)
		return
	}

	rc := &RunContext{
		ExecutionID: r.id,
		WorkflowID:  r.def.ID,
		Inputs:      r.inputs,
		Upstream:    r.upstream(prereqs),
		Attempt:     1,
	}

	stepCtx, span := e.ins.startStep(types.WithStepID(ctx, step.ID), &step, levelIndex)
	started := time.Now()
	r.update(func(rec *ExecutionRecord) { _ = rec.StepResults[step.ID].Start(started) })
	r.logger.Debug("step started", zap.String("step_id", step.ID), zap.Int("level", levelIndex))
	r.emit(RunEvent{Type: RunEventStepStarted, StepID: step.ID, Level: levelIndex, Status: string(StepRunning)})

	res := e.dispatch(stepCtx, &step, rc)

	finished := time.Now()
	var snapshot *StepExecution
	r.update(func(rec *ExecutionRecord) {
		se := rec.StepResults[step.ID]
		se.Attempts = max(res.Attempts, 1)
		if res.OK() {
			_ = se.Complete(finished, res.Output)
		} else {
			_ = se.Fail(finished, stepFailure(&step, res.Err))
		}
		snapshot = se.Clone()
	})
	e.ins.endStep(stepCtx, span, &step, snapshot)
	e.metrics.RecordStep(string(step.Type), string(snapshot.Status), finished.Sub(started))

	if snapshot.Status == StepFailed {
		r.logger.Warn("step failed",
			zap.String("step_id", step.ID),
			zap.Int("attempts", snapshot.Attempts),
			zap.Duration("duration", finished.Sub(started)),
			zap.String("error", snapshot.Error),
		)
		r.emit(RunEvent{Type: RunEventStepFailed, StepID: step.ID, Level: levelIndex, Status: string(StepFailed), Error: snapshot.Error})
		return
	}
	r.logger.Debug("step completed", zap.String("step_id", step.ID), zap.Duration("duration", finished.Sub(started)))
	r.emit(RunEvent{Type: RunEventStepCompleted, StepID: step.ID, Level: levelIndex, Status: string(StepCompleted)})
}

// dispatch looks up the executor for the step kind and turns panics into
// failures.
func (e *Engine) dispatch(ctx context.Context, step *WorkflowStep, rc *RunContext) (res StepResult) {
	exec, err := e.registry.Lookup(step.Type)
	if err != nil {
		return Failure(err)
	}
	defer func() {
		if p := recover(); p != nil {
			res = Failure(types.Errorf(types.ErrStepFailure, "step %s panicked: %v", step.ID, p))
		}
	}()
	return exec.Execute(ctx, step, rc)
}

// finish settles the final status, publishes the record and archives it.
func (e *Engine) finish(ctx context.Context, span trace.Span, r *run) *ExecutionRecord {
	var final *ExecutionRecord
	r.update(func(rec *ExecutionRecord) {
		end := time.Now()
		rec.EndTime = &end
		rec.TotalDuration = end.Sub(rec.StartTime)
		if rec.Status == ExecutionStatusRunning {
			rec.Status, rec.Error = settle(rec)
		}
		final = rec.Clone()
	})

	e.ins.endRun(ctx, span, final)
	e.metrics.RecordRunFinished(final.WorkflowID, string(final.Status), final.TotalDuration, final.LevelsCompleted)
	r.emit(RunEvent{Type: RunEventFinished, Status: string(final.Status), Error: final.Error})

	if e.archive != nil {
		if err := e.archive.Archive(context.WithoutCancel(ctx), final.Clone()); err != nil {
			r.logger.Warn("failed to archive run", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("status", string(final.Status)),
		zap.Duration("duration", final.TotalDuration),
		zap.Int("levels_completed", final.LevelsCompleted),
		zap.Int("total_levels", final.TotalLevels),
	}
	if final.Status == ExecutionStatusCompleted {
		r.logger.Info("workflow execution completed", fields...)
	} else {
		r.logger.Info("workflow execution failed", append(fields, zap.String("error", final.Error))...)
	}
	return final
}

// settle derives the run status: completed iff every step completed.
func settle(rec *ExecutionRecord) (ExecutionStatus, string) {
	var failed, skipped []string
	for id, se := range rec.StepResults {
		switch se.Status {
		case StepCompleted:
		case StepSkipped:
			skipped = append(skipped, id)
		default:
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 && len(skipped) == 0 {
		return ExecutionStatusCompleted, ""
	}
	sort.Strings(failed)
	sort.Strings(skipped)
	msg := fmt.Sprintf("%d of %d step(s) did not complete", len(failed)+len(skipped), len(rec.StepResults))
	if len(failed) > 0 {
		msg += "; failed: " + strings.Join(failed, ", ")
	}
	if len(skipped) > 0 {
		msg += "; skipped: " + strings.Join(skipped, ", ")
	}
	return ExecutionStatusFailed, msg
}

// GetStatus returns a copy of a run record, or nil when the id is unknown.
func (e *Engine) GetStatus(executionID string) *ExecutionRecord {
	rec, ok := e.store.Get(executionID)
	if !ok {
		return nil
	}
	return rec
}

// ListExecutions summarizes every known run, oldest first.
func (e *Engine) ListExecutions() []ExecutionSummary {
	return e.store.Summaries()
}

// Discard forgets a run. A discarded in-flight run keeps executing but is no
// longer visible through GetStatus or ListExecutions.
func (e *Engine) Discard(executionID string) bool {
	return e.store.Delete(executionID)
}

// Purge forgets finished runs that ended more than olderThan ago.
func (e *Engine) Purge(olderThan time.Duration) int {
	return e.store.PurgeFinishedBefore(time.Now().Add(-olderThan))
}

// Validator exposes the validator used by the engine.
func (e *Engine) Validator() *DAGValidator {
	return e.validator
}

func newExecutionID(workflowID string) string {
	return fmt.Sprintf("%s_%s", workflowID, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		if te, ok := types.AsError(err); ok {
			msgs[i] = te.Message
			continue
		}
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// ============================================================
// Per-run state
// ============================================================

// run owns the live record of one execution. Every mutation happens under
// mu and is published to the store as a fresh snapshot.
type run struct {
	id       string
	engine   *Engine
	def      *WorkflowDefinition
	inputs   map[string]any
	logger   *zap.Logger
	emitters []RunEventEmitter

	mu        sync.Mutex
	record    *ExecutionRecord
	published bool
	discarded bool
}

// update mutates the live record and republishes it. After Discard removed
// the run from the table, later snapshots are no longer published.
func (r *run) update(fn func(rec *ExecutionRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.record)
	switch {
	case r.discarded:
	case !r.published:
		r.engine.store.Save(r.record.Clone())
		r.published = true
	case !r.engine.store.Replace(r.record.Clone()):
		r.discarded = true
	}
}

func (r *run) abort(err error, cycles [][]string) {
	r.update(func(rec *ExecutionRecord) {
		rec.Status = ExecutionStatusFailed
		rec.Error = err.Error()
		rec.Cycles = cloneLevels(cycles)
	})
}

func (r *run) skipPending(reason string) {
	var skipped []string
	r.update(func(rec *ExecutionRecord) {
		for id, se := range rec.StepResults {
			if se.Status == StepPending {
				_ = se.Skip(reason)
				skipped = append(skipped, id)
			}
		}
	})
	sort.Strings(skipped)
	for _, id := range skipped {
		r.emit(RunEvent{Type: RunEventStepSkipped, StepID: id, Status: string(StepSkipped), Error: reason})
	}
}

// firstIncomplete returns the first prerequisite that is not COMPLETED.
func (r *run) firstIncomplete(prereqs []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range prereqs {
		if se, ok := r.record.StepResults[id]; ok && se.Status != StepCompleted {
			return id
		}
	}
	return ""
}

// upstream collects the results of completed prerequisites.
func (r *run) upstream(prereqs []string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(prereqs))
	for _, id := range prereqs {
		if se, ok := r.record.StepResults[id]; ok && se.Status == StepCompleted {
			out[id] = se.Result
		}
	}
	return out
}

func (r *run) emit(ev RunEvent) {
	if len(r.emitters) == 0 {
		return
	}
	ev.ExecutionID = r.id
	ev.WorkflowID = r.def.ID
	ev.Timestamp = time.Now()
	for _, emit := range r.emitters {
		emit(ev)
	}
}
