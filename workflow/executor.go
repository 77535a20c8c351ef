package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/flowforge/types"
)

// ============================================================
// Executor contract
// ============================================================

// RunContext is the run-time information handed to a step executor.
type RunContext struct {
	ExecutionID string
	WorkflowID  string
	// Inputs are the caller-supplied run inputs. Read-only.
	Inputs map[string]any
	// Upstream holds the results of the step's completed prerequisites.
	Upstream map[string]any
	// Attempt is the 1-based attempt number, maintained by WithRetry.
	Attempt int
}

// StepResult is the outcome of one executor call: a success carrying an
// output, or a failure carrying the reason.
type StepResult struct {
	Output any
	Err    error
	// Attempts is set by WithRetry; zero means a single attempt.
	Attempts int
}

// Success wraps a step output.
func Success(output any) StepResult {
	return StepResult{Output: output}
}

// Failure wraps a step failure. A nil err is replaced with a generic
// STEP_FAILURE so the result stays a failure.
func Failure(err error) StepResult {
	if err == nil {
		err = types.NewError(types.ErrStepFailure, "step failed without a reason")
	}
	return StepResult{Err: err}
}

// OK reports whether the result is a success.
func (r StepResult) OK() bool {
	return r.Err == nil
}

// StepExecutor performs the work a step represents.
type StepExecutor interface {
	Execute(ctx context.Context, step *WorkflowStep, rc *RunContext) StepResult
}

// ExecutorFunc adapts an ordinary function into a StepExecutor. Returned
// errors and panics become failures.
type ExecutorFunc func(ctx context.Context, step *WorkflowStep, rc *RunContext) (any, error)

// Execute implements StepExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, step *WorkflowStep, rc *RunContext) (res StepResult) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(types.Errorf(types.ErrStepFailure, "step %s panicked: %v", step.ID, r))
		}
	}()
	out, err := f(ctx, step, rc)
	if err != nil {
		return Failure(err)
	}
	return Success(out)
}

// ============================================================
// Registry
// ============================================================

// ExecutorRegistry maps step kinds to executors.
type ExecutorRegistry struct {
	executors map[StepType]StepExecutor
	fallback  StepExecutor
	mu        sync.RWMutex
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[StepType]StepExecutor)}
}

// Register binds an executor to a step kind, replacing any previous one.
func (r *ExecutorRegistry) Register(stepType StepType, exec StepExecutor) *ExecutorRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[stepType] = exec
	return r
}

// SetFallback sets the executor used for kinds without a registration.
func (r *ExecutorRegistry) SetFallback(exec StepExecutor) *ExecutorRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = exec
	return r
}

// Lookup returns the executor for a step kind.
func (r *ExecutorRegistry) Lookup(stepType StepType) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if exec, ok := r.executors[stepType]; ok {
		return exec, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, types.Errorf(types.ErrExecutorNotFound, "no executor registered for step type %q", stepType)
}

// Types lists the registered step kinds, sorted.
func (r *ExecutorRegistry) Types() []StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StepType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Wrap applies middlewares to every registered executor and the fallback.
func (r *ExecutorRegistry) Wrap(middlewares ...ExecutorMiddleware) *ExecutorRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, exec := range r.executors {
		r.executors[t] = Chain(exec, middlewares...)
	}
	if r.fallback != nil {
		r.fallback = Chain(r.fallback, middlewares...)
	}
	return r
}

func stepFailure(step *WorkflowStep, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.NewError(types.ErrStepFailure, fmt.Sprintf("step %s failed", step.ID)).WithCause(err)
}
