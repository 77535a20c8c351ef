package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Definition fixtures
// ---------------------------------------------------------------------------

func step(id string) WorkflowStep {
	return WorkflowStep{ID: id, Name: id, Type: StepTypeAgent, AgentID: "agent_" + id}
}

func newDef(id string, deps map[string][]string, ids ...string) *WorkflowDefinition {
	def := &WorkflowDefinition{ID: id, Name: id, Dependencies: deps}
	for _, s := range ids {
		def.Steps = append(def.Steps, step(s))
	}
	return def
}

func linearDef() *WorkflowDefinition {
	return newDef("linear", map[string][]string{
		"design":    {"research"},
		"implement": {"design"},
	}, "research", "design", "implement")
}

func diamondDef() *WorkflowDefinition {
	return newDef("diamond", map[string][]string{
		"left":  {"start"},
		"right": {"start"},
		"end":   {"left", "right"},
	}, "start", "left", "right", "end")
}

func cyclicDef() *WorkflowDefinition {
	return newDef("cyclic", map[string][]string{
		"A": {"B"},
		"B": {"A"},
	}, "A", "B")
}

// ---------------------------------------------------------------------------
// Executor fakes
// ---------------------------------------------------------------------------

// recordingExecutor completes every step after delay and records call order
// and peak concurrency.
type recordingExecutor struct {
	delay   time.Duration
	failIDs map[string]bool

	mu      sync.Mutex
	calls   []string
	inputs  map[string]*RunContext
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newRecordingExecutor(delay time.Duration, failIDs ...string) *recordingExecutor {
	e := &recordingExecutor{delay: delay, failIDs: map[string]bool{}, inputs: map[string]*RunContext{}}
	for _, id := range failIDs {
		e.failIDs[id] = true
	}
	return e
}

func (e *recordingExecutor) Execute(ctx context.Context, step *WorkflowStep, rc *RunContext) StepResult {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		peak := e.maxSeen.Load()
		if n <= peak || e.maxSeen.CompareAndSwap(peak, n) {
			break
		}
	}

	e.mu.Lock()
	e.calls = append(e.calls, step.ID)
	cp := *rc
	e.inputs[step.ID] = &cp
	e.mu.Unlock()

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return Failure(ctx.Err())
		}
	}
	if e.failIDs[step.ID] {
		return Failure(errBoom)
	}
	return Success("out:" + step.ID)
}

func (e *recordingExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *recordingExecutor) RunContextOf(id string) *RunContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputs[id]
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom error = boomError{}

func registryWith(exec StepExecutor) *ExecutorRegistry {
	return NewExecutorRegistry().SetFallback(exec)
}
