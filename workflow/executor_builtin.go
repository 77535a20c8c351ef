package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/BaSui01/flowforge/types"
)

// EchoExecutor simulates work for demos and dry runs. It honours these
// step config keys:
//
//	delay_ms       simulated work time, overrides Delay
//	fail           always fail
//	fail_attempts  fail the first N attempts, then succeed
type EchoExecutor struct {
	Delay time.Duration
}

// Execute implements StepExecutor.
func (e *EchoExecutor) Execute(ctx context.Context, step *WorkflowStep, rc *RunContext) StepResult {
	delay := e.Delay
	if ms, ok := configNumber(step.Config, "delay_ms"); ok {
		delay = time.Duration(ms * float64(time.Millisecond))
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Failure(types.NewError(types.ErrCancelled, "step interrupted").WithCause(ctx.Err()))
		case <-timer.C:
		}
	}

	attempt := rc.Attempt
	if attempt == 0 {
		attempt = 1
	}
	if fail, _ := step.Config["fail"].(bool); fail {
		return Failure(types.Errorf(types.ErrStepFailure, "step %s: simulated failure", step.ID))
	}
	if n, ok := configNumber(step.Config, "fail_attempts"); ok && float64(attempt) <= n {
		return Failure(types.Errorf(types.ErrStepFailure, "step %s: simulated failure on attempt %d", step.ID, attempt).
			WithRetryable(true))
	}

	upstream := make([]string, 0, len(rc.Upstream))
	for id := range rc.Upstream {
		upstream = append(upstream, id)
	}
	sort.Strings(upstream)

	return Success(map[string]any{
		"step_id":  step.ID,
		"name":     step.Name,
		"type":     string(step.Type),
		"agent_id": step.AgentID,
		"attempt":  attempt,
		"upstream": upstream,
		"outputs":  cloneStrings(step.Outputs),
	})
}

func configNumber(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
