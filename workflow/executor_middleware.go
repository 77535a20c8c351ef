package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowforge/internal/retry"
	"github.com/BaSui01/flowforge/types"
)

// ExecutorMiddleware decorates a StepExecutor.
type ExecutorMiddleware func(next StepExecutor) StepExecutor

// Chain wraps exec so that the first middleware is the outermost.
func Chain(exec StepExecutor, middlewares ...ExecutorMiddleware) StepExecutor {
	for i := len(middlewares) - 1; i >= 0; i-- {
		exec = middlewares[i](exec)
	}
	return exec
}

type middlewareFunc func(ctx context.Context, step *WorkflowStep, rc *RunContext) StepResult

func (f middlewareFunc) Execute(ctx context.Context, step *WorkflowStep, rc *RunContext) StepResult {
	return f(ctx, step, rc)
}

// WithRetry enforces step.RetryPolicy. Steps without a policy run once.
// Cancellation of the run context is never retried.
func WithRetry(logger *zap.Logger) ExecutorMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next StepExecutor) StepExecutor {
		return middlewareFunc(func(ctx context.Context, step *WorkflowStep, rc *RunContext) StepResult {
			if step.RetryPolicy == nil {
				return next.Execute(ctx, step, rc)
			}
			r := retry.New(retryPolicyFor(step.RetryPolicy), logger.With(zap.String("step_id", step.ID)))
			out, attempts, err := r.DoWithResult(ctx, func(attempt int) (any, error) {
				attemptRC := *rc
				attemptRC.Attempt = attempt
				res := next.Execute(ctx, step, &attemptRC)
				return res.Output, res.Err
			})
			if err != nil {
				res := Failure(err)
				res.Attempts = attempts
				return res
			}
			res := Success(out)
			res.Attempts = attempts
			return res
		})
	}
}

func retryPolicyFor(p *RetryPolicy) *retry.Policy {
	strategy := retry.StrategyExponential
	switch p.Backoff {
	case BackoffFixed:
		strategy = retry.StrategyFixed
	case BackoffLinear:
		strategy = retry.StrategyLinear
	}
	return &retry.Policy{
		MaxAttempts:  p.MaxAttempts,
		Strategy:     strategy,
		InitialDelay: p.InitialDelay(),
		MaxDelay:     p.MaxDelay(),
		Multiplier:   2.0,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}
}

// WithTimeout bounds each call by step.Timeout, or by def when the step has
// none. A zero bound disables the limit. The executor is abandoned, not
// killed, when the deadline passes.
func WithTimeout(def time.Duration) ExecutorMiddleware {
	return func(next StepExecutor) StepExecutor {
		return middlewareFunc(func(ctx context.Context, step *WorkflowStep, rc *RunContext) StepResult {
			d := step.TimeoutDuration()
			if d == 0 {
				d = def
			}
			if d <= 0 {
				return next.Execute(ctx, step, rc)
			}
			if err := ctx.Err(); err != nil {
				return Failure(types.NewError(types.ErrCancelled, "step cancelled").WithCause(err))
			}

			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan StepResult, 1)
			go func() {
				// dispatch 的 recover 覆盖不到这个 goroutine
				defer func() {
					if p := recover(); p != nil {
						done <- Failure(types.Errorf(types.ErrStepFailure, "step %s panicked: %v", step.ID, p))
					}
				}()
				done <- next.Execute(tctx, step, rc)
			}()

			select {
			case res := <-done:
				return res
			case <-tctx.Done():
				if ctx.Err() != nil {
					return Failure(types.NewError(types.ErrCancelled, "step cancelled").WithCause(ctx.Err()))
				}
				return Failure(types.Errorf(types.ErrTimeout, "step %s exceeded timeout %s", step.ID, d).
					WithRetryable(true))
			}
		})
	}
}

// WithCircuitBreaker fails fast while the breaker for the step's downstream
// (see BreakerKey) is open.
func WithCircuitBreaker(registry *CircuitBreakerRegistry) ExecutorMiddleware {
	return func(next StepExecutor) StepExecutor {
		return middlewareFunc(func(ctx context.Context, step *WorkflowStep, rc *RunContext) StepResult {
			cb := registry.Get(BreakerKey(step))
			if err := cb.Allow(); err != nil {
				return Failure(err)
			}
			res := next.Execute(ctx, step, rc)
			cb.Record(res.Err)
			return res
		})
	}
}

// WithRateLimit waits for a token before every call.
func WithRateLimit(limiter *rate.Limiter) ExecutorMiddleware {
	return func(next StepExecutor) StepExecutor {
		return middlewareFunc(func(ctx context.Context, step *WorkflowStep, rc *RunContext) StepResult {
			if err := limiter.Wait(ctx); err != nil {
				return Failure(types.NewError(types.ErrCancelled, "rate limiter wait aborted").WithCause(err))
			}
			return next.Execute(ctx, step, rc)
		})
	}
}
