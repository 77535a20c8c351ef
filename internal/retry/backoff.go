package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Strategy 决定两次尝试之间延迟的增长方式
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// Policy 定义重试策略
type Policy struct {
	MaxAttempts  int           // 总尝试次数（含首次），小于 1 按 1 处理
	Strategy     Strategy      // 退避方式，空值按 exponential 处理
	InitialDelay time.Duration // 首次重试前的延迟
	MaxDelay     time.Duration // 延迟上限，0 表示不限
	Multiplier   float64       // 指数退避倍数
	Jitter       bool          // 是否添加 ±25% 随机抖动
	// Retryable 过滤可重试错误，nil 表示所有错误都可重试
	Retryable func(err error) bool
	// OnRetry 在每次重试等待前回调
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 返回默认的重试策略
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		Strategy:     StrategyExponential,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Retryer 重试器
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// New 创建重试器，对非法参数做归一化
func New(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := *policy
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Strategy == "" {
		p.Strategy = StrategyExponential
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return &Retryer{policy: p, logger: logger}
}

// Do 执行 fn，失败时按策略重试。fn 收到从 1 开始的尝试序号。
func (r *Retryer) Do(ctx context.Context, fn func(attempt int) error) error {
	_, _, err := r.DoWithResult(ctx, func(attempt int) (any, error) {
		return nil, fn(attempt)
	})
	return err
}

// DoWithResult 执行 fn 并返回结果与实际尝试次数
func (r *Retryer) DoWithResult(ctx context.Context, fn func(attempt int) (any, error)) (any, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.Delay(attempt - 1)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return nil, attempt - 1, fmt.Errorf("retry cancelled after %d attempt(s): %w", attempt-1, err)
			}
		}

		result, err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, attempt, nil
		}
		lastErr = err

		if r.policy.Retryable != nil && !r.policy.Retryable(err) {
			r.logger.Debug("error is not retryable", zap.Error(err))
			return nil, attempt, err
		}
	}

	if r.policy.MaxAttempts > 1 {
		r.logger.Warn("retry attempts exhausted",
			zap.Int("attempts", r.policy.MaxAttempts),
			zap.Error(lastErr),
		)
		return nil, r.policy.MaxAttempts, fmt.Errorf("failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
	}
	return nil, 1, lastErr
}

// Delay 计算第 n 次重试（从 1 开始）前的等待时间
func (r *Retryer) Delay(n int) time.Duration {
	base := float64(r.policy.InitialDelay)
	var delay float64
	switch r.policy.Strategy {
	case StrategyFixed:
		delay = base
	case StrategyLinear:
		delay = base * float64(n)
	default:
		delay = base * math.Pow(r.policy.Multiplier, float64(n-1))
	}

	if r.policy.MaxDelay > 0 && delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	// 未设置 MaxDelay 时指数增长可能到 +Inf，先收敛到有限值再加抖动
	delay = min(delay, float64(math.MaxInt64))
	if r.policy.Jitter && delay > 0 {
		delay += (rand.Float64()*2 - 1) * delay * 0.25
	}
	switch {
	case math.IsNaN(delay) || delay < 0:
		return 0
	case delay >= float64(math.MaxInt64):
		// float64 → int64 溢出的结果与平台相关
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
