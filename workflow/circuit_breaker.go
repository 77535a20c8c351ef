package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/types"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常状态，允许请求通过
	CircuitClosed CircuitState = iota
	// CircuitOpen 熔断状态，拒绝所有请求
	CircuitOpen
	// CircuitHalfOpen 半开状态，允许探测请求
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	// FailureThreshold 连续失败次数阈值
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// RecoveryTimeout 熔断后进入半开前的等待时间
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	// HalfOpenMaxProbes 半开状态允许的探测次数
	HalfOpenMaxProbes int `json:"half_open_max_probes" yaml:"half_open_max_probes"`
	// SuccessThreshold 半开状态下连续成功多少次后恢复
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 3,
		SuccessThreshold:  2,
	}
}

// normalized 用默认值补齐非正数配置，并保证 SuccessThreshold 不超过 HalfOpenMaxProbes，
// 否则半开状态在探测次数用尽后无法恢复
func (c CircuitBreakerConfig) normalized() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.HalfOpenMaxProbes <= 0 {
		c.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = min(def.SuccessThreshold, c.HalfOpenMaxProbes)
	}
	if c.SuccessThreshold > c.HalfOpenMaxProbes {
		c.SuccessThreshold = c.HalfOpenMaxProbes
	}
	return c
}

// CircuitStateChange 熔断器状态变更
type CircuitStateChange struct {
	Key       string       `json:"key"`
	From      CircuitState `json:"from"`
	To        CircuitState `json:"to"`
	Reason    string       `json:"reason"`
	Failures  int          `json:"failures"`
	Timestamp time.Time    `json:"timestamp"`
}

// CircuitBreaker 保护一类下游执行者（按 agent 或步骤类型划分）
type CircuitBreaker struct {
	key       string
	config    CircuitBreakerConfig
	state     CircuitState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	onChange  func(CircuitStateChange)
	now       func() time.Time
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(key string, config CircuitBreakerConfig, onChange func(CircuitStateChange), logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		key:      key,
		config:   config.normalized(),
		onChange: onChange,
		now:      time.Now,
		logger:   logger.With(zap.String("breaker", key)),
	}
}

// Allow 判断本次调用能否放行，拒绝时返回 CIRCUIT_OPEN 错误
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			return types.Errorf(types.ErrCircuitOpen, "circuit %s open after %d consecutive failures", cb.key, cb.failures).
				WithRetryable(true)
		}
		cb.transition(CircuitHalfOpen, "recovery timeout elapsed")
		cb.probes = 1
		cb.successes = 0
		return nil
	case CircuitHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxProbes {
			return types.Errorf(types.ErrCircuitOpen, "circuit %s half-open: probe limit %d reached", cb.key, cb.config.HalfOpenMaxProbes).
				WithRetryable(true)
		}
		cb.probes++
		return nil
	default:
		return nil
	}
}

// Record 记录一次调用结果
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case CircuitClosed:
			cb.failures = 0
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.failures = 0
				cb.transition(CircuitClosed, "half-open probes succeeded")
			}
		}
		return
	}

	cb.failures++
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transition(CircuitOpen, "failure threshold reached")
		}
	case CircuitHalfOpen:
		// 半开状态下任何失败都重新熔断
		cb.openedAt = cb.now()
		cb.transition(CircuitOpen, "failure in half-open state")
	}
}

// State 当前状态
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition 必须在锁内调用
func (cb *CircuitBreaker) transition(to CircuitState, reason string) {
	from := cb.state
	cb.state = to
	cb.logger.Info("circuit breaker state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures),
	)
	if cb.onChange != nil {
		change := CircuitStateChange{
			Key:       cb.key,
			From:      from,
			To:        to,
			Reason:    reason,
			Failures:  cb.failures,
			Timestamp: cb.now(),
		}
		// 异步回调，避免在锁内执行外部代码
		go cb.onChange(change)
	}
}

// CircuitBreakerRegistry 按 key 管理熔断器
type CircuitBreakerRegistry struct {
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	onChange func(CircuitStateChange)
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewCircuitBreakerRegistry 创建熔断器注册表
func NewCircuitBreakerRegistry(config CircuitBreakerConfig, onChange func(CircuitStateChange), logger *zap.Logger) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		onChange: onChange,
		logger:   logger,
	}
}

// Get 获取或创建 key 对应的熔断器
func (r *CircuitBreakerRegistry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key, r.config, r.onChange, r.logger)
		r.breakers[key] = cb
	}
	return cb
}

// States 返回所有熔断器状态快照
func (r *CircuitBreakerRegistry) States() map[string]CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]CircuitState, len(r.breakers))
	for k, cb := range r.breakers {
		out[k] = cb.State()
	}
	return out
}

// BreakerKey groups steps that share a downstream: the agent when one is
// named, otherwise the step type.
func BreakerKey(step *WorkflowStep) string {
	if step.AgentID != "" {
		return "agent:" + step.AgentID
	}
	return "type:" + string(step.Type)
}
