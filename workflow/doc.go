// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package workflow 提供工作流定义模型、DAG 校验、结构优化与分层并发执行引擎。

# 概述

工作流由一组步骤（WorkflowStep）和依赖映射（step -> 前置步骤列表）组成。
DAGValidator 负责环检测与拓扑分层，Optimizer 给出评分与改进建议，
Engine 按层并发执行步骤，层与层之间严格串行。

# 核心接口与类型

  - WorkflowDefinition: 声明式工作流定义（步骤、依赖、标签、版本）
  - StepExecution     : 单步执行状态机 pending -> running -> completed|failed，
    以及 pending -> skipped
  - DAGValidator      : 三色 DFS 环检测、最长路径分层、关键路径与图指标
  - Optimizer         : 优化评分、改进建议、结构优化与优化版定义生成
  - Engine            : 分层执行引擎（errgroup 并发、失败策略、取消、运行表）
  - StepExecutor      : 步骤执行接口，ExecutorRegistry 按步骤类型分发
  - ExecutionStore    : 运行记录表，按 ID/工作流/状态/时间查询

# 执行器装饰

  - WithRetry         : 按 RetryPolicy 重试（fixed/linear/exponential）
  - WithTimeout       : 步骤超时，超时返回 TIMEOUT
  - WithCircuitBreaker: 按步骤类型与 agent 熔断（Closed/Open/HalfOpen）
  - WithRateLimit     : 令牌桶限流

# 可观测性

Engine 通过 MetricsRecorder 上报运行与步骤指标，通过全局 OpenTelemetry
tracer/meter 产生 workflow.execute 与 workflow.step span 及计数器，
并通过 RunEventEmitter 推送运行事件。RunArchive 可将已结束的运行持久化。
*/
package workflow
