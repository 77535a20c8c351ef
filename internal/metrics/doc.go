// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的工作流指标采集能力，覆盖运行、
步骤、优化评分、摘要缓存与数据库五个维度。

# 概述

Collector 通过 promauto.With(registerer) 注册全部指标，调用方可以传入
独立的 prometheus.Registry（测试与 CLI 文本导出），也可以使用默认
Registerer。所有指标按 namespace 隔离。

# 核心类型

  - Collector：实现 workflow.MetricsRecorder、workflow.ScoreRecorder
    与 dsl.CacheRecorder，可直接注入引擎、优化器与解析器。

# 指标

  - 运行：workflow_runs_started_total、workflow_runs_total（workflow_id/status）、
    workflow_run_duration_seconds、workflow_run_levels_completed、
    workflow_runs_in_flight。
  - 步骤：workflow_steps_total（step_type/status）、workflow_step_duration_seconds。
  - 优化器：workflow_optimization_score（workflow_id）。
  - 缓存：cache_hits_total / cache_misses_total（cache_type）。
  - 数据库：db_connections_open / db_connections_idle、db_query_duration_seconds。
*/
package metrics
