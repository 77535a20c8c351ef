// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package types 提供 FlowForge 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、dsl、config
等上层模块提供统一的错误码与 context 传播约定。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 Retryable 标记与 Details
  - MALFORMED_WORKFLOW / INVALID_DAG / STEP_FAILURE 等工作流错误码

# 主要能力

  - 错误工具链：NewError / Errorf / AsError / IsCode / IsRetryable / GetErrorCode
  - Context 传播：WithTraceID / WithExecutionID / WithWorkflowID / WithStepID
*/
package types
