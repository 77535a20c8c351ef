// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package main 提供 FlowForge 命令行程序入口。

# 概述

cmd/flowforge 读取 YAML/JSON 工作流定义（或 sample:<name> 内置样例），
提供校验、分层计划、优化建议、规范化导出与执行等子命令。
配置经 config.Loader 加载（默认值 → YAML → FLOWFORGE_* 环境变量），
日志使用 zap，命令结果以 JSON 写到 stdout，日志写到 stderr 或配置的文件。

# 子命令

  - validate  结构校验与环检测，无效时退出码 1
  - plan      执行层级与图指标
  - optimize  评分与改进建议，-apply 生成优化后的定义
  - export    规范化导出为 yaml 或 json
  - run       使用内置 echo 执行器运行，可归档到数据库并导出 Prometheus 指标
  - history   列出某个工作流的归档运行
  - samples   列出或打印内置样例

# 组件装配

run 命令的执行器链依次为 限流 → 熔断 → 重试 → 单次超时，
引擎同时上报 Prometheus 指标（internal/metrics）与 OpenTelemetry span（internal/telemetry）。
-archive 通过 internal/database 打开 postgres/mysql/sqlite，并由 workflow/archive 写入运行记录。
parser.summary_store 为 redis 时，解析摘要写入 Redis（internal/cache）。

# 退出码

0 成功；1 结论为否定或执行出错；2 用法错误。
*/
package main
