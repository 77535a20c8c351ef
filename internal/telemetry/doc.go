// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为工作流引擎的 workflow.execute / workflow.step span 以及
// run/step 计数器提供 TracerProvider 和 MeterProvider。
// 当遥测功能禁用时，引擎使用全局 noop 实现，不连接任何外部服务。
package telemetry
