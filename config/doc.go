// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

// Package config 提供 FlowForge 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量名由前缀（默认 FLOWFORGE）与各层 env 标签拼接而成，
// 例如 FLOWFORGE_ENGINE_LEVEL_CONCURRENCY。
package config
