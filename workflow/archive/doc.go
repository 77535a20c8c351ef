// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

// Package archive 将结束的工作流运行记录持久化到关系型数据库。
//
// GormArchive 实现 workflow.RunArchive，按 execution_id 写入 execution_records 表
// （upsert），完整记录以 JSON 保存，workflow_id 与 status 建有索引。
// 数据库连接由 internal/database 打开，支持 postgres、mysql 与 sqlite。
package archive
