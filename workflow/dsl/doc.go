// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package dsl 将 YAML/JSON 文本或字典形式的工作流描述解析为
workflow.WorkflowDefinition，并提供反向导出能力。

# 解析流程

  - 顶层必填字段检查：id、name、steps（空列表视同缺失），
    dependencies 必须是步骤 ID 到前置步骤列表的映射。
  - 结构解码：字典输入经 JSON 转换后解码，保证与文本输入语义一致。
  - 缺省值：步骤 name 缺省为 id，type 缺省为 agent。
  - 不变量检查：步骤 ID 唯一、无自依赖、依赖只引用已声明步骤。
    任一问题都会返回 MALFORMED_WORKFLOW 错误。

解析器不做环检测，环由 workflow.DAGValidator 负责。

# 导出

Export 对定义副本做规范化（标签与依赖排序去重）后输出，
YAML 缩进 2 空格，JSON 使用两空格缩进。Parse(Export(d)) 与 d 规范化后等价。

# 缓存与摘要

Parser 以工作流 ID 缓存最近一次解析结果，GetSummary 无需重新解析即可
返回步骤数、依赖数、标签与解析时间。可选的 SummaryStore（如
RedisSummaryStore）会在进程外同步摘要。

# 示例库

SampleNames / Sample 提供 linear_chain、diamond、fan_out_fan_in、
project_generation 与 cyclic 五个示例定义，仅用于演示与测试。
*/
package dsl
