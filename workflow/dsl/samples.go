package dsl

import (
	"sort"

	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/workflow"
)

// 内置示例工作流，供 CLI 演示与测试使用
var samples = map[string]string{
	"linear_chain": `id: linear_chain
name: Linear Chain
version: "1.0"
tags: [demo]
steps:
  - id: research
    agent_id: researcher
  - id: design
    agent_id: architect
  - id: implement
    agent_id: developer
dependencies:
  design: [research]
  implement: [design]
`,
	"diamond": `id: diamond
name: Diamond
version: "1.0"
tags: [demo]
steps:
  - id: start
    type: transform
  - id: left
    agent_id: worker
  - id: right
    agent_id: worker
  - id: end
    type: transform
dependencies:
  left: [start]
  right: [start]
  end: [left, right]
`,
	"fan_out_fan_in": `id: fan_out_fan_in
name: Fan Out Fan In
version: "1.0"
tags: [demo]
steps:
  - id: split
    type: transform
  - id: shard_a
    type: tool
    config:
      delay_ms: 20
  - id: shard_b
    type: tool
    config:
      delay_ms: 20
  - id: shard_c
    type: tool
    config:
      delay_ms: 20
  - id: shard_d
    type: tool
    config:
      delay_ms: 20
  - id: merge
    type: transform
dependencies:
  shard_a: [split]
  shard_b: [split]
  shard_c: [split]
  shard_d: [split]
  merge: [shard_a, shard_b, shard_c, shard_d]
`,
	"project_generation": `id: project_generation
name: Project Generation
description: Requirements to a reviewed, documented project
version: "2.1"
tags: [generation, pipeline]
steps:
  - id: analyze_requirements
    name: Analyze requirements
    agent_id: analyst
    outputs: [requirements]
    retry_policy:
      max_attempts: 3
      backoff: exponential
      initial_delay_ms: 500
      max_delay_ms: 10000
    timeout: 120
  - id: design_architecture
    name: Design architecture
    agent_id: architect
    inputs: [requirements]
    outputs: [architecture]
    timeout: 300
  - id: generate_backend
    name: Generate backend
    agent_id: coder
    inputs: [architecture]
    outputs: [backend_code]
  - id: generate_frontend
    name: Generate frontend
    agent_id: coder
    inputs: [architecture]
    outputs: [frontend_code]
  - id: write_tests
    name: Write tests
    agent_id: tester
    inputs: [backend_code, frontend_code]
    outputs: [test_suite]
  - id: review
    name: Code review
    type: human
    inputs: [backend_code, frontend_code, test_suite]
    outputs: [review_notes]
  - id: document
    name: Write documentation
    agent_id: writer
    inputs: [architecture]
    outputs: [docs]
  - id: package
    name: Package project
    type: tool
    inputs: [review_notes, docs]
dependencies:
  design_architecture: [analyze_requirements]
  generate_backend: [design_architecture]
  generate_frontend: [design_architecture]
  write_tests: [generate_backend, generate_frontend]
  review: [write_tests]
  document: [design_architecture]
  package: [document, review]
`,
	"cyclic": `id: cyclic
name: Cyclic
tags: [demo, invalid]
steps:
  - id: A
  - id: B
  - id: C
dependencies:
  A: [C]
  B: [A]
  C: [B]
`,
}

// SampleNames 返回全部示例名称，按字母排序
func SampleNames() []string {
	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SampleSource 返回示例的 YAML 原文
func SampleSource(name string) (string, error) {
	src, ok := samples[name]
	if !ok {
		return "", types.Errorf(types.ErrNotFound, "unknown sample %q", name).WithDetail("available", SampleNames())
	}
	return src, nil
}

// Sample 解析并返回示例定义。cyclic 示例可以解析，但执行时会被拒绝
func Sample(name string) (*workflow.WorkflowDefinition, error) {
	src, err := SampleSource(name)
	if err != nil {
		return nil, err
	}
	return NewParser(nil).Parse(src, FormatYAML)
}
