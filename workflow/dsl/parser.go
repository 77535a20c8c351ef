package dsl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/workflow"
)

// Option 解析器选项
type Option func(*Parser)

// WithSummaryStore 将摘要同步到外部存储（例如 Redis）
func WithSummaryStore(store SummaryStore) Option {
	return func(p *Parser) { p.store = store }
}

// WithCacheRecorder 上报摘要缓存命中/未命中
func WithCacheRecorder(r CacheRecorder) Option {
	return func(p *Parser) { p.cache.recorder = r }
}

// WithCacheSize 限制内存缓存条目数，0 表示不限制
func WithCacheSize(n int) Option {
	return func(p *Parser) { p.cache.capacity = n }
}

// Parser 工作流定义解析器：文本/字典 -> WorkflowDefinition，并缓存解析结果
type Parser struct {
	cache  *definitionCache
	store  SummaryStore
	logger *zap.Logger
	now    func() time.Time
}

// NewParser 创建解析器
func NewParser(logger *zap.Logger, opts ...Option) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Parser{
		cache:  newDefinitionCache(),
		logger: logger.With(zap.String("component", "dsl_parser")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse 解析 string、[]byte 或 map[string]any 形式的工作流定义
func (p *Parser) Parse(source any, format Format) (*workflow.WorkflowDefinition, error) {
	return p.ParseContext(context.Background(), source, format)
}

// ParseContext 同 Parse；ctx 用于同步摘要存储
func (p *Parser) ParseContext(ctx context.Context, source any, format Format) (*workflow.WorkflowDefinition, error) {
	def, err := decode(source, format)
	if err != nil {
		p.logger.Debug("workflow rejected", zap.Error(err))
		return nil, err
	}

	applyDefaults(def)
	if errs := def.CheckInvariants(); len(errs) > 0 {
		err := malformed(errs)
		p.logger.Debug("workflow rejected", zap.String("workflow_id", def.ID), zap.Error(err))
		return nil, err
	}

	summary := summarize(def, p.now())
	p.cache.put(def.Clone(), summary)
	if p.store != nil {
		if err := p.store.Put(ctx, summary); err != nil {
			p.logger.Warn("failed to store workflow summary", zap.String("workflow_id", def.ID), zap.Error(err))
		}
	}

	p.logger.Debug("workflow parsed",
		zap.String("workflow_id", def.ID),
		zap.Int("steps", len(def.Steps)),
		zap.Int("dependencies", summary.DependencyCount),
	)
	return def, nil
}

// ParseFile 从文件解析，格式由扩展名决定
func (p *Parser) ParseFile(path string) (*workflow.WorkflowDefinition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return p.Parse(data, format)
}

// Export 序列化定义。输出经过规范化（标签与依赖排序去重），相同定义总是得到相同文本
func (p *Parser) Export(def *workflow.WorkflowDefinition, format Format) (string, error) {
	return Export(def, format)
}

// ExportFile 序列化到文件，格式由扩展名决定
func (p *Parser) ExportFile(def *workflow.WorkflowDefinition, path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	out, err := Export(def, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write workflow file: %w", err)
	}
	return nil
}

// Export 是 Parse 的逆操作，FormatAuto 输出 YAML
func Export(def *workflow.WorkflowDefinition, format Format) (string, error) {
	if def == nil {
		return "", types.NewError(types.ErrInvalidRequest, "nil workflow definition")
	}
	norm := def.Clone()
	norm.Normalize()

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(norm, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal workflow JSON: %w", err)
		}
		return string(data) + "\n", nil
	case FormatYAML, FormatAuto, "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(norm); err != nil {
			return "", fmt.Errorf("marshal workflow YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return "", fmt.Errorf("marshal workflow YAML: %w", err)
		}
		return buf.String(), nil
	default:
		return "", types.Errorf(types.ErrUnsupportedFormat, "unsupported format %q", format)
	}
}

// Validate 检查结构问题（不检测环）。未知步骤类型与缺少 agent_id 的 agent 步骤只产生警告
func (p *Parser) Validate(def *workflow.WorkflowDefinition) *ValidationResult {
	result := &ValidationResult{Errors: []string{}, Warnings: []string{}}
	if def == nil {
		result.Errors = append(result.Errors, "workflow definition is nil")
		return result
	}

	if def.ID == "" {
		result.Errors = append(result.Errors, "missing required field: id")
	}
	if def.Name == "" {
		result.Errors = append(result.Errors, "missing required field: name")
	}
	if len(def.Steps) == 0 {
		result.Errors = append(result.Errors, "workflow must have at least one step")
	}
	for _, err := range def.CheckInvariants() {
		result.Errors = append(result.Errors, message(err))
	}

	for _, s := range def.Steps {
		if s.RetryPolicy != nil {
			if err := s.RetryPolicy.Validate(); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("step %q: invalid retry_policy: %v", s.ID, err))
			}
		}
		if s.Timeout < 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("step %q: timeout must not be negative", s.ID))
		}
		if !s.Type.Known() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("step %q: unknown step type %q", s.ID, s.Type))
		}
		if s.Type == workflow.StepTypeAgent && s.AgentID == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("step %q: agent step has no agent_id", s.ID))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// =============================================================================
// 缓存查询
// =============================================================================

// GetSummary 返回已解析工作流的摘要。内存缓存未命中时回落到摘要存储
func (p *Parser) GetSummary(ctx context.Context, workflowID string) (*Summary, bool) {
	if s, ok := p.cache.summary(workflowID); ok {
		return s, true
	}
	if p.store == nil {
		return nil, false
	}
	s, ok, err := p.store.Get(ctx, workflowID)
	if err != nil {
		p.logger.Warn("summary store lookup failed", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, false
	}
	return s, ok
}

// Get 返回缓存中定义的副本
func (p *Parser) Get(workflowID string) (*workflow.WorkflowDefinition, bool) {
	return p.cache.definition(workflowID)
}

// List 返回全部缓存摘要，按 ID 排序
func (p *Parser) List() []Summary {
	return p.cache.list()
}

// Forget 从内存缓存与摘要存储中移除
func (p *Parser) Forget(ctx context.Context, workflowID string) bool {
	removed := p.cache.remove(workflowID)
	if p.store != nil {
		if err := p.store.Delete(ctx, workflowID); err != nil {
			p.logger.Warn("failed to delete workflow summary", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}
	return removed
}

// =============================================================================
// 解码
// =============================================================================

func decode(source any, format Format) (*workflow.WorkflowDefinition, error) {
	switch src := source.(type) {
	case map[string]any:
		return decodeMap(src)
	case string:
		return decodeBytes([]byte(src), format)
	case []byte:
		return decodeBytes(src, format)
	case nil:
		return nil, types.NewError(types.ErrMalformedWorkflow, "workflow source is empty")
	default:
		return nil, types.Errorf(types.ErrUnsupportedFormat, "unsupported workflow source type %T", source)
	}
}

func decodeBytes(data []byte, format Format) (*workflow.WorkflowDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, types.NewError(types.ErrMalformedWorkflow, "workflow source is empty")
	}
	if format == FormatAuto || format == "" {
		format = sniff(data)
	}

	var raw map[string]any
	var def workflow.WorkflowDefinition
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, types.NewError(types.ErrMalformedWorkflow, "invalid JSON document").WithCause(err)
		}
		if err := checkRequired(raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, types.NewError(types.ErrMalformedWorkflow, "invalid workflow document").WithCause(err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, types.NewError(types.ErrMalformedWorkflow, "invalid YAML document").WithCause(err)
		}
		if err := checkRequired(raw); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, types.NewError(types.ErrMalformedWorkflow, "invalid workflow document").WithCause(err)
		}
	default:
		return nil, types.Errorf(types.ErrUnsupportedFormat, "unsupported format %q", format)
	}
	return &def, nil
}

// decodeMap 经 JSON 中转，[]map[string]any 等 Go 原生类型与文本输入得到相同结果
func decodeMap(src map[string]any) (*workflow.WorkflowDefinition, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, types.NewError(types.ErrMalformedWorkflow, "workflow map is not serializable").WithCause(err)
	}
	return decodeBytes(data, FormatJSON)
}

func sniff(data []byte) Format {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// checkRequired 校验顶层必填字段；空的 steps 视同缺失
func checkRequired(raw map[string]any) error {
	if raw == nil {
		return types.NewError(types.ErrMalformedWorkflow, "workflow document must be a mapping")
	}
	for _, key := range []string{keyID, keyName} {
		v, ok := raw[key]
		if !ok || v == nil || fmt.Sprint(v) == "" {
			return types.Errorf(types.ErrMalformedWorkflow, "missing required field: %s", key).WithDetail("field", key)
		}
	}
	steps, ok := raw[keySteps].([]any)
	if !ok || len(steps) == 0 {
		return types.Errorf(types.ErrMalformedWorkflow, "missing required field: %s", keySteps).WithDetail("field", keySteps)
	}
	if deps, ok := raw[keyDependencies]; ok && deps != nil {
		if _, isMap := deps.(map[string]any); !isMap {
			return types.Errorf(types.ErrMalformedWorkflow, "%s must be a mapping of step id to prerequisite ids", keyDependencies)
		}
	}
	return nil
}

// applyDefaults 步骤名称缺省为 ID，类型缺省为 agent
func applyDefaults(def *workflow.WorkflowDefinition) {
	for i := range def.Steps {
		s := &def.Steps[i]
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Type == "" {
			s.Type = workflow.StepTypeAgent
		}
	}
}

func malformed(errs []error) *types.Error {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = message(err)
	}
	return types.Errorf(types.ErrMalformedWorkflow, "malformed workflow: %s", strings.Join(msgs, "; ")).
		WithDetail("problems", msgs)
}

func message(err error) string {
	if te, ok := types.AsError(err); ok {
		return te.Message
	}
	return err.Error()
}

func summarize(def *workflow.WorkflowDefinition, now time.Time) *Summary {
	tags := append([]string(nil), def.Tags...)
	return &Summary{
		ID:              def.ID,
		Name:            def.Name,
		Version:         def.Version,
		Tags:            tags,
		StepCount:       len(def.Steps),
		DependencyCount: def.EdgeCount(),
		ParsedAt:        now,
	}
}
