package dsl

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/BaSui01/flowforge/types"
)

// Format 序列化格式
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	// FormatAuto 根据内容首字符判断（'{' 为 JSON，其余按 YAML 处理）
	FormatAuto Format = "auto"
)

// ParseFormat 解析格式名称，大小写不敏感，"yml" 视为 YAML
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "", "auto":
		return FormatAuto, nil
	default:
		return "", types.Errorf(types.ErrUnsupportedFormat, "unsupported format %q", name)
	}
}

// FormatFromPath 根据文件扩展名推断格式
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", types.Errorf(types.ErrUnsupportedFormat, "cannot infer format from file name %q", filepath.Base(path))
	}
}

// 文档顶层字段
const (
	keyID           = "id"
	keyName         = "name"
	keySteps        = "steps"
	keyDependencies = "dependencies"
)

// Summary 已解析工作流的摘要，无需重新解析即可查询
type Summary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Version         string    `json:"version,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	StepCount       int       `json:"step_count"`
	DependencyCount int       `json:"dependency_count"`
	ParsedAt        time.Time `json:"parsed_at"`
}

// ValidationResult 定义校验结果。Errors 非空时 Valid 为 false
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
