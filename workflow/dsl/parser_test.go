package dsl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/workflow"
)

const linearYAML = `
id: linear
name: Linear
version: "1.0"
tags: [b, a]
steps:
  - id: research
    agent_id: researcher
  - id: design
    name: Design
    type: service
  - id: implement
    type: tool
    timeout: 2.5
    retry_policy:
      max_attempts: 2
      backoff: fixed
dependencies:
  design: [research]
  implement: [design]
`

const linearJSON = `{
  "id": "linear",
  "name": "Linear",
  "steps": [
    {"id": "research"},
    {"id": "design"},
    {"id": "implement"}
  ],
  "dependencies": {"design": ["research"], "implement": ["design"]}
}`

func newTestParser(t *testing.T, opts ...Option) *Parser {
	t.Helper()
	return NewParser(zaptest.NewLogger(t), opts...)
}

func requireMalformed(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrMalformedWorkflow), "got %v", err)
}

func TestParser_ParseYAML(t *testing.T) {
	p := newTestParser(t)

	def, err := p.Parse(linearYAML, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "linear", def.ID)
	assert.Equal(t, "1.0", def.Version)
	assert.Equal(t, []string{"research", "design", "implement"}, def.StepIDs())
	assert.Equal(t, []string{"research"}, def.Dependencies["design"])

	research, _ := def.Step("research")
	assert.Equal(t, "research", research.Name, "name defaults to id")
	assert.Equal(t, workflow.StepTypeAgent, research.Type, "type defaults to agent")
	assert.Equal(t, "researcher", research.AgentID)

	implement, _ := def.Step("implement")
	assert.Equal(t, workflow.StepTypeTool, implement.Type)
	assert.Equal(t, 2.5, implement.Timeout)
	require.NotNil(t, implement.RetryPolicy)
	assert.Equal(t, 2, implement.RetryPolicy.MaxAttempts)
	assert.Equal(t, workflow.BackoffFixed, implement.RetryPolicy.Backoff)
}

func TestParser_Sources(t *testing.T) {
	p := newTestParser(t)

	tests := []struct {
		name   string
		source any
		format Format
	}{
		{name: "json string", source: linearJSON, format: FormatJSON},
		{name: "json bytes auto", source: []byte("  " + linearJSON), format: FormatAuto},
		{name: "yaml bytes", source: []byte(linearYAML), format: FormatYAML},
		{name: "yaml auto", source: linearYAML, format: FormatAuto},
		{name: "map", source: map[string]any{
			"id":   "linear",
			"name": "Linear",
			"steps": []map[string]any{
				{"id": "research"}, {"id": "design"}, {"id": "implement"},
			},
			"dependencies": map[string][]string{
				"design":    {"research"},
				"implement": {"design"},
			},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := p.Parse(tt.source, tt.format)
			require.NoError(t, err)
			assert.Equal(t, "linear", def.ID)
			assert.Len(t, def.Steps, 3)
			assert.Equal(t, 2, def.EdgeCount())
		})
	}
}

func TestParser_RejectsMalformed(t *testing.T) {
	p := newTestParser(t)

	tests := []struct {
		name   string
		source string
	}{
		{name: "missing id", source: `{"name": "x", "steps": [{"id": "a"}]}`},
		{name: "empty id", source: `{"id": "", "name": "x", "steps": [{"id": "a"}]}`},
		{name: "missing name", source: `{"id": "x", "steps": [{"id": "a"}]}`},
		{name: "missing steps", source: `{"id": "x", "name": "x"}`},
		{name: "empty steps", source: `{"id": "x", "name": "x", "steps": []}`},
		{name: "steps not a list", source: `{"id": "x", "name": "x", "steps": "a"}`},
		{name: "dependencies not a map", source: `{"id": "x", "name": "x", "steps": [{"id": "a"}], "dependencies": ["a"]}`},
		{name: "step without id", source: `{"id": "x", "name": "x", "steps": [{"name": "anon"}]}`},
		{name: "duplicate ids", source: `{"id": "x", "name": "x", "steps": [{"id": "a"}, {"id": "a"}]}`},
		{name: "self dependency", source: `{"id": "x", "name": "x", "steps": [{"id": "a"}], "dependencies": {"a": ["a"]}}`},
		{name: "unknown prerequisite", source: `{"id": "x", "name": "x", "steps": [{"id": "a"}], "dependencies": {"a": ["ghost"]}}`},
		{name: "unknown dependent", source: `{"id": "x", "name": "x", "steps": [{"id": "a"}], "dependencies": {"ghost": ["a"]}}`},
		{name: "invalid json", source: `{"id": `},
		{name: "wrong field type", source: `{"id": "x", "name": "x", "steps": [{"id": "a", "timeout": "soon"}]}`},
		{name: "blank", source: "   \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := p.Parse(tt.source, FormatAuto)
			requireMalformed(t, err)
			assert.Nil(t, def)
		})
	}

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := p.Parse("id: [unclosed", FormatYAML)
		requireMalformed(t, err)
	})
	t.Run("yaml sequence document", func(t *testing.T) {
		_, err := p.Parse("- a\n- b\n", FormatYAML)
		requireMalformed(t, err)
	})
	t.Run("nil source", func(t *testing.T) {
		_, err := p.Parse(nil, FormatAuto)
		requireMalformed(t, err)
	})
	t.Run("problems detail", func(t *testing.T) {
		_, err := p.Parse(`{"id": "x", "name": "x", "steps": [{"id": "a"}, {"id": "a"}], "dependencies": {"a": ["a"]}}`, FormatJSON)
		te, ok := types.AsError(err)
		require.True(t, ok)
		assert.Len(t, te.Details["problems"], 2)
	})
}

func TestParser_UnsupportedInput(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse(42, FormatAuto)
	assert.True(t, types.IsCode(err, types.ErrUnsupportedFormat))

	_, err = p.Parse(linearJSON, Format("toml"))
	assert.True(t, types.IsCode(err, types.ErrUnsupportedFormat))
}

func TestParser_DoesNotCheckCycles(t *testing.T) {
	p := newTestParser(t)
	def, err := p.Parse(`{"id": "c", "name": "c", "steps": [{"id": "A"}, {"id": "B"}], "dependencies": {"A": ["B"], "B": ["A"]}}`, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, def.EdgeCount())
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"yaml": FormatYAML, "YML": FormatYAML, "json": FormatJSON, "": FormatAuto, "auto": FormatAuto} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.True(t, types.IsCode(err, types.ErrUnsupportedFormat))
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("flows/a.yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	f, err = FormatFromPath("a.JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = FormatFromPath("a.txt")
	assert.True(t, types.IsCode(err, types.ErrUnsupportedFormat))
}

// =============================================================================
// Export
// =============================================================================

func TestExport_Normalizes(t *testing.T) {
	p := newTestParser(t)
	def, err := p.Parse(linearYAML, FormatYAML)
	require.NoError(t, err)
	def.Dependencies["implement"] = []string{"research", "design", "design"}

	out, err := p.Export(def, FormatYAML)
	require.NoError(t, err)
	assert.Contains(t, out, "tags:\n  - a\n  - b\n")
	assert.Contains(t, out, "implement:\n    - design\n    - research\n")

	again, err := p.Export(def, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, out, again, "export is deterministic")

	assert.Equal(t, []string{"b", "a"}, def.Tags, "input definition untouched")
}

func TestExport_JSON(t *testing.T) {
	def, err := Sample("diamond")
	require.NoError(t, err)

	out, err := Export(def, FormatJSON)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "}\n"))
	assert.Contains(t, out, `  "id": "diamond",`)

	back, err := NewParser(nil).Parse(out, FormatAuto)
	require.NoError(t, err)
	assert.Equal(t, def, back)
}

func TestExport_Errors(t *testing.T) {
	_, err := Export(nil, FormatYAML)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))

	def, err := Sample("diamond")
	require.NoError(t, err)
	_, err = Export(def, Format("xml"))
	assert.True(t, types.IsCode(err, types.ErrUnsupportedFormat))
}

func TestParser_Files(t *testing.T) {
	p := newTestParser(t)
	dir := t.TempDir()

	def, err := Sample("project_generation")
	require.NoError(t, err)

	for _, name := range []string{"flow.yaml", "flow.json"} {
		path := filepath.Join(dir, name)
		require.NoError(t, p.ExportFile(def, path))

		back, err := p.ParseFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, def, back, name)
	}

	_, err = p.ParseFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Error(t, p.ExportFile(def, filepath.Join(dir, "flow.txt")))
}

// =============================================================================
// Validate
// =============================================================================

func TestParser_Validate(t *testing.T) {
	p := newTestParser(t)

	t.Run("valid sample", func(t *testing.T) {
		def, err := Sample("project_generation")
		require.NoError(t, err)
		res := p.Validate(def)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
		assert.Empty(t, res.Warnings)
	})

	t.Run("cycles are not errors", func(t *testing.T) {
		def, err := Sample("cyclic")
		require.NoError(t, err)
		assert.True(t, p.Validate(def).Valid)
	})

	t.Run("errors and warnings", func(t *testing.T) {
		def := &workflow.WorkflowDefinition{
			Steps: []workflow.WorkflowStep{
				{ID: "a", Type: "robot"},
				{ID: "b", Type: workflow.StepTypeAgent},
				{ID: "c", Type: workflow.StepTypeTool, Timeout: -1, RetryPolicy: &workflow.RetryPolicy{}},
				{ID: "c", Type: workflow.StepTypeTool},
			},
			Dependencies: map[string][]string{"a": {"ghost"}},
		}
		res := p.Validate(def)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors, "missing required field: id")
		assert.Contains(t, res.Errors, "missing required field: name")
		assert.Contains(t, res.Errors, `duplicate step id "c"`)
		assert.Contains(t, res.Errors, `step "a" depends on unknown step "ghost"`)
		assert.Contains(t, res.Errors, `step "c": timeout must not be negative`)
		assert.Len(t, res.Errors, 6)
		assert.Equal(t, []string{
			`step "a": unknown step type "robot"`,
			`step "b": agent step has no agent_id`,
		}, res.Warnings)
	})

	t.Run("nil", func(t *testing.T) {
		assert.False(t, p.Validate(nil).Valid)
	})
}

// =============================================================================
// 缓存
// =============================================================================

type countingRecorder struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (r *countingRecorder) RecordCacheHit(string) {
	r.mu.Lock()
	r.hits++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordCacheMiss(string) {
	r.mu.Lock()
	r.misses++
	r.mu.Unlock()
}

func TestParser_Cache(t *testing.T) {
	rec := &countingRecorder{}
	p := newTestParser(t, WithCacheRecorder(rec))
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	ctx := context.Background()

	_, ok := p.GetSummary(ctx, "linear")
	assert.False(t, ok)

	_, err := p.Parse(linearYAML, FormatYAML)
	require.NoError(t, err)

	summary, ok := p.GetSummary(ctx, "linear")
	require.True(t, ok)
	assert.Equal(t, &Summary{
		ID:              "linear",
		Name:            "Linear",
		Version:         "1.0",
		Tags:            []string{"b", "a"},
		StepCount:       3,
		DependencyCount: 2,
		ParsedAt:        fixed,
	}, summary)

	cached, ok := p.Get("linear")
	require.True(t, ok)
	cached.Steps[0].ID = "mutated"
	again, _ := p.Get("linear")
	assert.Equal(t, "research", again.Steps[0].ID, "Get returns a copy")

	assert.Equal(t, 3, rec.hits)
	assert.Equal(t, 1, rec.misses)

	assert.True(t, p.Forget(ctx, "linear"))
	assert.False(t, p.Forget(ctx, "linear"))
	_, ok = p.Get("linear")
	assert.False(t, ok)
}

func TestParser_CacheRejectedNotStored(t *testing.T) {
	p := newTestParser(t)
	_, err := p.Parse(`{"id": "bad", "name": "bad", "steps": [{"id": "a"}], "dependencies": {"a": ["a"]}}`, FormatJSON)
	require.Error(t, err)
	assert.Empty(t, p.List())
}

func TestParser_CacheEviction(t *testing.T) {
	p := newTestParser(t, WithCacheSize(2))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	p.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, name := range []string{"linear_chain", "diamond", "fan_out_fan_in"} {
		src, err := SampleSource(name)
		require.NoError(t, err)
		_, err = p.Parse(src, FormatYAML)
		require.NoError(t, err)
	}

	list := p.List()
	require.Len(t, list, 2)
	assert.Equal(t, "diamond", list[0].ID)
	assert.Equal(t, "fan_out_fan_in", list[1].ID)
}

type memoryStore struct {
	mu       sync.Mutex
	data     map[string]Summary
	failPuts bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]Summary)}
}

func (s *memoryStore) Put(_ context.Context, summary *Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPuts {
		return errors.New("store unavailable")
	}
	s.data[summary.ID] = *summary
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Summary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[id]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func TestParser_SummaryStore(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	writer := newTestParser(t, WithSummaryStore(store))
	_, err := writer.Parse(linearYAML, FormatYAML)
	require.NoError(t, err)

	reader := newTestParser(t, WithSummaryStore(store))
	summary, ok := reader.GetSummary(ctx, "linear")
	require.True(t, ok, "falls back to the store")
	assert.Equal(t, 3, summary.StepCount)
	_, ok = reader.Get("linear")
	assert.False(t, ok, "definitions are not stored out of process")

	reader.Forget(ctx, "linear")
	_, ok = writer.GetSummary(ctx, "linear")
	assert.True(t, ok, "writer keeps its in-memory entry")
	_, ok = reader.GetSummary(ctx, "linear")
	assert.False(t, ok)
}

func TestParser_SummaryStoreFailureIsNotFatal(t *testing.T) {
	store := newMemoryStore()
	store.failPuts = true
	p := newTestParser(t, WithSummaryStore(store))

	_, err := p.Parse(linearYAML, FormatYAML)
	require.NoError(t, err)
	_, ok := p.GetSummary(context.Background(), "linear")
	assert.True(t, ok)
}
