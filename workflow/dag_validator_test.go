package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/types"
)

func TestDAGValidator_Diamond(t *testing.T) {
	v := NewDAGValidator(zap.NewNop())
	result := v.Validate(diamondDef())

	require.True(t, result.IsValidDAG)
	assert.NotNil(t, result.CyclesDetected)
	assert.Empty(t, result.CyclesDetected)
	assert.Equal(t, [][]string{{"start"}, {"left", "right"}, {"end"}}, result.Levels)

	m := result.GraphMetrics
	assert.Equal(t, 4, m.StepCount)
	assert.Equal(t, 4, m.EdgeCount)
	assert.Equal(t, 3, m.Depth)
	assert.Equal(t, 2, m.MaxWidth)
	assert.Equal(t, 1, m.RootCount)
	assert.Equal(t, 1, m.LeafCount)
	assert.Equal(t, []string{"start", "left", "end"}, m.CriticalPath)
	assert.InDelta(t, 4.0/3.0, m.ParallelismRatio, 1e-9)
}

func TestDAGValidator_LinearChain(t *testing.T) {
	for _, n := range []int{1, 2, 5, 10} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			def := &WorkflowDefinition{ID: "chain", Dependencies: map[string][]string{}}
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("s%d", i)
				def.Steps = append(def.Steps, step(id))
				if i > 0 {
					def.Dependencies[id] = []string{fmt.Sprintf("s%d", i-1)}
				}
			}

			levels, err := NewDAGValidator(nil).GetExecutionOrder(def)
			require.NoError(t, err)
			require.Len(t, levels, n)
			for i, lvl := range levels {
				assert.Equal(t, []string{fmt.Sprintf("s%d", i)}, lvl)
			}
		})
	}
}

func TestDAGValidator_IndependentStepsShareLevel(t *testing.T) {
	levels, err := NewDAGValidator(nil).GetExecutionOrder(newDef("flat", nil, "c", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"c", "a", "b"}}, levels, "declaration order is kept inside a level")
}

func TestDAGValidator_Cycle(t *testing.T) {
	v := NewDAGValidator(nil)
	result := v.Validate(cyclicDef())

	assert.False(t, result.IsValidDAG)
	require.Len(t, result.CyclesDetected, 1)
	assert.ElementsMatch(t, []string{"A", "B"}, result.CyclesDetected[0])
	assert.Nil(t, result.Levels)
	assert.Zero(t, result.GraphMetrics.Depth)

	_, err := v.GetExecutionOrder(cyclicDef())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidDAG))
	assert.Contains(t, err.Error(), "Invalid DAG")
	assert.Contains(t, err.Error(), "A -> B -> A")
}

func TestDAGValidator_SelfLoop(t *testing.T) {
	def := newDef("self", map[string][]string{"a": {"a"}}, "a")
	result := NewDAGValidator(nil).Validate(def)
	assert.False(t, result.IsValidDAG)
	assert.Equal(t, [][]string{{"a"}}, result.CyclesDetected)
}

func TestDAGValidator_CycleBehindValidPrefix(t *testing.T) {
	def := newDef("tail", map[string][]string{
		"b": {"a"},
		"c": {"b", "d"},
		"d": {"c"},
	}, "a", "b", "c", "d")
	result := NewDAGValidator(nil).Validate(def)
	assert.False(t, result.IsValidDAG)
	require.Len(t, result.CyclesDetected, 1)
	assert.ElementsMatch(t, []string{"c", "d"}, result.CyclesDetected[0])
}

func TestDAGValidator_UnknownReferencesAreWarnings(t *testing.T) {
	def := newDef("dangling", map[string][]string{
		"b":     {"a", "ghost"},
		"ghost": {"a"},
	}, "a", "b")
	result := NewDAGValidator(nil).Validate(def)

	require.True(t, result.IsValidDAG)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, result.Levels)
	assert.Equal(t, 1, result.GraphMetrics.EdgeCount)
	assert.Len(t, result.Warnings, 2)
}

func TestDAGValidator_Empty(t *testing.T) {
	result := NewDAGValidator(nil).Validate(&WorkflowDefinition{ID: "empty"})
	assert.True(t, result.IsValidDAG)
	assert.Empty(t, result.Levels)
	assert.Zero(t, result.GraphMetrics.Depth)
}

func TestFormatCycle(t *testing.T) {
	assert.Equal(t, "A -> B -> A", FormatCycle([]string{"A", "B"}))
	assert.Equal(t, "a -> a", FormatCycle([]string{"a"}))
	assert.Equal(t, "", FormatCycle(nil))
}
