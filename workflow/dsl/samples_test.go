package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/workflow"
)

func TestSampleNames(t *testing.T) {
	assert.Equal(t, []string{"cyclic", "diamond", "fan_out_fan_in", "linear_chain", "project_generation"}, SampleNames())
}

func TestSamples_ParseAndValidate(t *testing.T) {
	validator := workflow.NewDAGValidator(zap.NewNop())

	want := map[string]struct {
		levels int
		width  int
	}{
		"linear_chain":       {levels: 3, width: 1},
		"diamond":            {levels: 3, width: 2},
		"fan_out_fan_in":     {levels: 3, width: 4},
		"project_generation": {levels: 6, width: 3},
	}

	for _, name := range SampleNames() {
		t.Run(name, func(t *testing.T) {
			def, err := Sample(name)
			require.NoError(t, err)
			assert.Equal(t, name, def.ID)

			res := validator.Validate(def)
			if name == "cyclic" {
				assert.False(t, res.IsValidDAG)
				require.Len(t, res.CyclesDetected, 1)
				return
			}
			require.True(t, res.IsValidDAG)
			assert.Len(t, res.Levels, want[name].levels)
			assert.Equal(t, want[name].width, res.GraphMetrics.MaxWidth)
		})
	}
}

func TestSample_Unknown(t *testing.T) {
	_, err := Sample("nope")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}
