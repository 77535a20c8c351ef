package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowforge/types"
)

func TestStepType_Known(t *testing.T) {
	for _, k := range KnownStepTypes() {
		assert.True(t, k.Known(), string(k))
	}
	assert.False(t, StepType("robot").Known())
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{name: "default", policy: *DefaultRetryPolicy()},
		{name: "zero attempts", policy: RetryPolicy{MaxAttempts: 0}, wantErr: true},
		{name: "unknown backoff", policy: RetryPolicy{MaxAttempts: 2, Backoff: "random"}, wantErr: true},
		{name: "negative delay", policy: RetryPolicy{MaxAttempts: 2, InitialDelayMs: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRetryPolicy_Delays(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 500*time.Millisecond, p.InitialDelay())
	assert.Equal(t, 10*time.Second, p.MaxDelay())
}

func TestWorkflowStep_TimeoutDuration(t *testing.T) {
	s := step("a")
	assert.Zero(t, s.TimeoutDuration())
	s.Timeout = 1.5
	assert.Equal(t, 1500*time.Millisecond, s.TimeoutDuration())
}

func TestWorkflowDefinition_Lookups(t *testing.T) {
	def := diamondDef()

	s, ok := def.Step("left")
	require.True(t, ok)
	assert.Equal(t, "left", s.ID)
	_, ok = def.Step("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"start", "left", "right", "end"}, def.StepIDs())
	assert.Equal(t, []string{"left", "right"}, def.Prerequisites("end"))
	assert.Empty(t, def.Prerequisites("start"))
	assert.Equal(t, map[string][]string{
		"start": {"left", "right"},
		"left":  {"end"},
		"right": {"end"},
	}, def.Dependents())
	assert.Equal(t, 4, def.EdgeCount())
}

func TestWorkflowDefinition_PrerequisitesIsCopy(t *testing.T) {
	def := diamondDef()
	pres := def.Prerequisites("end")
	pres[0] = "mutated"
	assert.Equal(t, []string{"left", "right"}, def.Dependencies["end"])
}

func TestWorkflowDefinition_Normalize(t *testing.T) {
	def := newDef("n", map[string][]string{
		"b": {"a", "a"},
		"c": {},
	}, "a", "b", "c")
	def.Tags = []string{"z", "a", "z"}

	def.Normalize()

	assert.Equal(t, []string{"a", "z"}, def.Tags)
	assert.Equal(t, map[string][]string{"b": {"a"}}, def.Dependencies)
}

func TestWorkflowDefinition_CheckInvariants(t *testing.T) {
	tests := []struct {
		name string
		def  *WorkflowDefinition
		want int
	}{
		{name: "valid diamond", def: diamondDef(), want: 0},
		{name: "duplicate id", def: newDef("d", nil, "a", "a"), want: 1},
		{name: "missing id", def: newDef("d", nil, "a", ""), want: 1},
		{name: "self dependency", def: newDef("d", map[string][]string{"a": {"a"}}, "a"), want: 1},
		{name: "unknown prerequisite", def: newDef("d", map[string][]string{"a": {"ghost"}}, "a"), want: 1},
		{name: "unknown dependent", def: newDef("d", map[string][]string{"ghost": {"a"}}, "a"), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.def.CheckInvariants()
			assert.Len(t, errs, tt.want)
			for _, err := range errs {
				assert.True(t, types.IsCode(err, types.ErrMalformedWorkflow))
			}
		})
	}
}

func TestWorkflowDefinition_Clone(t *testing.T) {
	def := diamondDef()
	def.Tags = []string{"x"}
	def.Steps[0].RetryPolicy = DefaultRetryPolicy()
	def.Steps[0].Config = map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{1}}
	def.Steps[0].Inputs = []string{"in"}

	cp := def.Clone()
	require.Equal(t, def, cp)

	cp.Tags[0] = "y"
	cp.Dependencies["end"][0] = "mutated"
	cp.Steps[0].RetryPolicy.MaxAttempts = 99
	cp.Steps[0].Config["nested"].(map[string]any)["k"] = "changed"
	cp.Steps[0].Inputs[0] = "changed"
	cp.Steps = append(cp.Steps, step("extra"))

	assert.Equal(t, "x", def.Tags[0])
	assert.Equal(t, "left", def.Dependencies["end"][0])
	assert.Equal(t, 3, def.Steps[0].RetryPolicy.MaxAttempts)
	assert.Equal(t, "v", def.Steps[0].Config["nested"].(map[string]any)["k"])
	assert.Equal(t, "in", def.Steps[0].Inputs[0])
	assert.Len(t, def.Steps, 4)

	var nilDef *WorkflowDefinition
	assert.Nil(t, nilDef.Clone())
}
