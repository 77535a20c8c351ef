package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/flowforge/types"
)

// StepType selects which registered executor handles a step.
type StepType string

const (
	// StepTypeAgent delegates the step to a named external agent.
	StepTypeAgent StepType = "agent"
	// StepTypeService calls an external service.
	StepTypeService StepType = "service"
	// StepTypeTool invokes a tool.
	StepTypeTool StepType = "tool"
	// StepTypeTransform reshapes data between steps.
	StepTypeTransform StepType = "transform"
	// StepTypeHuman waits for a human decision.
	StepTypeHuman StepType = "human"
)

// KnownStepTypes lists the built-in step kinds.
func KnownStepTypes() []StepType {
	return []StepType{StepTypeAgent, StepTypeService, StepTypeTool, StepTypeTransform, StepTypeHuman}
}

// Known reports whether t is one of the built-in step kinds.
func (t StepType) Known() bool {
	for _, k := range KnownStepTypes() {
		if t == k {
			return true
		}
	}
	return false
}

// BackoffType is the delay growth strategy between retry attempts.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// RetryPolicy is retry data attached to a step. The engine only carries it;
// enforcement belongs to the executor chain (see WithRetry).
type RetryPolicy struct {
	MaxAttempts    int         `json:"max_attempts" yaml:"max_attempts"`
	Backoff        BackoffType `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	InitialDelayMs int64       `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`
	MaxDelayMs     int64       `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
}

// DefaultRetryPolicy returns the policy attached by the optimizer.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:    3,
		Backoff:        BackoffExponential,
		InitialDelayMs: 500,
		MaxDelayMs:     10000,
	}
}

// InitialDelay returns the first backoff delay.
func (p *RetryPolicy) InitialDelay() time.Duration {
	return time.Duration(p.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap. Zero means uncapped.
func (p *RetryPolicy) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMs) * time.Millisecond
}

// Validate checks the policy values.
func (p *RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	switch p.Backoff {
	case "", BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff %q", p.Backoff)
	}
	if p.InitialDelayMs < 0 || p.MaxDelayMs < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if p.MaxDelayMs > 0 && p.MaxDelayMs < p.InitialDelayMs {
		return fmt.Errorf("max_delay_ms (%d) is below initial_delay_ms (%d)", p.MaxDelayMs, p.InitialDelayMs)
	}
	return nil
}

// Clone returns a copy of the policy, nil-safe.
func (p *RetryPolicy) Clone() *RetryPolicy {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// WorkflowStep is one named unit of work in a definition.
type WorkflowStep struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Type        StepType       `json:"type" yaml:"type"`
	AgentID     string         `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	Inputs      []string       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     []string       `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	RetryPolicy *RetryPolicy   `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`

	// Timeout in seconds; zero means unbounded.
	Timeout float64        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// TimeoutDuration converts Timeout to a duration.
func (s *WorkflowStep) TimeoutDuration() time.Duration {
	if s.Timeout <= 0 {
		return 0
	}
	return time.Duration(s.Timeout * float64(time.Second))
}

// Clone returns a deep copy of the step.
func (s *WorkflowStep) Clone() WorkflowStep {
	cp := *s
	cp.Inputs = cloneStrings(s.Inputs)
	cp.Outputs = cloneStrings(s.Outputs)
	cp.RetryPolicy = s.RetryPolicy.Clone()
	if s.Config != nil {
		cp.Config = cloneValue(s.Config).(map[string]any)
	}
	return cp
}

// WorkflowDefinition is a declarative graph of steps and their prerequisites.
// Step order is for readability only; execution order comes from Dependencies.
type WorkflowDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string         `json:"version,omitempty" yaml:"version,omitempty"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Steps       []WorkflowStep `json:"steps" yaml:"steps"`

	// Dependencies maps a step id to its prerequisite step ids.
	Dependencies map[string][]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Step looks up a step by id.
func (d *WorkflowDefinition) Step(id string) (*WorkflowStep, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// StepIDs returns step ids in declaration order.
func (d *WorkflowDefinition) StepIDs() []string {
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Prerequisites returns a copy of the prerequisite ids of a step.
func (d *WorkflowDefinition) Prerequisites(id string) []string {
	return cloneStrings(d.Dependencies[id])
}

// Dependents inverts Dependencies: prerequisite id -> dependent ids, in step
// declaration order.
func (d *WorkflowDefinition) Dependents() map[string][]string {
	out := make(map[string][]string)
	for _, s := range d.Steps {
		for _, pre := range d.Dependencies[s.ID] {
			out[pre] = append(out[pre], s.ID)
		}
	}
	return out
}

// EdgeCount returns the number of dependency edges.
func (d *WorkflowDefinition) EdgeCount() int {
	n := 0
	for _, pres := range d.Dependencies {
		n += len(pres)
	}
	return n
}

// Normalize applies set semantics to Tags and Dependencies: sorted,
// deduplicated, and empty dependency entries removed.
func (d *WorkflowDefinition) Normalize() {
	d.Tags = uniqueSorted(d.Tags)
	if len(d.Dependencies) == 0 {
		d.Dependencies = nil
		return
	}
	for id, pres := range d.Dependencies {
		pres = uniqueSorted(pres)
		if len(pres) == 0 {
			delete(d.Dependencies, id)
			continue
		}
		d.Dependencies[id] = pres
	}
	if len(d.Dependencies) == 0 {
		d.Dependencies = nil
	}
}

// CheckInvariants reports structural violations: missing or duplicate step
// ids, dangling dependency references, and self-dependencies. Cycles are the
// validator's concern.
func (d *WorkflowDefinition) CheckInvariants() []error {
	var errs []error
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.ID == "" {
			errs = append(errs, types.Errorf(types.ErrMalformedWorkflow, "step at index %d has no id", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, types.Errorf(types.ErrMalformedWorkflow, "duplicate step id %q", s.ID))
		}
		seen[s.ID] = true
	}

	keys := make([]string, 0, len(d.Dependencies))
	for k := range d.Dependencies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, id := range keys {
		if !seen[id] {
			errs = append(errs, types.Errorf(types.ErrMalformedWorkflow, "dependency references unknown step %q", id))
		}
		for _, pre := range d.Dependencies[id] {
			switch {
			case pre == id:
				errs = append(errs, types.Errorf(types.ErrMalformedWorkflow, "step %q depends on itself", id))
			case !seen[pre]:
				errs = append(errs, types.Errorf(types.ErrMalformedWorkflow, "step %q depends on unknown step %q", id, pre))
			}
		}
	}
	return errs
}

// Clone returns a deep copy that shares no mutable state with d.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Tags = cloneStrings(d.Tags)
	if d.Steps != nil {
		cp.Steps = make([]WorkflowStep, len(d.Steps))
		for i := range d.Steps {
			cp.Steps[i] = d.Steps[i].Clone()
		}
	}
	if d.Dependencies != nil {
		cp.Dependencies = make(map[string][]string, len(d.Dependencies))
		for k, v := range d.Dependencies {
			cp.Dependencies[k] = cloneStrings(v)
		}
	}
	return &cp
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := cloneStrings(in)
	sort.Strings(out)
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}
