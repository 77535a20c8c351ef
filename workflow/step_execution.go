package workflow

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/flowforge/types"
)

// StepStatus is the lifecycle state of one step within one run.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// IsTerminal reports whether no further transition is allowed.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

var allowedTransitions = map[StepStatus][]StepStatus{
	StepPending: {StepRunning, StepSkipped},
	StepRunning: {StepCompleted, StepFailed},
}

// CanTransition reports whether from -> to is a legal step transition.
func CanTransition(from, to StepStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StepExecution is the per-run record of a single step. It is owned by the
// run that created it.
type StepExecution struct {
	StepID    string     `json:"step_id"`
	Status    StepStatus `json:"status"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Result    any        `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts,omitempty"`
}

// NewStepExecution creates a PENDING execution for a step.
func NewStepExecution(stepID string) *StepExecution {
	return &StepExecution{StepID: stepID, Status: StepPending}
}

// Duration is EndTime - StartTime. ok is false unless both are set.
func (s *StepExecution) Duration() (d time.Duration, ok bool) {
	if s.StartTime == nil || s.EndTime == nil {
		return 0, false
	}
	return s.EndTime.Sub(*s.StartTime), true
}

// Transition moves the step to the next status, rejecting illegal moves.
func (s *StepExecution) Transition(to StepStatus) error {
	if !CanTransition(s.Status, to) {
		return types.Errorf(types.ErrInvalidTransition, "step %s: %s -> %s", s.StepID, s.Status, to)
	}
	s.Status = to
	return nil
}

// Start marks the step RUNNING at t.
func (s *StepExecution) Start(t time.Time) error {
	if err := s.Transition(StepRunning); err != nil {
		return err
	}
	s.StartTime = &t
	return nil
}

// Complete marks the step COMPLETED with its result.
func (s *StepExecution) Complete(t time.Time, result any) error {
	if err := s.Transition(StepCompleted); err != nil {
		return err
	}
	s.EndTime = &t
	s.Result = result
	return nil
}

// Fail marks the step FAILED with the error message.
func (s *StepExecution) Fail(t time.Time, err error) error {
	if terr := s.Transition(StepFailed); terr != nil {
		return terr
	}
	s.EndTime = &t
	if err != nil {
		s.Error = err.Error()
	}
	return nil
}

// Skip marks a PENDING step SKIPPED with the reason.
func (s *StepExecution) Skip(reason string) error {
	if err := s.Transition(StepSkipped); err != nil {
		return err
	}
	s.Error = reason
	return nil
}

// Clone copies the execution. Result is shared, not deep-copied.
func (s *StepExecution) Clone() *StepExecution {
	cp := *s
	if s.StartTime != nil {
		t := *s.StartTime
		cp.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	return &cp
}

// MarshalJSON adds a duration field only when it is defined.
func (s *StepExecution) MarshalJSON() ([]byte, error) {
	type alias StepExecution
	out := struct {
		*alias
		Duration *time.Duration `json:"duration,omitempty"`
	}{alias: (*alias)(s)}
	if d, ok := s.Duration(); ok {
		out.Duration = &d
	}
	return json.Marshal(out)
}
