package workflow

import (
	"sort"
	"sync"
	"time"
)

// ExecutionStatus represents the status of a run
type ExecutionStatus string

const (
	// ExecutionStatusRunning indicates the run is in progress
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted indicates every step completed
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed indicates at least one step did not complete,
	// or the run never started because the graph was invalid
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// ExecutionRecord is the queryable outcome of one run.
type ExecutionRecord struct {
	ExecutionID     string                    `json:"execution_id"`
	WorkflowID      string                    `json:"workflow_id"`
	WorkflowName    string                    `json:"workflow_name,omitempty"`
	Status          ExecutionStatus           `json:"status"`
	StepResults     map[string]*StepExecution `json:"step_results"`
	StartTime       time.Time                 `json:"start_time"`
	EndTime         *time.Time                `json:"end_time,omitempty"`
	TotalDuration   time.Duration             `json:"total_duration"`
	LevelsCompleted int                       `json:"levels_completed"`
	TotalLevels     int                       `json:"total_levels"`
	Levels          [][]string                `json:"levels,omitempty"`
	Cycles          [][]string                `json:"cycles,omitempty"`
	Error           string                    `json:"error,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.EndTime != nil {
		t := *r.EndTime
		cp.EndTime = &t
	}
	cp.StepResults = make(map[string]*StepExecution, len(r.StepResults))
	for id, se := range r.StepResults {
		cp.StepResults[id] = se.Clone()
	}
	cp.Levels = cloneLevels(r.Levels)
	cp.Cycles = cloneLevels(r.Cycles)
	return &cp
}

// ExecutionSummary is the listing view of a run.
type ExecutionSummary struct {
	ExecutionID     string             `json:"execution_id"`
	WorkflowID      string             `json:"workflow_id"`
	WorkflowName    string             `json:"workflow_name,omitempty"`
	Status          ExecutionStatus    `json:"status"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         *time.Time         `json:"end_time,omitempty"`
	TotalDuration   time.Duration      `json:"total_duration"`
	LevelsCompleted int                `json:"levels_completed"`
	TotalLevels     int                `json:"total_levels"`
	StepCounts      map[StepStatus]int `json:"step_counts"`
}

// Summary condenses the record for listings.
func (r *ExecutionRecord) Summary() ExecutionSummary {
	counts := make(map[StepStatus]int)
	for _, se := range r.StepResults {
		counts[se.Status]++
	}
	s := ExecutionSummary{
		ExecutionID:     r.ExecutionID,
		WorkflowID:      r.WorkflowID,
		WorkflowName:    r.WorkflowName,
		Status:          r.Status,
		StartTime:       r.StartTime,
		TotalDuration:   r.TotalDuration,
		LevelsCompleted: r.LevelsCompleted,
		TotalLevels:     r.TotalLevels,
		StepCounts:      counts,
	}
	if r.EndTime != nil {
		t := *r.EndTime
		s.EndTime = &t
	}
	return s
}

func cloneLevels(in [][]string) [][]string {
	if in == nil {
		return nil
	}
	out := make([][]string, len(in))
	for i, l := range in {
		out[i] = cloneStrings(l)
	}
	return out
}

// ExecutionStore is the run table: execution id -> latest record snapshot.
// Records handed in are owned by the store; reads return copies.
type ExecutionStore struct {
	records map[string]*ExecutionRecord
	mu      sync.RWMutex
}

// NewExecutionStore creates an empty run table.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{records: make(map[string]*ExecutionRecord)}
}

// Save inserts or replaces a record.
func (s *ExecutionStore) Save(record *ExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ExecutionID] = record
}

// Replace updates a record that is still stored. It reports false, and stores
// nothing, once the run was deleted.
func (s *ExecutionStore) Replace(record *ExecutionRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ExecutionID]; !ok {
		return false
	}
	s.records[record.ExecutionID] = record
	return true
}

// Get retrieves a copy of a record by execution id.
func (s *ExecutionStore) Get(executionID string) (*ExecutionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[executionID]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Delete removes a record, reporting whether it existed.
func (s *ExecutionStore) Delete(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[executionID]; !ok {
		return false
	}
	delete(s.records, executionID)
	return true
}

// Len returns the number of stored runs.
func (s *ExecutionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Summaries lists every run ordered by start time, then execution id.
func (s *ExecutionStore) Summaries() []ExecutionSummary {
	return s.summarize(func(*ExecutionRecord) bool { return true })
}

// ListByWorkflow returns the runs of one workflow.
func (s *ExecutionStore) ListByWorkflow(workflowID string) []ExecutionSummary {
	return s.summarize(func(r *ExecutionRecord) bool { return r.WorkflowID == workflowID })
}

// PurgeFinishedBefore drops finished runs that ended before cutoff.
func (s *ExecutionStore) PurgeFinishedBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.records {
		if r.Status != ExecutionStatusRunning && r.EndTime != nil && r.EndTime.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n
}

func (s *ExecutionStore) summarize(keep func(*ExecutionRecord) bool) []ExecutionSummary {
	s.mu.RLock()
	out := make([]ExecutionSummary, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Summary())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ExecutionID < out[j].ExecutionID
	})
	return out
}
