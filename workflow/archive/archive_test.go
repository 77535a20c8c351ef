package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowforge/internal/database"
	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/workflow"
)

type queryRecorder struct {
	mu  sync.Mutex
	ops map[string]int
	db  string
}

func (r *queryRecorder) RecordDBQuery(database, operation string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = map[string]int{}
	}
	r.db = database
	r.ops[operation]++
}

func newTestArchive(t *testing.T, opts ...Option) *GormArchive {
	t.Helper()
	// 内存 sqlite 每个连接独立，限制为单连接
	pool, err := database.Open(context.Background(), database.DriverSQLite, ":memory:",
		database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	a, err := NewGormArchive(context.Background(), pool, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return a
}

func sampleRecord(id, workflowID string, start time.Time, status workflow.ExecutionStatus) *workflow.ExecutionRecord {
	end := start.Add(1500 * time.Millisecond)
	stepStart := start
	return &workflow.ExecutionRecord{
		ExecutionID:  id,
		WorkflowID:   workflowID,
		WorkflowName: "Sample",
		Status:       status,
		StepResults: map[string]*workflow.StepExecution{
			"a": {StepID: "a", Status: workflow.StepCompleted, StartTime: &stepStart, EndTime: &end, Result: "done", Attempts: 1},
			"b": {StepID: "b", Status: workflow.StepSkipped},
		},
		StartTime:       start,
		EndTime:         &end,
		TotalDuration:   end.Sub(start),
		LevelsCompleted: 1,
		TotalLevels:     2,
		Levels:          [][]string{{"a"}, {"b"}},
	}
}

func TestNewGormArchive_NilPool(t *testing.T) {
	_, err := NewGormArchive(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestGormArchive_ArchiveAndLoad(t *testing.T) {
	rec := &queryRecorder{}
	a := newTestArchive(t, WithQueryRecorder(rec))
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := sampleRecord("wf-1", "pipeline", start, workflow.ExecutionStatusFailed)
	want.Error = "step b skipped"
	require.NoError(t, a.Archive(ctx, want))

	got, err := a.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, want.ExecutionID, got.ExecutionID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Error, got.Error)
	assert.Equal(t, want.Levels, got.Levels)
	assert.Equal(t, want.TotalDuration, got.TotalDuration)
	require.Contains(t, got.StepResults, "a")
	assert.Equal(t, "done", got.StepResults["a"].Result)
	assert.Equal(t, workflow.StepSkipped, got.StepResults["b"].Status)
	assert.True(t, want.StartTime.Equal(got.StartTime))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "sqlite", rec.db)
	assert.Equal(t, 1, rec.ops["archive"])
	assert.Equal(t, 1, rec.ops["load"])
}

func TestGormArchive_ArchiveUpserts(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	start := time.Now().UTC()
	r := sampleRecord("wf-1", "pipeline", start, workflow.ExecutionStatusRunning)
	require.NoError(t, a.Archive(ctx, r))

	r.Status = workflow.ExecutionStatusCompleted
	r.LevelsCompleted = 2
	require.NoError(t, a.Archive(ctx, r))

	got, err := a.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, 2, got.LevelsCompleted)

	var count int64
	require.NoError(t, a.pool.DB().Model(&ExecutionRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormArchive_ArchiveRejectsInvalid(t *testing.T) {
	a := newTestArchive(t)

	err := a.Archive(context.Background(), nil)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))

	err = a.Archive(context.Background(), &workflow.ExecutionRecord{WorkflowID: "x"})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestGormArchive_LoadMissing(t *testing.T) {
	a := newTestArchive(t)

	_, err := a.Load(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestGormArchive_ListByWorkflow(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, a.Archive(ctx, sampleRecord(id, "pipeline", base.Add(time.Duration(i)*time.Hour), workflow.ExecutionStatusCompleted)))
	}
	require.NoError(t, a.Archive(ctx, sampleRecord("other", "another", base, workflow.ExecutionStatusFailed)))

	all, err := a.ListByWorkflow(ctx, "pipeline", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].ExecutionID)
	assert.Equal(t, "r1", all[2].ExecutionID)
	assert.Equal(t, 1, all[0].StepCounts[workflow.StepCompleted])
	assert.Equal(t, 1, all[0].StepCounts[workflow.StepSkipped])

	limited, err := a.ListByWorkflow(ctx, "pipeline", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := a.ListByWorkflow(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormArchive_ListSkipsCorruptPayload(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.Archive(ctx, sampleRecord("good", "pipeline", time.Now(), workflow.ExecutionStatusCompleted)))
	require.NoError(t, a.pool.DB().Create(&ExecutionRow{
		ExecutionID: "bad",
		WorkflowID:  "pipeline",
		Status:      "completed",
		StartedAt:   time.Now().UTC(),
		Payload:     "{not json",
	}).Error)

	list, err := a.ListByWorkflow(ctx, "pipeline", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].ExecutionID)

	_, err = a.Load(ctx, "bad")
	assert.True(t, types.IsCode(err, types.ErrInternalError))
}

func TestGormArchive_DeleteBefore(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, a.Archive(ctx, sampleRecord("old-1", "pipeline", cutoff.Add(-48*time.Hour), workflow.ExecutionStatusCompleted)))
	require.NoError(t, a.Archive(ctx, sampleRecord("old-2", "pipeline", cutoff.Add(-time.Hour), workflow.ExecutionStatusFailed)))
	require.NoError(t, a.Archive(ctx, sampleRecord("new", "pipeline", cutoff.Add(time.Hour), workflow.ExecutionStatusCompleted)))

	n, err := a.DeleteBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := a.ListByWorkflow(ctx, "pipeline", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ExecutionID)
}

func TestGormArchive_WithEngine(t *testing.T) {
	a := newTestArchive(t)

	registry := workflow.NewExecutorRegistry().SetFallback(&workflow.EchoExecutor{})
	engine := workflow.NewEngine(registry, zap.NewNop(), workflow.WithRunArchive(a))

	def := &workflow.WorkflowDefinition{
		ID:   "diamond",
		Name: "Diamond",
		Steps: []workflow.WorkflowStep{
			{ID: "a", Name: "a", Type: workflow.StepTypeTool},
			{ID: "b", Name: "b", Type: workflow.StepTypeTool},
			{ID: "c", Name: "c", Type: workflow.StepTypeTool, Config: map[string]any{"fail": true}},
			{ID: "d", Name: "d", Type: workflow.StepTypeTool},
		},
		Dependencies: map[string][]string{"b": {"a"}, "c": {"a"}, "d": {"b", "c"}},
	}
	run := engine.Execute(context.Background(), def, nil)
	require.Equal(t, workflow.ExecutionStatusFailed, run.Status)

	got, err := a.Load(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionStatusFailed, got.Status)
	assert.Equal(t, workflow.StepFailed, got.StepResults["c"].Status)
	assert.Equal(t, workflow.StepSkipped, got.StepResults["d"].Status)

	list, err := a.ListByWorkflow(context.Background(), "diamond", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, run.ExecutionID, list[0].ExecutionID)
}
