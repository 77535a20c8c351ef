package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/flowforge/internal/database"
	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/workflow"
)

// ExecutionRow is one archived run. The full record is kept as JSON in
// Payload; the other columns exist for filtering and listing.
type ExecutionRow struct {
	ExecutionID     string     `gorm:"primaryKey;size:191" json:"execution_id"`
	WorkflowID      string     `gorm:"size:191;not null;index:idx_execution_records_workflow" json:"workflow_id"`
	WorkflowName    string     `gorm:"size:255" json:"workflow_name"`
	Status          string     `gorm:"size:32;not null;index:idx_execution_records_status" json:"status"`
	StartedAt       time.Time  `gorm:"not null;index:idx_execution_records_started" json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationMillis  int64      `gorm:"default:0" json:"duration_ms"`
	LevelsCompleted int        `gorm:"default:0" json:"levels_completed"`
	TotalLevels     int        `gorm:"default:0" json:"total_levels"`
	Error           string     `gorm:"type:text" json:"error,omitempty"`
	Payload         string     `gorm:"type:text;not null" json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (ExecutionRow) TableName() string {
	return "execution_records"
}

// QueryRecorder observes archive query latency. internal/metrics.Collector
// implements it.
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Option configures a GormArchive.
type Option func(*GormArchive)

// WithQueryRecorder times every archive query.
func WithQueryRecorder(r QueryRecorder) Option {
	return func(a *GormArchive) { a.queries = r }
}

// WithWriteRetries sets how many times a failed upsert transaction is
// attempted. Default 3.
func WithWriteRetries(n int) Option {
	return func(a *GormArchive) {
		if n > 0 {
			a.writeRetries = n
		}
	}
}

// GormArchive stores finished runs in a relational database. It implements
// workflow.RunArchive.
type GormArchive struct {
	pool         *database.PoolManager
	queries      QueryRecorder
	writeRetries int
	logger       *zap.Logger
}

var _ workflow.RunArchive = (*GormArchive)(nil)

// NewGormArchive migrates the execution_records table and returns the archive.
func NewGormArchive(ctx context.Context, pool *database.PoolManager, logger *zap.Logger, opts ...Option) (*GormArchive, error) {
	if pool == nil {
		return nil, fmt.Errorf("archive: pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &GormArchive{
		pool:         pool,
		writeRetries: 3,
		logger:       logger.With(zap.String("component", "run_archive")),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := pool.DB().WithContext(ctx).AutoMigrate(&ExecutionRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate execution_records: %w", err)
	}
	return a, nil
}

// Archive upserts the record keyed by execution id, so re-archiving a run
// replaces the earlier row.
func (a *GormArchive) Archive(ctx context.Context, record *workflow.ExecutionRecord) error {
	if record == nil || record.ExecutionID == "" {
		return types.NewError(types.ErrInvalidRequest, "archive: record must have an execution id")
	}
	row, err := toRow(record)
	if err != nil {
		return err
	}
	defer a.observe("archive", time.Now())

	err = a.pool.WithTransactionRetry(ctx, a.writeRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}},
			UpdateAll: true,
		}).Create(row).Error
	})
	if err != nil {
		return fmt.Errorf("archive run %s: %w", record.ExecutionID, err)
	}

	a.logger.Debug("run archived",
		zap.String("execution_id", row.ExecutionID),
		zap.String("workflow_id", row.WorkflowID),
		zap.String("status", row.Status),
	)
	return nil
}

// Load returns the archived record. A missing id yields a NOT_FOUND error.
func (a *GormArchive) Load(ctx context.Context, executionID string) (*workflow.ExecutionRecord, error) {
	defer a.observe("load", time.Now())

	var row ExecutionRow
	err := a.pool.DB().WithContext(ctx).Where("execution_id = ?", executionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "execution %q is not archived", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", executionID, err)
	}
	return fromRow(&row)
}

// ListByWorkflow returns summaries of a workflow's archived runs, newest
// first. limit <= 0 means no limit.
func (a *GormArchive) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]workflow.ExecutionSummary, error) {
	defer a.observe("list", time.Now())

	q := a.pool.DB().WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("started_at DESC").
		Order("execution_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []ExecutionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list runs of %s: %w", workflowID, err)
	}

	out := make([]workflow.ExecutionSummary, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			a.logger.Warn("skipping unreadable archived run",
				zap.String("execution_id", rows[i].ExecutionID), zap.Error(err))
			continue
		}
		out = append(out, rec.Summary())
	}
	return out, nil
}

// DeleteBefore removes runs that started before t and returns how many
// rows were deleted.
func (a *GormArchive) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	defer a.observe("delete", time.Now())

	res := a.pool.DB().WithContext(ctx).Where("started_at < ?", t.UTC()).Delete(&ExecutionRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete archived runs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		a.logger.Info("archived runs purged", zap.Int64("count", res.RowsAffected), zap.Time("before", t))
	}
	return res.RowsAffected, nil
}

func (a *GormArchive) observe(operation string, start time.Time) {
	if a.queries != nil {
		a.queries.RecordDBQuery(a.pool.Name(), operation, time.Since(start))
	}
}

func toRow(record *workflow.ExecutionRecord) (*ExecutionRow, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "archive: encode record").WithCause(err)
	}
	row := &ExecutionRow{
		ExecutionID:     record.ExecutionID,
		WorkflowID:      record.WorkflowID,
		WorkflowName:    record.WorkflowName,
		Status:          string(record.Status),
		StartedAt:       record.StartTime.UTC(),
		DurationMillis:  record.TotalDuration.Milliseconds(),
		LevelsCompleted: record.LevelsCompleted,
		TotalLevels:     record.TotalLevels,
		Error:           record.Error,
		Payload:         string(payload),
	}
	if record.EndTime != nil {
		t := record.EndTime.UTC()
		row.FinishedAt = &t
	}
	return row, nil
}

func fromRow(row *ExecutionRow) (*workflow.ExecutionRecord, error) {
	var rec workflow.ExecutionRecord
	if err := json.Unmarshal([]byte(row.Payload), &rec); err != nil {
		return nil, types.NewError(types.ErrInternalError, "archive: decode record").
			WithCause(err).
			WithDetail("execution_id", row.ExecutionID)
	}
	return &rec, nil
}
