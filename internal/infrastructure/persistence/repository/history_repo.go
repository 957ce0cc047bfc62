package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/campusops/enrollment-workflow/internal/application/port"
	"github.com/campusops/enrollment-workflow/internal/domain/entity"
	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
	"github.com/campusops/enrollment-workflow/internal/infrastructure/persistence/sqlite"
)

// HistoryRepository implements port.HistoryRepository on SQLite
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one history entry
func (r *HistoryRepository) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	query := `
		INSERT INTO workflow_history (
			id, workflow_id, state, comment, updated_by, timestamp
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		entry.ID,
		entry.WorkflowID,
		entry.State.String(),
		entry.Comment,
		entry.UpdatedBy,
		entry.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to append history entry",
			zap.String("workflow_id", entry.WorkflowID),
			zap.Error(err))
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	return nil
}

// ListByWorkflowID retrieves entries oldest-first with pagination
func (r *HistoryRepository) ListByWorkflowID(ctx context.Context, workflowID string, limit, offset int) ([]*entity.HistoryEntry, error) {
	query := `
		SELECT id, workflow_id, state, comment, updated_by, timestamp
		FROM workflow_history
		WHERE workflow_id = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, workflowID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list history entries",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.HistoryEntry
	for rows.Next() {
		var entry entity.HistoryEntry
		var state string

		if err := rows.Scan(
			&entry.ID,
			&entry.WorkflowID,
			&state,
			&entry.Comment,
			&entry.UpdatedBy,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.State = wf.State(state)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// CountByWorkflowID returns the total number of entries for an instance
func (r *HistoryRepository) CountByWorkflowID(ctx context.Context, workflowID string) (int64, error) {
	query := `SELECT COUNT(*) FROM workflow_history WHERE workflow_id = ?`

	var count int64
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, workflowID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history entries: %w", err)
	}

	return count, nil
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
