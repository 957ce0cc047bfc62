package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/campusops/enrollment-workflow/internal/application/port"
	"github.com/campusops/enrollment-workflow/internal/domain/entity"
	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
	"github.com/campusops/enrollment-workflow/internal/infrastructure/persistence/sqlite"
)

// WorkflowRepository implements port.WorkflowRepository on SQLite
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow instance. The unique index on
// application_id enforces the one-workflow-per-application invariant.
func (r *WorkflowRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (
			id, application_id, current_state, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		instance.ID,
		instance.ApplicationID,
		instance.CurrentState.String(),
		instance.Version,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s", wf.ErrDuplicateApplication, instance.ApplicationID)
		}
		r.logger.Error("Failed to create workflow instance",
			zap.String("application_id", instance.ApplicationID),
			zap.Error(err))
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := `
		SELECT id, application_id, current_state, version, created_at, updated_at
		FROM workflow_instances
		WHERE id = ?
	`

	return r.scanOne(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetByApplicationID retrieves the workflow instance governing an application
func (r *WorkflowRepository) GetByApplicationID(ctx context.Context, applicationID string) (*entity.WorkflowInstance, error) {
	query := `
		SELECT id, application_id, current_state, version, created_at, updated_at
		FROM workflow_instances
		WHERE application_id = ?
	`

	return r.scanOne(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, applicationID))
}

// SaveState persists a transitioned instance using a single conditional
// update. The predicate matches the version the caller last read
// (instance.Version-1); zero rows affected on an existing instance means a
// concurrent transition committed first.
func (r *WorkflowRepository) SaveState(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		UPDATE workflow_instances
		SET current_state = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		instance.CurrentState.String(),
		instance.Version,
		instance.UpdatedAt,
		instance.ID,
		instance.Version-1,
	)
	if err != nil {
		r.logger.Error("Failed to save workflow state",
			zap.String("workflow_id", instance.ID),
			zap.Error(err))
		return fmt.Errorf("failed to save workflow state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, instance.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: workflow %s at version %d",
			wf.ErrVersionConflict, instance.ID, instance.Version-1)
	}

	return nil
}

// List retrieves workflow instances newest-first with pagination
func (r *WorkflowRepository) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	query := `
		SELECT id, application_id, current_state, version, created_at, updated_at
		FROM workflow_instances
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list workflow instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		var instance entity.WorkflowInstance
		var state string

		if err := rows.Scan(
			&instance.ID,
			&instance.ApplicationID,
			&state,
			&instance.Version,
			&instance.CreatedAt,
			&instance.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}
		instance.CurrentState = wf.State(state)
		instances = append(instances, &instance)
	}

	return instances, rows.Err()
}

// scanOne maps a single-row query onto an instance
func (r *WorkflowRepository) scanOne(row *sql.Row) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var state string

	err := row.Scan(
		&instance.ID,
		&instance.ApplicationID,
		&state,
		&instance.Version,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wf.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get workflow instance", zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}

	instance.CurrentState = wf.State(state)
	return &instance, nil
}

// Verify interface compliance
var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
