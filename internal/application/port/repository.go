package port

import (
	"context"

	"github.com/campusops/enrollment-workflow/internal/domain/entity"
)

// WorkflowRepository defines persistence operations for WorkflowInstance
type WorkflowRepository interface {
	// Create inserts a new instance. A second workflow for the same
	// application fails with workflow.ErrDuplicateApplication.
	Create(ctx context.Context, instance *entity.WorkflowInstance) error

	// GetByID retrieves an instance; workflow.ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)

	// GetByApplicationID retrieves the instance governing an application.
	GetByApplicationID(ctx context.Context, applicationID string) (*entity.WorkflowInstance, error)

	// SaveState persists a transitioned instance. The row is updated only
	// if the stored version equals instance.Version-1; a lost race fails
	// with workflow.ErrVersionConflict.
	SaveState(ctx context.Context, instance *entity.WorkflowInstance) error

	// List retrieves instances newest-first with pagination.
	List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error)
}

// HistoryRepository defines persistence operations for the append-only
// transition log.
type HistoryRepository interface {
	// Append writes one history entry. Entries are never updated or deleted.
	Append(ctx context.Context, entry *entity.HistoryEntry) error

	// ListByWorkflowID retrieves entries oldest-first with pagination, so a
	// page sequence reads as a walk of the transition graph.
	ListByWorkflowID(ctx context.Context, workflowID string, limit, offset int) ([]*entity.HistoryEntry, error)

	// CountByWorkflowID returns the total number of entries for an instance.
	CountByWorkflowID(ctx context.Context, workflowID string) (int64, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// WorkflowStore is the durable gateway the transition executor depends on:
// both repositories plus the two transactional units a transition needs.
type WorkflowStore interface {
	WorkflowRepository
	HistoryRepository

	// CreateWithHistory atomically persists a new instance and its implicit
	// creation history entry.
	CreateWithHistory(ctx context.Context, instance *entity.WorkflowInstance, entry *entity.HistoryEntry) error

	// SaveTransition atomically persists a transitioned instance (with the
	// optimistic version check) and appends its history entry. The loser of
	// a concurrent race gets workflow.ErrVersionConflict and no entry is
	// written.
	SaveTransition(ctx context.Context, instance *entity.WorkflowInstance, entry *entity.HistoryEntry) error
}
