// Package persistence provides the durable gateway the transition executor
// talks to: the SQLite repositories wrapped with a bounded retry policy for
// transient storage faults.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/enrollment-workflow/internal/application/port"
	"github.com/campusops/enrollment-workflow/internal/domain/entity"
	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
)

// RetryPolicy bounds retries on transient storage errors: a fixed attempt
// count with a fixed inter-attempt delay. Logical conflicts are never
// retried; masking a lost optimistic-concurrency race as infrastructure
// flakiness would hide lost updates.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy returns the standard gateway retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       100 * time.Millisecond,
	}
}

// RetryObserver is invoked once per retried attempt (for metrics).
type RetryObserver func()

// Gateway decorates the workflow and history repositories with the retry
// policy. It implements both port.WorkflowRepository and
// port.HistoryRepository.
type Gateway struct {
	workflows port.WorkflowRepository
	history   port.HistoryRepository
	tx        port.TransactionManager
	policy    RetryPolicy
	logger    *zap.Logger
	onRetry   RetryObserver
}

// GatewayOption configures the gateway
type GatewayOption func(*Gateway)

// WithRetryObserver registers a callback fired on every retried attempt
func WithRetryObserver(obs RetryObserver) GatewayOption {
	return func(g *Gateway) {
		g.onRetry = obs
	}
}

// NewGateway creates a persistence gateway around the given repositories
func NewGateway(
	workflows port.WorkflowRepository,
	history port.HistoryRepository,
	tx port.TransactionManager,
	policy RetryPolicy,
	logger *zap.Logger,
	opts ...GatewayOption,
) *Gateway {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	g := &Gateway{
		workflows: workflows,
		history:   history,
		tx:        tx,
		policy:    policy,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Create inserts a new workflow instance, retrying transient faults
func (g *Gateway) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	return g.withRetry(ctx, "create", func() error {
		return g.workflows.Create(ctx, instance)
	})
}

// GetByID loads a workflow instance, retrying transient faults
func (g *Gateway) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	var instance *entity.WorkflowInstance
	err := g.withRetry(ctx, "get", func() error {
		var err error
		instance, err = g.workflows.GetByID(ctx, id)
		return err
	})
	return instance, err
}

// GetByApplicationID loads the instance governing an application
func (g *Gateway) GetByApplicationID(ctx context.Context, applicationID string) (*entity.WorkflowInstance, error) {
	var instance *entity.WorkflowInstance
	err := g.withRetry(ctx, "get_by_application", func() error {
		var err error
		instance, err = g.workflows.GetByApplicationID(ctx, applicationID)
		return err
	})
	return instance, err
}

// SaveState persists a transitioned instance. Version conflicts pass
// through untouched on the first attempt.
func (g *Gateway) SaveState(ctx context.Context, instance *entity.WorkflowInstance) error {
	return g.withRetry(ctx, "save_state", func() error {
		return g.workflows.SaveState(ctx, instance)
	})
}

// List retrieves workflow instances newest-first
func (g *Gateway) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	var instances []*entity.WorkflowInstance
	err := g.withRetry(ctx, "list", func() error {
		var err error
		instances, err = g.workflows.List(ctx, limit, offset)
		return err
	})
	return instances, err
}

// Append writes one history entry, retrying transient faults
func (g *Gateway) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	return g.withRetry(ctx, "append_history", func() error {
		return g.history.Append(ctx, entry)
	})
}

// ListByWorkflowID retrieves history entries oldest-first
func (g *Gateway) ListByWorkflowID(ctx context.Context, workflowID string, limit, offset int) ([]*entity.HistoryEntry, error) {
	var entries []*entity.HistoryEntry
	err := g.withRetry(ctx, "list_history", func() error {
		var err error
		entries, err = g.history.ListByWorkflowID(ctx, workflowID, limit, offset)
		return err
	})
	return entries, err
}

// CountByWorkflowID returns the total number of history entries
func (g *Gateway) CountByWorkflowID(ctx context.Context, workflowID string) (int64, error) {
	var count int64
	err := g.withRetry(ctx, "count_history", func() error {
		var err error
		count, err = g.history.CountByWorkflowID(ctx, workflowID)
		return err
	})
	return count, err
}

// CreateWithHistory atomically persists a new instance and its creation
// history entry. The whole transaction is the retry unit, so a transient
// fault never leaves an instance without its creation marker.
func (g *Gateway) CreateWithHistory(ctx context.Context, instance *entity.WorkflowInstance, entry *entity.HistoryEntry) error {
	return g.withRetry(ctx, "create_with_history", func() error {
		return g.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := g.workflows.Create(txCtx, instance); err != nil {
				return err
			}
			return g.history.Append(txCtx, entry)
		})
	})
}

// SaveTransition atomically persists a transitioned instance and appends its
// history entry. A version conflict aborts the transaction, so the losing
// transition never writes an entry.
func (g *Gateway) SaveTransition(ctx context.Context, instance *entity.WorkflowInstance, entry *entity.HistoryEntry) error {
	return g.withRetry(ctx, "save_transition", func() error {
		return g.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := g.workflows.SaveState(txCtx, instance); err != nil {
				return err
			}
			return g.history.Append(txCtx, entry)
		})
	})
}

// withRetry runs fn up to MaxAttempts times with a fixed delay between
// attempts. Logical outcomes are surfaced immediately; transient faults
// exhaust into ErrPersistenceUnavailable. A context deadline surfaces as
// ErrTimeout whether it expires mid-attempt or between attempts.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		// database/sql aborts the statement when the deadline expires and
		// the repositories wrap the context error.
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %v", wf.ErrTimeout, op, err)
		}
		if !isTransient(err) {
			return err
		}

		lastErr = err
		g.logger.Warn("Transient persistence failure",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.policy.MaxAttempts),
			zap.Error(err))

		if attempt == g.policy.MaxAttempts {
			break
		}
		if g.onRetry != nil {
			g.onRetry()
		}

		select {
		case <-time.After(g.policy.Delay):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s interrupted after %d attempts", wf.ErrTimeout, op, attempt)
			}
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %v",
		wf.ErrPersistenceUnavailable, op, g.policy.MaxAttempts, lastErr)
}

// isTransient reports whether an error may be cured by retrying. Version
// conflicts, missing rows and duplicate applications are logical outcomes,
// and a cancelled context will not recover on its own.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, wf.ErrVersionConflict),
		errors.Is(err, wf.ErrNotFound),
		errors.Is(err, wf.ErrDuplicateApplication),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Verify interface compliance
var _ port.WorkflowStore = (*Gateway)(nil)
