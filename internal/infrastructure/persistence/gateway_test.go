package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/enrollment-workflow/internal/domain/entity"
	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
)

var errFlaky = errors.New("database is locked")

// scriptedWorkflowRepo fails a fixed number of times before succeeding.
type scriptedWorkflowRepo struct {
	failures  int
	calls     int
	failWith  error
	instances map[string]*entity.WorkflowInstance
}

func newScriptedWorkflowRepo(failures int, failWith error) *scriptedWorkflowRepo {
	return &scriptedWorkflowRepo{
		failures:  failures,
		failWith:  failWith,
		instances: make(map[string]*entity.WorkflowInstance),
	}
}

func (r *scriptedWorkflowRepo) step() error {
	r.calls++
	if r.calls <= r.failures {
		return r.failWith
	}
	return nil
}

func (r *scriptedWorkflowRepo) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	if err := r.step(); err != nil {
		return err
	}
	r.instances[instance.ID] = instance
	return nil
}

func (r *scriptedWorkflowRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	if err := r.step(); err != nil {
		return nil, err
	}
	instance, ok := r.instances[id]
	if !ok {
		return nil, wf.ErrNotFound
	}
	return instance, nil
}

func (r *scriptedWorkflowRepo) GetByApplicationID(ctx context.Context, applicationID string) (*entity.WorkflowInstance, error) {
	if err := r.step(); err != nil {
		return nil, err
	}
	for _, instance := range r.instances {
		if instance.ApplicationID == applicationID {
			return instance, nil
		}
	}
	return nil, wf.ErrNotFound
}

func (r *scriptedWorkflowRepo) SaveState(ctx context.Context, instance *entity.WorkflowInstance) error {
	if err := r.step(); err != nil {
		return err
	}
	stored, ok := r.instances[instance.ID]
	if !ok {
		return wf.ErrNotFound
	}
	if stored.Version != instance.Version-1 {
		return wf.ErrVersionConflict
	}
	r.instances[instance.ID] = instance
	return nil
}

func (r *scriptedWorkflowRepo) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	if err := r.step(); err != nil {
		return nil, err
	}
	return nil, nil
}

// passthroughTx runs the unit directly; the sqlite transaction manager is
// exercised via the real driver elsewhere.
type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type noopHistoryRepo struct{}

func (noopHistoryRepo) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	return nil
}

func (noopHistoryRepo) ListByWorkflowID(ctx context.Context, workflowID string, limit, offset int) ([]*entity.HistoryEntry, error) {
	return nil, nil
}

func (noopHistoryRepo) CountByWorkflowID(ctx context.Context, workflowID string) (int64, error) {
	return 0, nil
}

func testInstance() *entity.WorkflowInstance {
	now := time.Now().UTC()
	return &entity.WorkflowInstance{
		ID:            "wf-1",
		ApplicationID: "app-1",
		CurrentState:  wf.InitialState,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestGateway_RetriesTransientThenSucceeds(t *testing.T) {
	repo := newScriptedWorkflowRepo(2, errFlaky)
	retries := 0
	g := NewGateway(repo, noopHistoryRepo{}, passthroughTx{},
		RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
		zap.NewNop(),
		WithRetryObserver(func() { retries++ }))

	err := g.Create(context.Background(), testInstance())
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, 2, retries)
}

func TestGateway_ExhaustsIntoPersistenceUnavailable(t *testing.T) {
	repo := newScriptedWorkflowRepo(10, errFlaky)
	g := NewGateway(repo, noopHistoryRepo{}, passthroughTx{},
		RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, zap.NewNop())

	err := g.Create(context.Background(), testInstance())
	require.Error(t, err)
	assert.ErrorIs(t, err, wf.ErrPersistenceUnavailable)
	assert.Equal(t, 3, repo.calls)
}

func TestGateway_DoesNotRetryVersionConflict(t *testing.T) {
	repo := newScriptedWorkflowRepo(10, wf.ErrVersionConflict)
	g := NewGateway(repo, noopHistoryRepo{}, passthroughTx{},
		RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, zap.NewNop())

	err := g.SaveState(context.Background(), testInstance())
	require.Error(t, err)
	assert.ErrorIs(t, err, wf.ErrVersionConflict)
	assert.Equal(t, 1, repo.calls)
}

func TestGateway_DoesNotRetryNotFound(t *testing.T) {
	repo := newScriptedWorkflowRepo(0, nil)
	g := NewGateway(repo, noopHistoryRepo{}, passthroughTx{},
		RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, zap.NewNop())

	_, err := g.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, wf.ErrNotFound)
	assert.Equal(t, 1, repo.calls)
}

func TestGateway_SaveTransitionConflictPassesThrough(t *testing.T) {
	repo := newScriptedWorkflowRepo(0, nil)
	stored := testInstance()
	repo.instances[stored.ID] = stored

	g := NewGateway(repo, noopHistoryRepo{}, passthroughTx{},
		RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, zap.NewNop())

	// Caller read version 1 but the store already moved to version 3.
	stale := *stored
	stale.Version = 3
	repo.instances[stored.ID] = &stale

	updated := *stored
	updated.CurrentState = wf.StateDocumentVerification
	updated.Version = 2

	entry := &entity.HistoryEntry{
		ID:         "h-1",
		WorkflowID: stored.ID,
		State:      wf.StateDocumentVerification,
		Timestamp:  time.Now().UTC(),
	}

	err := g.SaveTransition(context.Background(), &updated, entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, wf.ErrVersionConflict)
	assert.Equal(t, 1, repo.calls)
}

func TestGateway_MidAttemptDeadlineSurfacesAsTimeout(t *testing.T) {
	// The deadline expires while the query runs: the repository wraps the
	// context error, and the gateway must still report a timeout, not the
	// raw wrapped error and not an exhausted-retries failure.
	wrapped := fmt.Errorf("failed to get workflow instance: %w", context.DeadlineExceeded)
	repo := newScriptedWorkflowRepo(10, wrapped)
	g := NewGateway(repo, noopHistoryRepo{}, passthroughTx{},
		RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, zap.NewNop())

	_, err := g.GetByID(context.Background(), "wf-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, wf.ErrTimeout)
	assert.NotErrorIs(t, err, wf.ErrPersistenceUnavailable)
	assert.Equal(t, 1, repo.calls)
}

func TestGateway_DeadlineSurfacesAsTimeout(t *testing.T) {
	repo := newScriptedWorkflowRepo(10, errFlaky)
	g := NewGateway(repo, noopHistoryRepo{}, passthroughTx{},
		RetryPolicy{MaxAttempts: 10, Delay: 50 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.Create(ctx, testInstance())
	require.Error(t, err)
	assert.ErrorIs(t, err, wf.ErrTimeout)
}
