// Package workflow is the application-layer control point of the enrollment
// workflow engine: the transition executor, its circuit breaker and the
// bounded pool that runs transitions asynchronously for the front door.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusops/enrollment-workflow/internal/application/port"
	"github.com/campusops/enrollment-workflow/internal/domain/entity"
	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
	"github.com/campusops/enrollment-workflow/internal/observability"
)

// DwellRecorder receives state entry/exit signals for SLA tracking.
type DwellRecorder interface {
	Enter(workflowID string, state wf.State, at time.Time)
	Vacate(workflowID string, state wf.State, at time.Time)
}

// ExecutorConfig holds executor tuning.
type ExecutorConfig struct {
	// TransitionTimeout bounds one transition end to end (load, validate,
	// persist including retries). Zero disables the bound.
	TransitionTimeout time.Duration
	// WorkerCount is the number of goroutines executing submitted transitions.
	WorkerCount int
	// QueueSize bounds the backlog of submitted transitions.
	QueueSize int
}

// DefaultExecutorConfig returns the standard executor tuning
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TransitionTimeout: 10 * time.Second,
		WorkerCount:       4,
		QueueSize:         64,
	}
}

// Executor orchestrates workflow transitions end to end: validate, persist,
// then emit side effects. Collaborators are injected explicitly.
type Executor struct {
	cfg       ExecutorConfig
	validator *wf.Validator
	store     port.WorkflowStore
	notifier  port.Notifier
	sla       DwellRecorder
	metrics   *observability.Metrics
	breaker   *CircuitBreaker
	pool      *transitionPool
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// ExecutorOption configures the executor
type ExecutorOption func(*Executor)

// WithNotifier sets the notification dispatcher
func WithNotifier(n port.Notifier) ExecutorOption {
	return func(e *Executor) {
		e.notifier = n
	}
}

// WithDwellRecorder sets the SLA tracker
func WithDwellRecorder(r DwellRecorder) ExecutorOption {
	return func(e *Executor) {
		e.sla = r
	}
}

// WithMetrics sets the metrics instruments
func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithBreaker overrides the default circuit breaker
func WithBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.breaker = cb
	}
}

// NewExecutor creates a transition executor around the given store.
func NewExecutor(
	cfg ExecutorConfig,
	store port.WorkflowStore,
	logger *zap.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		cfg:       cfg,
		validator: wf.NewValidator(),
		store:     store,
		breaker:   NewCircuitBreaker(DefaultBreakerConfig()),
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics != nil {
		e.breaker.OnStateChange(func(s BreakerState) {
			e.metrics.BreakerState.Set(float64(s))
		})
	}

	e.pool = newTransitionPool(cfg.WorkerCount, cfg.QueueSize, func(ctx context.Context, req TransitionRequest) (bool, error) {
		return e.Transition(ctx, req.WorkflowID, req.Target, req.Actor, req.Comment)
	}, logger)

	return e
}

// Close drains the transition pool. Queued transitions still execute.
func (e *Executor) Close() {
	e.pool.close()
}

// Create constructs a new workflow instance in the initial state and
// persists it together with its creation history entry. SLA tracking and
// the creation notification are best effort; their failures never surface.
func (e *Executor) Create(ctx context.Context, applicationID string) (*entity.WorkflowInstance, error) {
	if applicationID == "" {
		return nil, fmt.Errorf("application id is required")
	}

	now := e.now().UTC()
	instance := &entity.WorkflowInstance{
		ID:            e.newID(),
		ApplicationID: applicationID,
		CurrentState:  wf.InitialState,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	entry := &entity.HistoryEntry{
		ID:         e.newID(),
		WorkflowID: instance.ID,
		State:      wf.InitialState,
		Comment:    "workflow created",
		UpdatedBy:  "system",
		Timestamp:  now,
	}

	if err := e.store.CreateWithHistory(ctx, instance, entry); err != nil {
		return nil, err
	}

	e.logger.Info("Workflow created",
		zap.String("workflow_id", instance.ID),
		zap.String("application_id", applicationID))

	if e.metrics != nil {
		e.metrics.WorkflowsCreatedTotal.Inc()
	}
	if e.sla != nil {
		e.sla.Enter(instance.ID, wf.InitialState, now)
	}
	e.notify(ctx, instance.ID, applicationID, wf.InitialState, "workflow created")

	return instance, nil
}

// Transition executes one state transition under the circuit breaker.
// Validation rejections are expected business outcomes: they come back as
// accepted=false with the typed reason, they never trip the breaker and
// they never mutate state. Infrastructure failures come back as typed
// errors after the gateway's bounded retry.
func (e *Executor) Transition(ctx context.Context, workflowID string, target wf.State, actor, comment string) (bool, error) {
	if err := e.breaker.Allow(); err != nil {
		e.observeTransition("", target, "breaker_open")
		return false, err
	}

	if e.cfg.TransitionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TransitionTimeout)
		defer cancel()
	}

	start := e.now()
	accepted, err := e.transition(ctx, workflowID, target, actor, comment)
	if e.metrics != nil {
		e.metrics.TransitionDuration.Observe(e.now().Sub(start).Seconds())
	}
	return accepted, err
}

func (e *Executor) transition(ctx context.Context, workflowID string, target wf.State, actor, comment string) (bool, error) {
	// Always a fresh load; no instance state is cached across calls.
	instance, err := e.store.GetByID(ctx, workflowID)
	if err != nil {
		if isInfrastructure(err) {
			e.breaker.RecordFailure()
		}
		e.observeTransition("", target, "load_error")
		return false, err
	}

	from := instance.CurrentState

	if err := e.validator.Validate(from, target, actor); err != nil {
		e.logger.Info("Transition rejected",
			zap.String("workflow_id", workflowID),
			zap.String("from", from.String()),
			zap.String("to", target.String()),
			zap.String("actor", actor),
			zap.Error(err))
		e.observeTransition(from, target, "rejected")
		return false, err
	}

	now := e.now().UTC()
	updated := *instance
	updated.CurrentState = target
	updated.Version = instance.Version + 1
	updated.UpdatedAt = now

	entry := &entity.HistoryEntry{
		ID:         e.newID(),
		WorkflowID: workflowID,
		State:      target,
		Comment:    comment,
		UpdatedBy:  actor,
		Timestamp:  now,
	}

	if err := e.store.SaveTransition(ctx, &updated, entry); err != nil {
		if errors.Is(err, wf.ErrVersionConflict) {
			// A logical race, not a persistence fault: the caller must
			// re-issue from a fresh load.
			e.breaker.RecordSuccess()
			e.observeTransition(from, target, "conflict")
			return false, err
		}
		if isInfrastructure(err) {
			e.breaker.RecordFailure()
		}
		e.observeTransition(from, target, "save_error")
		return false, err
	}

	e.breaker.RecordSuccess()
	e.observeTransition(from, target, "committed")

	e.logger.Info("Workflow transitioned",
		zap.String("workflow_id", workflowID),
		zap.String("from", from.String()),
		zap.String("to", target.String()),
		zap.String("actor", actor),
		zap.Int64("version", updated.Version))

	if e.sla != nil {
		e.sla.Vacate(workflowID, from, now)
		e.sla.Enter(workflowID, target, now)
	}
	e.notify(ctx, workflowID, instance.ApplicationID, target, comment)

	return true, nil
}

// Submit enqueues a transition onto the bounded worker pool and returns a
// pending handle. The persistence step itself stays synchronous and
// strongly consistent inside the pool worker.
func (e *Executor) Submit(req TransitionRequest) *TransitionFuture {
	return e.pool.submit(req)
}

// Status returns the instance together with its legal next states.
func (e *Executor) Status(ctx context.Context, workflowID string) (*entity.WorkflowInstance, []wf.State, error) {
	instance, err := e.store.GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	return instance, wf.AllowedNext(instance.CurrentState), nil
}

// History returns one oldest-first page of the transition log plus the
// total entry count.
func (e *Executor) History(ctx context.Context, workflowID string, page, limit int) ([]*entity.HistoryEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	// Surface NotFound for unknown workflows rather than an empty page.
	if _, err := e.store.GetByID(ctx, workflowID); err != nil {
		return nil, 0, err
	}

	entries, err := e.store.ListByWorkflowID(ctx, workflowID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}

	total, err := e.store.CountByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// List returns workflow instances newest-first.
func (e *Executor) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	return e.store.List(ctx, limit, offset)
}

// notify dispatches a state-change notification. Dispatch failures are
// logged and never fail the owning operation.
func (e *Executor) notify(ctx context.Context, workflowID, applicationID string, newState wf.State, comment string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, workflowID, applicationID, newState, comment); err != nil {
		e.logger.Error("Failed to dispatch notification",
			zap.String("workflow_id", workflowID),
			zap.String("state", newState.String()),
			zap.Error(err))
	}
}

func (e *Executor) observeTransition(from, to wf.State, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.TransitionsTotal.WithLabelValues(from.String(), to.String(), outcome).Inc()
}

// isInfrastructure reports whether an error indicates degraded persistence,
// the condition the circuit breaker sheds load on.
func isInfrastructure(err error) bool {
	return errors.Is(err, wf.ErrPersistenceUnavailable) || errors.Is(err, wf.ErrTimeout)
}
