// Package sla tracks how long workflow instances dwell in each state and
// raises alerts when a configured maximum is exceeded. Dwell checks run on a
// periodic sweep, off the transition path: a breach warns, it never blocks
// or forces a transition.
package sla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
	"github.com/campusops/enrollment-workflow/internal/observability"
)

// Config holds SLA tracking configuration. States missing from StateLimits
// (or with a zero duration) have no dwell enforcement.
type Config struct {
	StateLimits   map[wf.State]time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the standard review-stage dwell maxima
func DefaultConfig() Config {
	return Config{
		StateLimits: map[wf.State]time.Duration{
			wf.StateDocumentVerification: 48 * time.Hour,
			wf.StateAcademicReview:       72 * time.Hour,
			wf.StateFinalReview:          24 * time.Hour,
		},
		SweepInterval: time.Minute,
	}
}

type stateEntry struct {
	state     wf.State
	enteredAt time.Time
	alerted   bool
}

// Tracker is the in-memory dwell-time registry plus the sweep worker.
// It implements the worker.Worker interface.
type Tracker struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]stateEntry

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}

	now func() time.Time
}

// NewTracker creates a new SLA tracker
func NewTracker(cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Tracker {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	return &Tracker{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]stateEntry),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Enter records that a workflow entered a state. Terminal states end
// tracking for the instance.
func (t *Tracker) Enter(workflowID string, state wf.State, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state.IsTerminal() {
		delete(t.entries, workflowID)
		return
	}

	t.entries[workflowID] = stateEntry{state: state, enteredAt: at}
}

// Vacate records that a workflow left a state and observes the dwell time.
func (t *Tracker) Vacate(workflowID string, state wf.State, at time.Time) {
	t.mu.Lock()
	entry, ok := t.entries[workflowID]
	if ok && entry.state == state {
		delete(t.entries, workflowID)
	}
	t.mu.Unlock()

	if !ok || entry.state != state {
		return
	}

	dwell := at.Sub(entry.enteredAt)
	if t.metrics != nil {
		t.metrics.StateDwellSeconds.WithLabelValues(state.String()).Observe(dwell.Seconds())
	}
}

// Tracked returns the number of instances currently under dwell tracking.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Name implements worker.Worker
func (t *Tracker) Name() string {
	return "sla-sweeper"
}

// Start launches the periodic sweep. It implements worker.Worker.
func (t *Tracker) Start(ctx context.Context) error {
	go func() {
		defer close(t.done)

		ticker := time.NewTicker(t.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-ctx.Done():
				return
			case <-t.stopped:
				return
			}
		}
	}()

	return nil
}

// Stop halts the sweep loop. It implements worker.Worker.
func (t *Tracker) Stop() error {
	t.stopOnce.Do(func() { close(t.stopped) })

	select {
	case <-t.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("sla sweeper did not stop in time")
	}
}

// Sweep checks every tracked instance against its state's dwell limit and
// alerts once per state entry on breach.
func (t *Tracker) Sweep() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for workflowID, entry := range t.entries {
		limit := t.cfg.StateLimits[entry.state]
		if limit <= 0 || entry.alerted {
			continue
		}

		dwell := now.Sub(entry.enteredAt)
		if dwell <= limit {
			continue
		}

		entry.alerted = true
		t.entries[workflowID] = entry

		t.logger.Warn("SLA dwell time exceeded",
			zap.String("workflow_id", workflowID),
			zap.String("state", entry.state.String()),
			zap.Duration("dwell", dwell),
			zap.Duration("limit", limit))

		if t.metrics != nil {
			t.metrics.SLABreachesTotal.WithLabelValues(entry.state.String()).Inc()
		}
	}
}
