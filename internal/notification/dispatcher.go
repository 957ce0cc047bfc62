// Package notification delivers workflow state-change events to an external
// webhook. Events are enqueued fire-and-forget on the transition path and
// delivered in batches by a background worker; delivery failures never
// propagate back into the workflow.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/enrollment-workflow/internal/application/port"
	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
	"github.com/campusops/enrollment-workflow/internal/observability"
)

// ErrQueueFull is returned when an event cannot be enqueued.
var ErrQueueFull = errors.New("notification queue is full")

const messageTemplate = "enrollment application {{.ApplicationID}} is now {{.Status}} (workflow state {{.State}})"

// Event is one state-change notification.
type Event struct {
	WorkflowID    string               `json:"workflow_id"`
	ApplicationID string               `json:"application_id"`
	State         wf.State             `json:"state"`
	Status        wf.ApplicationStatus `json:"application_status"`
	Comment       string               `json:"comment,omitempty"`
	Message       string               `json:"message"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

type batchPayload struct {
	Events []Event `json:"events"`
}

// Config holds notification dispatcher tuning.
type Config struct {
	// WebhookURL is the delivery endpoint. Empty disables delivery; events
	// are accepted and discarded.
	WebhookURL string
	// QueueSize bounds the pending event backlog.
	QueueSize int
	// BatchSize is the maximum number of events per webhook request.
	BatchSize int
	// FlushInterval bounds how long a partial batch may wait.
	FlushInterval time.Duration
	// RequestTimeout bounds one webhook request.
	RequestTimeout time.Duration
}

// DefaultConfig returns the standard dispatcher tuning
func DefaultConfig() Config {
	return Config{
		QueueSize:      256,
		BatchSize:      16,
		FlushInterval:  2 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Dispatcher batches events and posts them to the configured webhook with
// bounded retry. It implements port.Notifier and worker.Worker.
type Dispatcher struct {
	cfg      Config
	client   *http.Client
	strategy *RetryStrategy
	tmpl     *template.Template
	metrics  *observability.Metrics
	logger   *zap.Logger

	queue chan Event

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

var _ port.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a notification dispatcher
func NewDispatcher(cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 16
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return &Dispatcher{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		strategy: NewRetryStrategy(),
		tmpl:     template.Must(template.New("notification").Parse(messageTemplate)),
		metrics:  metrics,
		logger:   logger,
		queue:    make(chan Event, cfg.QueueSize),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetRetryStrategy overrides the delivery retry strategy (for testing).
func (d *Dispatcher) SetRetryStrategy(strategy *RetryStrategy) {
	d.strategy = strategy
}

// Notify enqueues one state-change event. It never blocks: a full queue
// drops the event and reports ErrQueueFull.
func (d *Dispatcher) Notify(ctx context.Context, workflowID, applicationID string, newState wf.State, comment string) error {
	event := Event{
		WorkflowID:    workflowID,
		ApplicationID: applicationID,
		State:         newState,
		Status:        newState.ApplicationStatus(),
		Comment:       comment,
		OccurredAt:    time.Now().UTC(),
	}

	var buf bytes.Buffer
	if err := d.tmpl.Execute(&buf, event); err != nil {
		return fmt.Errorf("render notification message: %w", err)
	}
	event.Message = buf.String()

	select {
	case d.queue <- event:
		return nil
	default:
		if d.metrics != nil {
			d.metrics.NotificationsDroppedTotal.Inc()
		}
		d.logger.Warn("Notification queue full, dropping event",
			zap.String("workflow_id", workflowID),
			zap.String("state", newState.String()))
		return ErrQueueFull
	}
}

// Name implements worker.Worker
func (d *Dispatcher) Name() string {
	return "notification-dispatcher"
}

// Start launches the delivery loop. It implements worker.Worker.
func (d *Dispatcher) Start(ctx context.Context) error {
	go d.deliveryLoop(ctx)
	return nil
}

// Stop flushes pending events and halts the delivery loop. It implements
// worker.Worker.
func (d *Dispatcher) Stop() error {
	d.stopOnce.Do(func() { close(d.stopped) })

	select {
	case <-d.done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("notification dispatcher did not stop in time")
	}
}

func (d *Dispatcher) deliveryLoop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, d.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		d.deliver(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-d.queue:
			batch = append(batch, event)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		case <-d.stopped:
			// Drain whatever is already queued, then flush.
			for {
				select {
				case event := <-d.queue:
					batch = append(batch, event)
					if len(batch) >= d.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliver posts one batch to the webhook with bounded retry. Exhausted or
// permanent failures drop the batch; there is no durable outbox.
func (d *Dispatcher) deliver(events []Event) {
	if d.cfg.WebhookURL == "" {
		return
	}

	body, err := json.Marshal(batchPayload{Events: events})
	if err != nil {
		d.logger.Error("Failed to encode notification batch", zap.Error(err))
		d.observeBatch("encode_error")
		return
	}

	for attempt := 1; attempt <= d.strategy.MaxAttempts; attempt++ {
		status, err := d.post(body)
		if err == nil && status >= 200 && status < 300 {
			d.observeBatch("delivered")
			d.logger.Debug("Notification batch delivered",
				zap.Int("events", len(events)),
				zap.Int("attempt", attempt))
			return
		}

		retryable := err != nil || d.strategy.IsRetryableStatusCode(status)
		if !retryable || attempt == d.strategy.MaxAttempts {
			d.logger.Error("Failed to deliver notification batch",
				zap.Int("events", len(events)),
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.Error(err))
			d.observeBatch("failed")
			return
		}

		backoff := d.strategy.CalculateBackoff(attempt)
		d.logger.Warn("Notification delivery failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) post(body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func (d *Dispatcher) observeBatch(outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.NotificationBatchesTotal.WithLabelValues(outcome).Inc()
}
