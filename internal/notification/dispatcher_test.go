package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
)

type capturingServer struct {
	mu       sync.Mutex
	requests int
	events   []Event
	statuses []int // response status per request, last repeats
	server   *httptest.Server
}

func newCapturingServer(statuses ...int) *capturingServer {
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	cs := &capturingServer{statuses: statuses}
	cs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		defer cs.mu.Unlock()

		var payload batchPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			cs.events = append(cs.events, payload.Events...)
		}

		idx := cs.requests
		if idx >= len(cs.statuses) {
			idx = len(cs.statuses) - 1
		}
		cs.requests++
		w.WriteHeader(cs.statuses[idx])
	}))
	return cs
}

func (cs *capturingServer) requestCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.requests
}

func (cs *capturingServer) receivedEvents() []Event {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]Event, len(cs.events))
	copy(out, cs.events)
	return out
}

func newTestDispatcher(t *testing.T, url string) *Dispatcher {
	t.Helper()
	d := NewDispatcher(Config{
		WebhookURL:     url,
		QueueSize:      16,
		BatchSize:      4,
		FlushInterval:  20 * time.Millisecond,
		RequestTimeout: time.Second,
	}, nil, zap.NewNop())
	d.SetRetryStrategy(&RetryStrategy{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
	})
	return d
}

func TestDispatcher_DeliversEnqueuedEvents(t *testing.T) {
	cs := newCapturingServer(http.StatusOK)
	defer cs.server.Close()

	d := newTestDispatcher(t, cs.server.URL)
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Notify(context.Background(), "wf-1", "app-1", wf.StateDocumentVerification, "docs received"))
	require.NoError(t, d.Notify(context.Background(), "wf-1", "app-1", wf.StateApproved, ""))

	require.NoError(t, d.Stop())

	events := cs.receivedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "wf-1", events[0].WorkflowID)
	assert.Equal(t, wf.StateDocumentVerification, events[0].State)
	assert.Equal(t, wf.StatusUnderReview, events[0].Status)
	assert.Equal(t, "enrollment application app-1 is now under_review (workflow state DOCUMENT_VERIFICATION)", events[0].Message)
	assert.Equal(t, wf.StatusApproved, events[1].Status)
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	cs := newCapturingServer(http.StatusInternalServerError, http.StatusOK)
	defer cs.server.Close()

	d := newTestDispatcher(t, cs.server.URL)
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Notify(context.Background(), "wf-1", "app-1", wf.StateRejected, "incomplete"))
	require.NoError(t, d.Stop())

	assert.Equal(t, 2, cs.requestCount())
	assert.Len(t, cs.receivedEvents(), 2) // same batch posted twice
}

func TestDispatcher_PermanentFailureIsNotRetried(t *testing.T) {
	cs := newCapturingServer(http.StatusBadRequest)
	defer cs.server.Close()

	d := newTestDispatcher(t, cs.server.URL)
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Notify(context.Background(), "wf-1", "app-1", wf.StateApproved, ""))
	require.NoError(t, d.Stop())

	assert.Equal(t, 1, cs.requestCount())
}

func TestDispatcher_FullQueueDropsEvent(t *testing.T) {
	d := NewDispatcher(Config{
		WebhookURL: "http://127.0.0.1:0",
		QueueSize:  1,
	}, nil, zap.NewNop())
	// Worker deliberately not started: the queue fills up.

	require.NoError(t, d.Notify(context.Background(), "wf-1", "app-1", wf.StateApproved, ""))

	err := d.Notify(context.Background(), "wf-2", "app-2", wf.StateApproved, "")
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDispatcher_NoWebhookConfigured(t *testing.T) {
	d := newTestDispatcher(t, "")
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Notify(context.Background(), "wf-1", "app-1", wf.StateApproved, ""))
	require.NoError(t, d.Stop())
}

func TestRetryStrategy_CalculateBackoff(t *testing.T) {
	s := &RetryStrategy{
		MaxAttempts: 5,
		BaseBackoff: time.Second,
		MaxBackoff:  8 * time.Second,
	}

	assert.Equal(t, time.Second, s.CalculateBackoff(1))
	assert.Equal(t, 2*time.Second, s.CalculateBackoff(2))
	assert.Equal(t, 4*time.Second, s.CalculateBackoff(3))
	assert.Equal(t, 8*time.Second, s.CalculateBackoff(4))
	assert.Equal(t, 8*time.Second, s.CalculateBackoff(5)) // capped
}

func TestRetryStrategy_IsRetryableStatusCode(t *testing.T) {
	s := NewRetryStrategy()

	assert.True(t, s.IsRetryableStatusCode(http.StatusInternalServerError))
	assert.True(t, s.IsRetryableStatusCode(http.StatusBadGateway))
	assert.True(t, s.IsRetryableStatusCode(http.StatusTooManyRequests))
	assert.False(t, s.IsRetryableStatusCode(http.StatusBadRequest))
	assert.False(t, s.IsRetryableStatusCode(http.StatusNotFound))
	assert.False(t, s.IsRetryableStatusCode(http.StatusOK))
}
