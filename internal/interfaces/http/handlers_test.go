package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/enrollment-workflow/internal/application/workflow"
	"github.com/campusops/enrollment-workflow/internal/domain/entity"
	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
)

// memStore is a minimal in-memory WorkflowStore for handler tests.
type memStore struct {
	mu        sync.Mutex
	order     []string
	instances map[string]*entity.WorkflowInstance
	history   []*entity.HistoryEntry

	// holdSave, when set, blocks SaveTransition so a test can observe a
	// request while its transition is still in flight.
	holdSave func()
}

func newMemStore() *memStore {
	return &memStore{instances: make(map[string]*entity.WorkflowInstance)}
}

func (s *memStore) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.instances {
		if existing.ApplicationID == instance.ApplicationID {
			return wf.ErrDuplicateApplication
		}
	}
	clone := *instance
	s.instances[instance.ID] = &clone
	s.order = append(s.order, instance.ID)
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.instances[id]
	if !ok {
		return nil, wf.ErrNotFound
	}
	clone := *instance
	return &clone, nil
}

func (s *memStore) GetByApplicationID(ctx context.Context, applicationID string) (*entity.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, instance := range s.instances {
		if instance.ApplicationID == applicationID {
			clone := *instance
			return &clone, nil
		}
	}
	return nil, wf.ErrNotFound
}

func (s *memStore) SaveState(ctx context.Context, instance *entity.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(instance)
}

func (s *memStore) save(instance *entity.WorkflowInstance) error {
	stored, ok := s.instances[instance.ID]
	if !ok {
		return wf.ErrNotFound
	}
	if stored.Version != instance.Version-1 {
		return wf.ErrVersionConflict
	}
	clone := *instance
	s.instances[instance.ID] = &clone
	return nil
}

func (s *memStore) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.WorkflowInstance
	// Newest first.
	for i := len(s.order) - 1; i >= 0; i-- {
		clone := *s.instances[s.order[i]]
		out = append(out, &clone)
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *memStore) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

func (s *memStore) ListByWorkflowID(ctx context.Context, workflowID string, limit, offset int) ([]*entity.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []*entity.HistoryEntry
	for _, entry := range s.history {
		if entry.WorkflowID == workflowID {
			entries = append(entries, entry)
		}
	}
	if offset >= len(entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], nil
}

func (s *memStore) CountByWorkflowID(ctx context.Context, workflowID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, entry := range s.history {
		if entry.WorkflowID == workflowID {
			count++
		}
	}
	return count, nil
}

func (s *memStore) CreateWithHistory(ctx context.Context, instance *entity.WorkflowInstance, entry *entity.HistoryEntry) error {
	if err := s.Create(ctx, instance); err != nil {
		return err
	}
	return s.Append(ctx, entry)
}

func (s *memStore) SaveTransition(ctx context.Context, instance *entity.WorkflowInstance, entry *entity.HistoryEntry) error {
	if s.holdSave != nil {
		s.holdSave()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(instance); err != nil {
		return err
	}
	s.history = append(s.history, entry)
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	executor := workflow.NewExecutor(workflow.ExecutorConfig{
		TransitionTimeout: time.Second,
		WorkerCount:       2,
		QueueSize:         8,
	}, newMemStore(), zap.NewNop())
	t.Cleanup(executor.Close)

	return NewServer(ServerConfig{
		Host:     "127.0.0.1",
		Port:     8080,
		SyncWait: time.Second,
	}, executor, prometheus.NewRegistry(), zap.NewNop())
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()

	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
}

func createWorkflow(t *testing.T, s *Server, applicationID string) WorkflowResponse {
	t.Helper()

	w := doRequest(t, s, http.MethodPost, "/api/workflows", jsonBody{"application_id": applicationID})
	require.Equal(t, http.StatusCreated, w.Code)

	var created WorkflowResponse
	decodeData(t, w, &created)
	return created
}

// jsonBody is a generic JSON request payload.
type jsonBody map[string]interface{}

func TestHandlers_HealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	decodeData(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
}

func TestHandlers_CreateWorkflow(t *testing.T) {
	s := newTestServer(t)

	created := createWorkflow(t, s, "app-1")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "app-1", created.ApplicationID)
	assert.Equal(t, "CREATED", created.State)
	assert.Equal(t, "submitted", created.ApplicationStatus)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, []string{"DOCUMENT_VERIFICATION", "REJECTED"}, created.AllowedNext)
}

func TestHandlers_CreateWorkflow_MissingApplicationID(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/workflows", jsonBody{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_CreateWorkflow_Duplicate(t *testing.T) {
	s := newTestServer(t)

	createWorkflow(t, s, "app-1")
	w := doRequest(t, s, http.MethodPost, "/api/workflows", jsonBody{"application_id": "app-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandlers_GetWorkflow(t *testing.T) {
	s := newTestServer(t)
	created := createWorkflow(t, s, "app-1")

	w := doRequest(t, s, http.MethodGet, "/api/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got WorkflowResponse
	decodeData(t, w, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "CREATED", got.State)
}

func TestHandlers_GetWorkflow_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/workflows/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_SubmitTransition(t *testing.T) {
	s := newTestServer(t)
	created := createWorkflow(t, s, "app-1")

	w := doRequest(t, s, http.MethodPost, "/api/workflows/"+created.ID+"/transitions", jsonBody{
		"target":  "DOCUMENT_VERIFICATION",
		"actor":   "staff-1",
		"comment": "docs received",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var got WorkflowResponse
	decodeData(t, w, &got)
	assert.Equal(t, "DOCUMENT_VERIFICATION", got.State)
	assert.Equal(t, "under_review", got.ApplicationStatus)
	assert.Equal(t, int64(2), got.Version)
}

func TestHandlers_SubmitTransition_InvalidEdge(t *testing.T) {
	s := newTestServer(t)
	created := createWorkflow(t, s, "app-1")

	w := doRequest(t, s, http.MethodPost, "/api/workflows/"+created.ID+"/transitions", jsonBody{
		"target": "APPROVED",
		"actor":  "staff-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_SubmitTransition_UnauthorizedActor(t *testing.T) {
	s := newTestServer(t)
	created := createWorkflow(t, s, "app-1")

	w := doRequest(t, s, http.MethodPost, "/api/workflows/"+created.ID+"/transitions", jsonBody{
		"target": "REJECTED",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlers_SubmitTransition_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/workflows/unknown/transitions", jsonBody{
		"target": "DOCUMENT_VERIFICATION",
		"actor":  "staff-1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_SubmitTransition_ClientGone(t *testing.T) {
	store := newMemStore()
	executor := workflow.NewExecutor(workflow.ExecutorConfig{
		TransitionTimeout: time.Second,
		WorkerCount:       1,
		QueueSize:         8,
	}, store, zap.NewNop())
	t.Cleanup(executor.Close)

	s := NewServer(ServerConfig{
		Host:     "127.0.0.1",
		Port:     8080,
		SyncWait: time.Second,
	}, executor, prometheus.NewRegistry(), zap.NewNop())

	created := createWorkflow(t, s, "app-1")

	release := make(chan struct{})
	store.holdSave = func() { <-release }

	// The client disconnected before the transition could commit.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body, err := json.Marshal(jsonBody{"target": "DOCUMENT_VERIFICATION"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/workflows/"+created.ID+"/transitions",
		bytes.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var pending PendingResponse
	decodeData(t, w, &pending)
	assert.Equal(t, "pending", pending.Status)

	// The transition still completes on the pool once the store unblocks.
	close(release)
	assert.Eventually(t, func() bool {
		instance, err := store.GetByID(context.Background(), created.ID)
		return err == nil && instance.CurrentState == wf.StateDocumentVerification
	}, time.Second, 10*time.Millisecond)
}

func TestHandlers_SubmitTransition_MissingTarget(t *testing.T) {
	s := newTestServer(t)
	created := createWorkflow(t, s, "app-1")

	w := doRequest(t, s, http.MethodPost, "/api/workflows/"+created.ID+"/transitions", jsonBody{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_GetHistory(t *testing.T) {
	s := newTestServer(t)
	created := createWorkflow(t, s, "app-1")

	w := doRequest(t, s, http.MethodPost, "/api/workflows/"+created.ID+"/transitions", jsonBody{
		"target": "DOCUMENT_VERIFICATION",
		"actor":  "staff-1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/workflows/"+created.ID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var history HistoryResponse
	decodeData(t, w, &history)
	assert.Equal(t, int64(2), history.Total)
	require.Len(t, history.Entries, 2)
	// Oldest first.
	assert.Equal(t, "CREATED", history.Entries[0].State)
	assert.Equal(t, "DOCUMENT_VERIFICATION", history.Entries[1].State)
}

func TestHandlers_GetHistory_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/workflows/unknown/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_ListWorkflows(t *testing.T) {
	s := newTestServer(t)
	createWorkflow(t, s, "app-1")
	createWorkflow(t, s, "app-2")

	w := doRequest(t, s, http.MethodGet, "/api/workflows?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []WorkflowResponse
	decodeData(t, w, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "app-2", list[0].ApplicationID)
	assert.Equal(t, "app-1", list[1].ApplicationID)
}

func TestHandlers_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
