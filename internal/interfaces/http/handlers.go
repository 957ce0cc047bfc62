package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusops/enrollment-workflow/internal/application/workflow"
	"github.com/campusops/enrollment-workflow/internal/domain/entity"
	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	executor *workflow.Executor
	syncWait time.Duration
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(executor *workflow.Executor, syncWait time.Duration, logger *zap.Logger) *Handlers {
	if syncWait <= 0 {
		syncWait = 5 * time.Second
	}
	return &Handlers{
		executor: executor,
		syncWait: syncWait,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// WorkflowResponse represents a workflow instance in API responses
type WorkflowResponse struct {
	ID                string   `json:"id"`
	ApplicationID     string   `json:"application_id"`
	State             string   `json:"state"`
	ApplicationStatus string   `json:"application_status"`
	Version           int64    `json:"version"`
	AllowedNext       []string `json:"allowed_next,omitempty"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
}

// HistoryEntryResponse represents one transition log entry in API responses
type HistoryEntryResponse struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Comment   string `json:"comment,omitempty"`
	UpdatedBy string `json:"updated_by"`
	Timestamp string `json:"timestamp"`
}

// HistoryResponse represents one page of the transition log
type HistoryResponse struct {
	Entries []HistoryEntryResponse `json:"entries"`
	Page    int                    `json:"page"`
	Limit   int                    `json:"limit"`
	Total   int64                  `json:"total"`
}

// PendingResponse is returned when a transition is still queued after the
// synchronous wait window.
type PendingResponse struct {
	WorkflowID string `json:"workflow_id"`
	Target     string `json:"target"`
	Status     string `json:"status"`
}

// CreateWorkflowRequest represents the workflow creation payload
type CreateWorkflowRequest struct {
	ApplicationID string `json:"application_id" binding:"required"`
}

// TransitionRequest represents the transition submission payload
type TransitionRequest struct {
	Target  string `json:"target" binding:"required"`
	Actor   string `json:"actor"`
	Comment string `json:"comment"`
}

// ListWorkflowsRequest represents query parameters for listing workflows
type ListWorkflowsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// HistoryRequest represents query parameters for the transition log
type HistoryRequest struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// CreateWorkflow handles POST /api/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "application_id is required",
		})
		return
	}

	instance, err := h.executor.Create(c.Request.Context(), req.ApplicationID)
	if err != nil {
		h.respondError(c, err, "failed to create workflow")
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    toWorkflowResponse(instance, wf.AllowedNext(instance.CurrentState)),
	})
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	instance, next, err := h.executor.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to get workflow")
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toWorkflowResponse(instance, next),
	})
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	var req ListWorkflowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	instances, err := h.executor.List(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.respondError(c, err, "failed to list workflows")
		return
	}

	responses := make([]WorkflowResponse, 0, len(instances))
	for _, instance := range instances {
		responses = append(responses, toWorkflowResponse(instance, nil))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    responses,
	})
}

// SubmitTransition handles POST /api/workflows/:id/transitions.
// The transition runs on the bounded worker pool; the handler waits up to
// the sync window for the result and answers 202 Accepted if the work is
// still queued after that.
func (h *Handlers) SubmitTransition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "target is required",
		})
		return
	}

	workflowID := c.Param("id")
	target := wf.State(req.Target)

	future := h.executor.Submit(workflow.TransitionRequest{
		WorkflowID: workflowID,
		Target:     target,
		Actor:      req.Actor,
		Comment:    req.Comment,
	})

	waitCtx, cancel := context.WithTimeout(c.Request.Context(), h.syncWait)
	defer cancel()

	accepted, err := future.Wait(waitCtx)
	// Sync window over, or the client went away: the queued transition
	// still completes on the pool's background context.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		c.JSON(http.StatusAccepted, Response{
			Success: true,
			Data: PendingResponse{
				WorkflowID: workflowID,
				Target:     req.Target,
				Status:     "pending",
			},
		})
		return
	}
	if err != nil || !accepted {
		h.respondError(c, err, "failed to execute transition")
		return
	}

	instance, next, err := h.executor.Status(c.Request.Context(), workflowID)
	if err != nil {
		h.respondError(c, err, "failed to get workflow")
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toWorkflowResponse(instance, next),
	})
}

// GetHistory handles GET /api/workflows/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	var req HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}

	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}

	entries, total, err := h.executor.History(c.Request.Context(), c.Param("id"), req.Page, req.Limit)
	if err != nil {
		h.respondError(c, err, "failed to get workflow history")
		return
	}

	responses := make([]HistoryEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, toHistoryEntryResponse(entry))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HistoryResponse{
			Entries: responses,
			Page:    req.Page,
			Limit:   req.Limit,
			Total:   total,
		},
	})
}

// respondError maps workflow errors onto HTTP status codes.
func (h *Handlers) respondError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	message := fallback

	switch {
	case errors.Is(err, wf.ErrNotFound):
		status = http.StatusNotFound
		message = "workflow not found"
	case errors.Is(err, wf.ErrDuplicateApplication):
		status = http.StatusConflict
		message = "a workflow already exists for this application"
	case errors.Is(err, wf.ErrVersionConflict):
		status = http.StatusConflict
		message = "workflow was modified concurrently, retry with fresh state"
	case errors.Is(err, wf.ErrUnauthorizedActor):
		status = http.StatusForbidden
		message = "actor is not permitted to perform this transition"
	case errors.Is(err, wf.ErrInvalidTransition),
		errors.Is(err, wf.ErrTerminalState),
		errors.Is(err, wf.ErrUnknownState):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, wf.ErrCircuitOpen),
		errors.Is(err, wf.ErrPersistenceUnavailable):
		status = http.StatusServiceUnavailable
		message = "workflow engine temporarily unavailable"
	case errors.Is(err, wf.ErrTimeout):
		status = http.StatusGatewayTimeout
		message = "transition timed out"
	case errors.Is(err, workflow.ErrQueueFull):
		status = http.StatusServiceUnavailable
		message = "transition queue is full, retry later"
	case errors.Is(err, workflow.ErrPoolClosed):
		status = http.StatusServiceUnavailable
		message = "workflow engine is shutting down"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Unhandled workflow error", zap.Error(err))
	}

	c.JSON(status, Response{
		Success: false,
		Error:   message,
	})
}

func toWorkflowResponse(instance *entity.WorkflowInstance, next []wf.State) WorkflowResponse {
	resp := WorkflowResponse{
		ID:                instance.ID,
		ApplicationID:     instance.ApplicationID,
		State:             instance.CurrentState.String(),
		ApplicationStatus: string(instance.CurrentState.ApplicationStatus()),
		Version:           instance.Version,
		CreatedAt:         instance.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         instance.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, state := range next {
		resp.AllowedNext = append(resp.AllowedNext, state.String())
	}
	return resp
}

func toHistoryEntryResponse(entry *entity.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:        entry.ID,
		State:     entry.State.String(),
		Comment:   entry.Comment,
		UpdatedBy: entry.UpdatedBy,
		Timestamp: entry.Timestamp.UTC().Format(time.RFC3339),
	}
}
