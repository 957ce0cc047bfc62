package entity

import (
	"time"

	"github.com/campusops/enrollment-workflow/internal/domain/workflow"
)

// WorkflowInstance is the per-application state machine record.
// ID and ApplicationID are set at creation and never change; CurrentState
// and Version are mutated only through a persisted transition.
type WorkflowInstance struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"application_id"`
	CurrentState  workflow.State `json:"current_state"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HistoryEntry is one row of the append-only transition log. State is the
// state transitioned into; entries are immutable once written.
type HistoryEntry struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	State      workflow.State `json:"state"`
	Comment    string         `json:"comment"`
	UpdatedBy  string         `json:"updated_by"`
	Timestamp  time.Time      `json:"timestamp"`
}
