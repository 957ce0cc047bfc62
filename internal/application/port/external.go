package port

import (
	"context"

	"github.com/campusops/enrollment-workflow/internal/domain/workflow"
)

// Notifier is the outbound contract to the notification dispatcher.
// Delivery is fire-and-forget: implementations enqueue and return quickly,
// and the engine never waits for or verifies delivery.
type Notifier interface {
	Notify(ctx context.Context, workflowID, applicationID string, newState workflow.State, comment string) error
}
