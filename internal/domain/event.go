// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventWorkflowStarted   = "WORKFLOW_STARTED"
	EventWorkflowCancelled = "WORKFLOW_CANCELLED"
	EventWorkflowCompleted = "WORKFLOW_COMPLETED"
	EventRequestCreated    = "REQUEST_CREATED"
	EventRequestApproved   = "REQUEST_APPROVED"
	EventRequestRejected   = "REQUEST_REJECTED"
	EventStepAdvanced      = "STEP_ADVANCED"
)

// WorkflowEvent is an audit record of a workflow transition. Events are
// appended inside the same transaction as the transition they describe and
// handed to the configured webhook by the notifier worker.
type WorkflowEvent struct {
	ID        uuid.UUID       `json:"id"`
	Seq       int64           `json:"seq"`
	ProcessID string          `json:"process_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
