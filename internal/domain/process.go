// SPDX-License-Identifier: Apache-2.0

package domain

type ProcessStatus string

const (
	ProcessActive    ProcessStatus = "active"
	ProcessCompleted ProcessStatus = "completed"
	ProcessCancelled ProcessStatus = "cancelled"
)

// ProcessWorkflow binds one business process to a running instance of a
// workflow definition. At most one active binding exists per process id.
type ProcessWorkflow struct {
	ProcessID     string        `json:"process_id"`
	WorkflowID    string        `json:"workflow_id"`
	CurrentStepID string        `json:"current_step_id"`
	Status        ProcessStatus `json:"status"`
}

// Terminal reports whether the binding can no longer accept requests.
func (p ProcessWorkflow) Terminal() bool {
	return p.Status == ProcessCompleted || p.Status == ProcessCancelled
}
