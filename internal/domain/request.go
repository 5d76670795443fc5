// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest is a single ask-and-resolve unit raised against the current
// step of a process workflow. Requests are never deleted; resolved requests
// stay in the history for audit.
type ApprovalRequest struct {
	ID            uuid.UUID      `json:"id"`
	ProcessID     string         `json:"process_id"`
	StepID        string         `json:"step_id"`
	RequesterID   string         `json:"requester_id"`
	RequesterRole string         `json:"requester_role"`
	Status        ApprovalStatus `json:"status"`
	RequestDate   time.Time      `json:"request_date"`
	ResponderID   string         `json:"responder_id,omitempty"`
	ResponseDate  *time.Time     `json:"response_date,omitempty"`
	Comments      string         `json:"comments,omitempty"`
}

type CreateRequestParams struct {
	ProcessID     string
	RequesterID   string
	RequesterRole string
	Comments      string
}

// RequestResolution describes the terminal transition of a pending request.
// NextStepID is only consulted when Status is ApprovalApproved: nil completes
// the workflow, a value advances the current step.
type RequestResolution struct {
	Status      ApprovalStatus
	ResponderID string
	Comments    string
	NextStepID  *string
}

// PendingRequest pairs a pending approval request with the workflow it was
// raised under, so callers can resolve the owning step without a second read.
type PendingRequest struct {
	Request    ApprovalRequest
	WorkflowID string
}
