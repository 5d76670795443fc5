// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/google/uuid"
	"github.com/rafaelmp/comexflow/internal/domain"
)

// WorkflowService is the approval engine surface the router needs.
type WorkflowService interface {
	StartWorkflow(ctx context.Context, processID, workflowID string) (domain.ProcessWorkflow, error)
	GetWorkflowForProcess(ctx context.Context, processID string) (domain.ProcessWorkflow, bool, error)
	CurrentStep(ctx context.Context, processID string) (domain.ApprovalStep, error)
	Cancel(ctx context.Context, processID, reason string) error
	CreateApprovalRequest(ctx context.Context, params domain.CreateRequestParams) (domain.ApprovalRequest, error)
	Approve(ctx context.Context, requestID uuid.UUID, responderID, comments string, attrs map[string]any) error
	Reject(ctx context.Context, requestID uuid.UUID, responderID, comments string) error
	GetApprovalHistory(ctx context.Context, processID string) ([]domain.ApprovalRequest, error)
	GetPendingApprovalsForRole(ctx context.Context, role string) ([]domain.ApprovalRequest, error)
}

// DefinitionAdmin manages the workflow definition registry.
type DefinitionAdmin interface {
	RegisterWorkflow(ctx context.Context, def domain.WorkflowDefinition) error
	ListWorkflows() []domain.WorkflowDefinition
}

// EventStreamer reads the per-process audit event stream.
type EventStreamer interface {
	ListEvents(ctx context.Context, processID string, afterSeq int64) ([]domain.WorkflowEvent, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
