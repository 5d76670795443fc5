// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rafaelmp/comexflow/internal/domain"
	"github.com/rafaelmp/comexflow/internal/metrics"
)

// Catalog is the read side of the workflow definition registry.
type Catalog interface {
	GetByID(workflowID string) (domain.WorkflowDefinition, bool)
	GetStep(workflowID, stepID string) (domain.ApprovalStep, bool)
	ResolveNextStep(workflowID, stepID string, attrs map[string]any) *string
}

// ProcessStore persists process workflow bindings and their request history.
// Implementations must serialize writes per process id and resolve requests
// with a single atomic compare-and-set from pending.
type ProcessStore interface {
	StartWorkflow(ctx context.Context, processID, workflowID, initialStepID string) (domain.ProcessWorkflow, error)
	Get(ctx context.Context, processID string) (domain.ProcessWorkflow, bool, error)
	Cancel(ctx context.Context, processID, reason string) error
	CreateRequest(ctx context.Context, params domain.CreateRequestParams) (domain.ApprovalRequest, error)
	GetRequest(ctx context.Context, requestID uuid.UUID) (domain.ApprovalRequest, domain.ProcessWorkflow, error)
	ResolveRequest(ctx context.Context, requestID uuid.UUID, res domain.RequestResolution) error
	ListHistory(ctx context.Context, processID string) ([]domain.ApprovalRequest, error)
	ListPending(ctx context.Context) ([]domain.PendingRequest, error)
}

// RoleAuthority answers whether an actor may act in a role. The engine never
// derives roles itself.
type RoleAuthority interface {
	HasRole(ctx context.Context, actorID, role string) (bool, error)
}

// Service orchestrates the approval workflow state machine: it resolves
// transitions through the catalog, gates resolutions on the step's required
// role, and delegates all mutation to the store.
type Service struct {
	catalog Catalog
	store   ProcessStore
	roles   RoleAuthority
	logger  *slog.Logger
}

func NewService(catalog Catalog, store ProcessStore, roles RoleAuthority, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		catalog: catalog,
		store:   store,
		roles:   roles,
		logger:  logger,
	}
}

// StartWorkflow binds a process to a workflow definition at its initial step.
func (s *Service) StartWorkflow(ctx context.Context, processID, workflowID string) (domain.ProcessWorkflow, error) {
	def, ok := s.catalog.GetByID(workflowID)
	if !ok {
		return domain.ProcessWorkflow{}, fmt.Errorf("%w: workflow %s", domain.ErrNotFound, workflowID)
	}

	pw, err := s.store.StartWorkflow(ctx, processID, workflowID, def.InitialStepID)
	if err != nil {
		return domain.ProcessWorkflow{}, err
	}

	metrics.IncWorkflowStarted()
	return pw, nil
}

func (s *Service) GetWorkflowForProcess(ctx context.Context, processID string) (domain.ProcessWorkflow, bool, error) {
	return s.store.Get(ctx, processID)
}

// CurrentStep returns the step the process is waiting on.
func (s *Service) CurrentStep(ctx context.Context, processID string) (domain.ApprovalStep, error) {
	pw, ok, err := s.store.Get(ctx, processID)
	if err != nil {
		return domain.ApprovalStep{}, err
	}
	if !ok || pw.Status != domain.ProcessActive {
		return domain.ApprovalStep{}, fmt.Errorf("%w: no active workflow for process %s", domain.ErrNotFound, processID)
	}

	step, ok := s.catalog.GetStep(pw.WorkflowID, pw.CurrentStepID)
	if !ok {
		// Cannot happen for a catalog-validated definition.
		return domain.ApprovalStep{}, fmt.Errorf("%w: step %s in workflow %s", domain.ErrNotFound, pw.CurrentStepID, pw.WorkflowID)
	}

	return step, nil
}

func (s *Service) Cancel(ctx context.Context, processID, reason string) error {
	if err := s.store.Cancel(ctx, processID, reason); err != nil {
		return err
	}

	metrics.IncWorkflowFinished(string(domain.ProcessCancelled))
	return nil
}

// CreateApprovalRequest raises a pending request against the process's
// current step. The requester's role is recorded as given; requesting and
// approving are distinct roles, so no role check happens here.
func (s *Service) CreateApprovalRequest(ctx context.Context, params domain.CreateRequestParams) (domain.ApprovalRequest, error) {
	pw, ok, err := s.store.Get(ctx, params.ProcessID)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	if !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("%w: no workflow for process %s", domain.ErrNotFound, params.ProcessID)
	}
	if pw.Status != domain.ProcessActive {
		return domain.ApprovalRequest{}, fmt.Errorf("%w: workflow for process %s is %s", domain.ErrConflict, params.ProcessID, pw.Status)
	}

	if _, ok := s.catalog.GetStep(pw.WorkflowID, pw.CurrentStepID); !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("%w: step %s in workflow %s", domain.ErrNotFound, pw.CurrentStepID, pw.WorkflowID)
	}

	req, err := s.store.CreateRequest(ctx, params)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}

	metrics.IncRequestStatus(string(domain.ApprovalPending))
	return req, nil
}

// Approve resolves a pending request and advances the workflow. The attrs map
// is the caller-supplied snapshot of process fields used for branch
// evaluation; it may be nil when the current step has no branches.
func (s *Service) Approve(ctx context.Context, requestID uuid.UUID, responderID, comments string, attrs map[string]any) error {
	started := time.Now()

	req, pw, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != domain.ApprovalPending {
		return fmt.Errorf("%w: approval request %s already %s", domain.ErrConflict, requestID, req.Status)
	}

	step, ok := s.catalog.GetStep(pw.WorkflowID, req.StepID)
	if !ok {
		return fmt.Errorf("%w: step %s in workflow %s", domain.ErrNotFound, req.StepID, pw.WorkflowID)
	}

	if err := s.authorize(ctx, responderID, step.RequiredRole); err != nil {
		return err
	}

	next := s.catalog.ResolveNextStep(pw.WorkflowID, req.StepID, attrs)

	if err := s.store.ResolveRequest(ctx, requestID, domain.RequestResolution{
		Status:      domain.ApprovalApproved,
		ResponderID: responderID,
		Comments:    comments,
		NextStepID:  next,
	}); err != nil {
		return err
	}

	metrics.IncRequestStatus(string(domain.ApprovalApproved))
	metrics.ObserveResolutionDuration(time.Since(started))
	if next == nil {
		metrics.IncWorkflowFinished(string(domain.ProcessCompleted))
		s.logger.Info("workflow completed",
			"process_id", req.ProcessID,
			"final_step_id", req.StepID,
		)
	}

	return nil
}

// Reject resolves a pending request without advancing the workflow, so a
// corrected request can be raised at the same step.
func (s *Service) Reject(ctx context.Context, requestID uuid.UUID, responderID, comments string) error {
	started := time.Now()

	req, pw, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != domain.ApprovalPending {
		return fmt.Errorf("%w: approval request %s already %s", domain.ErrConflict, requestID, req.Status)
	}

	step, ok := s.catalog.GetStep(pw.WorkflowID, req.StepID)
	if !ok {
		return fmt.Errorf("%w: step %s in workflow %s", domain.ErrNotFound, req.StepID, pw.WorkflowID)
	}

	if err := s.authorize(ctx, responderID, step.RequiredRole); err != nil {
		return err
	}

	if err := s.store.ResolveRequest(ctx, requestID, domain.RequestResolution{
		Status:      domain.ApprovalRejected,
		ResponderID: responderID,
		Comments:    comments,
	}); err != nil {
		return err
	}

	metrics.IncRequestStatus(string(domain.ApprovalRejected))
	metrics.ObserveResolutionDuration(time.Since(started))
	return nil
}

// GetApprovalHistory returns the full ordered request history, oldest first.
func (s *Service) GetApprovalHistory(ctx context.Context, processID string) ([]domain.ApprovalRequest, error) {
	return s.store.ListHistory(ctx, processID)
}

// GetPendingApprovalsForRole returns all pending requests whose owning step
// requires the given role, across all active process workflows.
func (s *Service) GetPendingApprovalsForRole(ctx context.Context, role string) ([]domain.ApprovalRequest, error) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ApprovalRequest, 0, len(pending))
	for _, p := range pending {
		step, ok := s.catalog.GetStep(p.WorkflowID, p.Request.StepID)
		if !ok {
			continue
		}
		if step.RequiredRole == role {
			out = append(out, p.Request)
		}
	}

	return out, nil
}

func (s *Service) authorize(ctx context.Context, actorID, role string) error {
	allowed, err := s.roles.HasRole(ctx, actorID, role)
	if err != nil {
		return err
	}
	if !allowed {
		s.logger.Warn("resolution denied",
			"actor_id", actorID,
			"required_role", role,
		)
		return fmt.Errorf("%w: actor %s does not hold role %s", domain.ErrUnauthorized, actorID, role)
	}

	return nil
}
