// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rafaelmp/comexflow/internal/domain"
)

// ProcessRepository owns the live binding between business processes and
// running workflow instances. Every mutation runs in a transaction that locks
// the process row, so writes to a given process are serialized and the
// pending→resolved transition of a request is a single compare-and-set.
type ProcessRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewProcessRepository(pool *pgxpool.Pool, logger *slog.Logger) *ProcessRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ProcessRepository{
		pool:   pool,
		logger: logger,
	}
}

// lockTimeout bounds every row-lock wait so a stuck peer surfaces as a
// retryable failure instead of blocking the caller indefinitely.
const lockTimeout = `SET LOCAL lock_timeout = '3s'`

func (r *ProcessRepository) StartWorkflow(ctx context.Context, processID, workflowID, initialStepID string) (domain.ProcessWorkflow, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.ProcessWorkflow{}, wrapDBErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, lockTimeout); err != nil {
		return domain.ProcessWorkflow{}, wrapDBErr(err)
	}

	var existing domain.ProcessWorkflow
	err = tx.QueryRow(ctx, `
		SELECT workflow_id, current_step_id, status
		FROM process_workflows
		WHERE process_id=$1
		FOR UPDATE
	`, processID).Scan(&existing.WorkflowID, &existing.CurrentStepID, &existing.Status)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `
			INSERT INTO process_workflows (process_id, workflow_id, current_step_id, status)
			VALUES ($1, $2, $3, $4)
		`, processID, workflowID, initialStepID, domain.ProcessActive); err != nil {
			r.logger.Error("insert process workflow failed", "process_id", processID, "error", err)
			return domain.ProcessWorkflow{}, wrapDBErr(err)
		}
	case err != nil:
		r.logger.Error("read process workflow failed", "process_id", processID, "error", err)
		return domain.ProcessWorkflow{}, wrapDBErr(err)
	case existing.Status == domain.ProcessActive:
		return domain.ProcessWorkflow{}, fmt.Errorf("%w: process %s already has an active workflow", domain.ErrConflict, processID)
	default:
		// Terminal binding: rebind the process to the new workflow. Prior
		// approval history stays attached for audit.
		if _, err := tx.Exec(ctx, `
			UPDATE process_workflows
			SET workflow_id=$2, current_step_id=$3, status=$4, cancel_reason='', updated_at=NOW()
			WHERE process_id=$1
		`, processID, workflowID, initialStepID, domain.ProcessActive); err != nil {
			r.logger.Error("rebind process workflow failed", "process_id", processID, "error", err)
			return domain.ProcessWorkflow{}, wrapDBErr(err)
		}
	}

	if err := insertEvent(ctx, tx, processID, domain.EventWorkflowStarted, map[string]string{
		"workflow_id":     workflowID,
		"initial_step_id": initialStepID,
	}); err != nil {
		r.logger.Error("insert start event failed", "process_id", processID, "error", err)
		return domain.ProcessWorkflow{}, wrapDBErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit start workflow failed", "process_id", processID, "error", err)
		return domain.ProcessWorkflow{}, wrapDBErr(err)
	}

	r.logger.Info("workflow started",
		"process_id", processID,
		"workflow_id", workflowID,
		"initial_step_id", initialStepID,
	)

	return domain.ProcessWorkflow{
		ProcessID:     processID,
		WorkflowID:    workflowID,
		CurrentStepID: initialStepID,
		Status:        domain.ProcessActive,
	}, nil
}

func (r *ProcessRepository) Get(ctx context.Context, processID string) (domain.ProcessWorkflow, bool, error) {
	pw := domain.ProcessWorkflow{ProcessID: processID}

	err := r.pool.QueryRow(ctx, `
		SELECT workflow_id, current_step_id, status
		FROM process_workflows
		WHERE process_id=$1
	`, processID).Scan(&pw.WorkflowID, &pw.CurrentStepID, &pw.Status)

	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProcessWorkflow{}, false, nil
	}
	if err != nil {
		r.logger.Error("get process workflow failed", "process_id", processID, "error", err)
		return domain.ProcessWorkflow{}, false, wrapDBErr(err)
	}

	return pw, true, nil
}

func (r *ProcessRepository) Cancel(ctx context.Context, processID, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return wrapDBErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, lockTimeout); err != nil {
		return wrapDBErr(err)
	}

	var status domain.ProcessStatus
	err = tx.QueryRow(ctx, `
		SELECT status FROM process_workflows WHERE process_id=$1 FOR UPDATE
	`, processID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: no workflow for process %s", domain.ErrNotFound, processID)
	}
	if err != nil {
		r.logger.Error("read process status failed", "process_id", processID, "error", err)
		return wrapDBErr(err)
	}

	switch status {
	case domain.ProcessCancelled:
		// Idempotent.
		return tx.Commit(ctx)
	case domain.ProcessCompleted:
		return fmt.Errorf("%w: workflow for process %s already completed", domain.ErrConflict, processID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE process_workflows
		SET status=$2, cancel_reason=$3, updated_at=NOW()
		WHERE process_id=$1
	`, processID, domain.ProcessCancelled, reason); err != nil {
		r.logger.Error("update process cancel failed", "process_id", processID, "error", err)
		return wrapDBErr(err)
	}

	if err := insertEvent(ctx, tx, processID, domain.EventWorkflowCancelled, map[string]string{
		"reason": reason,
	}); err != nil {
		r.logger.Error("insert cancel event failed", "process_id", processID, "error", err)
		return wrapDBErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit cancel failed", "process_id", processID, "error", err)
		return wrapDBErr(err)
	}

	r.logger.Info("workflow cancelled", "process_id", processID, "reason", reason)
	return nil
}

func (r *ProcessRepository) CreateRequest(ctx context.Context, params domain.CreateRequestParams) (domain.ApprovalRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.ApprovalRequest{}, wrapDBErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, lockTimeout); err != nil {
		return domain.ApprovalRequest{}, wrapDBErr(err)
	}

	var (
		status        domain.ProcessStatus
		currentStepID string
	)
	err = tx.QueryRow(ctx, `
		SELECT status, current_step_id
		FROM process_workflows
		WHERE process_id=$1
		FOR UPDATE
	`, params.ProcessID).Scan(&status, &currentStepID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ApprovalRequest{}, fmt.Errorf("%w: no workflow for process %s", domain.ErrNotFound, params.ProcessID)
	}
	if err != nil {
		r.logger.Error("read process workflow failed", "process_id", params.ProcessID, "error", err)
		return domain.ApprovalRequest{}, wrapDBErr(err)
	}

	if status != domain.ProcessActive {
		return domain.ApprovalRequest{}, fmt.Errorf("%w: workflow for process %s is %s", domain.ErrConflict, params.ProcessID, status)
	}

	req := domain.ApprovalRequest{
		ID:            uuid.New(),
		ProcessID:     params.ProcessID,
		StepID:        currentStepID,
		RequesterID:   params.RequesterID,
		RequesterRole: params.RequesterRole,
		Status:        domain.ApprovalPending,
		Comments:      params.Comments,
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO approval_requests (id, process_id, step_id, requester_id, requester_role, status, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING request_date
	`,
		req.ID,
		req.ProcessID,
		req.StepID,
		req.RequesterID,
		req.RequesterRole,
		req.Status,
		req.Comments,
	).Scan(&req.RequestDate); err != nil {
		r.logger.Error("insert approval request failed", "process_id", params.ProcessID, "error", err)
		return domain.ApprovalRequest{}, wrapDBErr(err)
	}

	if err := insertEvent(ctx, tx, params.ProcessID, domain.EventRequestCreated, map[string]string{
		"request_id": req.ID.String(),
		"step_id":    req.StepID,
		"requester":  req.RequesterID,
	}); err != nil {
		r.logger.Error("insert request event failed", "process_id", params.ProcessID, "error", err)
		return domain.ApprovalRequest{}, wrapDBErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit create request failed", "process_id", params.ProcessID, "error", err)
		return domain.ApprovalRequest{}, wrapDBErr(err)
	}

	r.logger.Info("approval request created",
		"process_id", req.ProcessID,
		"request_id", req.ID,
		"step_id", req.StepID,
		"requester_id", req.RequesterID,
	)

	return req, nil
}

func (r *ProcessRepository) GetRequest(ctx context.Context, requestID uuid.UUID) (domain.ApprovalRequest, domain.ProcessWorkflow, error) {
	var (
		req       domain.ApprovalRequest
		pw        domain.ProcessWorkflow
		responder *string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT r.id, r.process_id, r.step_id, r.requester_id, r.requester_role,
		       r.status, r.request_date, r.responder_id, r.response_date, r.comments,
		       p.process_id, p.workflow_id, p.current_step_id, p.status
		FROM approval_requests r
		JOIN process_workflows p ON r.process_id = p.process_id
		WHERE r.id=$1
	`, requestID).Scan(
		&req.ID, &req.ProcessID, &req.StepID, &req.RequesterID, &req.RequesterRole,
		&req.Status, &req.RequestDate, &responder, &req.ResponseDate, &req.Comments,
		&pw.ProcessID, &pw.WorkflowID, &pw.CurrentStepID, &pw.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ApprovalRequest{}, domain.ProcessWorkflow{}, fmt.Errorf("%w: approval request %s", domain.ErrNotFound, requestID)
	}
	if err != nil {
		r.logger.Error("get approval request failed", "request_id", requestID, "error", err)
		return domain.ApprovalRequest{}, domain.ProcessWorkflow{}, wrapDBErr(err)
	}

	if responder != nil {
		req.ResponderID = *responder
	}

	return req, pw, nil
}

// ResolveRequest performs the pending→approved/rejected transition and, on
// approval, advances or completes the owning workflow — all inside one
// transaction. The request row lock is the compare-and-set: a concurrent
// resolution of the same request observes a non-pending status and fails
// with ErrConflict.
func (r *ProcessRepository) ResolveRequest(ctx context.Context, requestID uuid.UUID, res domain.RequestResolution) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return wrapDBErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, lockTimeout); err != nil {
		return wrapDBErr(err)
	}

	var (
		processID string
		stepID    string
		status    domain.ApprovalStatus
	)
	err = tx.QueryRow(ctx, `
		SELECT process_id, step_id, status
		FROM approval_requests
		WHERE id=$1
		FOR UPDATE
	`, requestID).Scan(&processID, &stepID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: approval request %s", domain.ErrNotFound, requestID)
	}
	if err != nil {
		r.logger.Error("read approval request failed", "request_id", requestID, "error", err)
		return wrapDBErr(err)
	}

	if status != domain.ApprovalPending {
		return fmt.Errorf("%w: approval request %s already %s", domain.ErrConflict, requestID, status)
	}

	var (
		processStatus domain.ProcessStatus
		currentStepID string
	)
	err = tx.QueryRow(ctx, `
		SELECT status, current_step_id
		FROM process_workflows
		WHERE process_id=$1
		FOR UPDATE
	`, processID).Scan(&processStatus, &currentStepID)
	if err != nil {
		r.logger.Error("read process workflow failed", "process_id", processID, "error", err)
		return wrapDBErr(err)
	}

	if processStatus != domain.ProcessActive {
		return fmt.Errorf("%w: workflow for process %s is %s", domain.ErrConflict, processID, processStatus)
	}

	if res.Status == domain.ApprovalApproved && stepID != currentStepID {
		return fmt.Errorf("%w: request %s targets step %s but process %s is at %s",
			domain.ErrConflict, requestID, stepID, processID, currentStepID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE approval_requests
		SET status=$2,
		    responder_id=$3,
		    response_date=NOW(),
		    comments=COALESCE(NULLIF($4, ''), comments)
		WHERE id=$1
	`, requestID, res.Status, res.ResponderID, res.Comments); err != nil {
		r.logger.Error("update approval request failed", "request_id", requestID, "error", err)
		return wrapDBErr(err)
	}

	eventType := domain.EventRequestRejected
	if res.Status == domain.ApprovalApproved {
		eventType = domain.EventRequestApproved
	}
	if err := insertEvent(ctx, tx, processID, eventType, map[string]string{
		"request_id": requestID.String(),
		"step_id":    stepID,
		"responder":  res.ResponderID,
	}); err != nil {
		r.logger.Error("insert resolution event failed", "request_id", requestID, "error", err)
		return wrapDBErr(err)
	}

	if res.Status == domain.ApprovalApproved {
		if res.NextStepID == nil {
			// Terminal step: current_step_id stays on the last real step.
			if _, err := tx.Exec(ctx, `
				UPDATE process_workflows SET status=$2, updated_at=NOW() WHERE process_id=$1
			`, processID, domain.ProcessCompleted); err != nil {
				r.logger.Error("complete workflow failed", "process_id", processID, "error", err)
				return wrapDBErr(err)
			}
			if err := insertEvent(ctx, tx, processID, domain.EventWorkflowCompleted, map[string]string{
				"final_step_id": stepID,
			}); err != nil {
				r.logger.Error("insert completion event failed", "process_id", processID, "error", err)
				return wrapDBErr(err)
			}
		} else {
			if _, err := tx.Exec(ctx, `
				UPDATE process_workflows SET current_step_id=$2, updated_at=NOW() WHERE process_id=$1
			`, processID, *res.NextStepID); err != nil {
				r.logger.Error("advance workflow failed", "process_id", processID, "error", err)
				return wrapDBErr(err)
			}
			if err := insertEvent(ctx, tx, processID, domain.EventStepAdvanced, map[string]string{
				"from_step_id": stepID,
				"to_step_id":   *res.NextStepID,
			}); err != nil {
				r.logger.Error("insert advance event failed", "process_id", processID, "error", err)
				return wrapDBErr(err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit resolve request failed", "request_id", requestID, "error", err)
		return wrapDBErr(err)
	}

	r.logger.Info("approval request resolved",
		"request_id", requestID,
		"process_id", processID,
		"status", res.Status,
		"responder_id", res.ResponderID,
	)

	return nil
}

// ListHistory returns every request filed against the process, ordered by the
// identity seq rather than request_date: request_date is the transaction-start
// timestamp, and a transaction that started first can commit last.
func (r *ProcessRepository) ListHistory(ctx context.Context, processID string) ([]domain.ApprovalRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, process_id, step_id, requester_id, requester_role,
		       status, request_date, responder_id, response_date, comments
		FROM approval_requests
		WHERE process_id=$1
		ORDER BY seq ASC
	`, processID)
	if err != nil {
		r.logger.Error("list approval history failed", "process_id", processID, "error", err)
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

func (r *ProcessRepository) ListPending(ctx context.Context) ([]domain.PendingRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.process_id, r.step_id, r.requester_id, r.requester_role,
		       r.status, r.request_date, r.responder_id, r.response_date, r.comments,
		       p.workflow_id
		FROM approval_requests r
		JOIN process_workflows p ON r.process_id = p.process_id
		WHERE r.status=$1
		  AND p.status=$2
		ORDER BY r.seq ASC
	`, domain.ApprovalPending, domain.ProcessActive)
	if err != nil {
		r.logger.Error("list pending requests failed", "error", err)
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	out := make([]domain.PendingRequest, 0, 16)
	for rows.Next() {
		var (
			pending   domain.PendingRequest
			responder *string
		)
		if err := rows.Scan(
			&pending.Request.ID, &pending.Request.ProcessID, &pending.Request.StepID,
			&pending.Request.RequesterID, &pending.Request.RequesterRole,
			&pending.Request.Status, &pending.Request.RequestDate,
			&responder, &pending.Request.ResponseDate, &pending.Request.Comments,
			&pending.WorkflowID,
		); err != nil {
			r.logger.Error("scan pending request failed", "error", err)
			return nil, wrapDBErr(err)
		}
		if responder != nil {
			pending.Request.ResponderID = *responder
		}
		out = append(out, pending)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("pending rows iteration failed", "error", err)
		return nil, wrapDBErr(err)
	}

	return out, nil
}

func scanRequests(rows pgx.Rows) ([]domain.ApprovalRequest, error) {
	out := make([]domain.ApprovalRequest, 0, 8)
	for rows.Next() {
		var (
			req       domain.ApprovalRequest
			responder *string
		)
		if err := rows.Scan(
			&req.ID, &req.ProcessID, &req.StepID, &req.RequesterID, &req.RequesterRole,
			&req.Status, &req.RequestDate, &responder, &req.ResponseDate, &req.Comments,
		); err != nil {
			return nil, wrapDBErr(err)
		}
		if responder != nil {
			req.ResponderID = *responder
		}
		out = append(out, req)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}

	return out, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, processID, eventType string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_events (id, process_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), processID, eventType, body)
	return err
}
