// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rafaelmp/comexflow/internal/domain"
)

// EventRepository reads the audit event stream. Events are written by
// ProcessRepository inside the transaction of the transition they describe;
// this repository only lists them and tracks webhook delivery.
type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *EventRepository) ListEvents(ctx context.Context, processID string, afterSeq int64) ([]domain.WorkflowEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, seq, process_id, type, payload, created_at
		FROM workflow_events
		WHERE process_id=$1
		  AND seq > $2
		ORDER BY seq ASC
	`, processID, afterSeq)
	if err != nil {
		r.logger.Error("list events query failed", "process_id", processID, "error", err)
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	out := make([]domain.WorkflowEvent, 0, 8)
	for rows.Next() {
		var ev domain.WorkflowEvent
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.ProcessID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			r.logger.Error("scan event row failed", "process_id", processID, "error", err)
			return nil, wrapDBErr(err)
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed", "process_id", processID, "error", err)
		return nil, wrapDBErr(err)
	}

	return out, nil
}

// ListUndelivered returns the oldest events not yet handed to the webhook.
// Delivery is at-least-once: MarkDelivered runs only after a successful POST.
// The rows are not claimed or locked; the notifier runs as a single replica.
func (r *EventRepository) ListUndelivered(ctx context.Context, limit int) ([]domain.WorkflowEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, seq, process_id, type, payload, created_at
		FROM workflow_events
		WHERE delivered_at IS NULL
		ORDER BY seq ASC
		LIMIT $1
	`, limit)
	if err != nil {
		r.logger.Error("list undelivered events failed", "error", err)
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	out := make([]domain.WorkflowEvent, 0, limit)
	for rows.Next() {
		var ev domain.WorkflowEvent
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.ProcessID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			r.logger.Error("scan undelivered event failed", "error", err)
			return nil, wrapDBErr(err)
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("undelivered events iteration failed", "error", err)
		return nil, wrapDBErr(err)
	}

	return out, nil
}

func (r *EventRepository) MarkDelivered(ctx context.Context, eventID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE workflow_events SET delivered_at=NOW() WHERE id=$1
	`, eventID); err != nil {
		r.logger.Error("mark event delivered failed", "event_id", eventID, "error", err)
		return wrapDBErr(err)
	}

	return nil
}
