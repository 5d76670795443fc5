// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rafaelmp/comexflow/internal/domain"
	"github.com/rafaelmp/comexflow/internal/metrics"
)

// EventSource is the undelivered slice of the audit event stream.
type EventSource interface {
	ListUndelivered(ctx context.Context, limit int) ([]domain.WorkflowEvent, error)
	MarkDelivered(ctx context.Context, eventID uuid.UUID) error
}

type Deps struct {
	Events        EventSource
	Logger        *slog.Logger
	WebhookURL    string
	WebhookSecret string
	HTTPClient    *http.Client
	BatchSize     int
}

// Notifier pushes workflow audit events to a configured webhook. Delivery is
// at-least-once: an event is marked delivered only after a 2xx response, so a
// crash between POST and mark replays the event on the next pass. Run exactly
// one replica; undelivered events are not claimed, and concurrent notifiers
// would deliver the same events twice and out of order.
type Notifier struct {
	events        EventSource
	logger        *slog.Logger
	webhookURL    string
	webhookSecret string
	httpClient    *http.Client
	batchSize     int
}

func New(deps Deps) *Notifier {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	batch := deps.BatchSize
	if batch <= 0 {
		batch = 50
	}

	return &Notifier{
		events:        deps.Events,
		logger:        l,
		webhookURL:    deps.WebhookURL,
		webhookSecret: deps.WebhookSecret,
		httpClient:    client,
		batchSize:     batch,
	}
}

// ProcessOnce delivers one batch of undelivered events in seq order. The
// batch stops at the first event that cannot be delivered so downstream
// consumers never observe gaps.
func (n *Notifier) ProcessOnce(ctx context.Context) error {
	events, err := n.events.ListUndelivered(ctx, n.batchSize)
	if err != nil {
		n.logger.Error("list undelivered events failed", "error", err)
		return err
	}

	for _, ev := range events {
		if err := n.deliverEvent(ctx, ev); err != nil {
			metrics.IncNotifierDelivery("failed")
			n.logger.Warn("event delivery failed",
				"event_id", ev.ID,
				"process_id", ev.ProcessID,
				"type", ev.Type,
				"error", err,
			)
			return err
		}

		if err := n.events.MarkDelivered(ctx, ev.ID); err != nil {
			return err
		}

		metrics.IncNotifierDelivery("delivered")
		n.logger.Info("event delivered",
			"event_id", ev.ID,
			"process_id", ev.ProcessID,
			"type", ev.Type,
		)
	}

	return nil
}

// Run polls for undelivered events until the context is cancelled.
func (n *Notifier) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are logged inside ProcessOnce; the loop keeps going.
			_ = n.ProcessOnce(ctx)
		}
	}
}
