//go:build integration

// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rafaelmp/comexflow/internal/domain"
	"github.com/rafaelmp/comexflow/internal/persistence/postgres"
)

func integrationPool(t *testing.T) (context.Context, *pgxpool.Pool, *slog.Logger) {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot connect (%v)", err)
	}
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	return ctx, pool, logger
}

func integrationEnv(t *testing.T) (context.Context, *ProcessRepository, *EventRepository, *UserRepository, *DefinitionRepository) {
	t.Helper()

	ctx, pool, logger := integrationPool(t)

	return ctx,
		NewProcessRepository(pool, logger),
		NewEventRepository(pool, logger),
		NewUserRepository(pool, logger),
		NewDefinitionRepository(pool, logger)
}

func uniqueProcessID() string {
	return "IMP-IT-" + strings.ToUpper(uuid.NewString()[:8])
}

func TestProcessLifecycleIntegration(t *testing.T) {
	ctx, processes, events, _, _ := integrationEnv(t)
	processID := uniqueProcessID()

	pw, err := processes.StartWorkflow(ctx, processID, "purchase-order-flow", "po-creation")
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}
	if pw.Status != domain.ProcessActive || pw.CurrentStepID != "po-creation" {
		t.Fatalf("unexpected binding: %+v", pw)
	}

	// Second start while active conflicts.
	if _, err := processes.StartWorkflow(ctx, processID, "payment-flow", "payment-request"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for second start, got %v", err)
	}

	req, err := processes.CreateRequest(ctx, domain.CreateRequestParams{
		ProcessID:     processID,
		RequesterID:   "u1",
		RequesterRole: "comprador",
		Comments:      "pedido pronto",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.StepID != "po-creation" || req.Status != domain.ApprovalPending {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.RequestDate.IsZero() {
		t.Fatal("expected request_date from storage")
	}

	next := "po-approval"
	if err := processes.ResolveRequest(ctx, req.ID, domain.RequestResolution{
		Status:      domain.ApprovalApproved,
		ResponderID: "maria",
		NextStepID:  &next,
	}); err != nil {
		t.Fatalf("resolve request: %v", err)
	}

	// Double resolution conflicts.
	if err := processes.ResolveRequest(ctx, req.ID, domain.RequestResolution{
		Status:      domain.ApprovalRejected,
		ResponderID: "maria",
	}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on double resolution, got %v", err)
	}

	pw, found, err := processes.Get(ctx, processID)
	if err != nil || !found {
		t.Fatalf("get binding: found=%v err=%v", found, err)
	}
	if pw.CurrentStepID != "po-approval" {
		t.Fatalf("expected advance to po-approval, got %s", pw.CurrentStepID)
	}

	// Approving a terminal step completes the workflow.
	req2, err := processes.CreateRequest(ctx, domain.CreateRequestParams{
		ProcessID: processID, RequesterID: "u1", RequesterRole: "comprador",
	})
	if err != nil {
		t.Fatalf("create second request: %v", err)
	}
	if err := processes.ResolveRequest(ctx, req2.ID, domain.RequestResolution{
		Status:      domain.ApprovalApproved,
		ResponderID: "carlos",
	}); err != nil {
		t.Fatalf("resolve terminal request: %v", err)
	}

	pw, _, err = processes.Get(ctx, processID)
	if err != nil {
		t.Fatalf("get binding: %v", err)
	}
	if pw.Status != domain.ProcessCompleted || pw.CurrentStepID != "po-approval" {
		t.Fatalf("expected completed at po-approval, got %+v", pw)
	}

	history, err := processes.ListHistory(ctx, processID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].ID != req.ID || history[1].ID != req2.ID {
		t.Fatal("expected history in request order")
	}

	stream, err := events.ListEvents(ctx, processID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	wantTypes := []string{
		domain.EventWorkflowStarted,
		domain.EventRequestCreated,
		domain.EventRequestApproved,
		domain.EventStepAdvanced,
		domain.EventRequestCreated,
		domain.EventRequestApproved,
		domain.EventWorkflowCompleted,
	}
	if len(stream) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(stream))
	}
	for i, want := range wantTypes {
		if stream[i].Type != want {
			t.Fatalf("event %d: expected %s got %s", i, want, stream[i].Type)
		}
	}

	// Terminal binding can be rebound to a fresh workflow; history survives.
	pw, err = processes.StartWorkflow(ctx, processID, "payment-flow", "payment-request")
	if err != nil {
		t.Fatalf("rebind after completion: %v", err)
	}
	if pw.CurrentStepID != "payment-request" {
		t.Fatalf("unexpected rebind step: %s", pw.CurrentStepID)
	}
	history, err = processes.ListHistory(ctx, processID)
	if err != nil {
		t.Fatalf("list history after rebind: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected history preserved across rebind, got %d entries", len(history))
	}
}

func TestHistoryOrderSurvivesTimestampInversionIntegration(t *testing.T) {
	ctx, pool, logger := integrationPool(t)
	processes := NewProcessRepository(pool, logger)
	processID := uniqueProcessID()

	if _, err := processes.StartWorkflow(ctx, processID, "purchase-order-flow", "po-creation"); err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	first, err := processes.CreateRequest(ctx, domain.CreateRequestParams{
		ProcessID: processID, RequesterID: "u1", RequesterRole: "comprador",
	})
	if err != nil {
		t.Fatalf("create first request: %v", err)
	}
	second, err := processes.CreateRequest(ctx, domain.CreateRequestParams{
		ProcessID: processID, RequesterID: "u2", RequesterRole: "comprador",
	})
	if err != nil {
		t.Fatalf("create second request: %v", err)
	}

	// request_date is the transaction-start timestamp, so a writer that
	// started first can commit after a later starter. Push the first row's
	// timestamp past the second to reproduce that inversion.
	if _, err := pool.Exec(ctx, `
		UPDATE approval_requests SET request_date = request_date + INTERVAL '1 hour' WHERE id=$1
	`, first.ID); err != nil {
		t.Fatalf("shift request_date: %v", err)
	}

	history, err := processes.ListHistory(ctx, processID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].ID != first.ID || history[1].ID != second.ID {
		t.Fatal("expected history ordered by insertion, not by request_date")
	}
}

func TestStaleRequestIntegration(t *testing.T) {
	ctx, processes, _, _, _ := integrationEnv(t)
	processID := uniqueProcessID()

	if _, err := processes.StartWorkflow(ctx, processID, "purchase-order-flow", "po-creation"); err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	first, err := processes.CreateRequest(ctx, domain.CreateRequestParams{
		ProcessID: processID, RequesterID: "u1", RequesterRole: "comprador",
	})
	if err != nil {
		t.Fatalf("create first request: %v", err)
	}
	second, err := processes.CreateRequest(ctx, domain.CreateRequestParams{
		ProcessID: processID, RequesterID: "u2", RequesterRole: "comprador",
	})
	if err != nil {
		t.Fatalf("create second request: %v", err)
	}

	next := "po-approval"
	if err := processes.ResolveRequest(ctx, first.ID, domain.RequestResolution{
		Status:      domain.ApprovalApproved,
		ResponderID: "maria",
		NextStepID:  &next,
	}); err != nil {
		t.Fatalf("resolve first request: %v", err)
	}

	if err := processes.ResolveRequest(ctx, second.ID, domain.RequestResolution{
		Status:      domain.ApprovalApproved,
		ResponderID: "maria",
		NextStepID:  &next,
	}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for stale request, got %v", err)
	}

	// A rejection of the stale request is still allowed.
	if err := processes.ResolveRequest(ctx, second.ID, domain.RequestResolution{
		Status:      domain.ApprovalRejected,
		ResponderID: "maria",
	}); err != nil {
		t.Fatalf("reject stale request: %v", err)
	}
}

func TestCancelIntegration(t *testing.T) {
	ctx, processes, _, _, _ := integrationEnv(t)
	processID := uniqueProcessID()

	if err := processes.Cancel(ctx, processID, "nunca iniciado"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := processes.StartWorkflow(ctx, processID, "purchase-order-flow", "po-creation"); err != nil {
		t.Fatalf("start workflow: %v", err)
	}
	req, err := processes.CreateRequest(ctx, domain.CreateRequestParams{
		ProcessID: processID, RequesterID: "u1", RequesterRole: "comprador",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if err := processes.Cancel(ctx, processID, "processo suspenso"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := processes.Cancel(ctx, processID, "de novo"); err != nil {
		t.Fatalf("expected idempotent cancel, got %v", err)
	}

	// Resolving under a cancelled workflow conflicts.
	if err := processes.ResolveRequest(ctx, req.ID, domain.RequestResolution{
		Status:      domain.ApprovalApproved,
		ResponderID: "maria",
	}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict under cancelled workflow, got %v", err)
	}
}

func TestPendingAndRolesIntegration(t *testing.T) {
	ctx, processes, _, users, _ := integrationEnv(t)
	processID := uniqueProcessID()

	actorID := "it-" + uuid.NewString()[:8]
	if err := users.SaveUser(ctx, actorID, "Maria Silva", "comprador"); err != nil {
		t.Fatalf("save user: %v", err)
	}

	ok, err := users.HasRole(ctx, actorID, "comprador")
	if err != nil || !ok {
		t.Fatalf("expected actor to hold comprador: ok=%v err=%v", ok, err)
	}
	ok, err = users.HasRole(ctx, actorID, "gerente_compras")
	if err != nil || ok {
		t.Fatalf("expected actor to lack gerente_compras: ok=%v err=%v", ok, err)
	}
	ok, err = users.HasRole(ctx, "unknown-"+actorID, "comprador")
	if err != nil || ok {
		t.Fatalf("expected unknown actor to hold no roles: ok=%v err=%v", ok, err)
	}

	if _, err := processes.StartWorkflow(ctx, processID, "purchase-order-flow", "po-creation"); err != nil {
		t.Fatalf("start workflow: %v", err)
	}
	req, err := processes.CreateRequest(ctx, domain.CreateRequestParams{
		ProcessID: processID, RequesterID: actorID, RequesterRole: "comprador",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	pending, err := processes.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	var found bool
	for _, p := range pending {
		if p.Request.ID == req.ID {
			found = true
			if p.WorkflowID != "purchase-order-flow" {
				t.Fatalf("unexpected workflow id on pending request: %s", p.WorkflowID)
			}
		}
	}
	if !found {
		t.Fatal("expected created request in pending list")
	}
}

func TestDefinitionsRoundTripIntegration(t *testing.T) {
	ctx, _, _, _, definitions := integrationEnv(t)

	id := "it-flow-" + uuid.NewString()[:8]
	def := domain.WorkflowDefinition{
		ID:            id,
		Name:          "Fluxo de Teste",
		InitialStepID: "only",
		Steps: []domain.ApprovalStep{
			{
				ID:           "only",
				Name:         "Única Etapa",
				RequiredRole: "comprador",
				Branches: []domain.Branch{
					{Field: "valor_total", Operator: domain.OpGreaterThan, Value: "1000", TargetStepID: "only"},
				},
			},
		},
	}

	if err := definitions.SaveDefinition(ctx, def); err != nil {
		t.Fatalf("save definition: %v", err)
	}

	all, err := definitions.ListDefinitions(ctx)
	if err != nil {
		t.Fatalf("list definitions: %v", err)
	}

	var got *domain.WorkflowDefinition
	for i := range all {
		if all[i].ID == id {
			got = &all[i]
		}
	}
	if got == nil {
		t.Fatal("expected saved definition in listing")
	}
	if len(got.Steps) != 1 || len(got.Steps[0].Branches) != 1 {
		t.Fatalf("expected steps and branches to round-trip, got %+v", got.Steps)
	}
	if got.Steps[0].Branches[0].Operator != domain.OpGreaterThan {
		t.Fatalf("unexpected branch operator: %s", got.Steps[0].Branches[0].Operator)
	}
}

func TestEventDeliveryIntegration(t *testing.T) {
	ctx, processes, events, _, _ := integrationEnv(t)
	processID := uniqueProcessID()

	if _, err := processes.StartWorkflow(ctx, processID, "purchase-order-flow", "po-creation"); err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	undelivered, err := events.ListUndelivered(ctx, 500)
	if err != nil {
		t.Fatalf("list undelivered: %v", err)
	}

	var target *domain.WorkflowEvent
	for i := range undelivered {
		if undelivered[i].ProcessID == processID {
			target = &undelivered[i]
		}
	}
	if target == nil {
		t.Fatal("expected start event in undelivered list")
	}

	if err := events.MarkDelivered(ctx, target.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	undelivered, err = events.ListUndelivered(ctx, 500)
	if err != nil {
		t.Fatalf("list undelivered after mark: %v", err)
	}
	for _, ev := range undelivered {
		if ev.ID == target.ID {
			t.Fatal("expected marked event to leave the undelivered list")
		}
	}
}
