// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/rafaelmp/comexflow/internal/domain"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func twoStepFlow() domain.WorkflowDefinition {
	return domain.WorkflowDefinition{
		ID:            "two-step",
		Name:          "Two step flow",
		InitialStepID: "first",
		Steps: []domain.ApprovalStep{
			{ID: "first", Name: "First", RequiredRole: "comprador", NextStepID: "second"},
			{ID: "second", Name: "Second", RequiredRole: "gerente_compras", PreviousStepID: "first"},
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	c := newTestCatalog(t)

	if err := c.Register(twoStepFlow()); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	def, ok := c.GetByID("two-step")
	if !ok {
		t.Fatal("expected workflow to be registered")
	}
	if def.InitialStepID != "first" {
		t.Fatalf("unexpected initial step: %s", def.InitialStepID)
	}

	step, ok := c.GetStep("two-step", "second")
	if !ok {
		t.Fatal("expected step lookup to succeed")
	}
	if step.RequiredRole != "gerente_compras" {
		t.Fatalf("unexpected required role: %s", step.RequiredRole)
	}

	if _, ok := c.GetStep("two-step", "missing"); ok {
		t.Fatal("expected unknown step lookup to fail")
	}
	if _, ok := c.GetByID("missing"); ok {
		t.Fatal("expected unknown workflow lookup to fail")
	}
}

func TestRegisterDuplicateWorkflowID(t *testing.T) {
	c := newTestCatalog(t)

	if err := c.Register(twoStepFlow()); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if err := c.Register(twoStepFlow()); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeregisterFreesWorkflowID(t *testing.T) {
	c := newTestCatalog(t)

	if err := c.Register(twoStepFlow()); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	c.Deregister("two-step")

	if _, ok := c.GetByID("two-step"); ok {
		t.Fatal("expected workflow removed from catalog")
	}
	if got := c.List(); len(got) != 0 {
		t.Fatalf("expected empty list after deregister, got %d", len(got))
	}
	if err := c.Register(twoStepFlow()); err != nil {
		t.Fatalf("expected re-register after deregister to succeed: %v", err)
	}

	// Unknown ids are a no-op.
	c.Deregister("missing")
}

func TestRegisterRejectsMalformedDefinitions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.WorkflowDefinition)
	}{
		{
			name:   "missing name",
			mutate: func(d *domain.WorkflowDefinition) { d.Name = "" },
		},
		{
			name:   "no steps",
			mutate: func(d *domain.WorkflowDefinition) { d.Steps = nil },
		},
		{
			name:   "dangling initial step",
			mutate: func(d *domain.WorkflowDefinition) { d.InitialStepID = "nowhere" },
		},
		{
			name: "dangling next step",
			mutate: func(d *domain.WorkflowDefinition) {
				d.Steps[1].NextStepID = "nowhere"
			},
		},
		{
			name: "dangling previous step",
			mutate: func(d *domain.WorkflowDefinition) {
				d.Steps[0].PreviousStepID = "nowhere"
			},
		},
		{
			name: "duplicate step id",
			mutate: func(d *domain.WorkflowDefinition) {
				d.Steps[1].ID = "first"
			},
		},
		{
			name: "step without role",
			mutate: func(d *domain.WorkflowDefinition) {
				d.Steps[0].RequiredRole = ""
			},
		},
		{
			name: "dangling branch target",
			mutate: func(d *domain.WorkflowDefinition) {
				d.Steps[0].Branches = []domain.Branch{
					{Field: "valor", Operator: domain.OpGreaterThan, Value: "1000", TargetStepID: "nowhere"},
				}
			},
		},
		{
			name: "unknown branch operator",
			mutate: func(d *domain.WorkflowDefinition) {
				d.Steps[0].Branches = []domain.Branch{
					{Field: "valor", Operator: "between", Value: "1000", TargetStepID: "second"},
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCatalog(t)
			def := twoStepFlow()
			tc.mutate(&def)

			err := c.Register(def)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := c.GetByID(def.ID); ok {
				t.Fatal("rejected definition must not be added to the catalog")
			}
		})
	}
}

func branchedFlow() domain.WorkflowDefinition {
	return domain.WorkflowDefinition{
		ID:            "branched",
		Name:          "Branched flow",
		InitialStepID: "review",
		Steps: []domain.ApprovalStep{
			{
				ID:           "review",
				Name:         "Review",
				RequiredRole: "comprador",
				NextStepID:   "standard",
				Branches: []domain.Branch{
					{Field: "valor_total", Operator: domain.OpGreaterThan, Value: "50000", TargetStepID: "director"},
					{Field: "urgencia", Operator: domain.OpEquals, Value: "alta", TargetStepID: "fasttrack"},
				},
			},
			{ID: "standard", Name: "Standard", RequiredRole: "gerente_compras"},
			{ID: "director", Name: "Director", RequiredRole: "gerente_financeiro"},
			{ID: "fasttrack", Name: "Fast track", RequiredRole: "gerente_compras"},
		},
	}
}

func TestResolveNextStepBranching(t *testing.T) {
	c := newTestCatalog(t)
	if err := c.Register(branchedFlow()); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	cases := []struct {
		name  string
		attrs map[string]any
		want  string
	}{
		{
			name:  "no attributes falls through to next",
			attrs: nil,
			want:  "standard",
		},
		{
			name:  "numeric greater than",
			attrs: map[string]any{"valor_total": 75000.0},
			want:  "director",
		},
		{
			name:  "numeric value as string",
			attrs: map[string]any{"valor_total": "60000"},
			want:  "director",
		},
		{
			name:  "below threshold falls through",
			attrs: map[string]any{"valor_total": 100},
			want:  "standard",
		},
		{
			name:  "string equals",
			attrs: map[string]any{"urgencia": "alta"},
			want:  "fasttrack",
		},
		{
			name: "declaration order wins when both match",
			attrs: map[string]any{
				"valor_total": 99999,
				"urgencia":    "alta",
			},
			want: "director",
		},
		{
			name:  "non numeric operand never matches ordering operators",
			attrs: map[string]any{"valor_total": "muito"},
			want:  "standard",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next := c.ResolveNextStep("branched", "review", tc.attrs)
			if next == nil {
				t.Fatal("expected a next step")
			}
			if *next != tc.want {
				t.Fatalf("expected next step %s, got %s", tc.want, *next)
			}
		})
	}
}

func TestResolveNextStepTerminal(t *testing.T) {
	c := newTestCatalog(t)
	if err := c.Register(twoStepFlow()); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	if next := c.ResolveNextStep("two-step", "second", nil); next != nil {
		t.Fatalf("expected terminal step, got %s", *next)
	}
	if next := c.ResolveNextStep("two-step", "missing", nil); next != nil {
		t.Fatalf("expected nil for unknown step, got %s", *next)
	}
}

func TestNotEqualsOperator(t *testing.T) {
	c := newTestCatalog(t)
	def := domain.WorkflowDefinition{
		ID:            "ne-flow",
		Name:          "Not equals flow",
		InitialStepID: "start",
		Steps: []domain.ApprovalStep{
			{
				ID:           "start",
				Name:         "Start",
				RequiredRole: "financeiro",
				Branches: []domain.Branch{
					{Field: "moeda", Operator: domain.OpNotEquals, Value: "BRL", TargetStepID: "fx"},
				},
			},
			{ID: "fx", Name: "Exchange", RequiredRole: "gerente_financeiro"},
		},
	}
	if err := c.Register(def); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	if next := c.ResolveNextStep("ne-flow", "start", map[string]any{"moeda": "USD"}); next == nil || *next != "fx" {
		t.Fatalf("expected fx branch, got %v", next)
	}

	// No unconditional next: a matching currency makes the step terminal.
	if next := c.ResolveNextStep("ne-flow", "start", map[string]any{"moeda": "BRL"}); next != nil {
		t.Fatalf("expected terminal, got %s", *next)
	}
}

func TestBuiltinDefinitionsRegister(t *testing.T) {
	c := newTestCatalog(t)

	if err := RegisterBuiltin(c); err != nil {
		t.Fatalf("builtin definitions must register cleanly: %v", err)
	}

	if len(c.List()) != 5 {
		t.Fatalf("expected 5 builtin workflows, got %d", len(c.List()))
	}

	def, ok := c.GetByID("purchase-order-flow")
	if !ok {
		t.Fatal("expected purchase-order-flow to be registered")
	}
	if def.InitialStepID != "po-creation" {
		t.Fatalf("unexpected initial step: %s", def.InitialStepID)
	}

	step, ok := c.GetStep("purchase-order-flow", "po-approval")
	if !ok {
		t.Fatal("expected po-approval step")
	}
	if step.RequiredRole != "gerente_compras" {
		t.Fatalf("unexpected role: %s", step.RequiredRole)
	}
}
