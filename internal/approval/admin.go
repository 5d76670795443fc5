// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"log/slog"

	"github.com/rafaelmp/comexflow/internal/domain"
)

// AdminCatalog is the write side of the workflow definition registry.
type AdminCatalog interface {
	Register(def domain.WorkflowDefinition) error
	Deregister(workflowID string)
	List() []domain.WorkflowDefinition
}

// DefinitionStore persists definitions so the catalog survives restarts.
type DefinitionStore interface {
	SaveDefinition(ctx context.Context, def domain.WorkflowDefinition) error
}

// Admin registers new workflow definitions. Registration validates against the
// in-memory catalog first so invalid or duplicate definitions never reach
// storage; a storage failure rolls the catalog entry back.
type Admin struct {
	catalog AdminCatalog
	store   DefinitionStore
	logger  *slog.Logger
}

func NewAdmin(catalog AdminCatalog, store DefinitionStore, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}

	return &Admin{
		catalog: catalog,
		store:   store,
		logger:  logger,
	}
}

func (a *Admin) RegisterWorkflow(ctx context.Context, def domain.WorkflowDefinition) error {
	if err := a.catalog.Register(def); err != nil {
		return err
	}

	if err := a.store.SaveDefinition(ctx, def); err != nil {
		// A failed save must not leave the id registered in memory only:
		// the definition would vanish on restart and block a retry with a
		// duplicate-id conflict. Roll the catalog entry back.
		a.catalog.Deregister(def.ID)
		return err
	}

	a.logger.Info("workflow definition registered", "workflow_id", def.ID, "steps", len(def.Steps))
	return nil
}

func (a *Admin) ListWorkflows() []domain.WorkflowDefinition {
	return a.catalog.List()
}
