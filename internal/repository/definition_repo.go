// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rafaelmp/comexflow/internal/domain"
)

// DefinitionRepository persists registered workflow definitions so the
// catalog can be rebuilt on restart. Steps are stored as an ordered JSONB
// document, branching rules included.
type DefinitionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDefinitionRepository(pool *pgxpool.Pool, logger *slog.Logger) *DefinitionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefinitionRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *DefinitionRepository) SaveDefinition(ctx context.Context, def domain.WorkflowDefinition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps for workflow %s: %w", def.ID, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflow_definitions (id, name, description, initial_step_id, steps)
		VALUES ($1, $2, $3, $4, $5)
	`,
		def.ID,
		def.Name,
		def.Description,
		def.InitialStepID,
		steps,
	)
	if err != nil {
		r.logger.Error("insert workflow definition failed", "workflow_id", def.ID, "error", err)
		return wrapDBErr(err)
	}

	r.logger.Info("workflow definition persisted", "workflow_id", def.ID)
	return nil
}

func (r *DefinitionRepository) ListDefinitions(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, initial_step_id, steps
		FROM workflow_definitions
		ORDER BY created_at ASC
	`)
	if err != nil {
		r.logger.Error("list workflow definitions failed", "error", err)
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	out := make([]domain.WorkflowDefinition, 0, 8)
	for rows.Next() {
		var (
			def   domain.WorkflowDefinition
			steps []byte
		)
		if err := rows.Scan(&def.ID, &def.Name, &def.Description, &def.InitialStepID, &steps); err != nil {
			r.logger.Error("scan workflow definition failed", "error", err)
			return nil, wrapDBErr(err)
		}
		if err := json.Unmarshal(steps, &def.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps for workflow %s: %w", def.ID, err)
		}
		out = append(out, def)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("workflow definitions rows iteration failed", "error", err)
		return nil, wrapDBErr(err)
	}

	return out, nil
}
