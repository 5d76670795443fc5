// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rafaelmp/comexflow/internal/domain"
)

// Catalog is the registry of workflow definitions. Definitions are immutable
// once registered; the normal lifecycle registers the built-in set plus any
// persisted definitions at startup and never mutates afterward.
type Catalog struct {
	mu       sync.RWMutex
	defs     map[string]domain.WorkflowDefinition
	order    []string
	validate *validator.Validate
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}

	return &Catalog{
		defs:     make(map[string]domain.WorkflowDefinition),
		validate: validator.New(),
		logger:   logger,
	}
}

// Register validates a definition and adds it to the catalog. A structurally
// malformed definition, a dangling step reference, or a duplicate step id
// fails with domain.ErrValidation; re-registering an existing workflow id
// fails with domain.ErrConflict.
func (c *Catalog) Register(def domain.WorkflowDefinition) error {
	if err := c.validate.Struct(def); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	steps := make(map[string]domain.ApprovalStep, len(def.Steps))
	for _, step := range def.Steps {
		if _, dup := steps[step.ID]; dup {
			return fmt.Errorf("%w: workflow %s: duplicate step id %q", domain.ErrValidation, def.ID, step.ID)
		}
		steps[step.ID] = step
	}

	if _, ok := steps[def.InitialStepID]; !ok {
		return fmt.Errorf("%w: workflow %s: initial step %q is not a step", domain.ErrValidation, def.ID, def.InitialStepID)
	}

	for _, step := range def.Steps {
		if step.NextStepID != "" {
			if _, ok := steps[step.NextStepID]; !ok {
				return fmt.Errorf("%w: workflow %s: step %s: next step %q is not a step",
					domain.ErrValidation, def.ID, step.ID, step.NextStepID)
			}
		}
		if step.PreviousStepID != "" {
			if _, ok := steps[step.PreviousStepID]; !ok {
				return fmt.Errorf("%w: workflow %s: step %s: previous step %q is not a step",
					domain.ErrValidation, def.ID, step.ID, step.PreviousStepID)
			}
		}
		for _, branch := range step.Branches {
			if _, ok := steps[branch.TargetStepID]; !ok {
				return fmt.Errorf("%w: workflow %s: step %s: branch target %q is not a step",
					domain.ErrValidation, def.ID, step.ID, branch.TargetStepID)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.defs[def.ID]; exists {
		return fmt.Errorf("%w: workflow %s is already registered", domain.ErrConflict, def.ID)
	}

	c.defs[def.ID] = def
	c.order = append(c.order, def.ID)

	c.logger.Info("workflow registered",
		"workflow_id", def.ID,
		"steps", len(def.Steps),
	)

	return nil
}

// Deregister removes a definition from the catalog. Its only caller rolls
// back a registration whose persistence failed; registered definitions are
// otherwise never removed.
func (c *Catalog) Deregister(workflowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.defs[workflowID]; !ok {
		return
	}

	delete(c.defs, workflowID)
	for i, id := range c.order {
		if id == workflowID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Catalog) GetByID(workflowID string) (domain.WorkflowDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.defs[workflowID]
	return def, ok
}

// List returns all definitions in registration order.
func (c *Catalog) List() []domain.WorkflowDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.WorkflowDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.defs[id])
	}
	return out
}

func (c *Catalog) GetStep(workflowID, stepID string) (domain.ApprovalStep, bool) {
	def, ok := c.GetByID(workflowID)
	if !ok {
		return domain.ApprovalStep{}, false
	}
	return def.Step(stepID)
}

// ResolveNextStep evaluates the step's branches in declaration order against
// the process attribute snapshot and returns the first matching target, the
// unconditional next step otherwise, or nil when the step is terminal.
func (c *Catalog) ResolveNextStep(workflowID, stepID string, attrs map[string]any) *string {
	step, ok := c.GetStep(workflowID, stepID)
	if !ok {
		return nil
	}

	for _, branch := range step.Branches {
		if branchMatches(branch, attrs) {
			target := branch.TargetStepID
			return &target
		}
	}

	if step.NextStepID != "" {
		next := step.NextStepID
		return &next
	}

	return nil
}

func branchMatches(branch domain.Branch, attrs map[string]any) bool {
	value, ok := attrs[branch.Field]
	if !ok {
		return false
	}

	left, leftNumeric := asNumber(value)
	right, rightNumeric := parseNumber(branch.Value)
	numeric := leftNumeric && rightNumeric

	switch branch.Operator {
	case domain.OpEquals:
		if numeric {
			return left == right
		}
		return fmt.Sprint(value) == branch.Value
	case domain.OpNotEquals:
		if numeric {
			return left != right
		}
		return fmt.Sprint(value) != branch.Value
	case domain.OpGreaterThan:
		return numeric && left > right
	case domain.OpLessThan:
		return numeric && left < right
	default:
		return false
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		return parseNumber(n)
	default:
		return 0, false
	}
}

func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
