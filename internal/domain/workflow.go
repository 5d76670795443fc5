// SPDX-License-Identifier: Apache-2.0

package domain

type BranchOperator string

const (
	OpEquals      BranchOperator = "equals"
	OpNotEquals   BranchOperator = "notEquals"
	OpGreaterThan BranchOperator = "greaterThan"
	OpLessThan    BranchOperator = "lessThan"
)

// Branch is a conditional successor of a step. The first branch whose
// comparison matches the process attribute snapshot wins; evaluation order is
// declaration order.
type Branch struct {
	Field        string         `json:"field" validate:"required"`
	Operator     BranchOperator `json:"operator" validate:"required,oneof=equals notEquals greaterThan lessThan"`
	Value        string         `json:"value" validate:"required"`
	TargetStepID string         `json:"target_step_id" validate:"required"`
}

type ApprovalStep struct {
	ID             string   `json:"id" validate:"required"`
	Name           string   `json:"name" validate:"required"`
	Description    string   `json:"description"`
	RequiredRole   string   `json:"required_role" validate:"required"`
	PreviousStepID string   `json:"previous_step_id,omitempty"`
	NextStepID     string   `json:"next_step_id,omitempty"`
	Branches       []Branch `json:"branches,omitempty" validate:"dive"`
}

// Terminal reports whether the step has no unconditional successor. A step
// with branches only is terminal when no branch matches at evaluation time.
func (s ApprovalStep) Terminal() bool {
	return s.NextStepID == "" && len(s.Branches) == 0
}

type WorkflowDefinition struct {
	ID            string         `json:"id" validate:"required"`
	Name          string         `json:"name" validate:"required"`
	Description   string         `json:"description"`
	InitialStepID string         `json:"initial_step_id" validate:"required"`
	Steps         []ApprovalStep `json:"steps" validate:"required,min=1,dive"`
}

// Step returns the step with the given id within the definition.
func (d WorkflowDefinition) Step(stepID string) (ApprovalStep, bool) {
	for _, s := range d.Steps {
		if s.ID == stepID {
			return s, true
		}
	}
	return ApprovalStep{}, false
}
