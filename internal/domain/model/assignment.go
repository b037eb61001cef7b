package model

import "time"

// PlanAssignment is one interval of the plan ledger. Until is nil for the
// tenant's current assignment.
type PlanAssignment struct {
	ID       string
	TenantID string
	PlanCode PlanCode
	Since    time.Time
	Until    *time.Time
	Reason   string
}

func (a *PlanAssignment) IsOpen() bool { return a != nil && a.Until == nil }
