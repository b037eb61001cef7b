package model

import "time"

// SubscriptionStatus mirrors the processor-side subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "none"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

// CanCreate reports whether a new subscription may be started from s.
func (s SubscriptionStatus) CanCreate() bool {
	switch s {
	case SubscriptionStatusNone, SubscriptionStatusCanceled, SubscriptionStatusExpired, "":
		return true
	}
	return false
}

// Terminal statuses are reset to the free plan.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusExpired
}

type PendingChangeKind string

const (
	PendingNone      PendingChangeKind = ""
	PendingDowngrade PendingChangeKind = "downgrade"
	PendingCancel    PendingChangeKind = "cancel"
)

// PendingChange is a deferred downgrade or end-of-period cancellation.
type PendingChange struct {
	Kind          PendingChangeKind
	PlanCode      PlanCode
	EffectiveAt   time.Time
	RequestedAt   time.Time
	RequestedFrom PlanCode
}

// DueAt reports whether the change should be applied at t.
func (p *PendingChange) DueAt(t time.Time) bool {
	return p != nil && !p.EffectiveAt.After(t)
}

// SameAs compares identity of two staged changes.
func (p *PendingChange) SameAs(o *PendingChange) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Kind == o.Kind && p.PlanCode == o.PlanCode && p.EffectiveAt.Equal(o.EffectiveAt)
}

type CancelEffective string

const (
	CancelImmediately CancelEffective = "immediate"
	CancelEndOfPeriod CancelEffective = "end_of_period"
)

func (c CancelEffective) Valid() bool {
	return c == CancelImmediately || c == CancelEndOfPeriod
}
