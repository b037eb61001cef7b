package model

import (
	"regexp"
	"strings"
	"time"
)

// Tenant is a club account. PlanCode is denormalized from the plan ledger.
type Tenant struct {
	ID                  string
	Slug                string
	Name                string
	PlanCode            PlanCode
	SubscriptionID      string
	Status              SubscriptionStatus
	Pending             *PendingChange
	LastPlanChangeAt    *time.Time
	ConsecutiveFailures int
	NextBillingAt       *time.Time
	LastEventAt         *time.Time // processor time of the newest applied webhook
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CooldownRemaining returns how long a user-initiated change must still wait.
func (t *Tenant) CooldownRemaining(now time.Time, cooldown time.Duration) time.Duration {
	if t.LastPlanChangeAt == nil || cooldown <= 0 {
		return 0
	}
	left := cooldown - now.Sub(*t.LastPlanChangeAt)
	if left < 0 {
		return 0
	}
	return left
}

func (t *Tenant) ClearPending() { t.Pending = nil }

// StaleEvent reports whether a processor event stamped at is older than the
// newest one already applied. A zero at is never stale.
func (t *Tenant) StaleEvent(at time.Time) bool {
	return !at.IsZero() && t.LastEventAt != nil && at.Before(*t.LastEventAt)
}

// ObserveEvent advances LastEventAt to at when it is newer.
func (t *Tenant) ObserveEvent(at time.Time) {
	if at.IsZero() || (t.LastEventAt != nil && !at.After(*t.LastEventAt)) {
		return
	}
	at = at.UTC()
	t.LastEventAt = &at
}

// ResetToFree moves the tenant to the free plan in a terminal status.
func (t *Tenant) ResetToFree(status SubscriptionStatus) {
	t.PlanCode = PlanFree
	t.Status = status
	t.Pending = nil
	t.ConsecutiveFailures = 0
	t.NextBillingAt = nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and collapses everything but [a-z0-9] into dashes.
func Slugify(name string) string {
	s := slugInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	s = strings.Trim(s, "-")
	if len(s) > 48 {
		s = strings.TrimRight(s[:48], "-")
	}
	if s == "" {
		s = "club"
	}
	return s
}
