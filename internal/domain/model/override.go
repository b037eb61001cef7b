package model

import "time"

// TenantFeatureOverride replaces a plan default for a single tenant.
type TenantFeatureOverride struct {
	TenantID   string
	FeatureKey string
	Value      FeatureValue
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	CreatedBy  string
}

// EffectiveAt reports whether the override applies at t. The expiry instant
// itself is already outside the override.
func (o *TenantFeatureOverride) EffectiveAt(t time.Time) bool {
	if o == nil {
		return false
	}
	return o.ExpiresAt == nil || t.Before(*o.ExpiresAt)
}
