package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Capabilities is the resolved entitlement map for one tenant.
type Capabilities struct {
	TenantID   string
	PlanCode   PlanCode
	Values     map[string]FeatureValue
	ResolvedAt time.Time
	// ValidUntil is the earliest expiry among applied overrides; caches must
	// not serve the value past it.
	ValidUntil *time.Time
}

// FreshAt reports whether the resolution still holds at t.
func (c *Capabilities) FreshAt(t time.Time) bool {
	return c != nil && (c.ValidUntil == nil || t.Before(*c.ValidUntil))
}

func (c *Capabilities) Get(key string) (FeatureValue, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.Values[key]
	return v, ok
}

// Keys returns feature keys in lexical order.
func (c *Capabilities) Keys() []string {
	keys := make([]string, 0, len(c.Values))
	for k := range c.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type capabilitiesJSON struct {
	TenantID   string                     `json:"tenant_id"`
	PlanCode   PlanCode                   `json:"plan_code"`
	Values     map[string]json.RawMessage `json:"values"`
	ResolvedAt time.Time                  `json:"resolved_at"`
	ValidUntil *time.Time                 `json:"valid_until,omitempty"`
}

func (c Capabilities) MarshalJSON() ([]byte, error) {
	out := capabilitiesJSON{
		TenantID:   c.TenantID,
		PlanCode:   c.PlanCode,
		Values:     make(map[string]json.RawMessage, len(c.Values)),
		ResolvedAt: c.ResolvedAt,
		ValidUntil: c.ValidUntil,
	}
	for k, v := range c.Values {
		b, err := MarshalFeatureValue(v)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", k, err)
		}
		out.Values[k] = b
	}
	return json.Marshal(out)
}

func (c *Capabilities) UnmarshalJSON(b []byte) error {
	var in capabilitiesJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	c.TenantID = in.TenantID
	c.PlanCode = in.PlanCode
	c.ResolvedAt = in.ResolvedAt
	c.ValidUntil = in.ValidUntil
	c.Values = make(map[string]FeatureValue, len(in.Values))
	for k, raw := range in.Values {
		v, err := UnmarshalFeatureValue(raw)
		if err != nil {
			return fmt.Errorf("feature %s: %w", k, err)
		}
		c.Values[k] = v
	}
	return nil
}

type ConstraintKind int

const (
	ConstraintEnabled ConstraintKind = iota
	ConstraintOneOf
	ConstraintAtLeast
)

// Constraint is what a caller requires of a feature value.
type Constraint struct {
	Kind     ConstraintKind
	Variants []string
	Min      uint32
}

func RequireEnabled() Constraint { return Constraint{Kind: ConstraintEnabled} }

func RequireOneOf(variants ...string) Constraint {
	return Constraint{Kind: ConstraintOneOf, Variants: variants}
}

func RequireAtLeast(n uint32) Constraint { return Constraint{Kind: ConstraintAtLeast, Min: n} }

// Satisfied evaluates the constraint against v. A nil value never satisfies.
func (c Constraint) Satisfied(v FeatureValue) bool {
	if v == nil || !v.Enabled() {
		return false
	}
	switch c.Kind {
	case ConstraintOneOf:
		ev, ok := v.(EnumValue)
		if !ok {
			return false
		}
		for _, want := range c.Variants {
			if strings.EqualFold(want, string(ev)) {
				return true
			}
		}
		return false
	case ConstraintAtLeast:
		lv, ok := v.(LimitValue)
		if !ok {
			return false
		}
		return uint32(lv) >= c.Min
	}
	return true
}

func (c Constraint) String() string {
	switch c.Kind {
	case ConstraintOneOf:
		return "one of " + strings.Join(c.Variants, ",")
	case ConstraintAtLeast:
		return fmt.Sprintf(">= %d", c.Min)
	}
	return "enabled"
}

// Decision is the outcome of a feature gate check.
type Decision struct {
	Allowed       bool         `json:"allowed"`
	FeatureKey    string       `json:"feature_key"`
	PlanCode      PlanCode     `json:"plan_code"`
	CurrentValue  FeatureValue `json:"-"`
	RequiredValue string       `json:"required_value"`
}

// CurrentDisplay renders the current value for upgrade prompts.
func (d Decision) CurrentDisplay() string {
	if d.CurrentValue == nil {
		return "none"
	}
	return d.CurrentValue.Encode()
}
