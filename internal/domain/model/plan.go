package model

import (
	"fmt"
	"sort"
	"strings"

	"club-entitlements/internal/domain"
)

type PlanCode string

const PlanFree PlanCode = "free"

// Plan is a billable bundle. Tier gives the total order used to classify
// changes; PriceID is the processor's price identifier (empty for free).
type Plan struct {
	Code          PlanCode
	Name          string
	Tier          int
	PriceID       string
	MonthlyAmount int64 // minor units
	Currency      string
}

func (p *Plan) IsFree() bool { return p == nil || p.PriceID == "" }

// MRR returns the monthly recurring revenue contributed by the plan.
func (p *Plan) MRR() int64 {
	if p == nil {
		return 0
	}
	return p.MonthlyAmount
}

func (p *Plan) AnnualValue() int64 { return p.MRR() * 12 }

type ChangeDirection int

const (
	ChangeSame ChangeDirection = iota
	ChangeUpgrade
	ChangeDowngrade
)

func (d ChangeDirection) String() string {
	switch d {
	case ChangeUpgrade:
		return "upgrade"
	case ChangeDowngrade:
		return "downgrade"
	}
	return "same"
}

// PlanCatalog is the immutable set of plans known to the engine.
type PlanCatalog struct {
	byCode  map[PlanCode]*Plan
	byPrice map[string]*Plan
	ordered []*Plan
}

// NewPlanCatalog validates tiers: codes and tiers must be unique and a free
// plan must exist at the lowest tier.
func NewPlanCatalog(plans []Plan) (*PlanCatalog, error) {
	c := &PlanCatalog{
		byCode:  make(map[PlanCode]*Plan, len(plans)),
		byPrice: make(map[string]*Plan, len(plans)),
	}
	tiers := make(map[int]PlanCode, len(plans))
	for i := range plans {
		p := plans[i]
		p.Code = PlanCode(strings.ToLower(strings.TrimSpace(string(p.Code))))
		if p.Code == "" {
			return nil, fmt.Errorf("%w: plan code is required", domain.ErrInvalidArgument)
		}
		if _, dup := c.byCode[p.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %q", domain.ErrInvalidArgument, p.Code)
		}
		if other, dup := tiers[p.Tier]; dup {
			return nil, fmt.Errorf("%w: plans %q and %q share tier %d", domain.ErrInvalidArgument, other, p.Code, p.Tier)
		}
		tiers[p.Tier] = p.Code
		c.byCode[p.Code] = &p
		if p.PriceID != "" {
			c.byPrice[p.PriceID] = &p
		}
		c.ordered = append(c.ordered, &p)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Tier < c.ordered[j].Tier })

	free, ok := c.byCode[PlanFree]
	if !ok {
		return nil, fmt.Errorf("%w: plan %q is required", domain.ErrInvalidArgument, PlanFree)
	}
	if free.PriceID != "" || c.ordered[0].Code != PlanFree {
		return nil, fmt.Errorf("%w: plan %q must be the lowest tier and carry no price", domain.ErrInvalidArgument, PlanFree)
	}
	return c, nil
}

func (c *PlanCatalog) Get(code PlanCode) (*Plan, error) {
	p, ok := c.byCode[code]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "plan", ID: string(code)}
	}
	return p, nil
}

// ByPriceID resolves a processor price id back to a plan.
func (c *PlanCatalog) ByPriceID(priceID string) (*Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

func (c *PlanCatalog) Free() *Plan { return c.byCode[PlanFree] }

// All returns plans in ascending tier order.
func (c *PlanCatalog) All() []*Plan {
	out := make([]*Plan, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Classify compares tiers of two known plans.
func (c *PlanCatalog) Classify(from, to PlanCode) (ChangeDirection, error) {
	f, err := c.Get(from)
	if err != nil {
		return ChangeSame, err
	}
	t, err := c.Get(to)
	if err != nil {
		return ChangeSame, err
	}
	switch {
	case t.Tier > f.Tier:
		return ChangeUpgrade, nil
	case t.Tier < f.Tier:
		return ChangeDowngrade, nil
	}
	return ChangeSame, nil
}
