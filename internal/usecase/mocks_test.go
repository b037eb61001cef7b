//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Clock ----

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ---- Transactions ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- In-memory store backing every repository port ----

type memStore struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	features    map[string]*model.Feature
	matrix      map[model.PlanCode]map[string]*model.PlanFeature
	overrides   map[string]map[string]*model.TenantFeatureOverride
	assignments []*model.PlanAssignment
	tenants     map[string]*model.Tenant
	events      []*model.SubscriptionEvent
	history     []*model.PlanHistoryRecord

	// failure injection
	createTenantErr func(t *model.Tenant) error
	updateErr       error
	txCount         int
}

func newMemStore() *memStore {
	return &memStore{
		features:  map[string]*model.Feature{},
		matrix:    map[model.PlanCode]map[string]*model.PlanFeature{},
		overrides: map[string]map[string]*model.TenantFeatureOverride{},
		tenants:   map[string]*model.Tenant{},
	}
}

// TxManager serialises transactions and restores the store when fn fails.
func (s *memStore) TxManager() *MockTxManager {
	return &MockTxManager{WithTxFunc: func(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
		s.txMu.Lock()
		defer s.txMu.Unlock()
		s.mu.Lock()
		snap := s.snapshot()
		s.txCount++
		s.mu.Unlock()
		if err := fn(ctx, repository.NoTX); err != nil {
			s.mu.Lock()
			s.restore(snap)
			s.mu.Unlock()
			return err
		}
		return nil
	}}
}

type memSnapshot struct {
	features    map[string]*model.Feature
	matrix      map[model.PlanCode]map[string]*model.PlanFeature
	overrides   map[string]map[string]*model.TenantFeatureOverride
	assignments []*model.PlanAssignment
	tenants     map[string]*model.Tenant
	events      []*model.SubscriptionEvent
	history     []*model.PlanHistoryRecord
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		features:    make(map[string]*model.Feature, len(s.features)),
		matrix:      make(map[model.PlanCode]map[string]*model.PlanFeature, len(s.matrix)),
		overrides:   make(map[string]map[string]*model.TenantFeatureOverride, len(s.overrides)),
		assignments: make([]*model.PlanAssignment, len(s.assignments)),
		tenants:     make(map[string]*model.Tenant, len(s.tenants)),
		events:      append([]*model.SubscriptionEvent(nil), s.events...),
		history:     append([]*model.PlanHistoryRecord(nil), s.history...),
	}
	for k, v := range s.features {
		snap.features[k] = v
	}
	for p, m := range s.matrix {
		cp := make(map[string]*model.PlanFeature, len(m))
		for k, v := range m {
			cp[k] = v
		}
		snap.matrix[p] = cp
	}
	for t, m := range s.overrides {
		cp := make(map[string]*model.TenantFeatureOverride, len(m))
		for k, v := range m {
			cp[k] = v
		}
		snap.overrides[t] = cp
	}
	for i, a := range s.assignments {
		cp := *a
		snap.assignments[i] = &cp
	}
	for k, v := range s.tenants {
		cp := *v
		snap.tenants[k] = &cp
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.features = snap.features
	s.matrix = snap.matrix
	s.overrides = snap.overrides
	s.assignments = snap.assignments
	s.tenants = snap.tenants
	s.events = snap.events
	s.history = snap.history
}

// test helpers

func (s *memStore) putTenant(t *model.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
	if t.PlanCode != "" {
		s.assignments = append(s.assignments, &model.PlanAssignment{
			ID:       fmt.Sprintf("as-%d", len(s.assignments)+1),
			TenantID: t.ID,
			PlanCode: t.PlanCode,
			Since:    t.CreatedAt,
			Reason:   "fixture",
		})
	}
}

func (s *memStore) tenant(id string) *model.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (s *memStore) openAssignments(tenantID string) []*model.PlanAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PlanAssignment
	for _, a := range s.assignments {
		if a.TenantID == tenantID && a.Until == nil {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// forceOpenPlan rewrites the open ledger row without touching the tenant.
func (s *memStore) forceOpenPlan(tenantID string, plan model.PlanCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.TenantID == tenantID && a.Until == nil {
			a.PlanCode = plan
		}
	}
}

func (s *memStore) eventsOf(tenantID string, et model.SubscriptionEventType) []*model.SubscriptionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.SubscriptionEvent
	for _, e := range s.events {
		if e.TenantID == tenantID && (et == "" || e.EventType == et) {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) historyOf(tenantID string) []*model.PlanHistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PlanHistoryRecord
	for _, h := range s.history {
		if h.TenantID == tenantID {
			out = append(out, h)
		}
	}
	return out
}

// ---- FeatureRepository / PlanFeatureRepository ----

type memFeatureRepo struct{ s *memStore }

var _ repository.FeatureRepository = (*memFeatureRepo)(nil)

func (r *memFeatureRepo) Upsert(ctx context.Context, tx repository.Tx, f *model.Feature) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *f
	r.s.features[f.Key] = &cp
	return nil
}

func (r *memFeatureRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.Feature, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.features[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *memFeatureRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Feature, error) {
	all, _ := r.ListAll(ctx, tx)
	out := all[:0]
	for _, f := range all {
		if f.Active {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memFeatureRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Feature, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Feature, 0, len(r.s.features))
	for _, f := range r.s.features {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type memMatrixRepo struct{ s *memStore }

var _ repository.PlanFeatureRepository = (*memMatrixRepo)(nil)

func (r *memMatrixRepo) Upsert(ctx context.Context, tx repository.Tx, pf *model.PlanFeature) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matrix[pf.PlanCode]
	if !ok {
		m = map[string]*model.PlanFeature{}
		r.s.matrix[pf.PlanCode] = m
	}
	cp := *pf
	m[pf.FeatureKey] = &cp
	return nil
}

func (r *memMatrixRepo) ListByPlan(ctx context.Context, tx repository.Tx, plan model.PlanCode) ([]*model.PlanFeature, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.PlanFeature
	for _, pf := range r.s.matrix[plan] {
		cp := *pf
		out = append(out, &cp)
	}
	return out, nil
}

// ---- OverrideRepository ----

type memOverrideRepo struct{ s *memStore }

var _ repository.OverrideRepository = (*memOverrideRepo)(nil)

func (r *memOverrideRepo) Upsert(ctx context.Context, tx repository.Tx, o *model.TenantFeatureOverride) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.overrides[o.TenantID]
	if !ok {
		m = map[string]*model.TenantFeatureOverride{}
		r.s.overrides[o.TenantID] = m
	}
	cp := *o
	m[o.FeatureKey] = &cp
	return nil
}

func (r *memOverrideRepo) Delete(ctx context.Context, tx repository.Tx, tenantID, featureKey string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.overrides[tenantID][featureKey]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.overrides[tenantID], featureKey)
	return nil
}

func (r *memOverrideRepo) ListByTenant(ctx context.Context, tx repository.Tx, tenantID string) ([]*model.TenantFeatureOverride, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.TenantFeatureOverride
	for _, o := range r.s.overrides[tenantID] {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

// ---- PlanAssignmentRepository ----

type memAssignmentRepo struct{ s *memStore }

var _ repository.PlanAssignmentRepository = (*memAssignmentRepo)(nil)

func (r *memAssignmentRepo) FindOpen(ctx context.Context, tx repository.Tx, tenantID string) (*model.PlanAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assignments {
		if a.TenantID == tenantID && a.Until == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memAssignmentRepo) CloseOpen(ctx context.Context, tx repository.Tx, tenantID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assignments {
		if a.TenantID == tenantID && a.Until == nil {
			until := at
			a.Until = &until
		}
	}
	return nil
}

// Open enforces the single-open-row constraint the database index provides.
func (r *memAssignmentRepo) Open(ctx context.Context, tx repository.Tx, a *model.PlanAssignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.assignments {
		if e.TenantID == a.TenantID && e.Until == nil {
			return domain.ErrAlreadyExists
		}
	}
	cp := *a
	r.s.assignments = append(r.s.assignments, &cp)
	return nil
}

func (r *memAssignmentRepo) ListByTenant(ctx context.Context, tx repository.Tx, tenantID string) ([]*model.PlanAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.PlanAssignment
	for _, a := range r.s.assignments {
		if a.TenantID == tenantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- TenantRepository ----

type memTenantRepo struct{ s *memStore }

var _ repository.TenantRepository = (*memTenantRepo)(nil)

func (r *memTenantRepo) Create(ctx context.Context, tx repository.Tx, t *model.Tenant) error {
	if r.s.createTenantErr != nil {
		if err := r.s.createTenantErr(t); err != nil {
			return err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.tenants {
		if e.Slug == t.Slug {
			return domain.ErrAlreadyExists
		}
	}
	cp := *t
	r.s.tenants[t.ID] = &cp
	return nil
}

func (r *memTenantRepo) Update(ctx context.Context, tx repository.Tx, t *model.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.updateErr != nil {
		return r.s.updateErr
	}
	if _, ok := r.s.tenants[t.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *t
	r.s.tenants[t.ID] = &cp
	return nil
}

func (r *memTenantRepo) FindByID(ctx context.Context, tx repository.Tx, id string, forUpdate bool) (*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTenantRepo) FindBySubscriptionID(ctx context.Context, tx repository.Tx, subscriptionID string, forUpdate bool) (*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tenants {
		if t.SubscriptionID == subscriptionID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memTenantRepo) ListDuePending(ctx context.Context, tx repository.Tx, now time.Time, afterID string, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, t := range r.s.tenants {
		if t.Pending != nil && t.Pending.DueAt(now) && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ---- audit repositories ----

type memEventRepo struct{ s *memStore }

var _ repository.SubscriptionEventRepository = (*memEventRepo)(nil)

func (r *memEventRepo) Append(ctx context.Context, tx repository.Tx, e *model.SubscriptionEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	r.s.events = append(r.s.events, &cp)
	return nil
}

func (r *memEventRepo) ExistsProcessorEvent(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.ProcessorEventID == id && !e.Duplicate {
			return true, nil
		}
	}
	return false, nil
}

func (r *memEventRepo) List(ctx context.Context, tx repository.Tx, tenantID string, f repository.EventFilter) ([]*model.SubscriptionEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.SubscriptionEvent
	for i := len(r.s.events) - 1; i >= 0; i-- {
		e := r.s.events[i]
		if e.TenantID != tenantID || (f.EventType != "" && e.EventType != f.EventType) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

type memHistoryRepo struct{ s *memStore }

var _ repository.PlanHistoryRepository = (*memHistoryRepo)(nil)

func (r *memHistoryRepo) Append(ctx context.Context, tx repository.Tx, h *model.PlanHistoryRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *h
	r.s.history = append(r.s.history, &cp)
	return nil
}

func (r *memHistoryRepo) List(ctx context.Context, tx repository.Tx, tenantID string, f repository.HistoryFilter) ([]*model.PlanHistoryRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.PlanHistoryRecord
	for i := len(r.s.history) - 1; i >= 0; i-- {
		h := r.s.history[i]
		if h.TenantID != tenantID || (f.ChangeType != "" && h.ChangeType != f.ChangeType) {
			continue
		}
		out = append(out, h)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// ---- Capability cache ----

type memCache struct {
	mu            sync.Mutex
	entries       map[string]*model.Capabilities
	invalidations map[string]int
	getErr        error
	invalidateErr error
	flushes       int
}

var _ adapter.CapabilityCache = (*memCache)(nil)

func newMemCache() *memCache {
	return &memCache{entries: map[string]*model.Capabilities{}, invalidations: map[string]int{}}
}

func (c *memCache) Get(ctx context.Context, tenantID string) (*model.Capabilities, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	caps, ok := c.entries[tenantID]
	return caps, ok, nil
}

func (c *memCache) Put(ctx context.Context, caps *model.Capabilities) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[caps.TenantID] = caps
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations[tenantID]++
	if c.invalidateErr != nil {
		return c.invalidateErr
	}
	delete(c.entries, tenantID)
	return nil
}

func (c *memCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*model.Capabilities{}
	c.flushes++
	return nil
}

func (c *memCache) invalidated(tenantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidations[tenantID]
}

// ---- Billing gateway ----

type fakeGateway struct {
	mu        sync.Mutex
	clock     *fakeClock
	period    time.Duration
	subs      map[string]*model.GatewaySubscription
	errFor    map[string]error
	hangFor   map[string]bool
	holdFor   map[string]*gatewayHold
	calls     []string
	seq       int
	checkout  bool
}

var _ adapter.BillingGateway = (*fakeGateway)(nil)

func newFakeGateway(clock *fakeClock) *fakeGateway {
	return &fakeGateway{
		clock:   clock,
		period:  30 * 24 * time.Hour,
		subs:    map[string]*model.GatewaySubscription{},
		errFor:  map[string]error{},
		hangFor: map[string]bool{},
		holdFor: map[string]*gatewayHold{},
	}
}

type gatewayHold struct {
	arrived chan struct{}
	release chan struct{}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) fail(op string, err error) {
	g.mu.Lock()
	g.errFor[op] = err
	g.mu.Unlock()
}

func (g *fakeGateway) hang(op string) {
	g.mu.Lock()
	g.hangFor[op] = true
	g.mu.Unlock()
}

// hold parks calls to op until release is called; arrived fires once per call.
func (g *fakeGateway) hold(op string) (arrived <-chan struct{}, release func()) {
	h := &gatewayHold{arrived: make(chan struct{}, 8), release: make(chan struct{})}
	g.mu.Lock()
	g.holdFor[op] = h
	g.mu.Unlock()
	var once sync.Once
	return h.arrived, func() { once.Do(func() { close(h.release) }) }
}

func (g *fakeGateway) callsTo(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

func (g *fakeGateway) enter(ctx context.Context, op, subID string) error {
	g.mu.Lock()
	g.calls = append(g.calls, op+":"+subID)
	err := g.errFor[op]
	if e, ok := g.errFor[op+":"+subID]; ok {
		err = e
	}
	hang := g.hangFor[op]
	h := g.holdFor[op]
	g.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if h != nil {
		select {
		case h.arrived <- struct{}{}:
		default:
		}
		select {
		case <-h.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// seedSubscription registers a live subscription whose period started at start.
func (g *fakeGateway) seedSubscription(id, priceID string, start time.Time) *model.GatewaySubscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	end := start.Add(g.period)
	s := &model.GatewaySubscription{
		ID:                 id,
		Status:             model.SubscriptionStatusActive,
		PriceID:            priceID,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		NextBilledAt:       &end,
	}
	g.subs[id] = s
	return s
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, req adapter.CreateSubscriptionRequest) (*model.GatewaySubscription, error) {
	if err := g.enter(ctx, "create_subscription", req.TenantID); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.seq++
	id := fmt.Sprintf("sub_%03d", g.seq)
	checkout := g.checkout
	g.mu.Unlock()
	if checkout {
		return &model.GatewaySubscription{Status: model.SubscriptionStatusNone, PriceID: req.PriceID, CheckoutURL: "https://checkout.test/" + id}, nil
	}
	return g.seedSubscription(id, req.PriceID, g.clock.Now()), nil
}

func (g *fakeGateway) UpdateSubscriptionPlan(ctx context.Context, req adapter.UpdatePlanRequest) (*model.GatewaySubscription, error) {
	if err := g.enter(ctx, "update_subscription_plan", req.SubscriptionID); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subs[req.SubscriptionID]
	if !ok {
		return nil, &domain.GatewayError{Op: "update_subscription_plan", Message: "no such subscription"}
	}
	s.PriceID = req.PriceID
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subID string, effective model.CancelEffective) (*model.GatewaySubscription, error) {
	if err := g.enter(ctx, "cancel_subscription", subID); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subs[subID]
	if !ok {
		return nil, &domain.GatewayError{Op: "cancel_subscription", Message: "no such subscription"}
	}
	s.Status = model.SubscriptionStatusCanceled
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) FindSubscription(ctx context.Context, subID string) (*model.GatewaySubscription, error) {
	if err := g.enter(ctx, "find_subscription", subID); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subs[subID]
	if !ok {
		return nil, &domain.GatewayError{Op: "find_subscription", Message: "no such subscription"}
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) RetryCharge(ctx context.Context, subID string) (*model.RetryResult, error) {
	if err := g.enter(ctx, "retry_charge", subID); err != nil {
		return nil, err
	}
	return &model.RetryResult{TransactionID: "txn_retry_" + subID}, nil
}

// ---- Fixture: catalog, features, wired use cases ----

var (
	testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testPlans = []model.Plan{
		{Code: model.PlanFree, Name: "Free", Tier: 0, Currency: "USD"},
		{Code: "starter", Name: "Starter", Tier: 1, PriceID: "pri_starter", MonthlyAmount: 2900, Currency: "USD"},
		{Code: "pro", Name: "Pro", Tier: 2, PriceID: "pri_pro", MonthlyAmount: 7900, Currency: "USD"},
	}
)

const (
	featAnalytics = "advanced_analytics"
	featRoster    = "roster_size"
	featBranding  = "branding"
	featLegacy    = "legacy_export"
)

type fixture struct {
	clock       *fakeClock
	store       *memStore
	tm          *MockTxManager
	cache       *memCache
	gateway     *fakeGateway
	catalog     *model.PlanCatalog
	features    *memFeatureRepo
	matrix      *memMatrixRepo
	overrides   *memOverrideRepo
	assignments *memAssignmentRepo
	tenants     *memTenantRepo
	events      *memEventRepo
	history     *memHistoryRepo
}

func newFixture() *fixture {
	clock := newFakeClock(testEpoch)
	store := newMemStore()
	catalog, err := model.NewPlanCatalog(testPlans)
	if err != nil {
		panic(err)
	}
	f := &fixture{
		clock:       clock,
		store:       store,
		tm:          store.TxManager(),
		cache:       newMemCache(),
		gateway:     newFakeGateway(clock),
		catalog:     catalog,
		features:    &memFeatureRepo{s: store},
		matrix:      &memMatrixRepo{s: store},
		overrides:   &memOverrideRepo{s: store},
		assignments: &memAssignmentRepo{s: store},
		tenants:     &memTenantRepo{s: store},
		events:      &memEventRepo{s: store},
		history:     &memHistoryRepo{s: store},
	}
	f.seedCatalog()
	return f
}

func (f *fixture) seedCatalog() {
	ctx := context.Background()
	for _, feat := range []*model.Feature{
		{Key: featAnalytics, ValueType: model.ValueTypeBoolean, Category: "reporting", Active: true},
		{Key: featRoster, ValueType: model.ValueTypeLimit, Category: "members", Active: true},
		{Key: featBranding, ValueType: model.ValueTypeEnum, Category: "site", Active: true},
		{Key: featLegacy, ValueType: model.ValueTypeBoolean, Category: "reporting", Active: false},
	} {
		_ = f.features.Upsert(ctx, nil, feat)
	}
	defaults := map[model.PlanCode][]model.FeatureValue{
		model.PlanFree: {model.BoolValue(false), model.LimitValue(25), model.EnumValue("none")},
		"starter":      {model.BoolValue(false), model.LimitValue(100), model.EnumValue("basic")},
		"pro":          {model.BoolValue(true), model.LimitValue(1000), model.EnumValue("custom")},
	}
	for plan, vals := range defaults {
		for i, key := range []string{featAnalytics, featRoster, featBranding} {
			_ = f.matrix.Upsert(ctx, nil, &model.PlanFeature{PlanCode: plan, FeatureKey: key, Value: vals[i]})
		}
		_ = f.matrix.Upsert(ctx, nil, &model.PlanFeature{PlanCode: plan, FeatureKey: featLegacy, Value: model.BoolValue(true)})
	}
}

// activeTenant seeds a tenant with a live processor subscription on plan.
func (f *fixture) activeTenant(id string, plan model.PlanCode) *model.Tenant {
	p, err := f.catalog.Get(plan)
	if err != nil {
		panic(err)
	}
	subID := "sub_" + id
	start := f.clock.Now().Add(-10 * 24 * time.Hour)
	gsub := f.gateway.seedSubscription(subID, p.PriceID, start)
	t := &model.Tenant{
		ID:             id,
		Slug:           id,
		Name:           strings.ToUpper(id),
		PlanCode:       plan,
		SubscriptionID: subID,
		Status:         model.SubscriptionStatusActive,
		NextBillingAt:  gsub.NextBilledAt,
		CreatedAt:      start,
		UpdatedAt:      start,
	}
	f.store.putTenant(t)
	return t
}

func (f *fixture) freeTenant(id string) *model.Tenant {
	t := &model.Tenant{
		ID:        id,
		Slug:      id,
		Name:      id,
		PlanCode:  model.PlanFree,
		Status:    model.SubscriptionStatusNone,
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	f.store.putTenant(t)
	return t
}

func (f *fixture) resolver() usecase.CapabilityResolver {
	return usecase.NewCapabilityResolver(f.tenants, f.assignments, f.features, f.matrix, f.overrides, f.events, f.tm, f.clock, newTestLogger())
}

func (f *fixture) entitlements() usecase.EntitlementUseCase {
	return usecase.NewEntitlementUseCase(f.resolver(), f.cache, f.features, f.clock, newTestLogger())
}

func (f *fixture) lifecycle() usecase.LifecycleUseCase {
	return f.lifecycleWithTimeout(50 * time.Millisecond)
}

func (f *fixture) lifecycleWithTimeout(callTimeout time.Duration) usecase.LifecycleUseCase {
	cfg := usecase.LifecycleConfig{
		Cooldown:        24 * time.Hour,
		ProrateUpgrades: true,
		CallTimeout:     callTimeout,
	}
	return usecase.NewLifecycleUseCase(f.tenants, f.assignments, f.events, f.history, f.gateway, f.catalog, f.cache, f.tm, cfg, f.clock, newTestLogger())
}

func (f *fixture) overridesUC() usecase.OverrideUseCase {
	return usecase.NewOverrideUseCase(f.tenants, f.features, f.overrides, f.events, f.cache, f.tm, f.clock, newTestLogger())
}

func (f *fixture) webhooks(parser adapter.WebhookParser) usecase.WebhookUseCase {
	return usecase.NewWebhookUseCase(parser, f.tenants, f.assignments, f.events, f.history, f.catalog, f.cache, f.tm, usecase.WebhookConfig{PastDueThreshold: 3}, f.clock, newTestLogger())
}

func (f *fixture) sweeper(lc usecase.LifecycleUseCase) usecase.PendingChangeUseCase {
	return usecase.NewPendingChangeUseCase(f.tenants, lc, usecase.SweepConfig{BatchSize: 2, Concurrency: 3}, f.clock, newTestLogger())
}
