//go:build !integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/api"
	"club-entitlements/internal/usecase"
)

//
// ---------------- usecase fakes ----------------
//

type fakeEntitlements struct {
	caps          *model.Capabilities
	err           error
	checkErr      error
	lastCheck     model.Constraint
	invalidateAll int
}

func (f *fakeEntitlements) GetCapabilities(ctx context.Context, tenantID string) (*model.Capabilities, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := *f.caps
	c.TenantID = tenantID
	return &c, nil
}

func (f *fakeEntitlements) Check(ctx context.Context, tenantID, featureKey string, c model.Constraint) (*model.Decision, error) {
	f.lastCheck = c
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	d := &model.Decision{FeatureKey: featureKey, PlanCode: f.caps.PlanCode, RequiredValue: c.String()}
	if v, ok := f.caps.Get(featureKey); ok {
		d.CurrentValue = v
		d.Allowed = c.Satisfied(v)
	}
	return d, nil
}

func (f *fakeEntitlements) Invalidate(ctx context.Context, tenantID string) error { return nil }

func (f *fakeEntitlements) InvalidateAll(ctx context.Context) error {
	f.invalidateAll++
	return nil
}

type lifecycleCall struct {
	op       string
	tenantID string
	plan     model.PlanCode
	when     model.CancelEffective
	by       model.TriggeredBy
}

type fakeLifecycle struct {
	calls    []lifecycleCall
	err      error
	checkout string
}

func (f *fakeLifecycle) result(tenantID string, plan model.PlanCode, ct model.ChangeType) (*usecase.PlanChangeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	t := &model.Tenant{ID: tenantID, Slug: "club", Name: "Club", PlanCode: plan, Status: model.SubscriptionStatusActive}
	return &usecase.PlanChangeResult{Tenant: t, ChangeType: ct, CheckoutURL: f.checkout}, nil
}

func (f *fakeLifecycle) Create(ctx context.Context, tenantID string, plan model.PlanCode, pm model.PaymentMethod, by model.TriggeredBy) (*usecase.PlanChangeResult, error) {
	f.calls = append(f.calls, lifecycleCall{op: "create", tenantID: tenantID, plan: plan, by: by})
	return f.result(tenantID, plan, model.ChangeTypeInitial)
}

func (f *fakeLifecycle) ChangePlan(ctx context.Context, tenantID string, target model.PlanCode, by model.TriggeredBy) (*usecase.PlanChangeResult, error) {
	f.calls = append(f.calls, lifecycleCall{op: "change", tenantID: tenantID, plan: target, by: by})
	return f.result(tenantID, target, model.ChangeTypeUpgrade)
}

func (f *fakeLifecycle) Upgrade(ctx context.Context, tenantID string, target model.PlanCode, by model.TriggeredBy) (*usecase.PlanChangeResult, error) {
	return f.ChangePlan(ctx, tenantID, target, by)
}

func (f *fakeLifecycle) Downgrade(ctx context.Context, tenantID string, target model.PlanCode, by model.TriggeredBy) (*usecase.PlanChangeResult, error) {
	return f.ChangePlan(ctx, tenantID, target, by)
}

func (f *fakeLifecycle) Cancel(ctx context.Context, tenantID string, when model.CancelEffective, by model.TriggeredBy) (*usecase.PlanChangeResult, error) {
	f.calls = append(f.calls, lifecycleCall{op: "cancel", tenantID: tenantID, when: when, by: by})
	return f.result(tenantID, model.PlanFree, model.ChangeTypeCancellation)
}

func (f *fakeLifecycle) ApplyPendingChange(ctx context.Context, tenantID string) (*usecase.PlanChangeResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeLifecycle) RetryCharge(ctx context.Context, tenantID string) (*model.RetryResult, error) {
	f.calls = append(f.calls, lifecycleCall{op: "retry", tenantID: tenantID})
	if f.err != nil {
		return nil, f.err
	}
	return &model.RetryResult{TransactionID: "txn_1"}, nil
}

type fakeTenants struct{ byID map[string]*model.Tenant }

func (f *fakeTenants) Create(ctx context.Context, name string) (*model.Tenant, error) {
	t := &model.Tenant{ID: "t-new", Slug: model.Slugify(name), Name: name, PlanCode: model.PlanFree, Status: model.SubscriptionStatusNone}
	f.byID[t.ID] = t
	return t, nil
}

func (f *fakeTenants) Get(ctx context.Context, id string) (*model.Tenant, error) {
	if t, ok := f.byID[id]; ok {
		return t, nil
	}
	return nil, &domain.NotFoundError{Entity: "tenant", ID: id}
}

type fakeOverrides struct {
	applied  []string
	clearErr error
}

func (f *fakeOverrides) Apply(ctx context.Context, tenantID, featureKey, rawValue string, expiresAt *time.Time) (*model.TenantFeatureOverride, error) {
	if featureKey == "unknown" {
		return nil, &domain.ConfigurationError{FeatureKey: featureKey}
	}
	f.applied = append(f.applied, featureKey+"="+rawValue)
	return &model.TenantFeatureOverride{TenantID: tenantID, FeatureKey: featureKey, Value: model.EnumValue(rawValue), ExpiresAt: expiresAt, CreatedBy: "admin:ops"}, nil
}

func (f *fakeOverrides) Clear(ctx context.Context, tenantID, featureKey string) error { return f.clearErr }

func (f *fakeOverrides) List(ctx context.Context, tenantID string) ([]*model.TenantFeatureOverride, error) {
	return nil, nil
}

type fakeAudit struct {
	history repository.HistoryFilter
	events  repository.EventFilter
}

func (f *fakeAudit) ListHistory(ctx context.Context, tenantID string, flt repository.HistoryFilter) ([]*model.PlanHistoryRecord, error) {
	f.history = flt
	return []*model.PlanHistoryRecord{{ID: "h1", TenantID: tenantID, ToPlan: "pro", ChangeType: model.ChangeTypeUpgrade, MRR: 7900}}, nil
}

func (f *fakeAudit) ListEvents(ctx context.Context, tenantID string, flt repository.EventFilter) ([]*model.SubscriptionEvent, error) {
	f.events = flt
	return []*model.SubscriptionEvent{}, nil
}

type fakeWebhooks struct {
	err      error
	payloads [][]byte
}

func (f *fakeWebhooks) Receive(ctx context.Context, payload []byte, header http.Header) error {
	f.payloads = append(f.payloads, payload)
	return f.err
}

func (f *fakeWebhooks) Handle(ctx context.Context, ev *model.BillingEvent) usecase.WebhookOutcome {
	return usecase.WebhookApplied
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	f.keys = append(f.keys, key)
	return f.allow, 30 * time.Second, nil
}

//
// ---------------- harness ----------------
//

type harness struct {
	ent       *fakeEntitlements
	lifecycle *fakeLifecycle
	tenants   *fakeTenants
	overrides *fakeOverrides
	audit     *fakeAudit
	webhooks  *fakeWebhooks
	limiter   *fakeLimiter
	ready     error
	srv       *api.Server
	h         http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hs := &harness{
		ent: &fakeEntitlements{caps: &model.Capabilities{
			PlanCode: "starter",
			Values: map[string]model.FeatureValue{
				"roster_size":   model.LimitValue(100),
				"branding":      model.EnumValue("basic"),
				"online_signup": model.BoolValue(true),
			},
		}},
		lifecycle: &fakeLifecycle{},
		tenants:   &fakeTenants{byID: map[string]*model.Tenant{"t-1": {ID: "t-1", Slug: "club", PlanCode: model.PlanFree}}},
		overrides: &fakeOverrides{},
		audit:     &fakeAudit{},
		webhooks:  &fakeWebhooks{},
		limiter:   &fakeLimiter{allow: true},
	}
	logger := zerolog.Nop()
	hs.srv = api.NewServer(api.Config{
		TenantWriteLimit: 10,
		WebhookMaxBody:   1024,
		AdminAPIKey:      "admin-key",
		AdminJWTSecret:   "jwt-secret",
		AdminJWTTTL:      time.Minute,
	}, api.Deps{
		Tenants:      hs.tenants,
		Entitlements: hs.ent,
		Lifecycle:    hs.lifecycle,
		Overrides:    hs.overrides,
		Audit:        hs.audit,
		Webhooks:     hs.webhooks,
		Limiter:      hs.limiter,
		Ready:        func(context.Context) error { return hs.ready },
	}, &logger)
	hs.h = hs.srv.Routes()
	return hs
}

func (hs *harness) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	return rec
}

func tenantHdr(id string) map[string]string { return map[string]string{"X-Tenant-ID": id} }

func (hs *harness) adminToken(t *testing.T) map[string]string {
	t.Helper()
	rec := hs.do(http.MethodPost, "/v1/admin/session", `{"api_key":"admin-key","subject":"ops"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

//
// ---------------- tests ----------------
//

func TestCapabilities(t *testing.T) {
	hs := newHarness(t)

	t.Run("missing tenant header is 401", func(t *testing.T) {
		rec := hs.do(http.MethodGet, "/v1/capabilities", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("resolved map", func(t *testing.T) {
		rec := hs.do(http.MethodGet, "/v1/capabilities", "", tenantHdr("t-1"))
		require.Equal(t, http.StatusOK, rec.Code)
		caps := decode[model.Capabilities](t, rec)
		assert.Equal(t, "t-1", caps.TenantID)
		assert.Equal(t, model.LimitValue(100), caps.Values["roster_size"])
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("limit constraint", func(t *testing.T) {
		rec := hs.do(http.MethodGet, "/v1/capabilities/roster_size?min=500", "", tenantHdr("t-1"))
		require.Equal(t, http.StatusOK, rec.Code)
		d := decode[map[string]any](t, rec)
		assert.Equal(t, false, d["allowed"])
		assert.Equal(t, "100", d["current_value"])
		assert.Equal(t, ">= 500", d["required_value"])
		assert.Equal(t, model.RequireAtLeast(500), hs.ent.lastCheck)
	})

	t.Run("enum constraint", func(t *testing.T) {
		rec := hs.do(http.MethodGet, "/v1/capabilities/branding?allow=basic,custom", "", tenantHdr("t-1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode[map[string]any](t, rec)["allowed"])
		assert.Equal(t, []string{"basic", "custom"}, hs.ent.lastCheck.Variants)
	})

	t.Run("min and allow together is 400", func(t *testing.T) {
		rec := hs.do(http.MethodGet, "/v1/capabilities/branding?allow=basic&min=1", "", tenantHdr("t-1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non numeric min is 400", func(t *testing.T) {
		rec := hs.do(http.MethodGet, "/v1/capabilities/roster_size?min=lots", "", tenantHdr("t-1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown key is an internal error", func(t *testing.T) {
		hs.ent.checkErr = &domain.ConfigurationError{FeatureKey: "nope"}
		defer func() { hs.ent.checkErr = nil }()
		rec := hs.do(http.MethodGet, "/v1/capabilities/nope", "", tenantHdr("t-1"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "nope")
	})
}

func TestSubscriptionRoutes(t *testing.T) {
	t.Run("plan change is user triggered", func(t *testing.T) {
		hs := newHarness(t)
		rec := hs.do(http.MethodPost, "/v1/subscription/plan", `{"plan_code":"pro"}`, tenantHdr("t-1"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Len(t, hs.lifecycle.calls, 1)
		assert.Equal(t, lifecycleCall{op: "change", tenantID: "t-1", plan: "pro", by: model.TriggeredByUser}, hs.lifecycle.calls[0])
		body := decode[map[string]any](t, rec)
		assert.Equal(t, "upgrade", body["change_type"])
	})

	t.Run("cooldown is 429 with remaining hours", func(t *testing.T) {
		hs := newHarness(t)
		hs.lifecycle.err = &domain.CooldownError{Remaining: 4*time.Hour + time.Minute}
		rec := hs.do(http.MethodPost, "/v1/subscription/plan", `{"plan_code":"pro"}`, tenantHdr("t-1"))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, float64(5), decode[map[string]any](t, rec)["remaining_hours"])
	})

	t.Run("gateway decline is 502 with its message", func(t *testing.T) {
		hs := newHarness(t)
		hs.lifecycle.err = &domain.GatewayError{Op: "update", Message: "card declined"}
		rec := hs.do(http.MethodPost, "/v1/subscription/plan", `{"plan_code":"pro"}`, tenantHdr("t-1"))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "card declined")
	})

	t.Run("gateway timeout is 504", func(t *testing.T) {
		hs := newHarness(t)
		hs.lifecycle.err = &domain.GatewayError{Op: "update", Err: domain.ErrGatewayTimeout}
		rec := hs.do(http.MethodPost, "/v1/subscription/plan", `{"plan_code":"pro"}`, tenantHdr("t-1"))
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("invalid transition is 409", func(t *testing.T) {
		hs := newHarness(t)
		hs.lifecycle.err = fmt.Errorf("%w: tenant is canceled", domain.ErrInvalidTransition)
		rec := hs.do(http.MethodPost, "/v1/subscription/plan", `{"plan_code":"pro"}`, tenantHdr("t-1"))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("body validation", func(t *testing.T) {
		hs := newHarness(t)
		for _, body := range []string{`{}`, `{"plan_code":""}`, `{"plan_code":"pro","extra":1}`, `not json`} {
			rec := hs.do(http.MethodPost, "/v1/subscription/plan", body, tenantHdr("t-1"))
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
		assert.Empty(t, hs.lifecycle.calls)
	})

	t.Run("hosted checkout is 202", func(t *testing.T) {
		hs := newHarness(t)
		hs.lifecycle.checkout = "https://pay.example/checkout/1"
		rec := hs.do(http.MethodPost, "/v1/subscription", `{"plan_code":"pro","customer_ref":"ctm_1"}`, tenantHdr("t-1"))
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "https://pay.example/checkout/1", decode[map[string]any](t, rec)["checkout_url"])
	})

	t.Run("direct create is 201", func(t *testing.T) {
		hs := newHarness(t)
		rec := hs.do(http.MethodPost, "/v1/subscription", `{"plan_code":"pro","payment_token":"tok_ok"}`, tenantHdr("t-1"))
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("cancel defaults to end of period", func(t *testing.T) {
		hs := newHarness(t)
		rec := hs.do(http.MethodPost, "/v1/subscription/cancel", "", tenantHdr("t-1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.CancelEndOfPeriod, hs.lifecycle.calls[0].when)

		rec = hs.do(http.MethodPost, "/v1/subscription/cancel", `{"effective":"immediate"}`, tenantHdr("t-1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.CancelImmediately, hs.lifecycle.calls[1].when)

		rec = hs.do(http.MethodPost, "/v1/subscription/cancel", `{"effective":"someday"}`, tenantHdr("t-1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("per tenant write limit", func(t *testing.T) {
		hs := newHarness(t)
		hs.limiter.allow = false
		rec := hs.do(http.MethodPost, "/v1/subscription/plan", `{"plan_code":"pro"}`, tenantHdr("t-9"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))
		assert.Equal(t, []string{"rate_limit:tenant:t-9:subscription"}, hs.limiter.keys)
		assert.Empty(t, hs.lifecycle.calls)
	})
}

func TestAdminRoutes(t *testing.T) {
	t.Run("token required", func(t *testing.T) {
		hs := newHarness(t)
		rec := hs.do(http.MethodPost, "/v1/admin/tenants", `{"name":"Rovers"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		rec = hs.do(http.MethodPost, "/v1/admin/tenants", `{"name":"Rovers"}`, map[string]string{"Authorization": "Bearer garbage"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong api key", func(t *testing.T) {
		hs := newHarness(t)
		rec := hs.do(http.MethodPost, "/v1/admin/session", `{"api_key":"guess"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tenant lifecycle as operator", func(t *testing.T) {
		hs := newHarness(t)
		auth := hs.adminToken(t)

		rec := hs.do(http.MethodPost, "/v1/admin/tenants", `{"name":"Rovers FC"}`, auth)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "rovers-fc", decode[map[string]any](t, rec)["slug"])

		rec = hs.do(http.MethodGet, "/v1/admin/tenants/missing", "", auth)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = hs.do(http.MethodPost, "/v1/admin/tenants/t-1/subscription/plan", `{"plan_code":"starter"}`, auth)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = hs.do(http.MethodPost, "/v1/admin/tenants/t-1/subscription/cancel", `{"effective":"immediate"}`, auth)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, hs.lifecycle.calls, 2)
		for _, c := range hs.lifecycle.calls {
			assert.Equal(t, model.TriggeredBySystem, c.by)
		}

		rec = hs.do(http.MethodPost, "/v1/admin/tenants/t-1/subscription/retry-charge", "", auth)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "txn_1", decode[map[string]any](t, rec)["transaction_id"])
	})

	t.Run("overrides", func(t *testing.T) {
		hs := newHarness(t)
		auth := hs.adminToken(t)

		rec := hs.do(http.MethodPut, "/v1/admin/tenants/t-1/overrides/branding", `{"value":"custom","expires_at":"2030-01-01T00:00:00Z"}`, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode[map[string]any](t, rec)
		assert.Equal(t, "custom", body["value"])
		assert.Equal(t, "2030-01-01T00:00:00Z", body["expires_at"])
		assert.Equal(t, []string{"branding=custom"}, hs.overrides.applied)

		rec = hs.do(http.MethodPut, "/v1/admin/tenants/t-1/overrides/unknown", `{"value":"x"}`, auth)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		rec = hs.do(http.MethodDelete, "/v1/admin/tenants/t-1/overrides/branding", "", auth)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		hs.overrides.clearErr = domain.ErrNotFound
		rec = hs.do(http.MethodDelete, "/v1/admin/tenants/t-1/overrides/branding", "", auth)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = hs.do(http.MethodGet, "/v1/admin/tenants/t-1/overrides", "", auth)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
	})

	t.Run("audit filters", func(t *testing.T) {
		hs := newHarness(t)
		auth := hs.adminToken(t)

		rec := hs.do(http.MethodGet, "/v1/admin/tenants/t-1/history?change_type=upgrade&since=2025-01-01T00:00:00Z&limit=5", "", auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, model.ChangeTypeUpgrade, hs.audit.history.ChangeType)
		assert.Equal(t, 5, hs.audit.history.Limit)
		require.NotNil(t, hs.audit.history.Since)
		assert.Equal(t, 2025, hs.audit.history.Since.Year())
		assert.Contains(t, rec.Body.String(), `"mrr":7900`)

		rec = hs.do(http.MethodGet, "/v1/admin/tenants/t-1/events?event_type=payment_failed", "", auth)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.SubscriptionEventType("payment_failed"), hs.audit.events.EventType)
		assert.Zero(t, hs.audit.events.Limit)

		rec = hs.do(http.MethodGet, "/v1/admin/tenants/t-1/events?limit=many", "", auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalidate all", func(t *testing.T) {
		hs := newHarness(t)
		rec := hs.do(http.MethodPost, "/v1/admin/cache/invalidate-all", "", hs.adminToken(t))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 1, hs.ent.invalidateAll)
	})
}

func TestBillingWebhook(t *testing.T) {
	t.Run("bad signature is 401", func(t *testing.T) {
		hs := newHarness(t)
		hs.webhooks.err = fmt.Errorf("%w: digest mismatch", domain.ErrInvalidSignature)
		rec := hs.do(http.MethodPost, "/webhooks/billing", `{"id":"evt_1"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("anything else is acknowledged", func(t *testing.T) {
		hs := newHarness(t)
		rec := hs.do(http.MethodPost, "/webhooks/billing", `{"id":"evt_1"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, hs.webhooks.payloads, 1)
		assert.Equal(t, `{"id":"evt_1"}`, string(hs.webhooks.payloads[0]))

		hs.webhooks.err = errors.New("db down")
		rec = hs.do(http.MethodPost, "/webhooks/billing", `{"id":"evt_2"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		hs := newHarness(t)
		rec := hs.do(http.MethodPost, "/webhooks/billing", `{"pad":"`+strings.Repeat("x", 2048)+`"}`, nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, hs.webhooks.payloads)
	})
}

func TestRequireCapability(t *testing.T) {
	hs := newHarness(t)
	r := chi.NewRouter()
	r.Use(api.TenantIdentity("X-Tenant-ID"))
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }
	r.With(hs.srv.RequireCapability("roster_size", model.RequireAtLeast(500))).Get("/roster/import", ok)
	r.With(hs.srv.RequireCapability("online_signup", model.RequireEnabled())).Get("/signup", ok)

	req := httptest.NewRequest(http.MethodGet, "/roster/import", nil)
	req.Header.Set("X-Tenant-ID", "t-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "roster_size", body["feature_key"])
	assert.Equal(t, "100", body["current_value"])
	assert.Equal(t, ">= 500", body["required_value"])

	req = httptest.NewRequest(http.MethodGet, "/signup", nil)
	req.Header.Set("X-Tenant-ID", "t-1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestHealth(t *testing.T) {
	hs := newHarness(t)
	assert.Equal(t, http.StatusOK, hs.do(http.MethodGet, "/health", "", nil).Code)
	hs.ready = errors.New("postgres unreachable")
	assert.Equal(t, http.StatusServiceUnavailable, hs.do(http.MethodGet, "/health", "", nil).Code)
}
