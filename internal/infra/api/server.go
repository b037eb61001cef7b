package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"club-entitlements/internal/infra/metrics"
	"club-entitlements/internal/usecase"
)

type Config struct {
	Port             int
	RequestTimeout   time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	TenantHeader     string
	TenantWriteLimit int // per tenant per minute on subscription writes
	WebhookRPS       float64
	WebhookBurst     int
	WebhookMaxBody   int64
	AdminAPIKey      string
	AdminJWTSecret   string
	AdminJWTTTL      time.Duration
}

type Deps struct {
	Tenants      usecase.TenantUseCase
	Entitlements usecase.EntitlementUseCase
	Lifecycle    usecase.LifecycleUseCase
	Overrides    usecase.OverrideUseCase
	Audit        usecase.AuditUseCase
	Webhooks     usecase.WebhookUseCase
	// Limiter is optional; nil disables per-tenant write limits.
	Limiter WriteLimiter
	// Ready backs /health; nil always reports ok.
	Ready func(ctx context.Context) error
}

type Server struct {
	cfg          Config
	tenants      usecase.TenantUseCase
	entitlements usecase.EntitlementUseCase
	lifecycle    usecase.LifecycleUseCase
	overrides    usecase.OverrideUseCase
	audit        usecase.AuditUseCase
	webhooks     usecase.WebhookUseCase
	limiter      WriteLimiter
	ready        func(ctx context.Context) error
	auth         *AuthManager
	log          *zerolog.Logger

	srv *http.Server
}

func NewServer(cfg Config, deps Deps, logger *zerolog.Logger) *Server {
	if cfg.TenantHeader == "" {
		cfg.TenantHeader = "X-Tenant-ID"
	}
	l := logger.With().Str("component", "HTTP").Logger()
	return &Server{
		cfg:          cfg,
		tenants:      deps.Tenants,
		entitlements: deps.Entitlements,
		lifecycle:    deps.Lifecycle,
		overrides:    deps.Overrides,
		audit:        deps.Audit,
		webhooks:     deps.Webhooks,
		limiter:      deps.Limiter,
		ready:        deps.Ready,
		auth:         NewAuthManager(cfg.AdminAPIKey, cfg.AdminJWTSecret, cfg.AdminJWTTTL),
		log:          &l,
	}
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.With(WebhookRateLimit(s.cfg.WebhookRPS, s.cfg.WebhookBurst)).
		Post("/webhooks/billing", s.handleBillingWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(Timeout(s.cfg.RequestTimeout))

		r.Group(func(r chi.Router) {
			r.Use(TenantIdentity(s.cfg.TenantHeader))
			r.Get("/capabilities", s.handleGetCapabilities)
			r.Get("/capabilities/{featureKey}", s.handleCheckCapability)
			r.Route("/subscription", func(r chi.Router) {
				r.Use(TenantWriteLimit(s.limiter, "subscription", s.cfg.TenantWriteLimit, s.log))
				r.Post("/", s.handleCreateSubscription)
				r.Post("/plan", s.handleChangePlan)
				r.Post("/cancel", s.handleCancel)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/session", s.handleAdminSession)
			r.Group(func(r chi.Router) {
				r.Use(s.auth.RequireAdmin)
				r.Post("/tenants", s.handleAdminCreateTenant)
				r.Route("/tenants/{tenantID}", func(r chi.Router) {
					r.Get("/", s.handleAdminGetTenant)
					r.Get("/capabilities", s.handleAdminCapabilities)
					r.Post("/subscription", s.handleAdminCreateSubscription)
					r.Post("/subscription/plan", s.handleAdminChangePlan)
					r.Post("/subscription/cancel", s.handleAdminCancel)
					r.Post("/subscription/retry-charge", s.handleAdminRetryCharge)
					r.Get("/overrides", s.handleAdminListOverrides)
					r.Put("/overrides/{featureKey}", s.handleAdminPutOverride)
					r.Delete("/overrides/{featureKey}", s.handleAdminDeleteOverride)
					r.Get("/history", s.handleAdminHistory)
					r.Get("/events", s.handleAdminEvents)
				})
				r.Post("/cache/invalidate-all", s.handleAdminInvalidateAll)
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Routes(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
