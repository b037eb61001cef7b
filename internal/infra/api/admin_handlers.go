package api

import (
	"net/http"
	"time"

	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
)

type sessionRequest struct {
	APIKey  string `json:"api_key" validate:"required"`
	Subject string `json:"subject" validate:"omitempty,max=64,alphanumunicode"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type createTenantRequest struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}

type overrideRequest struct {
	Value     string     `json:"value" validate:"required,max=128"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type retryResponse struct {
	TransactionID string `json:"transaction_id,omitempty"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
}

func (s *Server) handleAdminSession(w http.ResponseWriter, r *http.Request) {
	if !s.auth.configured() {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "admin api disabled"})
		return
	}
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	tok, exp, err := s.auth.Exchange(req.APIKey, req.Subject)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: tok, ExpiresAt: exp})
}

// adminTenant binds {tenantID} or writes a 400.
func (s *Server) adminTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	if err := pathParam(r, "tenantID", &id); err != nil {
		writeError(w, r, s.log, err)
		return "", false
	}
	return id, true
}

func (s *Server) handleAdminCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	t, err := s.tenants.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenant(t))
}

func (s *Server) handleAdminGetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.adminTenant(w, r)
	if !ok {
		return
	}
	t, err := s.tenants.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenant(t))
}

func (s *Server) handleAdminCapabilities(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.adminTenant(w, r); ok {
		s.writeCapabilities(w, r, id)
	}
}

func (s *Server) handleAdminCreateSubscription(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.adminTenant(w, r); ok {
		s.createSubscription(w, r, id, model.TriggeredBySystem)
	}
}

func (s *Server) handleAdminChangePlan(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.adminTenant(w, r); ok {
		s.changePlan(w, r, id, model.TriggeredBySystem)
	}
}

func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.adminTenant(w, r); ok {
		s.cancel(w, r, id, model.TriggeredBySystem)
	}
}

func (s *Server) handleAdminRetryCharge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.adminTenant(w, r)
	if !ok {
		return
	}
	res, err := s.lifecycle.RetryCharge(r.Context(), id)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, retryResponse{TransactionID: res.TransactionID, CheckoutURL: res.CheckoutURL})
}

func (s *Server) handleAdminListOverrides(w http.ResponseWriter, r *http.Request) {
	id, ok := s.adminTenant(w, r)
	if !ok {
		return
	}
	list, err := s.overrides.List(r.Context(), id)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapList(list, toOverride))
}

func (s *Server) handleAdminPutOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := s.adminTenant(w, r)
	if !ok {
		return
	}
	var featureKey string
	if err := pathParam(r, "featureKey", &featureKey); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	var req overrideRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	o, err := s.overrides.Apply(r.Context(), id, featureKey, req.Value, req.ExpiresAt)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOverride(o))
}

func (s *Server) handleAdminDeleteOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := s.adminTenant(w, r)
	if !ok {
		return
	}
	var featureKey string
	if err := pathParam(r, "featureKey", &featureKey); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	if err := s.overrides.Clear(r.Context(), id, featureKey); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.adminTenant(w, r)
	if !ok {
		return
	}
	var (
		changeType *string
		since      *time.Time
		limit      *int
	)
	for name, dst := range map[string]any{"change_type": &changeType, "since": &since, "limit": &limit} {
		if err := queryParam(r, name, true, dst); err != nil {
			writeError(w, r, s.log, err)
			return
		}
	}
	f := repository.HistoryFilter{Since: since}
	if changeType != nil {
		f.ChangeType = model.ChangeType(*changeType)
	}
	if limit != nil {
		f.Limit = *limit
	}
	list, err := s.audit.ListHistory(r.Context(), id, f)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapList(list, toHistory))
}

func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.adminTenant(w, r)
	if !ok {
		return
	}
	var (
		eventType *string
		since     *time.Time
		limit     *int
	)
	for name, dst := range map[string]any{"event_type": &eventType, "since": &since, "limit": &limit} {
		if err := queryParam(r, name, true, dst); err != nil {
			writeError(w, r, s.log, err)
			return
		}
	}
	f := repository.EventFilter{Since: since}
	if eventType != nil {
		f.EventType = model.SubscriptionEventType(*eventType)
	}
	if limit != nil {
		f.Limit = *limit
	}
	list, err := s.audit.ListEvents(r.Context(), id, f)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapList(list, toEvent))
}

func (s *Server) handleAdminInvalidateAll(w http.ResponseWriter, r *http.Request) {
	if err := s.entitlements.InvalidateAll(r.Context()); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
