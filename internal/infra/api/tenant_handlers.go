package api

import (
	"fmt"
	"net/http"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
)

type createSubscriptionRequest struct {
	PlanCode     string `json:"plan_code" validate:"required,max=64"`
	CustomerRef  string `json:"customer_ref" validate:"omitempty,max=128"`
	PaymentToken string `json:"payment_token" validate:"omitempty,max=256"`
}

type changePlanRequest struct {
	PlanCode string `json:"plan_code" validate:"required,max=64"`
}

type cancelRequest struct {
	Effective string `json:"effective" validate:"omitempty,oneof=immediate end_of_period"`
}

func (c cancelRequest) when() model.CancelEffective {
	if c.Effective == "" {
		return model.CancelEndOfPeriod
	}
	return model.CancelEffective(c.Effective)
}

func (s *Server) handleGetCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeCapabilities(w, r, tenantFrom(r.Context()))
}

func (s *Server) writeCapabilities(w http.ResponseWriter, r *http.Request, tenantID string) {
	caps, err := s.entitlements.GetCapabilities(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

func (s *Server) handleCheckCapability(w http.ResponseWriter, r *http.Request) {
	var featureKey string
	if err := pathParam(r, "featureKey", &featureKey); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	c, err := constraintFromQuery(r)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	d, err := s.check(r, tenantFrom(r.Context()), featureKey, c)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecision(d))
}

// constraintFromQuery reads ?min=N or ?allow=a,b; neither means "enabled".
func constraintFromQuery(r *http.Request) (model.Constraint, error) {
	var (
		atLeast *int
		allow   *[]string
	)
	if err := queryParam(r, "min", true, &atLeast); err != nil {
		return model.Constraint{}, err
	}
	if err := queryParam(r, "allow", false, &allow); err != nil {
		return model.Constraint{}, err
	}
	switch {
	case atLeast != nil && allow != nil:
		return model.Constraint{}, fmt.Errorf("%w: min and allow are mutually exclusive", domain.ErrInvalidArgument)
	case atLeast != nil:
		if *atLeast < 0 || int64(*atLeast) > int64(^uint32(0)) {
			return model.Constraint{}, fmt.Errorf("%w: min out of range", domain.ErrInvalidArgument)
		}
		return model.RequireAtLeast(uint32(*atLeast)), nil
	case allow != nil && len(*allow) > 0:
		return model.RequireOneOf(*allow...), nil
	}
	return model.RequireEnabled(), nil
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	s.createSubscription(w, r, tenantFrom(r.Context()), model.TriggeredByUser)
}

func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request, tenantID string, by model.TriggeredBy) {
	var req createSubscriptionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	pm := model.PaymentMethod{CustomerRef: req.CustomerRef, Token: req.PaymentToken}
	res, err := s.lifecycle.Create(r.Context(), tenantID, model.PlanCode(req.PlanCode), pm, by)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	status := http.StatusCreated
	if res.CheckoutURL != "" {
		// activation completes when the processor's webhook arrives
		status = http.StatusAccepted
	}
	writeJSON(w, status, toPlanChange(res))
}

func (s *Server) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	s.changePlan(w, r, tenantFrom(r.Context()), model.TriggeredByUser)
}

func (s *Server) changePlan(w http.ResponseWriter, r *http.Request, tenantID string, by model.TriggeredBy) {
	var req changePlanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	res, err := s.lifecycle.ChangePlan(r.Context(), tenantID, model.PlanCode(req.PlanCode), by)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanChange(res))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.cancel(w, r, tenantFrom(r.Context()), model.TriggeredByUser)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request, tenantID string, by model.TriggeredBy) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, s.log, err)
			return
		}
	}
	res, err := s.lifecycle.Cancel(r.Context(), tenantID, req.when(), by)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanChange(res))
}
