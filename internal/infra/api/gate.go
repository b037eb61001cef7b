package api

import (
	"net/http"

	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/infra/metrics"
)

func (s *Server) check(r *http.Request, tenantID, featureKey string, c model.Constraint) (*model.Decision, error) {
	d, err := s.entitlements.Check(r.Context(), tenantID, featureKey, c)
	if err != nil {
		return nil, err
	}
	metrics.IncGateDecision(featureKey, d.Allowed)
	return d, nil
}

// RequireCapability rejects tenant requests whose resolved capabilities do
// not satisfy c. The 403 body is enough to render an upgrade prompt.
func (s *Server) RequireCapability(featureKey string, c model.Constraint) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := s.check(r, tenantFrom(r.Context()), featureKey, c)
			if err != nil {
				writeError(w, r, s.log, err)
				return
			}
			if !d.Allowed {
				writeJSON(w, http.StatusForbidden, toDecision(d))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
