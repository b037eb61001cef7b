package api

import (
	"errors"
	"io"
	"net/http"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/infra/logging"
	"club-entitlements/internal/infra/metrics"
)

const defaultWebhookBody = 256 << 10

// handleBillingWebhook acknowledges every delivery with a valid signature,
// whatever happens downstream; the processor would otherwise keep retrying.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	l := logging.With(r.Context(), s.log)
	limit := s.cfg.WebhookMaxBody
	if limit <= 0 {
		limit = defaultWebhookBody
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.IncWebhookDelivery("too_large")
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload too large"})
			return
		}
		l.Warn().Err(err).Msg("webhook body read failed")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body"})
		return
	}

	if err := s.webhooks.Receive(r.Context(), body, r.Header); err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			metrics.IncWebhookDelivery("rejected")
			l.Warn().Err(err).Msg("webhook signature rejected")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid signature"})
			return
		}
		l.Error().Err(err).Msg("webhook handling failed")
	}
	metrics.IncWebhookDelivery("accepted")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
