package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/infra/logging"
	"club-entitlements/internal/infra/metrics"
)

const maxRequestBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Error          string `json:"error"`
	RemainingHours *int   `json:"remaining_hours,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the domain taxonomy onto HTTP status codes. Configuration
// problems are logged and hidden from callers.
func writeError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	var (
		cooldown *domain.CooldownError
		gateway  *domain.GatewayError
		cfgErr   *domain.ConfigurationError
	)
	l := logging.With(r.Context(), logger)
	switch {
	case errors.As(err, &cooldown):
		metrics.IncCooldownRejection()
		hours := cooldown.RemainingHours()
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: cooldown.Error(), RemainingHours: &hours})
	case errors.As(err, &cfgErr):
		l.Error().Err(err).Msg("feature catalog misconfigured")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	case errors.Is(err, domain.ErrGatewayTimeout):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "billing provider did not answer in time; the change will be reconciled"})
	case errors.As(err, &gateway):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: gateway.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConcurrencyNoop):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrRetriesExhausted):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "request timed out"})
	default:
		l.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decodeBody reads a JSON request and runs struct validation on it.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidArgument, err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func pathParam(r *http.Request, name string, dst any) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dst,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return fmt.Errorf("%w: path parameter %s: %v", domain.ErrInvalidArgument, name, err)
	}
	return nil
}

// queryParam binds an optional query parameter; dst is a pointer to a pointer.
func queryParam(r *http.Request, name string, explode bool, dst any) error {
	if err := runtime.BindQueryParameter("form", explode, false, name, r.URL.Query(), dst); err != nil {
		return fmt.Errorf("%w: query parameter %s: %v", domain.ErrInvalidArgument, name, err)
	}
	return nil
}
