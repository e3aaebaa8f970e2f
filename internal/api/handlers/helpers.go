package handlers

import (
	"encoding/json"
	"errors"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/platform/obs"
	"field-route-planner/internal/services"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().
			Err(err).
			Str("req_id", obs.RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, r, http.StatusBadRequest, "body must contain only one JSON object")
		return false
	}
	return true
}

func planningStatus(code string) int {
	switch code {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeNoBookings:
		return http.StatusNotFound
	case domain.CodeNoVehicles:
		return http.StatusUnprocessableEntity
	case domain.CodeFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writePlanningError maps planning error codes to HTTP statuses. Only the
// planning message is returned; wrapped causes stay in the log.
func writePlanningError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var pe *domain.PlanningError
	if !errors.As(err, &pe) {
		log.Error().Err(err).Str("req_id", obs.RequestID(r.Context())).Str("op", op).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal server error")
		return
	}

	if services.IsInputError(err) {
		log.Debug().Err(err).Str("req_id", obs.RequestID(r.Context())).Str("op", op).Msg("request rejected")
	} else {
		log.Error().Err(err).Str("req_id", obs.RequestID(r.Context())).Str("op", op).Msg("request failed")
	}
	writeJSON(w, r, planningStatus(pe.Code), map[string]string{"error": pe.Message, "code": pe.Code})
}
