package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Default().Error("Failed to write JSON response", "error", err)
		}
	}
}

func respondSuccess(w http.ResponseWriter, code int, message string, data interface{}) {
	respondWithJSON(w, code, Envelope{Status: "success", Message: message, Data: data})
}

func respondError(w http.ResponseWriter, code int, errCode, message string, details map[string]string) {
	respondWithJSON(w, code, Envelope{
		Status:  "error",
		Message: message,
		Error:   &ErrorBody{Code: errCode, Details: details},
	})
}

// mapDomainError converts a lifecycle error to an HTTP status and error code.
func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Resource not found"
	case errors.Is(err, domain.ErrRequestClosed):
		return http.StatusConflict, "REQUEST_CLOSED", "This request is no longer open"
	case errors.Is(err, domain.ErrDuplicateOffer):
		return http.StatusConflict, "DUPLICATE_OFFER", "You have already responded to this request"
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden, "NOT_AUTHORIZED", "You are not allowed to do this"
	case errors.Is(err, domain.ErrInvalidOfferKind):
		return http.StatusUnprocessableEntity, "INVALID_OFFER_KIND", "A declined offer cannot be selected"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error()
	}
	return http.StatusInternalServerError, "INTERNAL", "Internal server error"
}

func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, errCode, message := mapDomainError(err)
	if code == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	}
	respondError(w, code, errCode, message, nil)
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the error response itself and reports whether the caller may continue.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request payload", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Validation failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		tag := fe.Tag()
		if fe.Param() != "" {
			tag += "=" + fe.Param()
		}
		out[strings.ToLower(fe.Field())] = tag
	}
	return out
}
