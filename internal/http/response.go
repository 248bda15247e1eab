package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"gestionale/internal/invsync"
	applog "gestionale/internal/log"
	"gestionale/internal/services"
	"gestionale/internal/storage"
)

// errorResponse is the JSON error envelope shared by every endpoint.
type errorResponse struct {
	Error              string   `json:"error"`
	Message            string   `json:"message"`
	Violations         []string `json:"violations,omitempty"`
	ExistingMovementID string   `json:"existingMovementId,omitempty"`
	Hint               string   `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeDomainError maps the engine and storage error taxonomy onto HTTP
// statuses. Everything unrecognized is a 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *invsync.ValidationError
		linked     *invsync.AlreadyLinkedError
		excluded   *invsync.ExcludedTypeError
		unresolved *invsync.StatusMappingUnresolvedError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:      "invoice_not_eligible",
			Message:    validation.Error(),
			Violations: validation.Violations,
		})
	case errors.As(err, &linked):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:              "already_linked",
			Message:            linked.Error(),
			ExistingMovementID: linked.ExistingMovementID,
			Hint:               "retry with forceCreate=true to create a duplicate on purpose",
		})
	case errors.As(err, &excluded):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "excluded_type",
			Message: excluded.Error(),
		})
	case errors.As(err, &unresolved):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "status_mapping_unresolved",
			Message: unresolved.Error(),
		})
	case errors.Is(err, services.ErrNoLinkedMovement):
		writeError(w, http.StatusNotFound, "no_linked_movement", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
