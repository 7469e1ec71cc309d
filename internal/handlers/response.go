package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/irisballot/backend/internal/matcher"
	"github.com/irisballot/backend/internal/services"
)

const maxBodyBytes = 1_048_576

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Details: services.ValidationDetails(validationErr),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeBody reads exactly one JSON object into dst and validates it. It
// writes the error response itself and reports whether the caller may go on.
func decodeBody(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := v.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		SendErrorResponse(w, "Invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

// sendServiceError maps a domain error onto its HTTP status.
func sendServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case services.IsValidationError(err):
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrInvalidTOTP):
		status, message = http.StatusUnauthorized, err.Error()
	case errors.Is(err, services.ErrReauthRequired):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, services.ErrAccountLocked):
		status, message = http.StatusLocked, err.Error()
	case errors.Is(err, services.ErrPersonNotFound),
		errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, matcher.ErrSessionNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrAlreadyVoted),
		errors.Is(err, services.ErrDuplicateBiometric),
		errors.Is(err, services.ErrDuplicateName),
		errors.Is(err, services.ErrDuplicateVoterID),
		errors.Is(err, services.ErrUsernameTaken),
		errors.Is(err, services.ErrPersonAlreadyLinked),
		errors.Is(err, matcher.ErrSessionActive):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrNotVerified),
		errors.Is(err, services.ErrNoCapture),
		errors.Is(err, services.ErrPersonInactive):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, services.ErrInvalidElection),
		errors.Is(err, services.ErrInvalidTemplate),
		errors.Is(err, services.ErrInvalidRole),
		errors.Is(err, services.ErrWeakPassword),
		errors.Is(err, matcher.ErrInvalidMode),
		errors.Is(err, matcher.ErrTargetRequired):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, matcher.ErrCameraUnavailable):
		status, message = http.StatusServiceUnavailable, err.Error()
	}
	SendErrorResponse(w, message, status, nil)
}
