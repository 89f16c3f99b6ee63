package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxJSONBody bounds JSON request bodies. Descriptor uploads of a few hundred
// vectors stay well below it.
const maxJSONBody = 8 << 20

// uploadLimit converts a megabyte limit to bytes, falling back to
// constants.MaxUploadSize.
func uploadLimit(mb int) int64 {
	if mb <= 0 {
		return constants.MaxUploadSize
	}
	return int64(mb) << 20
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps a domain error code to an HTTP status.
func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeDimensionMismatch, apperrors.CodeNoCandidates:
		return http.StatusUnprocessableEntity
	case apperrors.CodeSessionConflict:
		return http.StatusConflict
	case apperrors.CodeSessionNotFound, apperrors.CodeIdentityNotFound:
		return http.StatusNotFound
	case apperrors.CodeSessionInactive:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError translates err into a status and a JSON body carrying
// the error code. Internal errors are logged and answered generically.
func respondDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var de *apperrors.Error
	if !errors.As(err, &de) || de.Code == apperrors.CodeInternal {
		logger.Error("request failed", "method", r.Method, "path", sanitizeForLog(r.URL.Path), "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
			"code":  string(apperrors.CodeInternal),
		})
		return
	}
	respondJSON(w, statusFor(de.Code), map[string]string{
		"error": de.Error(),
		"code":  string(de.Code),
	})
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
