package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse is the body of every rejected request
type ErrorResponse struct {
	Error       string     `json:"error"`
	Code        string     `json:"code"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	RetryAfter  *int       `json:"retryAfter,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorCode writes an error body with a stable code
func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// WriteLocked writes 423 ACCOUNT_LOCKED with the unlock time
func WriteLocked(w http.ResponseWriter, until time.Time) {
	until = until.UTC()
	_ = WriteJSON(w, http.StatusLocked, ErrorResponse{
		Error:       "Account is temporarily locked due to too many failed login attempts",
		Code:        CodeAccountLocked,
		LockedUntil: &until,
	})
}

// WriteRateLimited writes 429 with retryAfter seconds and the Retry-After header.
// Sub-second waits round up to one second.
func WriteRateLimited(w http.ResponseWriter, code, message string, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	_ = WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      message,
		Code:       code,
		RetryAfter: &seconds,
	})
}

// WriteBadRequest writes 400 INVALID_REQUEST
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusBadRequest, CodeInvalidRequest, message)
}

// WriteUnauthorized writes 401 UNAUTHORIZED
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// WriteForbidden writes 403 FORBIDDEN
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusForbidden, CodeForbidden, message)
}

// WriteNotFound writes 404 NOT_FOUND
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusNotFound, CodeNotFound, message)
}

// WriteConflict writes 409 CONFLICT
func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusConflict, CodeConflict, message)
}

// WriteInternalError writes a generic 500. Error detail is never sent to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorCode(w, http.StatusInternalServerError, CodeInternalError, "Internal server error")
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
