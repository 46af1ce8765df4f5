package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wagerline/wagerline-core/internal/admission"
	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeAccountNotFound    = "account_not_found"
	ErrCodeAccountInactive    = "account_inactive"
	ErrCodeDeviceNotFound     = "device_not_found"
	ErrCodeRequestNotFound    = "request_not_found"
	ErrCodeApprovalConflict   = "approval_conflict"
	ErrCodeStoreUnavailable   = "store_unavailable"
	ErrCodeSessionInvalid     = "session_invalid"

	// ErrCodeResetRequestNeeded tells the client its device is waiting for
	// an administrator to approve an admission request.
	ErrCodeResetRequestNeeded = "RESET_REQUEST_NEEDED"
)

// limitReachedResponse is the 403 body for a login rejected at the device limit.
type limitReachedResponse struct {
	Status             int    `json:"status"`
	Code               string `json:"code"`
	Message            string `json:"message"`
	RequestID          string `json:"request_id"`
	CurrentDeviceCount int    `json:"current_device_count"`
	MaxDevices         int    `json:"max_devices"`
	Pending            bool   `json:"pending"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps errors from the access core to HTTP responses.
// Anything unrecognised is logged and reported as a 500 with fallback as
// the message.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		limitErr   *admission.LimitReachedError
		deviceErr  *device.ValidationError
		requestErr *devicerequest.ValidationError
	)

	switch {
	case errors.As(err, &limitErr):
		writeJSON(w, http.StatusForbidden, limitReachedResponse{
			Status:             http.StatusForbidden,
			Code:               ErrCodeResetRequestNeeded,
			Message:            "device limit reached; an administrator must approve this device",
			RequestID:          limitErr.RequestID,
			CurrentDeviceCount: limitErr.CurrentDeviceCount,
			MaxDevices:         limitErr.MaxDevices,
			Pending:            limitErr.Pending,
		})
	case errors.As(err, &deviceErr):
		writeJSON(w, http.StatusUnprocessableEntity, Error{
			Status:  http.StatusUnprocessableEntity,
			Code:    ErrCodeValidation,
			Message: "invalid device metadata",
			Details: deviceErr.Fields,
		})
	case errors.As(err, &requestErr):
		writeJSON(w, http.StatusUnprocessableEntity, Error{
			Status:  http.StatusUnprocessableEntity,
			Code:    ErrCodeValidation,
			Message: requestErr.Message,
			Details: requestErr,
		})
	case errors.Is(err, database.ErrStoreUnavailable):
		s.logger.Warn("store unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "service temporarily unavailable")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid credentials")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, http.StatusForbidden, ErrCodeAccountInactive, "account is disabled")
	case errors.Is(err, auth.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, ErrCodeAccountNotFound, "account not found")
	case errors.Is(err, auth.ErrIdentifierExists):
		writeConflict(w, "username, email or phone already in use")
	case errors.Is(err, device.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeDeviceNotFound, "device not found")
	case errors.Is(err, devicerequest.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, ErrCodeRequestNotFound, "request not found")
	case errors.Is(err, devicerequest.ErrApprovalConflict):
		writeError(w, http.StatusConflict, ErrCodeApprovalConflict, "request has already been processed")
	case errors.Is(err, devicerequest.ErrPendingExists):
		writeConflict(w, "a pending request already exists for this device")
	case errors.Is(err, session.ErrSessionInvalid), errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, ErrCodeSessionInvalid, "session is no longer valid")
	default:
		s.logger.Error(fallback, "path", r.URL.Path, "error", err, "request_id", requestIDFromContext(r.Context()))
		writeInternalError(w, fallback)
	}
}
