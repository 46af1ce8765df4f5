package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wagerline/wagerline-core/internal/admission"
	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/infrastructure/config"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/infrastructure/logging"
	"github.com/wagerline/wagerline-core/internal/session"
)

func TestWriteDomainError(t *testing.T) {
	s := &Server{logger: logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"limit reached", &admission.LimitReachedError{RequestID: "adr-1", CurrentDeviceCount: 2, MaxDevices: 2}, http.StatusForbidden, ErrCodeResetRequestNeeded},
		{"device metadata", &device.ValidationError{Fields: []device.FieldError{{Field: "fingerprint_id", Rule: "required"}}}, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"approval choice", &devicerequest.ValidationError{Message: "choose devices"}, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"store down", database.Unavailable(fmt.Errorf("query: %w", context.DeadlineExceeded)), http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
		{"credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeInvalidCredentials},
		{"inactive", auth.ErrAccountInactive, http.StatusForbidden, ErrCodeAccountInactive},
		{"no account", fmt.Errorf("loading: %w", auth.ErrAccountNotFound), http.StatusNotFound, ErrCodeAccountNotFound},
		{"identifier taken", auth.ErrIdentifierExists, http.StatusConflict, ErrCodeConflict},
		{"no device", device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeDeviceNotFound},
		{"no request", devicerequest.ErrRequestNotFound, http.StatusNotFound, ErrCodeRequestNotFound},
		{"already reviewed", fmt.Errorf("%w: request adr-1 is approved", devicerequest.ErrApprovalConflict), http.StatusConflict, ErrCodeApprovalConflict},
		{"pending exists", devicerequest.ErrPendingExists, http.StatusConflict, ErrCodeConflict},
		{"session revoked", session.ErrSessionInvalid, http.StatusUnauthorized, ErrCodeSessionInvalid},
		{"token", auth.ErrTokenInvalid, http.StatusUnauthorized, ErrCodeSessionInvalid},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/v1/test", nil)
			s.writeDomainError(w, r, tt.err, "fallback message")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := errorCode(t, w); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestWriteDomainError_LimitReachedBody(t *testing.T) {
	s := &Server{logger: logging.Discard()}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)

	s.writeDomainError(w, r, &admission.LimitReachedError{
		Pending:            true,
		RequestID:          "adr-12345678",
		CurrentDeviceCount: 3,
		MaxDevices:         3,
	}, "unused")

	var body map[string]any
	decode(t, w, &body)
	want := map[string]any{
		"status":               float64(http.StatusForbidden),
		"code":                 ErrCodeResetRequestNeeded,
		"request_id":           "adr-12345678",
		"current_device_count": float64(3),
		"max_devices":          float64(3),
		"pending":              true,
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
	if body["message"] == "" {
		t.Error("message is empty")
	}
}
