package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wagerline/wagerline-core/internal/admission"
	"github.com/wagerline/wagerline-core/internal/audit"
	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/infrastructure/mqtt"
	"github.com/wagerline/wagerline-core/internal/session"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Identifier string          `json:"identifier"`
	Password   string          `json:"password"`
	Device     device.Metadata `json:"device"`
}

// accountSummary is the part of an account returned to its owner.
type accountSummary struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	DisplayName   string      `json:"display_name"`
	Role          auth.Role   `json:"role"`
	Tier          tier.Tier   `json:"tier"`
	TierExpiresAt *time.Time  `json:"tier_expires_at,omitempty"`
	Policy        tier.Policy `json:"policy"`
}

// loginResponse is the response body for an admitted login.
type loginResponse struct {
	Token           string         `json:"token"`
	TokenType       string         `json:"token_type"`
	ExpiresAt       time.Time      `json:"expires_at"`
	ExpiresIn       int            `json:"expires_in"`
	Outcome         admission.Kind `json:"outcome"`
	Account         accountSummary `json:"account"`
	Device          *device.Device `json:"device"`
	ActiveDevices   int            `json:"active_devices"`
	RevokedSessions int64          `json:"revoked_sessions"`
}

type logoutRequest struct {
	FingerprintID string `json:"fingerprint_id"`
}

func summarise(acc *auth.Account, policy tier.Policy) accountSummary {
	return accountSummary{
		ID:            acc.ID,
		Username:      acc.Username,
		DisplayName:   acc.DisplayName,
		Role:          acc.Role,
		Tier:          acc.Tier,
		TierExpiresAt: acc.TierExpiresAt,
		Policy:        policy,
	}
}

// handleLogin verifies credentials and admits the reporting device.
//
// A login at the device limit is answered with 403 RESET_REQUEST_NEEDED and
// leaves a pending admission request for an administrator.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" || req.Password == "" {
		writeBadRequest(w, "identifier and password are required")
		return
	}

	ctx, cancel := s.storeContext(r.Context())
	acc, err := auth.Authenticate(ctx, s.accounts, req.Identifier, req.Password)
	cancel()
	if err != nil {
		s.recordLogin("", loginOutcome(err))
		s.writeDomainError(w, r, database.Unavailable(err), "failed to authenticate")
		return
	}

	meta := req.Device
	meta.IP = clientIP(r)

	out, err := s.engine.Decide(r.Context(), acc, meta)
	if err != nil {
		s.recordLogin(acc.ID, loginOutcome(err))
		s.writeDomainError(w, r, err, "failed to admit device")
		return
	}

	if !out.Kind.Admitted() {
		s.recordLogin(acc.ID, string(out.Kind))
		s.rejectLogin(w, r, acc, out)
		return
	}

	if out.Session == nil {
		s.logger.Error("admission engine has no session issuer", "account_id", acc.ID)
		writeInternalError(w, "failed to issue session")
		return
	}

	s.recordLogin(acc.ID, string(out.Kind))
	s.auditLog(audit.ActionLogin, audit.EntityDevice, out.Device.ID, acc.ID, map[string]any{
		"outcome":          out.Kind,
		"fingerprint_id":   out.Device.FingerprintID,
		"ip":               meta.IP,
		"active_devices":   out.CurrentDeviceCount,
		"max_devices":      out.MaxDevices,
		"revoked_sessions": out.Session.Revoked,
	})
	s.notifySessionsRevoked(acc.ID, "", superseded(out.Policy), out.Session.Revoked)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:           out.Session.Token,
		TokenType:       "Bearer",
		ExpiresAt:       out.Session.ExpiresAt,
		ExpiresIn:       int(time.Until(out.Session.ExpiresAt).Seconds()),
		Outcome:         out.Kind,
		Account:         summarise(acc, out.Policy),
		Device:          out.Device,
		ActiveDevices:   out.CurrentDeviceCount,
		RevokedSessions: out.Session.Revoked,
	})
}

func (s *Server) rejectLogin(w http.ResponseWriter, r *http.Request, acc *auth.Account, out *admission.Outcome) {
	details := map[string]any{
		"outcome":        out.Kind,
		"active_devices": out.CurrentDeviceCount,
		"max_devices":    out.MaxDevices,
	}
	requestID := ""
	if out.Request != nil {
		requestID = out.Request.ID
		details["fingerprint_id"] = out.Request.FingerprintID
	}
	s.auditLog(audit.ActionLoginRejected, audit.EntityAdmissionRequest, requestID, acc.ID, details)

	if out.Kind == admission.KindRejectNewRequest && out.Request != nil {
		s.auditLog(audit.ActionSubmit, audit.EntityAdmissionRequest, requestID, acc.ID, nil)
		s.publishRequestEvent(mqtt.RequestKindAdmission, mqtt.RequestEventCreated,
			requestID, acc.ID, string(out.Request.Status), "", out.Request)
	}

	s.writeDomainError(w, r, out.Err(), "failed to admit device")
}

func superseded(p tier.Policy) string {
	if p.ExclusiveSession {
		return session.ReasonExclusiveLogin
	}
	return session.ReasonSuperseded
}

// loginOutcome names a failed login for metrics.
func loginOutcome(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return ErrCodeInvalidCredentials
	case errors.Is(err, auth.ErrAccountInactive):
		return ErrCodeAccountInactive
	case errors.Is(err, device.ErrInvalidDevice):
		return ErrCodeValidation
	case errors.Is(err, database.ErrStoreUnavailable):
		return ErrCodeStoreUnavailable
	default:
		return ErrCodeInternal
	}
}

func (s *Server) recordLogin(accountID, outcome string) {
	if s.metrics != nil {
		s.metrics.WriteLogin(accountID, outcome)
	}
}

// handleLogout releases the caller's device and revokes sessions according
// to the account's tier. The body is optional; without a fingerprint the
// device bound to the current session is released.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	acc := accountFromContext(r.Context())
	claims := claimsFromContext(r.Context())

	result, err := s.logout.Logout(r.Context(), acc, strings.TrimSpace(req.FingerprintID), claims.SessionID)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to log out")
		return
	}

	s.auditLog(audit.ActionLogout, audit.EntityDevice, result.DeviceID, acc.ID, map[string]any{
		"deactivated":      result.Deactivated,
		"remaining_active": result.RemainingActive,
		"revoked_sessions": result.RevokedSessions,
	})
	s.notifySessionsRevoked(acc.ID, result.DeviceID, session.ReasonLogout, result.RevokedSessions)

	writeJSON(w, http.StatusOK, result)
}

// handleMe returns the caller's account, resolved policy and active devices.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acc := accountFromContext(r.Context())
	claims := claimsFromContext(r.Context())

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	active, err := s.devices.ListActive(ctx, acc.ID)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":        summarise(acc, acc.Policy(time.Now(), s.limits)),
		"session_id":     claims.SessionID,
		"device_id":      claims.DeviceID,
		"active_devices": active,
	})
}

// handleWSTicket issues a single-use WebSocket ticket so the bearer token
// never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	acc := accountFromContext(r.Context())
	ticket := generateTicket()

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	if err := s.tickets.Put(ctx, ticket, acc.ID+ticketSep+string(acc.Role), s.ticketTTL); err != nil {
		s.logger.Error("storing websocket ticket failed", "account_id", acc.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "failed to issue ticket")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(s.ticketTTL.Seconds()),
	})
}

// ticketSep separates account ID and role in a stored ticket value.
const ticketSep = "|"

// takeTicket consumes ticket and returns the identity it was issued to.
func (s *Server) takeTicket(ctx context.Context, ticket string) (string, auth.Role, bool, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	value, ok, err := s.tickets.Take(ctx, ticket)
	if err != nil {
		return "", "", false, fmt.Errorf("%w: %w", database.ErrStoreUnavailable, err)
	}
	if !ok {
		return "", "", false, nil
	}
	accountID, role, found := strings.Cut(value, ticketSep)
	if !found || accountID == "" {
		return "", "", false, nil
	}
	return accountID, auth.Role(role), true, nil
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
