package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wagerline/wagerline-core/internal/audit"
	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/session"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// bodyValidator reports failures by JSON field name.
var bodyValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// ─── Request Types ─────────────────────────────────────────────────

type createAccountRequest struct {
	Username      string     `json:"username" validate:"required,max=64"`
	DisplayName   string     `json:"display_name" validate:"required,max=100"`
	Email         string     `json:"email" validate:"omitempty,email,max=254"`
	Phone         string     `json:"phone" validate:"omitempty,e164"`
	Password      string     `json:"password" validate:"required,min=8,max=256"`
	Role          auth.Role  `json:"role" validate:"omitempty,oneof=user admin"`
	Tier          tier.Tier  `json:"tier" validate:"omitempty,oneof=basic premium premium_plus"`
	TierExpiresAt *time.Time `json:"tier_expires_at"`
}

type updateAccountRequest struct {
	DisplayName     *string    `json:"display_name" validate:"omitempty,min=1,max=100"`
	Email           *string    `json:"email" validate:"omitempty,max=254"`
	Phone           *string    `json:"phone" validate:"omitempty,max=16"`
	Role            *auth.Role `json:"role" validate:"omitempty,oneof=user admin"`
	Tier            *tier.Tier `json:"tier" validate:"omitempty,oneof=basic premium premium_plus"`
	TierExpiresAt   *time.Time `json:"tier_expires_at"`
	ClearTierExpiry bool       `json:"clear_tier_expiry"`
	IsActive        *bool      `json:"is_active"`
	Password        *string    `json:"password" validate:"omitempty,min=8,max=256"`
}

// validateBody runs struct validation and writes a 422 on failure.
func validateBody(w http.ResponseWriter, v any) bool {
	err := bodyValidator.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeBadRequest(w, err.Error())
		return false
	}
	fields := make([]device.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, device.FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	writeJSON(w, http.StatusUnprocessableEntity, Error{
		Status:  http.StatusUnprocessableEntity,
		Code:    ErrCodeValidation,
		Message: "invalid request body",
		Details: fields,
	})
	return false
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListAccounts returns accounts.
//
// Query parameters: role, tier, search (identifier prefix), limit, offset.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := auth.AccountFilter{
		Role:   auth.Role(q.Get("role")),
		Tier:   tier.Tier(q.Get("tier")),
		Search: q.Get("search"),
	}
	filter.Limit, filter.Offset = pagination(q.Get("limit"), q.Get("offset"))

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	accounts, err := s.accounts.List(ctx, filter)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list accounts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if !validateBody(w, &req) {
		return
	}
	if !auth.IsValidUsername(req.Username) {
		writeBadRequest(w, "username may contain letters, digits, dots, hyphens and underscores")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleUser
	}
	if req.Tier == "" {
		req.Tier = tier.Basic
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create account")
		return
	}

	acc := &auth.Account{
		Username:      req.Username,
		DisplayName:   req.DisplayName,
		Email:         req.Email,
		Phone:         req.Phone,
		PasswordHash:  hash,
		Role:          req.Role,
		Tier:          req.Tier,
		TierExpiresAt: utcPtr(req.TierExpiresAt),
		IsActive:      true,
	}

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	if err := s.accounts.Create(ctx, acc); err != nil {
		s.writeDomainError(w, r, err, "failed to create account")
		return
	}

	admin := accountFromContext(r.Context())
	s.logger.Info("account created", "account_id", acc.ID, "tier", acc.Tier, "role", acc.Role, "created_by", admin.ID)
	s.auditLog(audit.ActionCreate, audit.EntityAccount, acc.ID, acc.ID, map[string]any{
		"username":   acc.Username,
		"role":       acc.Role,
		"tier":       acc.Tier,
		"created_by": admin.ID,
	})

	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	acc, err := s.accounts.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err, "failed to get account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account": acc,
		"policy":  acc.Policy(time.Now(), s.limits),
	})
}

// handleUpdateAccount patches tier, expiry, role, active flag and profile
// fields. A tier change applies from the account's next login.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) { //nolint:gocognit,gocyclo // field patching + self-protection guards
	id := chi.URLParam(r, "id")
	admin := accountFromContext(r.Context())

	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !validateBody(w, &req) {
		return
	}

	if req.IsActive != nil && !*req.IsActive && id == admin.ID {
		writeForbidden(w, "cannot deactivate your own account")
		return
	}
	if req.Role != nil && id == admin.ID && *req.Role != admin.Role {
		writeForbidden(w, "cannot change your own role")
		return
	}

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	acc, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to get account")
		return
	}

	changed := map[string]any{}
	if req.DisplayName != nil {
		acc.DisplayName = *req.DisplayName
		changed["display_name"] = acc.DisplayName
	}
	if req.Email != nil {
		acc.Email = *req.Email
		changed["email"] = acc.Email
	}
	if req.Phone != nil {
		acc.Phone = *req.Phone
		changed["phone"] = acc.Phone
	}
	if req.Role != nil {
		acc.Role = *req.Role
		changed["role"] = acc.Role
	}
	if req.Tier != nil {
		acc.Tier = *req.Tier
		changed["tier"] = acc.Tier
	}
	switch {
	case req.ClearTierExpiry:
		acc.TierExpiresAt = nil
		changed["tier_expires_at"] = nil
	case req.TierExpiresAt != nil:
		acc.TierExpiresAt = utcPtr(req.TierExpiresAt)
		changed["tier_expires_at"] = acc.TierExpiresAt
	}
	if req.IsActive != nil {
		acc.IsActive = *req.IsActive
		changed["is_active"] = acc.IsActive
	}

	if err := s.accounts.Update(ctx, acc); err != nil {
		s.writeDomainError(w, r, err, "failed to update account")
		return
	}

	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			s.logger.Error("hash password failed", "error", err)
			writeInternalError(w, "failed to update password")
			return
		}
		if err := s.accounts.UpdatePassword(ctx, id, hash); err != nil {
			s.writeDomainError(w, r, err, "failed to update password")
			return
		}
		changed["password"] = "changed"
	}

	s.logger.Info("account updated", "account_id", id, "updated_by", admin.ID)
	s.auditLog(audit.ActionUpdate, audit.EntityAccount, id, id, map[string]any{
		"updated_by": admin.ID,
		"changes":    changed,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"account": acc,
		"policy":  acc.Policy(time.Now(), s.limits),
	})
}

func (s *Server) handleListAccountDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	if _, err := s.accounts.GetByID(ctx, id); err != nil {
		s.writeDomainError(w, r, err, "failed to get account")
		return
	}

	devs, err := s.devices.ListByAccount(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devs,
		"count":   len(devs),
	})
}

// handleClearAccountDevices deletes every device of the account and revokes
// all its sessions in one transaction.
func (s *Server) handleClearAccountDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	admin := accountFromContext(r.Context())

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	if _, err := s.accounts.GetByID(ctx, id); err != nil {
		s.writeDomainError(w, r, err, "failed to get account")
		return
	}

	var deleted, revoked int64
	now := time.Now().UTC()
	err := database.InTx(ctx, s.db.DB, func(tx *sql.Tx) error {
		var err error
		// Sessions reference devices, so revoke before deleting.
		if revoked, err = session.NewSQLiteRepository(tx).RevokeAccount(ctx, id, "", session.ReasonDevicesCleared, now); err != nil {
			return err
		}
		deleted, err = device.NewSQLiteRepository(tx).DeleteAll(ctx, id)
		return err
	})
	if err != nil {
		s.writeDomainError(w, r, database.Unavailable(err), "failed to clear devices")
		return
	}

	s.logger.Info("account devices cleared", "account_id", id, "deleted", deleted, "revoked_sessions", revoked, "cleared_by", admin.ID)
	s.auditLog(audit.ActionClearDevices, audit.EntityAccount, id, id, map[string]any{
		"cleared_by":       admin.ID,
		"deleted":          deleted,
		"revoked_sessions": revoked,
	})
	s.notifySessionsRevoked(id, "", session.ReasonDevicesCleared, revoked)

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_devices":  deleted,
		"revoked_sessions": revoked,
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
