package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/tier"
)

type accountBody struct {
	Account auth.Account `json:"account"`
	Policy  tier.Policy  `json:"policy"`
}

func TestCreateAccount(t *testing.T) {
	env := testServer(t)
	admin := adminToken(t, env)

	w := env.do(t, http.MethodPost, "/api/v1/admin/accounts", admin, map[string]any{
		"username":     "newbie",
		"display_name": "New Bettor",
		"email":        "newbie@example.com",
		"phone":        "+447700900123",
		"password":     "long-enough-password",
		"tier":         "premium",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d; body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var acc auth.Account
	decode(t, w, &acc)
	if acc.ID == "" || acc.Role != auth.RoleUser || acc.Tier != tier.Premium || !acc.IsActive {
		t.Errorf("account = %+v, want active premium user", acc)
	}
	if acc.PasswordHash != "" {
		t.Error("password hash leaked in response")
	}

	// The new account can log in by phone.
	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"identifier": "+447700900123",
		"password":   "long-enough-password",
		"device":     map[string]any{"fingerprint_id": "fp-1"},
	})
	if w.Code != http.StatusOK {
		t.Errorf("login as new account status = %d, want %d", w.Code, http.StatusOK)
	}

	w = env.do(t, http.MethodPost, "/api/v1/admin/accounts", admin, map[string]any{
		"username":     "newbie",
		"display_name": "Again",
		"password":     "long-enough-password",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate username status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestCreateAccount_Validation(t *testing.T) {
	env := testServer(t)
	admin := adminToken(t, env)

	tests := []struct {
		name      string
		body      map[string]any
		wantField string
	}{
		{"short password", map[string]any{"username": "a", "display_name": "A", "password": "short"}, "password"},
		{"unknown tier", map[string]any{"username": "a", "display_name": "A", "password": "long-enough-password", "tier": "gold"}, "tier"},
		{"bad email", map[string]any{"username": "a", "display_name": "A", "password": "long-enough-password", "email": "nope"}, "email"},
		{"bad phone", map[string]any{"username": "a", "display_name": "A", "password": "long-enough-password", "phone": "0770"}, "phone"},
		{"missing display name", map[string]any{"username": "a", "password": "long-enough-password"}, "display_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/admin/accounts", admin, tt.body)
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
			}
			var resp struct {
				Code    string              `json:"code"`
				Details []device.FieldError `json:"details"`
			}
			decode(t, w, &resp)
			if resp.Code != ErrCodeValidation || len(resp.Details) != 1 || resp.Details[0].Field != tt.wantField {
				t.Errorf("resp = %+v, want one %s error", resp, tt.wantField)
			}
		})
	}

	w := env.do(t, http.MethodPost, "/api/v1/admin/accounts", admin, map[string]any{
		"username": "has space", "display_name": "A", "password": "long-enough-password",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid username status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUpdateAccount_TierAndExpiry(t *testing.T) {
	env := testServer(t)
	acc := env.createAccount(t, "ruth", auth.RoleUser, tier.Basic)
	admin := adminToken(t, env)
	path := "/api/v1/admin/accounts/" + acc.ID

	expiry := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	w := env.do(t, http.MethodPatch, path, admin, map[string]any{
		"tier":            "premium_plus",
		"tier_expires_at": expiry,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var got accountBody
	decode(t, w, &got)
	if got.Account.Tier != tier.PremiumPlus || got.Policy.MaxDevices != 3 || got.Policy.ExclusiveSession {
		t.Errorf("after upgrade = %+v, want premium_plus with 3 devices", got)
	}
	if got.Account.TierExpiresAt == nil || !got.Account.TierExpiresAt.Equal(expiry) {
		t.Errorf("tier_expires_at = %v, want %v", got.Account.TierExpiresAt, expiry)
	}

	// A lapsed subscription resolves to Basic.
	w = env.do(t, http.MethodPatch, path, admin, map[string]any{"tier_expires_at": time.Now().Add(-time.Hour)})
	got = accountBody{}
	decode(t, w, &got)
	if got.Policy.Active || got.Policy.MaxDevices != 1 {
		t.Errorf("lapsed policy = %+v, want inactive with 1 device", got.Policy)
	}

	w = env.do(t, http.MethodPatch, path, admin, map[string]any{"clear_tier_expiry": true})
	got = accountBody{}
	decode(t, w, &got)
	if got.Account.TierExpiresAt != nil || got.Policy.MaxDevices != 3 {
		t.Errorf("cleared expiry = %+v, want open-ended premium_plus", got)
	}

	w = env.do(t, http.MethodGet, path, admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", w.Code, http.StatusOK)
	}
	got = accountBody{}
	decode(t, w, &got)
	if got.Account.Tier != tier.PremiumPlus || got.Account.TierExpiresAt != nil {
		t.Errorf("stored account = %+v, want open-ended premium_plus", got.Account)
	}
}

func TestUpdateAccount_Password(t *testing.T) {
	env := testServer(t)
	acc := env.createAccount(t, "sam", auth.RoleUser, tier.Basic)
	admin := adminToken(t, env)

	w := env.do(t, http.MethodPatch, "/api/v1/admin/accounts/"+acc.ID, admin, map[string]any{"password": "a-brand-new-password"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, want %d", w.Code, http.StatusOK)
	}

	if w := env.login(t, "sam", "fp-1"); w.Code != http.StatusUnauthorized {
		t.Errorf("old password login status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"identifier": "sam",
		"password":   "a-brand-new-password",
		"device":     map[string]any{"fingerprint_id": "fp-1"},
	})
	if w.Code != http.StatusOK {
		t.Errorf("new password login status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestUpdateAccount_SelfProtection(t *testing.T) {
	env := testServer(t)
	admin := adminToken(t, env)
	self, err := env.srv.accounts.GetByIdentifier(t.Context(), "admin")
	if err != nil {
		t.Fatalf("GetByIdentifier: %v", err)
	}
	path := "/api/v1/admin/accounts/" + self.ID

	for _, body := range []map[string]any{
		{"is_active": false},
		{"role": "user"},
	} {
		if w := env.do(t, http.MethodPatch, path, admin, body); w.Code != http.StatusForbidden {
			t.Errorf("patch %v on self status = %d, want %d", body, w.Code, http.StatusForbidden)
		}
	}

	if w := env.do(t, http.MethodPatch, "/api/v1/admin/accounts/acc-missing", admin, map[string]any{"tier": "premium"}); w.Code != http.StatusNotFound {
		t.Errorf("missing account status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListAccounts(t *testing.T) {
	env := testServer(t)
	env.createAccount(t, "tom", auth.RoleUser, tier.Premium)
	env.createAccount(t, "tina", auth.RoleUser, tier.Basic)
	env.createAccount(t, "uma", auth.RoleUser, tier.Premium)
	admin := adminToken(t, env)

	tests := []struct {
		query string
		want  int
	}{
		{"", 4},
		{"?tier=premium", 2},
		{"?role=admin", 1},
		{"?search=ti", 1},
		{"?limit=2", 2},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodGet, "/api/v1/admin/accounts"+tt.query, admin, nil)
		var resp struct {
			Count int `json:"count"`
		}
		decode(t, w, &resp)
		if resp.Count != tt.want {
			t.Errorf("GET accounts%s count = %d, want %d", tt.query, resp.Count, tt.want)
		}
	}
}

func TestClearAccountDevices(t *testing.T) {
	env := testServer(t)
	acc := env.createAccount(t, "vic", auth.RoleUser, tier.Premium)
	phone := env.mustLogin(t, "vic", "fp-phone")
	env.mustLogin(t, "vic", "fp-tablet")
	admin := adminToken(t, env)
	path := "/api/v1/admin/accounts/" + acc.ID + "/devices"

	w := env.do(t, http.MethodGet, path, admin, nil)
	var listed struct {
		Count int `json:"count"`
	}
	decode(t, w, &listed)
	if listed.Count != 2 {
		t.Fatalf("devices before clear = %d, want 2", listed.Count)
	}

	w = env.do(t, http.MethodDelete, path, admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var cleared struct {
		Deleted int64 `json:"deleted_devices"`
		Revoked int64 `json:"revoked_sessions"`
	}
	decode(t, w, &cleared)
	if cleared.Deleted != 2 || cleared.Revoked != 2 {
		t.Errorf("clear = %+v, want 2 devices and 2 sessions", cleared)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/auth/me", phone.Token, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("token after clear status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = env.do(t, http.MethodGet, path, admin, nil)
	decode(t, w, &listed)
	if listed.Count != 0 {
		t.Errorf("devices after clear = %d, want 0", listed.Count)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/admin/accounts/acc-missing/devices", admin, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing account status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
