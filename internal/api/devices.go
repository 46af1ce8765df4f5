package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wagerline/wagerline-core/internal/audit"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/infrastructure/mqtt"
)

type deactivationSubmitRequest struct {
	Reason string `json:"reason"`
}

// maxReasonLength bounds free-text reasons on requests.
const maxReasonLength = 500

// handleListOwnDevices returns the caller's devices.
//
// Query parameters:
//   - active: "true" for active devices only, "false" for inactive only
func (s *Server) handleListOwnDevices(w http.ResponseWriter, r *http.Request) {
	acc := accountFromContext(r.Context())

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	devs, err := s.devices.ListByAccount(ctx, acc.ID)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list devices")
		return
	}

	switch r.URL.Query().Get("active") {
	case "true":
		devs = filterDevices(devs, true)
	case "false":
		devs = filterDevices(devs, false)
	case "":
	default:
		writeBadRequest(w, "active must be true or false")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devs,
		"count":   len(devs),
	})
}

func filterDevices(devs []device.Device, active bool) []device.Device {
	out := make([]device.Device, 0, len(devs))
	for _, d := range devs {
		if d.IsActive == active {
			out = append(out, d)
		}
	}
	return out
}

// handleSubmitDeactivation asks an administrator to release one of the
// caller's devices.
func (s *Server) handleSubmitDeactivation(w http.ResponseWriter, r *http.Request) {
	acc := accountFromContext(r.Context())
	deviceID := chi.URLParam(r, "id")

	var req deactivationSubmitRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Reason) > maxReasonLength {
		writeBadRequest(w, "reason must be at most 500 characters")
		return
	}

	dr, err := s.workflow.SubmitDeactivation(r.Context(), acc.ID, deviceID, req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to submit deactivation request")
		return
	}

	s.auditLog(audit.ActionSubmit, audit.EntityDeactivationRequest, dr.ID, acc.ID, map[string]any{
		"device_id": deviceID,
		"reason":    dr.Reason,
	})
	s.publishRequestEvent(mqtt.RequestKindDeactivation, mqtt.RequestEventCreated,
		dr.ID, acc.ID, string(dr.Status), "", dr)

	writeJSON(w, http.StatusCreated, dr)
}

// handleListOwnDeactivations returns the caller's deactivation requests.
func (s *Server) handleListOwnDeactivations(w http.ResponseWriter, r *http.Request) {
	acc := accountFromContext(r.Context())

	filter, ok := parseRequestFilter(w, r)
	if !ok {
		return
	}
	filter.AccountID = acc.ID

	reqs, err := s.workflow.ListDeactivation(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list deactivation requests")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": reqs,
		"count":    len(reqs),
	})
}

// parseRequestFilter reads status, account_id, limit and offset. It writes
// a 400 and returns false when status is not a known value.
func parseRequestFilter(w http.ResponseWriter, r *http.Request) (devicerequest.Filter, bool) {
	q := r.URL.Query()
	filter := devicerequest.Filter{
		Status:    devicerequest.Status(q.Get("status")),
		AccountID: q.Get("account_id"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeBadRequest(w, "status must be pending, approved or rejected")
		return filter, false
	}
	filter.Limit, filter.Offset = pagination(q.Get("limit"), q.Get("offset"))
	return filter, true
}
