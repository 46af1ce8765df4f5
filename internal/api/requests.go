package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wagerline/wagerline-core/internal/audit"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/infrastructure/mqtt"
	"github.com/wagerline/wagerline-core/internal/session"
)

type approveAdmissionRequest struct {
	// FreeDeviceIDs are device row IDs of the account to deactivate so the
	// requested device fits under the limit.
	FreeDeviceIDs []string `json:"free_device_ids"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// decodeOptional decodes a JSON body that may be empty.
func decodeOptional(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ─── Admission requests ────────────────────────────────────────────

func (s *Server) handleListAdmissionRequests(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseRequestFilter(w, r)
	if !ok {
		return
	}

	reqs, err := s.workflow.ListAdmission(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list admission requests")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": reqs,
		"count":    len(reqs),
	})
}

func (s *Server) handleGetAdmissionRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.workflow.GetAdmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err, "failed to get admission request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleApproveAdmission activates the requested device, freeing the
// designated devices first when the account is at its limit. A 422 carries
// the account's active devices so the reviewer can choose.
func (s *Server) handleApproveAdmission(w http.ResponseWriter, r *http.Request) {
	reviewer := accountFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var body approveAdmissionRequest
	if err := decodeOptional(r, &body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.workflow.ApproveAdmission(r.Context(), id, reviewer.ID, body.FreeDeviceIDs)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to approve admission request")
		return
	}

	freed := device.CountDeactivated(result.Freed)
	s.auditLog(audit.ActionApprove, audit.EntityAdmissionRequest, id, result.Request.AccountID, map[string]any{
		"reviewed_by":      reviewer.ID,
		"device_id":        result.Device.ID,
		"freed":            result.Freed,
		"revoked_sessions": result.RevokedSessions,
	})
	s.recordReview(mqtt.RequestKindAdmission, string(devicerequest.StatusApproved), id, freed, result.RevokedSessions)
	s.publishRequestEvent(mqtt.RequestKindAdmission, mqtt.RequestEventReviewed,
		id, result.Request.AccountID, string(result.Request.Status), reviewer.ID, result)
	s.notifySessionsRevoked(result.Request.AccountID, "", session.ReasonDeviceDeactivated, result.RevokedSessions)

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRejectAdmission(w http.ResponseWriter, r *http.Request) {
	reviewer := accountFromContext(r.Context())
	id := chi.URLParam(r, "id")

	reason, ok := readReason(w, r)
	if !ok {
		return
	}

	req, err := s.workflow.RejectAdmission(r.Context(), id, reviewer.ID, reason)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to reject admission request")
		return
	}

	s.auditLog(audit.ActionReject, audit.EntityAdmissionRequest, id, req.AccountID, map[string]any{
		"reviewed_by": reviewer.ID,
		"reason":      reason,
	})
	s.recordReview(mqtt.RequestKindAdmission, string(devicerequest.StatusRejected), id, 0, 0)
	s.publishRequestEvent(mqtt.RequestKindAdmission, mqtt.RequestEventReviewed,
		id, req.AccountID, string(req.Status), reviewer.ID, req)

	writeJSON(w, http.StatusOK, req)
}

// ─── Deactivation requests ─────────────────────────────────────────

func (s *Server) handleListDeactivationRequests(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseRequestFilter(w, r)
	if !ok {
		return
	}

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

func (s *Server) handleGetDeactivationRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.workflow.GetDeactivation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err, "failed to get deactivation request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleApproveDeactivation(w http.ResponseWriter, r *http.Request) {
	reviewer := accountFromContext(r.Context())
	id := chi.URLParam(r, "id")

	result, err := s.workflow.ApproveDeactivation(r.Context(), id, reviewer.ID)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to approve deactivation request")
		return
	}

	freed := 0
	if result.Deactivated {
		freed = 1
	}
	s.auditLog(audit.ActionApprove, audit.EntityDeactivationRequest, id, result.Request.AccountID, map[string]any{
		"reviewed_by":      reviewer.ID,
		"device_id":        result.Request.DeviceID,
		"deactivated":      result.Deactivated,
		"revoked_sessions": result.RevokedSessions,
	})
	s.recordReview(mqtt.RequestKindDeactivation, string(devicerequest.StatusApproved), id, freed, result.RevokedSessions)
	s.publishRequestEvent(mqtt.RequestKindDeactivation, mqtt.RequestEventReviewed,
		id, result.Request.AccountID, string(result.Request.Status), reviewer.ID, result)
	s.notifySessionsRevoked(result.Request.AccountID, result.Request.DeviceID,
		session.ReasonDeviceDeactivated, result.RevokedSessions)

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRejectDeactivation(w http.ResponseWriter, r *http.Request) {
	reviewer := accountFromContext(r.Context())
	id := chi.URLParam(r, "id")

	reason, ok := readReason(w, r)
	if !ok {
		return
	}

	req, err := s.workflow.RejectDeactivation(r.Context(), id, reviewer.ID, reason)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to reject deactivation request")
		return
	}

	s.auditLog(audit.ActionReject, audit.EntityDeactivationRequest, id, req.AccountID, map[string]any{
		"reviewed_by": reviewer.ID,
		"reason":      reason,
	})
	s.recordReview(mqtt.RequestKindDeactivation, string(devicerequest.StatusRejected), id, 0, 0)
	s.publishRequestEvent(mqtt.RequestKindDeactivation, mqtt.RequestEventReviewed,
		id, req.AccountID, string(req.Status), reviewer.ID, req)

	writeJSON(w, http.StatusOK, req)
}

// readReason decodes an optional {"reason"} body. It writes a 400 and
// returns false on malformed or oversized input.
func readReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body rejectRequest
	if err := decodeOptional(r, &body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return "", false
	}
	reason := strings.TrimSpace(body.Reason)
	if len(reason) > maxReasonLength {
		writeBadRequest(w, "reason must be at most 500 characters")
		return "", false
	}
	return reason, true
}

func (s *Server) recordReview(kind, decision, requestID string, freed int, revoked int64) {
	if s.metrics != nil {
		s.metrics.WriteReview(kind, decision, requestID, freed, revoked)
	}
}
