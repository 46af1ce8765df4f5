package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/wagerline/wagerline-core/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues an audit entry for asynchronous write (best-effort).
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(action, entityType, entityID, accountID string, details map[string]any) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}

	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		AccountID:  accountID,
		Source:     "api",
		Details:    details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled,
// then drains what is left and closes auditDone.
func (s *Server) drainAuditLog(ctx context.Context) {
	defer close(s.auditDone)

	write := func(entry *audit.AuditLog) {
		if err := s.auditRepo.Create(context.Background(), entry); err != nil {
			s.logger.Error("audit log write failed",
				"action", entry.Action,
				"entity_type", entry.EntityType,
				"error", err,
			)
		}
	}

	for {
		select {
		case entry := <-s.auditCh:
			write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					write(entry)
				default:
					return
				}
			}
		}
	}
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: login, login_rejected, logout, approve, reject, submit, ...
//   - entity_type: account, device, admission_request, deactivation_request
//   - entity_id, account_id
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		AccountID:  q.Get("account_id"),
	}
	filter.Limit, filter.Offset = pagination(q.Get("limit"), q.Get("offset"))

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	result, err := s.auditRepo.List(ctx, filter)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// pagination parses limit and offset query values. Malformed values are
// ignored and the repositories apply their defaults.
func pagination(limit, offset string) (int, int) {
	var l, o int
	if n, err := strconv.Atoi(limit); err == nil {
		l = n
	}
	if n, err := strconv.Atoi(offset); err == nil && n > 0 {
		o = n
	}
	return l, o
}
