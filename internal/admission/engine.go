package admission

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/infrastructure/mqtt"
	"github.com/wagerline/wagerline-core/internal/session"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// DefaultApprovalWindow is how long an approved request may still label a
// reactivation.
const DefaultApprovalWindow = 5 * time.Minute

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the interface for publishing admission events to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MetricsWriter records admission decisions as time-series points.
type MetricsWriter interface {
	WriteAdmission(accountID, tierName, outcome string, activeDevices, maxDevices int)
}

// Config holds the engine's policy constants.
type Config struct {
	Limits         tier.Limits
	ApprovalWindow time.Duration // default DefaultApprovalWindow
	StoreTimeout   time.Duration // default database.DefaultOperationTimeout
}

// Engine makes admission decisions.
//
// Thread Safety: safe for concurrent use. Decisions for the same account
// are serialised by the store's write lock.
type Engine struct {
	db        *sql.DB
	cfg       Config
	issuer    *session.Issuer
	publisher Publisher
	metrics   MetricsWriter
	logger    Logger
	now       func() time.Time
}

// NewEngine creates an engine on db. issuer may be nil, in which case
// admitted outcomes carry no session.
func NewEngine(db *sql.DB, cfg Config, issuer *session.Issuer) *Engine {
	if cfg.ApprovalWindow <= 0 {
		cfg.ApprovalWindow = DefaultApprovalWindow
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = database.DefaultOperationTimeout
	}
	return &Engine{
		db:     db,
		cfg:    cfg,
		issuer: issuer,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger. A nil logger disables logging.
func (e *Engine) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	e.logger = logger
}

// SetPublisher sets the event publisher. Nil disables events.
func (e *Engine) SetPublisher(p Publisher) {
	e.publisher = p
}

// SetMetrics sets the metrics writer. Nil disables metrics.
func (e *Engine) SetMetrics(m MetricsWriter) {
	e.metrics = m
}

// SetClock replaces the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// errSlotTaken rolls back an admission that would exceed the limit.
var errSlotTaken = errors.New("admission: slot taken concurrently")

// Decide admits meta's device for acc or routes it to the request
// workflow.
//
// A recent unconsumed approval for the fingerprint only relabels a login
// that already fits under the limit as KindAdmitViaReactivation. At the
// limit the login is rejected even with such an approval, so the active
// device count never exceeds the tier maximum.
//
// The returned error is non-nil only when nothing was decided:
// invalid metadata (*device.ValidationError) or a store failure
// (database.ErrStoreUnavailable). A rejection is a successful decision;
// inspect Outcome.Err.
func (e *Engine) Decide(ctx context.Context, acc *auth.Account, meta device.Metadata) (*Outcome, error) {
	meta = meta.Normalize()
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := database.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	now := e.now().UTC().Truncate(time.Second)
	policy := acc.Policy(now, e.cfg.Limits)

	out, err := e.decide(ctx, acc, meta, policy, now, false)
	if errors.Is(err, errSlotTaken) {
		e.logger.Warn("admission slot filled concurrently, filing request",
			"account_id", acc.ID, "fingerprint_id", meta.FingerprintID)
		out, err = e.decide(ctx, acc, meta, policy, now, true)
	}
	if err != nil {
		e.logger.Error("admission decision failed", "account_id", acc.ID, "error", err)
		return nil, database.Unavailable(err)
	}

	e.record(acc, meta, out)
	return out, nil
}

func (e *Engine) decide(ctx context.Context, acc *auth.Account, meta device.Metadata, policy tier.Policy, now time.Time, requestOnly bool) (*Outcome, error) {
	out := &Outcome{Policy: policy, MaxDevices: policy.MaxDevices}

	err := database.InTx(ctx, e.db, func(tx *sql.Tx) error {
		devices := device.NewSQLiteRepository(tx)

		existing, err := devices.FindByFingerprint(ctx, acc.ID, meta.FingerprintID)
		if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
			return err
		}
		excluding := ""
		if existing != nil {
			excluding = existing.ID
		}

		others, err := devices.CountActive(ctx, acc.ID, excluding)
		if err != nil {
			return err
		}
		out.PriorActiveCount = others

		switch {
		case acc.IsAdmin(), existing != nil && existing.IsActive:
			out.Kind = KindAdmit
			return e.admit(ctx, tx, acc, meta, policy, out, now, false)
		case requestOnly || others >= policy.MaxDevices:
			out.CurrentDeviceCount = others
			return e.fileRequest(ctx, tx, acc, meta, out, now)
		}

		out.Kind = KindAdmit
		approval, err := devicerequest.NewAdmissionRepository(tx).
			FindRecentApproved(ctx, acc.ID, meta.FingerprintID, now.Add(-e.cfg.ApprovalWindow))
		switch {
		case err == nil:
			if _, err := devicerequest.NewAdmissionRepository(tx).Consume(ctx, approval.ID, now); err != nil {
				return err
			}
			out.Kind = KindAdmitViaReactivation
			out.Request = approval
		case !errors.Is(err, devicerequest.ErrRequestNotFound):
			return err
		}
		return e.admit(ctx, tx, acc, meta, policy, out, now, true)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// admit activates the device, re-reads the count and issues the session.
// When enforce is set and the re-read count exceeds the limit, errSlotTaken
// rolls the whole transaction back.
func (e *Engine) admit(ctx context.Context, tx *sql.Tx, acc *auth.Account, meta device.Metadata, policy tier.Policy, out *Outcome, now time.Time, enforce bool) error {
	devices := device.NewSQLiteRepository(tx)

	dev, err := devices.UpsertActivate(ctx, acc.ID, meta, now)
	if err != nil {
		return err
	}
	out.Device = dev

	after, err := devices.CountActive(ctx, acc.ID, "")
	if err != nil {
		return err
	}
	if enforce && after > policy.MaxDevices {
		return errSlotTaken
	}
	out.CurrentDeviceCount = after

	// A pending request for this fingerprint would otherwise linger with a
	// stale snapshot of the active devices.
	closed, err := devicerequest.NewAdmissionRepository(tx).Supersede(ctx, acc.ID, meta.FingerprintID, now)
	if err != nil {
		return err
	}
	if closed {
		e.logger.Info("pending admission request superseded",
			"account_id", acc.ID, "fingerprint_id", meta.FingerprintID)
	}

	if e.issuer == nil {
		return nil
	}
	out.Session, err = e.issuer.Issue(ctx, tx, acc, dev, out.PriorActiveCount, policy)
	return err
}

// fileRequest returns the fingerprint's pending request, creating one when
// none exists. A concurrent creator winning the unique index is treated as
// an existing pending request.
func (e *Engine) fileRequest(ctx context.Context, tx *sql.Tx, acc *auth.Account, meta device.Metadata, out *Outcome, now time.Time) error {
	requests := devicerequest.NewAdmissionRepository(tx)

	pending, err := requests.FindPending(ctx, acc.ID, meta.FingerprintID)
	if err == nil {
		out.Kind = KindRejectPending
		out.Request = pending
		return nil
	}
	if !errors.Is(err, devicerequest.ErrRequestNotFound) {
		return err
	}

	active, err := device.NewSQLiteRepository(tx).ListActive(ctx, acc.ID)
	if err != nil {
		return err
	}

	req := devicerequest.NewAdmissionRequest(acc.ID, meta, device.IDs(active), acc.Tier, now)
	if err := requests.Create(ctx, req); err != nil {
		if !errors.Is(err, devicerequest.ErrPendingExists) {
			return err
		}
		pending, err := requests.FindPending(ctx, acc.ID, meta.FingerprintID)
		if err != nil {
			return err
		}
		out.Kind = KindRejectPending
		out.Request = pending
		return nil
	}

	out.Kind = KindRejectNewRequest
	out.Request = req
	return nil
}

// admissionEvent is the broker payload for a decision.
type admissionEvent struct {
	AccountID          string `json:"account_id"`
	FingerprintID      string `json:"fingerprint_id"`
	DeviceID           string `json:"device_id,omitempty"`
	RequestID          string `json:"request_id,omitempty"`
	Outcome            Kind   `json:"outcome"`
	Tier               string `json:"tier"`
	CurrentDeviceCount int    `json:"current_device_count"`
	MaxDevices         int    `json:"max_devices"`
	Timestamp          string `json:"timestamp"`
}

// record logs, publishes and meters a committed decision. Failures here
// never affect the decision.
func (e *Engine) record(acc *auth.Account, meta device.Metadata, out *Outcome) {
	ev := admissionEvent{
		AccountID:          acc.ID,
		FingerprintID:      meta.FingerprintID,
		Outcome:            out.Kind,
		Tier:               out.Policy.EffectiveTier.String(),
		CurrentDeviceCount: out.CurrentDeviceCount,
		MaxDevices:         out.MaxDevices,
		Timestamp:          e.now().UTC().Format(time.RFC3339),
	}
	if out.Device != nil {
		ev.DeviceID = out.Device.ID
	}
	if out.Request != nil {
		ev.RequestID = out.Request.ID
	}

	e.logger.Info("admission decided",
		"account_id", ev.AccountID,
		"fingerprint_id", ev.FingerprintID,
		"outcome", ev.Outcome,
		"device_id", ev.DeviceID,
		"request_id", ev.RequestID,
		"active", ev.CurrentDeviceCount,
		"max", ev.MaxDevices,
	)

	if e.metrics != nil {
		e.metrics.WriteAdmission(ev.AccountID, ev.Tier, string(ev.Outcome), ev.CurrentDeviceCount, ev.MaxDevices)
	}

	if e.publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("encoding admission event failed", "error", err)
		return
	}
	if err := e.publisher.Publish(mqtt.Topics{}.Admission(acc.ID), payload, 1, false); err != nil {
		e.logger.Debug("admission event publish failed", "error", err)
	}
}
