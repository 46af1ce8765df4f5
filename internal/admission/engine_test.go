package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/session"
	"github.com/wagerline/wagerline-core/internal/testutil"
	"github.com/wagerline/wagerline-core/internal/tier"
)

const testSecret = "admission-test-secret-at-least-32-chars"

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []admissionEvent
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ev admissionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *fakeMetrics) WriteAdmission(_, _, outcome string, _, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

type fixture struct {
	db       *database.DB
	engine   *Engine
	issuer   *session.Issuer
	workflow *devicerequest.Workflow
	devices  *device.SQLiteRepository
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	clock := func() time.Time { return now }

	issuer := session.NewIssuer(testSecret, 0)
	issuer.SetClock(clock)

	engine := NewEngine(db.DB, Config{Limits: tier.DefaultLimits(), StoreTimeout: 2 * time.Second}, issuer)
	engine.SetClock(clock)

	workflow := devicerequest.NewWorkflow(db.DB, tier.DefaultLimits(), 2*time.Second)
	workflow.SetClock(clock)

	return &fixture{
		db:       db,
		engine:   engine,
		issuer:   issuer,
		workflow: workflow,
		devices:  device.NewSQLiteRepository(db),
		now:      now,
	}
}

func (f *fixture) account(t *testing.T, id string, tr tier.Tier) *auth.Account {
	t.Helper()
	testutil.InsertAccount(t, f.db, id, string(tr))
	return &auth.Account{ID: id, Username: id, Role: auth.RoleUser, Tier: tr, IsActive: true}
}

func (f *fixture) login(t *testing.T, acc *auth.Account, fp string) *Outcome {
	t.Helper()
	out, err := f.engine.Decide(context.Background(), acc, device.Metadata{FingerprintID: fp, Platform: "android"})
	require.NoError(t, err)
	return out
}

func (f *fixture) sessionValid(t *testing.T, out *Outcome) bool {
	t.Helper()
	require.NotNil(t, out.Session)
	claims, err := f.issuer.Parse(out.Session.Token)
	require.NoError(t, err)
	_, err = f.issuer.Validate(context.Background(), f.db, claims)
	return err == nil
}

func (f *fixture) activeCount(t *testing.T, accountID string) int {
	t.Helper()
	n, err := f.devices.CountActive(context.Background(), accountID, "")
	require.NoError(t, err)
	return n
}

func TestDecide_BasicScenario(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-basic", tier.Basic)

	x := f.login(t, acc, "X")
	require.Equal(t, KindAdmit, x.Kind)
	require.NotNil(t, x.Device)
	assert.Equal(t, 1, x.Device.LoginCount)
	assert.True(t, f.sessionValid(t, x))

	y := f.login(t, acc, "Y")
	require.Equal(t, KindRejectNewRequest, y.Kind)
	assert.Equal(t, 1, y.MaxDevices)
	assert.Equal(t, 1, y.CurrentDeviceCount)
	require.NotNil(t, y.Request)
	assert.Equal(t, []string{x.Device.ID}, y.Request.ActiveDeviceIDs)
	assert.Nil(t, y.Session)

	res, err := f.workflow.ApproveAdmission(context.Background(), y.Request.ID, "acc-admin", []string{x.Device.ID})
	require.NoError(t, err)
	assert.Equal(t, devicerequest.StatusApproved, res.Request.Status)
	assert.False(t, f.sessionValid(t, x), "freed device loses its session")

	again := f.login(t, acc, "X")
	assert.Equal(t, KindRejectNewRequest, again.Kind, "X is now the over-limit device")
	assert.Equal(t, 1, f.activeCount(t, acc.ID))
}

func TestDecide_SameFingerprintIsIdempotent(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-1", tier.Premium)

	first := f.login(t, acc, "fp-a")
	second := f.login(t, acc, "fp-a")

	assert.Equal(t, KindAdmit, second.Kind)
	assert.Equal(t, first.Device.ID, second.Device.ID)
	assert.Equal(t, 2, second.Device.LoginCount)

	all, err := f.devices.ListByAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDecide_PremiumThirdDeviceRejected(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-prem", tier.Premium)

	a := f.login(t, acc, "fp-a")
	b := f.login(t, acc, "fp-b")
	require.Equal(t, KindAdmit, b.Kind)
	assert.True(t, f.sessionValid(t, a), "second premium device keeps the first signed in")

	c := f.login(t, acc, "fp-c")
	assert.Equal(t, KindRejectNewRequest, c.Kind)
	assert.Equal(t, 2, c.MaxDevices)
	assert.Equal(t, 2, c.CurrentDeviceCount)
	require.NotNil(t, c.Request)
	assert.NotEmpty(t, c.Request.ID)

	assert.True(t, f.sessionValid(t, a))
	assert.True(t, f.sessionValid(t, b))

	retry := f.login(t, acc, "fp-c")
	assert.Equal(t, KindRejectPending, retry.Kind)
	assert.Equal(t, c.Request.ID, retry.Request.ID)

	var limitErr *LimitReachedError
	require.ErrorAs(t, retry.Err(), &limitErr)
	assert.True(t, limitErr.Pending)
	assert.ErrorIs(t, retry.Err(), ErrLimitReachedPendingExists)
	assert.ErrorIs(t, c.Err(), ErrLimitReachedRequestCreated)
	assert.ErrorIs(t, c.Err(), ErrLimitReached)
	assert.NoError(t, a.Err())
}

func TestDecide_BasicNewDeviceRevokesOldSession(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-basic", tier.Basic)

	a := f.login(t, acc, "fp-a")
	require.NoError(t, f.devices.Deactivate(context.Background(), acc.ID, "fp-a", f.now))

	b := f.login(t, acc, "fp-b")
	require.Equal(t, KindAdmit, b.Kind)
	assert.False(t, f.sessionValid(t, a))
	assert.True(t, f.sessionValid(t, b))
}

func TestDecide_ReactivationNeedsFreeSlot(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-prem", tier.Premium)

	f.login(t, acc, "fp-a")
	f.login(t, acc, "fp-b")
	require.NoError(t, f.devices.Deactivate(context.Background(), acc.ID, "fp-a", f.now))

	// A slot is free: the inactive device comes back without approval.
	back := f.login(t, acc, "fp-a")
	assert.Equal(t, KindAdmit, back.Kind)
	assert.Equal(t, 2, back.CurrentDeviceCount)

	f.login(t, acc, "fp-c") // files a request, limit is full
	require.NoError(t, f.devices.Deactivate(context.Background(), acc.ID, "fp-b", f.now))
	require.NoError(t, f.devices.Deactivate(context.Background(), acc.ID, "fp-a", f.now))
	f.login(t, acc, "fp-d")
	f.login(t, acc, "fp-e")

	// No slot: the inactive device must go through a request.
	blocked := f.login(t, acc, "fp-a")
	assert.Equal(t, KindRejectNewRequest, blocked.Kind)
	assert.Equal(t, 2, f.activeCount(t, acc.ID))
}

func TestDecide_FreeSlotSupersedesPendingRequest(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-prem", tier.Premium)

	a := f.login(t, acc, "fp-a")
	f.login(t, acc, "fp-b")
	stale := f.login(t, acc, "fp-c")
	require.Equal(t, KindRejectNewRequest, stale.Kind)

	require.NoError(t, f.devices.Deactivate(context.Background(), acc.ID, "fp-a", f.now))
	in := f.login(t, acc, "fp-c")
	require.Equal(t, KindAdmit, in.Kind)

	requests := devicerequest.NewAdmissionRepository(f.db)
	got, err := requests.GetByID(context.Background(), stale.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, devicerequest.StatusRejected, got.Status)
	assert.Equal(t, devicerequest.SupersededReason, got.RejectionReason)

	// The next over-limit login files a fresh request with a current snapshot.
	again := f.login(t, acc, "fp-a")
	require.Equal(t, KindRejectNewRequest, again.Kind)
	assert.NotEqual(t, stale.Request.ID, again.Request.ID)
	assert.NotContains(t, again.Request.ActiveDeviceIDs, a.Device.ID)
	assert.Contains(t, again.Request.ActiveDeviceIDs, in.Device.ID)
}

func TestDecide_RecentApprovalLabelsReactivation(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-basic", tier.Basic)

	x := f.login(t, acc, "X")
	y := f.login(t, acc, "Y")
	_, err := f.workflow.ApproveAdmission(context.Background(), y.Request.ID, "acc-admin", []string{x.Device.ID})
	require.NoError(t, err)

	// The approved device was released again before the user signed in.
	require.NoError(t, f.devices.Deactivate(context.Background(), acc.ID, "Y", f.now))

	in := f.login(t, acc, "Y")
	assert.Equal(t, KindAdmitViaReactivation, in.Kind)
	require.NotNil(t, in.Request)
	assert.Equal(t, y.Request.ID, in.Request.ID)

	got, err := devicerequest.NewAdmissionRepository(f.db).GetByID(context.Background(), y.Request.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ConsumedAt)

	require.NoError(t, f.devices.Deactivate(context.Background(), acc.ID, "Y", f.now))
	plain := f.login(t, acc, "Y")
	assert.Equal(t, KindAdmit, plain.Kind, "an approval is consumed once")
}

func TestDecide_ApprovalDoesNotBypassLimit(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-basic", tier.Basic)

	x := f.login(t, acc, "X")
	y := f.login(t, acc, "Y")
	_, err := f.workflow.ApproveAdmission(context.Background(), y.Request.ID, "acc-admin", []string{x.Device.ID})
	require.NoError(t, err)

	require.NoError(t, f.devices.Deactivate(context.Background(), acc.ID, "Y", f.now))
	f.login(t, acc, "Z") // takes the only slot

	out := f.login(t, acc, "Y")
	assert.Equal(t, KindRejectNewRequest, out.Kind)
	assert.Equal(t, 1, f.activeCount(t, acc.ID))
}

func TestDecide_AdminIsExempt(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-admin", tier.Basic)
	acc.Role = auth.RoleAdmin

	for i := range 3 {
		out := f.login(t, acc, fmt.Sprintf("fp-%d", i))
		assert.Equal(t, KindAdmit, out.Kind)
	}
	assert.Equal(t, 3, f.activeCount(t, acc.ID))
}

func TestDecide_LapsedTierUsesBasicLimit(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-lapsed", tier.PremiumPlus)
	expired := f.now.Add(-time.Hour)
	acc.TierExpiresAt = &expired

	f.login(t, acc, "fp-a")
	out := f.login(t, acc, "fp-b")
	assert.Equal(t, KindRejectNewRequest, out.Kind)
	assert.Equal(t, 1, out.MaxDevices)
	assert.Equal(t, tier.Basic, out.Policy.EffectiveTier)
}

func TestDecide_PremiumPlusLimit(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-plus", tier.PremiumPlus)

	for _, fp := range []string{"a", "b", "c"} {
		assert.Equal(t, KindAdmit, f.login(t, acc, fp).Kind)
	}
	out := f.login(t, acc, "d")
	assert.Equal(t, KindRejectNewRequest, out.Kind)
	assert.Equal(t, tier.DefaultPremiumPlusMaxDevices, out.MaxDevices)
}

func TestDecide_ConcurrentLoginsNeverExceedLimit(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-prem", tier.Premium)

	const logins = 8
	var wg sync.WaitGroup
	outcomes := make([]*Outcome, logins)
	errs := make([]error, logins)
	for i := range logins {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.engine.Decide(context.Background(), acc,
				device.Metadata{FingerprintID: fmt.Sprintf("fp-%d", i)})
		}(i)
	}
	wg.Wait()

	admitted := 0
	for i := range logins {
		require.NoError(t, errs[i])
		if outcomes[i].Kind.Admitted() {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted)
	assert.Equal(t, 2, f.activeCount(t, acc.ID))
}

func TestDecide_ConcurrentSameFingerprintOneRequest(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-basic", tier.Basic)
	f.login(t, acc, "X")

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.engine.Decide(context.Background(), acc, device.Metadata{FingerprintID: "Y"})
			if assert.NoError(t, err) && assert.NotNil(t, out.Request) {
				ids[i] = out.Request.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	pending, err := devicerequest.NewAdmissionRepository(f.db).List(context.Background(),
		devicerequest.Filter{AccountID: acc.ID, Status: devicerequest.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDecide_InvalidMetadata(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-1", tier.Basic)

	_, err := f.engine.Decide(context.Background(), acc, device.Metadata{FingerprintID: "   "})
	var verr *device.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "fingerprint_id", verr.Fields[0].Field)
}

func TestDecide_StoreUnavailableFailsClosed(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "acc-1", tier.Basic)
	require.NoError(t, f.db.Close())

	out, err := f.engine.Decide(context.Background(), acc, device.Metadata{FingerprintID: "fp-a"})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, database.ErrStoreUnavailable)
}

func TestDecide_PublishesAndMeters(t *testing.T) {
	f := newFixture(t)
	pub := &fakePublisher{}
	metrics := &fakeMetrics{}
	f.engine.SetPublisher(pub)
	f.engine.SetMetrics(metrics)
	acc := f.account(t, "acc-basic", tier.Basic)

	f.login(t, acc, "X")
	f.login(t, acc, "Y")

	require.Len(t, pub.events, 2)
	assert.Equal(t, "wagerline/auth/admission/acc-basic", pub.topics[0])
	assert.Equal(t, KindAdmit, pub.events[0].Outcome)
	assert.Equal(t, KindRejectNewRequest, pub.events[1].Outcome)
	assert.NotEmpty(t, pub.events[1].RequestID)
	assert.Equal(t, []string{"admit", "reject_new_request"}, metrics.outcomes)
}

func TestDecide_WithoutIssuer(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.db.DB, Config{}, nil)
	acc := f.account(t, "acc-1", tier.Premium)

	out, err := engine.Decide(context.Background(), acc, device.Metadata{FingerprintID: "fp-a"})
	require.NoError(t, err)
	assert.Equal(t, KindAdmit, out.Kind)
	assert.Nil(t, out.Session)
}
