package coordinator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/clock/fakeclock"
	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/BearBump/DispatchBox/internal/integrations/notify/fake"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/lifecycle"
	"github.com/BearBump/DispatchBox/internal/services/registry"
	"github.com/BearBump/DispatchBox/internal/storage/memstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

// lastCode вытаскивает SMS-код из последнего сообщения.
func lastCode(t require.TestingT, gw *fake.Gateway, phone string) string {
	sms, ok := gw.LastSMS(phone)
	require.True(t, ok)
	fields := strings.Fields(sms.Message)
	return fields[len(fields)-1]
}

type flakyDrivers struct {
	*registry.Registry
	attachErr error
}

func (f *flakyDrivers) AttachLoad(ctx context.Context, driverID, loadID string) (*models.Driver, error) {
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	return f.Registry.AttachLoad(ctx, driverID, loadID)
}

// rejectOnOffer отклоняет груз от имени водителя, как только тому уходит предложение,
// то есть до того, как координатор успевает привязать водителя в реестре.
type rejectOnOffer struct {
	*fake.Gateway
	mgr *lifecycle.Manager
}

func (g *rejectOnOffer) SendAlert(ctx context.Context, driverID, message string, kind notify.AlertKind) error {
	if g.mgr != nil && kind == notify.AlertKindLoadAssigned {
		loadID := strings.Fields(message)[1]
		if _, _, err := g.mgr.DriverReject(ctx, loadID, "not my lane"); err != nil {
			return err
		}
	}
	return g.Gateway.SendAlert(ctx, driverID, message, kind)
}

type CoordinatorSuite struct {
	suite.Suite

	ctx     context.Context
	clk     *fakeclock.Clock
	store   *memstore.Store
	gw      *fake.Gateway
	rec     *events.Recorder
	mgr     *lifecycle.Manager
	drivers *flakyDrivers
	c       *Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.clk = fakeclock.New(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	s.store = memstore.New()
	s.gw = fake.New()
	s.rec = &events.Recorder{}
	bus := events.NewBus()
	bus.Subscribe(s.rec.Handle)

	reg := registry.New(s.store, s.clk, bus)
	s.drivers = &flakyDrivers{Registry: reg}
	s.mgr = lifecycle.New(s.store, s.clk, s.gw, reg, bus).WithConfig(lifecycle.Config{BcryptCost: bcrypt.MinCost})
	s.c = New(s.mgr, s.drivers, s.store, s.clk, s.gw, bus).WithSettings(Settings{DeadlineWarning: 5 * time.Minute})
	s.mgr.SetHooks(s.c)

	for _, d := range []models.DriverCreateInput{
		{ID: "D1", Name: "Ann", Phone: "+15550001"},
		{ID: "D2", Name: "Bob", Phone: "+15550002"},
		{ID: "D3", Name: "Cid", Phone: "+15550003"},
	} {
		_, err := s.c.RegisterDriver(s.ctx, d)
		s.Require().NoError(err)
	}
}

func (s *CoordinatorSuite) load(ref string) *models.Load {
	l, err := s.c.CreateLoad(s.ctx, models.LoadCreateInput{Reference: ref, OriginCity: "Dallas", DestinationCity: "Austin"})
	s.Require().NoError(err)
	return l
}

func (s *CoordinatorSuite) driver(id string) *models.Driver {
	d, err := s.drivers.Get(s.ctx, id)
	s.Require().NoError(err)
	return d
}

func (s *CoordinatorSuite) alertsOf(t models.AlertType) []models.DispatchAlert {
	return s.c.ListAlerts(s.ctx, AlertFilter{Type: t})
}

func (s *CoordinatorSuite) activate(loadID, driverID, phone string) {
	_, err := s.c.DriverAccept(s.ctx, loadID, driverID)
	s.Require().NoError(err)
	_, err = s.c.VerifySMS(s.ctx, loadID, lastCode(s.T(), s.gw, phone))
	s.Require().NoError(err)
}

func (s *CoordinatorSuite) TestExpiryFreesDriverWithOneAlert() {
	l1 := s.load("L1")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l1.ID, DriverID: "D1", Timeout: 30 * time.Minute})
	s.Require().NoError(err)

	d := s.driver("D1")
	s.Require().Equal(models.DriverStatusEnRoutePickup, d.Status)
	s.Require().Equal(l1.ID, *d.CurrentLoadID)

	s.clk.Advance(31 * time.Minute)

	got, err := s.mgr.GetLoad(s.ctx, l1.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.LoadStatusUnassigned, got.Status)

	d = s.driver("D1")
	s.Require().Nil(d.CurrentLoadID)
	s.Require().Equal(models.DriverStatusEmpty, d.Status)

	empty := s.alertsOf(models.AlertTypeDriverEmpty)
	s.Require().Len(empty, 1)
	s.Require().Equal("D1", empty[0].DriverID)
	s.Require().Equal(models.AlertPriorityHigh, empty[0].Priority)
	s.Require().Equal(l1.ID, *empty[0].LoadID)

	s.Require().Len(s.alertsOf(models.AlertTypeDeadlineApproaching), 1)
	s.Require().Equal(1, s.rec.Count(events.LoadExpired))
}

func (s *CoordinatorSuite) TestAcceptAndVerifyFlow() {
	l2 := s.load("L2")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l2.ID, DriverID: "D2", Timeout: 15 * time.Minute})
	s.Require().NoError(err)

	s.clk.Advance(5 * time.Minute)
	got, err := s.c.DriverAccept(s.ctx, l2.ID, "D2")
	s.Require().NoError(err)
	s.Require().Equal(models.LoadStatusAcceptedPendingSMS, got.Status)

	s.clk.Advance(2 * time.Minute)
	code := lastCode(s.T(), s.gw, "+15550002")
	got, err = s.c.VerifySMS(s.ctx, l2.ID, code)
	s.Require().NoError(err)
	s.Require().Equal(models.LoadStatusActive, got.Status)
	s.Require().NotNil(got.AcceptedAt)
	s.Require().NotNil(got.SMSVerifiedAt)

	_, err = s.c.VerifySMS(s.ctx, l2.ID, code)
	s.Require().ErrorIs(err, models.ErrInvalidTransition)

	// предупреждение снято вместе с окном
	s.clk.Advance(time.Hour)
	s.Require().Empty(s.alertsOf(models.AlertTypeDeadlineApproaching))
	s.Require().Len(s.alertsOf(models.AlertTypeLoadStatusChanged), 1)
	s.Require().Equal(l2.ID, *s.driver("D2").CurrentLoadID)
}

func (s *CoordinatorSuite) TestTonuReasonBoundary() {
	l3 := s.load("L3")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l3.ID, DriverID: "D3"})
	s.Require().NoError(err)
	s.activate(l3.ID, "D3", "+15550003")
	_, err = s.c.RequestRelease(s.ctx, l3.ID)
	s.Require().NoError(err)
	_, err = s.c.ConfirmRelease(s.ctx, lifecycle.ConfirmReleaseInput{
		LoadID:        l3.ID,
		ReleaseNumber: "REL-3",
		Pickup:        models.PickupDetails{Address: "1 Yard Rd"},
		ExpiresAt:     s.clk.Now().Add(2 * time.Hour),
	})
	s.Require().NoError(err)

	arrival := s.clk.Now()
	_, err = s.c.FileTonu(s.ctx, lifecycle.FileTonuInput{LoadID: l3.ID, Reason: strings.Repeat("a", 9), ArrivalTime: arrival})
	s.Require().ErrorIs(err, models.ErrValidationFailed)
	s.Require().Empty(s.alertsOf(models.AlertTypeTonuFiled))

	claim, err := s.c.FileTonu(s.ctx, lifecycle.FileTonuInput{LoadID: l3.ID, Reason: strings.Repeat("a", 10), ArrivalTime: arrival})
	s.Require().NoError(err)
	s.Require().Equal(models.TonuStatusFiled, claim.Status)
	s.Require().Equal(claim.TotalChargeCents, claim.PlatformFeeCents+claim.CarrierPayoutCents)

	tonu := s.alertsOf(models.AlertTypeTonuFiled)
	s.Require().Len(tonu, 1)
	s.Require().Equal(models.AlertPriorityMedium, tonu[0].Priority)
}

func (s *CoordinatorSuite) TestRejectTwiceNoDuplicateAlert() {
	l := s.load("L4")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1"})
	s.Require().NoError(err)

	first, err := s.c.DriverReject(s.ctx, l.ID, "too far")
	s.Require().NoError(err)
	second, err := s.c.DriverReject(s.ctx, l.ID, "too far")
	s.Require().NoError(err)

	s.Require().Equal(first.Status, second.Status)
	s.Require().Equal(models.OutcomeRejected, second.LastOutcome)
	s.Require().Len(s.alertsOf(models.AlertTypeDriverEmpty), 1)
	s.Require().Nil(s.driver("D1").CurrentLoadID)
}

func (s *CoordinatorSuite) TestAssign_DriverBusy() {
	a := s.load("A")
	b := s.load("B")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: a.ID, DriverID: "D1"})
	s.Require().NoError(err)

	_, err = s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: b.ID, DriverID: "D1"})
	s.Require().ErrorIs(err, models.ErrConflictingAssignment)

	got, err := s.mgr.GetLoad(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.LoadStatusUnassigned, got.Status)
}

func (s *CoordinatorSuite) TestAssign_UnknownDriver() {
	l := s.load("A")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "ghost"})
	s.Require().ErrorIs(err, models.ErrNotFound)
}

func (s *CoordinatorSuite) TestAssign_OverrideFreesPriorDriver() {
	l := s.load("A")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1"})
	s.Require().NoError(err)

	got, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D2", Override: true})
	s.Require().NoError(err)
	s.Require().Equal("D2", *got.DriverID)

	s.Require().Nil(s.driver("D1").CurrentLoadID)
	s.Require().Equal(l.ID, *s.driver("D2").CurrentLoadID)
	empty := s.alertsOf(models.AlertTypeDriverEmpty)
	s.Require().Len(empty, 1)
	s.Require().Equal("D1", empty[0].DriverID)
}

func (s *CoordinatorSuite) TestAssign_RegistryFailureWithdrawsOffer() {
	l := s.load("A")
	s.drivers.attachErr = errors.New("registry down")

	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1"})
	s.Require().Error(err)

	got, err := s.mgr.GetLoad(s.ctx, l.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.LoadStatusUnassigned, got.Status)
	s.Require().Equal(models.OutcomeWithdrawn, got.LastOutcome)
	s.Require().Nil(got.Window)
	s.Require().Nil(s.driver("D1").CurrentLoadID)
	s.Require().Empty(s.alertsOf(models.AlertTypeDriverEmpty))
	s.Require().Zero(s.rec.Count(events.LoadRejected))
	s.Require().Equal(1, s.rec.Count(events.LoadUnassigned))
	s.Require().Zero(s.mgr.LiveTimers())

	// Отозванное предложение не мешает назначить груз заново.
	s.drivers.attachErr = nil
	_, err = s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1"})
	s.Require().NoError(err)
}

func (s *CoordinatorSuite) TestAssign_RejectedBeforeAttachFreesDriver() {
	bus := events.NewBus()
	rec := &events.Recorder{}
	bus.Subscribe(rec.Handle)
	gw := &rejectOnOffer{Gateway: fake.New()}
	reg := registry.New(s.store, s.clk, bus)
	mgr := lifecycle.New(s.store, s.clk, gw, reg, bus).WithConfig(lifecycle.Config{BcryptCost: bcrypt.MinCost})
	gw.mgr = mgr
	c := New(mgr, reg, s.store, s.clk, gw, bus).WithSettings(Settings{DeadlineWarning: 5 * time.Minute})
	mgr.SetHooks(c)

	l, err := c.CreateLoad(s.ctx, models.LoadCreateInput{Reference: "R", OriginCity: "Dallas", DestinationCity: "Austin"})
	s.Require().NoError(err)

	got, err := c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1", Timeout: 30 * time.Minute})
	s.Require().NoError(err)
	s.Require().Equal(models.LoadStatusUnassigned, got.Status)
	s.Require().Equal(models.OutcomeRejected, got.LastOutcome)
	s.Require().Equal(1, rec.Count(events.LoadRejected))

	d, err := reg.Get(s.ctx, "D1")
	s.Require().NoError(err)
	s.Require().Nil(d.CurrentLoadID)
	s.Require().Equal(models.DriverStatusEmpty, d.Status)

	empty := c.ListAlerts(s.ctx, AlertFilter{Type: models.AlertTypeDriverEmpty})
	s.Require().Len(empty, 1)
	s.Require().Equal("D1", empty[0].DriverID)
	s.Require().Zero(mgr.LiveTimers())

	// Водитель свободен: следующий груз назначается без конфликта.
	next, err := c.CreateLoad(s.ctx, models.LoadCreateInput{Reference: "N", OriginCity: "Dallas", DestinationCity: "Houston"})
	s.Require().NoError(err)
	gw.mgr = nil
	_, err = c.Assign(s.ctx, lifecycle.AssignInput{LoadID: next.ID, DriverID: "D1"})
	s.Require().NoError(err)
}

func (s *CoordinatorSuite) TestCompleteAndCancelFreeDriver() {
	a := s.load("A")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: a.ID, DriverID: "D1"})
	s.Require().NoError(err)
	s.activate(a.ID, "D1", "+15550001")

	_, err = s.c.Complete(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.DriverStatusEmpty, s.driver("D1").Status)

	b := s.load("B")
	_, err = s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: b.ID, DriverID: "D1"})
	s.Require().NoError(err)
	_, err = s.c.Cancel(s.ctx, b.ID, "shipper cancelled")
	s.Require().NoError(err)
	s.Require().Nil(s.driver("D1").CurrentLoadID)

	s.Require().Len(s.alertsOf(models.AlertTypeDriverEmpty), 2)
	s.clk.Advance(time.Hour)
	s.Require().Empty(s.alertsOf(models.AlertTypeDeadlineApproaching))
}

func (s *CoordinatorSuite) TestPickupMovesDriverEnRouteDelivery() {
	l := s.load("A")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1"})
	s.Require().NoError(err)
	s.activate(l.ID, "D1", "+15550001")
	_, err = s.c.RequestRelease(s.ctx, l.ID)
	s.Require().NoError(err)
	_, err = s.c.ConfirmRelease(s.ctx, lifecycle.ConfirmReleaseInput{
		LoadID: l.ID, ReleaseNumber: "R", Pickup: models.PickupDetails{Address: "x"}, ExpiresAt: s.clk.Now().Add(time.Hour),
	})
	s.Require().NoError(err)

	got, err := s.c.ConfirmPickup(s.ctx, l.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.LoadStatusInTransit, got.Status)
	s.Require().Equal(models.DriverStatusEnRouteDelivery, s.driver("D1").Status)
}

func (s *CoordinatorSuite) TestWarningDisabled() {
	s.c.WithSettings(Settings{DeadlineWarning: 0})
	l := s.load("A")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1"})
	s.Require().NoError(err)

	s.clk.Advance(time.Hour)
	s.Require().Empty(s.alertsOf(models.AlertTypeDeadlineApproaching))
}

func (s *CoordinatorSuite) TestWarningPushedToDriver() {
	l := s.load("A")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1", Timeout: 20 * time.Minute})
	s.Require().NoError(err)

	s.clk.Advance(15 * time.Minute)
	warn := s.alertsOf(models.AlertTypeDeadlineApproaching)
	s.Require().Len(warn, 1)
	s.Require().Contains(warn[0].Message, "5m0s left")

	var pushed bool
	for _, a := range s.gw.Alerts() {
		if a.Kind == notify.AlertKindDeadlineWarning && a.DriverID == "D1" {
			pushed = true
		}
	}
	s.Require().True(pushed)
}

func (s *CoordinatorSuite) TestSuggestAndAutoDispatch() {
	first := s.load("first")
	s.clk.Advance(time.Second)
	second := s.load("second")

	// D3 занят, пары только с D1 и D2
	other := s.load("other")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: other.ID, DriverID: "D3"})
	s.Require().NoError(err)

	pairs, err := s.c.SuggestPairs(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pairs, 2)
	s.Require().Equal(first.ID, pairs[0].LoadID)
	s.Require().Equal(second.ID, pairs[1].LoadID)

	res, err := s.c.AutoDispatch(s.ctx, 10*time.Minute)
	s.Require().NoError(err)
	s.Require().Len(res.Assigned, 2)
	s.Require().Empty(res.Failed)

	pairs, err = s.c.SuggestPairs(s.ctx)
	s.Require().NoError(err)
	s.Require().Empty(pairs)
}

func (s *CoordinatorSuite) TestAcknowledgeAlert() {
	l := s.load("A")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1"})
	s.Require().NoError(err)
	_, err = s.c.DriverReject(s.ctx, l.ID, "no")
	s.Require().NoError(err)

	all := s.c.ListAlerts(s.ctx, AlertFilter{UnacknowledgedOnly: true})
	s.Require().Len(all, 1)

	a, err := s.c.AcknowledgeAlert(s.ctx, all[0].ID)
	s.Require().NoError(err)
	s.Require().True(a.Acknowledged)
	_, err = s.c.AcknowledgeAlert(s.ctx, all[0].ID)
	s.Require().NoError(err)

	s.Require().Empty(s.c.ListAlerts(s.ctx, AlertFilter{UnacknowledgedOnly: true}))
	s.Require().Len(s.c.ListAlerts(s.ctx, AlertFilter{}), 1)

	_, err = s.c.AcknowledgeAlert(s.ctx, "nope")
	s.Require().ErrorIs(err, models.ErrNotFound)
	s.Require().Equal(1, s.rec.Count(events.AlertRaised))
}

func (s *CoordinatorSuite) TestTimeRemaining() {
	l := s.load("A")
	_, err := s.c.Assign(s.ctx, lifecycle.AssignInput{LoadID: l.ID, DriverID: "D1", Timeout: 30 * time.Minute})
	s.Require().NoError(err)
	s.clk.Advance(10 * time.Minute)

	r, err := s.c.TimeRemaining(s.ctx, l.ID)
	s.Require().NoError(err)
	s.Require().Equal(DeadlineAcceptance, r.Kind)
	s.Require().Equal(int64(20*60), r.Seconds)

	_, err = s.c.TimeRemaining(s.ctx, "nope")
	s.Require().ErrorIs(err, models.ErrNotFound)
}

func TestTimeRemainingPure(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(90 * time.Second)
	released := now.Add(-time.Second)

	tests := []struct {
		name string
		load models.Load
		want Remaining
	}{
		{
			name: "no deadline",
			load: models.Load{ID: "L", Status: models.LoadStatusActive},
			want: Remaining{LoadID: "L"},
		},
		{
			name: "acceptance",
			load: models.Load{ID: "L", Status: models.LoadStatusAcceptedPendingSMS, AcceptanceDeadline: &deadline},
			want: Remaining{LoadID: "L", Kind: DeadlineAcceptance, Deadline: &deadline, Seconds: 90},
		},
		{
			name: "release lapsed",
			load: models.Load{ID: "L", Status: models.LoadStatusReleased, ReleaseExpiresAt: &released},
			want: Remaining{LoadID: "L", Kind: DeadlineRelease, Deadline: &released, Expired: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.load
			require.Equal(t, tt.want, TimeRemaining(&l, now))
		})
	}
}
