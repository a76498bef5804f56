package registry

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/clock/fakeclock"
	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) (*Registry, *events.Recorder) {
	t.Helper()
	bus := events.NewBus()
	rec := &events.Recorder{}
	bus.Subscribe(rec.Handle)
	clk := fakeclock.New(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	return New(memstore.New(), clk, bus), rec
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	d, err := r.Register(ctx, models.DriverCreateInput{ID: "D1", Name: "Ann", Phone: "+15550001"})
	require.NoError(t, err)
	require.Equal(t, models.DriverStatusEmpty, d.Status)
	require.Nil(t, d.CurrentLoadID)

	_, err = r.Register(ctx, models.DriverCreateInput{ID: "D1", Name: "Ann", Phone: "+15550001"})
	require.ErrorIs(t, err, models.ErrValidationFailed)

	_, err = r.Register(ctx, models.DriverCreateInput{Name: "Bob", Phone: "call me"})
	require.ErrorIs(t, err, models.ErrValidationFailed)

	auto, err := r.Register(ctx, models.DriverCreateInput{Name: "Cid", Phone: "15550003"})
	require.NoError(t, err)
	require.NotEmpty(t, auto.ID)

	phone, err := r.Phone(ctx, "D1")
	require.NoError(t, err)
	require.Equal(t, "+15550001", phone)

	_, err = r.Phone(ctx, "ghost")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestAttachDetach(t *testing.T) {
	ctx := context.Background()
	r, rec := newRegistry(t)
	_, err := r.Register(ctx, models.DriverCreateInput{ID: "D1", Name: "Ann", Phone: "+15550001"})
	require.NoError(t, err)

	d, err := r.AttachLoad(ctx, "D1", "L1")
	require.NoError(t, err)
	require.Equal(t, models.DriverStatusEnRoutePickup, d.Status)
	require.Equal(t, "L1", *d.CurrentLoadID)
	require.True(t, d.Consistent())

	// повторная привязка к тому же грузу допустима
	_, err = r.AttachLoad(ctx, "D1", "L1")
	require.NoError(t, err)

	_, err = r.AttachLoad(ctx, "D1", "L2")
	require.ErrorIs(t, err, models.ErrConflictingAssignment)

	empty, err := r.DetachLoad(ctx, "D1", "L2")
	require.NoError(t, err)
	require.False(t, empty)

	empty, err = r.DetachLoad(ctx, "D1", "L1")
	require.NoError(t, err)
	require.True(t, empty)

	d, err = r.Get(ctx, "D1")
	require.NoError(t, err)
	require.Equal(t, models.DriverStatusEmpty, d.Status)
	require.Nil(t, d.CurrentLoadID)
	require.Equal(t, 2, rec.Count(events.DriverStatusChanged))
}

func TestReportStatus_Consistency(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)
	_, err := r.Register(ctx, models.DriverCreateInput{ID: "D1", Name: "Ann", Phone: "+15550001"})
	require.NoError(t, err)

	_, err = r.ReportStatus(ctx, StatusReport{DriverID: "D1", Status: models.DriverStatusLoaded})
	require.ErrorIs(t, err, models.ErrValidationFailed)

	d, err := r.ReportStatus(ctx, StatusReport{DriverID: "D1", Status: models.DriverStatusOnBreak, Notes: "lunch"})
	require.NoError(t, err)
	require.Equal(t, models.DriverStatusOnBreak, d.Status)
	require.Equal(t, "lunch", d.Notes)

	_, err = r.AttachLoad(ctx, "D1", "L1")
	require.NoError(t, err)

	_, err = r.ReportStatus(ctx, StatusReport{DriverID: "D1", Status: models.DriverStatusOffDuty})
	require.ErrorIs(t, err, models.ErrValidationFailed)

	// разрешительные переходы: AT_DELIVERY сразу после EN_ROUTE_PICKUP
	d, err = r.ReportStatus(ctx, StatusReport{
		DriverID: "D1",
		Status:   models.DriverStatusAtDelivery,
		Location: &models.Location{Lat: 32.7, Lng: -96.8},
	})
	require.NoError(t, err)
	require.Equal(t, models.DriverStatusAtDelivery, d.Status)
	require.NotNil(t, d.Location)
	require.False(t, d.Location.ReportedAt.IsZero())

	_, err = r.ReportStatus(ctx, StatusReport{DriverID: "D1", Status: "FLYING"})
	require.ErrorIs(t, err, models.ErrValidationFailed)

	_, err = r.ReportStatus(ctx, StatusReport{DriverID: "D1", Status: models.DriverStatusLoaded, Location: &models.Location{Lat: 91}})
	require.ErrorIs(t, err, models.ErrValidationFailed)

	_, err = r.ReportStatus(ctx, StatusReport{DriverID: "ghost", Status: models.DriverStatusEmpty})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeregister(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)
	_, err := r.Register(ctx, models.DriverCreateInput{ID: "D1", Name: "Ann", Phone: "+15550001"})
	require.NoError(t, err)
	_, err = r.AttachLoad(ctx, "D1", "L1")
	require.NoError(t, err)

	require.ErrorIs(t, r.Deregister(ctx, "D1"), models.ErrInvalidTransition)

	_, err = r.DetachLoad(ctx, "D1", "L1")
	require.NoError(t, err)
	require.NoError(t, r.Deregister(ctx, "D1"))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}
