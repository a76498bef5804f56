package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadRoundTripIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()

	l := &models.Load{ID: "L1", Status: models.LoadStatusUnassigned, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.PutLoad(ctx, l))

	l.Status = models.LoadStatusCancelled
	got, err := s.GetLoad(ctx, "L1")
	require.NoError(t, err)
	require.Equal(t, models.LoadStatusUnassigned, got.Status)

	got.Status = models.LoadStatusActive
	again, _ := s.GetLoad(ctx, "L1")
	require.Equal(t, models.LoadStatusUnassigned, again.Status)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.GetLoad(ctx, "nope")
	require.True(t, errors.Is(err, models.ErrNotFound))
	_, err = s.GetDriver(ctx, "nope")
	require.True(t, errors.Is(err, models.ErrNotFound))
	require.True(t, errors.Is(s.DeleteDriver(ctx, "nope"), models.ErrNotFound))
	_, err = s.GetTonuClaim(ctx, "nope")
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestStore_ListLoadsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutLoad(ctx, &models.Load{ID: "b", Status: models.LoadStatusUnassigned, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.PutLoad(ctx, &models.Load{ID: "a", Status: models.LoadStatusUnassigned, CreatedAt: base}))
	require.NoError(t, s.PutLoad(ctx, &models.Load{ID: "c", Status: models.LoadStatusActive, CreatedAt: base}))
	require.NoError(t, s.PutLoad(ctx, &models.Load{ID: "d", Status: models.LoadStatusDelivered, Archived: true, CreatedAt: base}))

	out, err := s.ListLoads(ctx, storage.LoadFilter{Statuses: []models.LoadStatus{models.LoadStatusUnassigned}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].ID)
	require.Equal(t, "b", out[1].ID)

	all, _ := s.ListLoads(ctx, storage.LoadFilter{})
	require.Len(t, all, 3)
	withArchived, _ := s.ListLoads(ctx, storage.LoadFilter{IncludeArchived: true})
	require.Len(t, withArchived, 4)

	page, _ := s.ListLoads(ctx, storage.LoadFilter{Limit: 1, Offset: 1})
	require.Len(t, page, 1)
	empty, _ := s.ListLoads(ctx, storage.LoadFilter{Offset: 10})
	require.Len(t, empty, 0)
}

func TestStore_DriversAndClaims(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutDriver(ctx, &models.Driver{ID: "D2", Status: models.DriverStatusEmpty}))
	require.NoError(t, s.PutDriver(ctx, &models.Driver{ID: "D1", Status: models.DriverStatusEmpty}))
	ds, _ := s.ListDrivers(ctx)
	require.Equal(t, "D1", ds[0].ID)
	require.NoError(t, s.DeleteDriver(ctx, "D1"))
	ds, _ = s.ListDrivers(ctx)
	require.Len(t, ds, 1)

	require.NoError(t, s.PutTonuClaim(ctx, &models.TonuClaim{ID: "C1", LoadID: "L1"}))
	require.NoError(t, s.PutTonuClaim(ctx, &models.TonuClaim{ID: "C2", LoadID: "L2"}))
	cs, _ := s.ListTonuClaims(ctx, "L1")
	require.Len(t, cs, 1)
	cs, _ = s.ListTonuClaims(ctx, "")
	require.Len(t, cs, 2)

	require.Error(t, s.PutLoad(ctx, &models.Load{}))
	require.Error(t, s.PutDriver(ctx, nil))
}
