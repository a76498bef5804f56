package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeTonuSplit(t *testing.T) {
	s := ComputeTonuSplit()
	require.Equal(t, int64(20000), s.TotalChargeCents)
	require.Equal(t, int64(5000), s.PlatformFeeCents)
	require.Equal(t, int64(15000), s.CarrierPayoutCents)
	require.Equal(t, s.TotalChargeCents, s.PlatformFeeCents+s.CarrierPayoutCents)
}

func TestLoadView_PickupGated(t *testing.T) {
	l := &Load{
		ID:     "L1",
		Status: LoadStatusReleaseRequested,
		Pickup: &PickupDetails{Address: "12 Quarry Rd", Instructions: "Gate 4"},
	}
	v := l.View()
	require.Empty(t, v.PickupAddress)
	require.Empty(t, v.PickupInstructions)

	l.Status = LoadStatusReleased
	v = l.View()
	require.Equal(t, "12 Quarry Rd", v.PickupAddress)
	require.Equal(t, "Gate 4", v.PickupInstructions)

	l.Status = LoadStatusExpiredRelease
	require.Empty(t, l.View().PickupAddress)
}

func TestLoad_CloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	d := "D1"
	l := &Load{
		ID:       "L1",
		DriverID: &d,
		Window:   &AcceptanceWindow{LoadID: "L1", DriverID: d, Deadline: now, CodeHash: []byte("h")},
	}
	c := l.Clone()
	*c.DriverID = "D2"
	c.Window.CodeHash[0] = 'x'
	c.Window.AttemptsRemaining = 9

	require.Equal(t, "D1", *l.DriverID)
	require.Equal(t, []byte("h"), l.Window.CodeHash)
	require.Equal(t, 0, l.Window.AttemptsRemaining)
}

func TestDriver_Consistent(t *testing.T) {
	id := "L1"
	require.True(t, (&Driver{Status: DriverStatusEmpty}).Consistent())
	require.False(t, (&Driver{Status: DriverStatusEmpty, CurrentLoadID: &id}).Consistent())
	require.True(t, (&Driver{Status: DriverStatusLoaded, CurrentLoadID: &id}).Consistent())
	require.False(t, (&Driver{Status: DriverStatusAtPickup}).Consistent())
}

func TestStatusValidity(t *testing.T) {
	require.True(t, LoadStatusReleased.IsValid())
	require.False(t, LoadStatus("PENDING").IsValid())
	require.True(t, DriverStatusOnBreak.IsIdle())
	require.False(t, DriverStatusLoaded.IsIdle())
	require.True(t, LoadStatusCancelled.IsTerminal())
}
