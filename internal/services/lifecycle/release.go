package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/pkg/errors"
)

func (m *Manager) RequestRelease(ctx context.Context, loadID string) (*models.Load, error) {
	return m.mutate(ctx, loadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if l.Status != models.LoadStatusActive && l.Status != models.LoadStatusExpiredRelease {
			return false, invalid(l, "request release")
		}
		l.Status = models.LoadStatusReleaseRequested
		l.ReleaseState = models.ReleaseStateRequested
		eff.emit(events.ReleaseRequested, l, driverOf(l), "", now)
		slog.Info("release requested", "load_id", l.ID)
		return true, nil
	})
}

type ConfirmReleaseInput struct {
	LoadID        string
	ReleaseNumber string
	Pickup        models.PickupDetails
	ExpiresAt     time.Time
}

// ConfirmRelease раскрывает адрес погрузки и взводит таймер истечения релиза.
func (m *Manager) ConfirmRelease(ctx context.Context, in ConfirmReleaseInput) (*models.Load, error) {
	in.ReleaseNumber = strings.TrimSpace(in.ReleaseNumber)
	in.Pickup.Address = strings.TrimSpace(in.Pickup.Address)

	return m.mutate(ctx, in.LoadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if l.Status != models.LoadStatusReleaseRequested {
			return false, invalid(l, "confirm release")
		}
		if in.ReleaseNumber == "" || in.Pickup.Address == "" {
			return false, errors.Wrap(models.ErrValidationFailed, "release number and pickup address are required")
		}
		if !in.ExpiresAt.After(now) {
			return false, errors.Wrap(models.ErrValidationFailed, "release expiry must be in the future")
		}

		expires := in.ExpiresAt
		pickup := in.Pickup
		l.Status = models.LoadStatusReleased
		l.ReleaseState = models.ReleaseStateReleased
		l.ReleaseNumber = in.ReleaseNumber
		l.ReleaseExpiresAt = &expires
		l.Pickup = &pickup
		m.arm(l.ID, timerRelease, expires)

		driverID := driverOf(l)
		eff.emit(events.LoadReleased, l, driverID, "", now)
		if driverID != "" {
			eff.alert = &alertReq{
				driverID: driverID,
				message:  fmt.Sprintf("Load %s released (#%s). Pickup: %s", l.ID, l.ReleaseNumber, pickup.Address),
				kind:     notify.AlertKindReleaseConfirmed,
			}
		}
		slog.Info("release confirmed", "load_id", l.ID, "release_number", l.ReleaseNumber, "expires_at", expires)
		return true, nil
	})
}

func (m *Manager) expireReleaseLocked(l *models.Load, now time.Time, eff *effects) bool {
	if l.Status != models.LoadStatusReleased || l.ReleaseExpiresAt == nil {
		return false
	}
	if now.Before(*l.ReleaseExpiresAt) {
		m.arm(l.ID, timerRelease, *l.ReleaseExpiresAt)
		return false
	}
	l.Status = models.LoadStatusExpiredRelease
	l.ReleaseState = models.ReleaseStateExpired

	driverID := driverOf(l)
	eff.emit(events.ReleaseExpired, l, driverID, "", now)
	if driverID != "" {
		eff.alert = &alertReq{
			driverID: driverID,
			message:  fmt.Sprintf("Release for load %s has expired, wait for a new release.", l.ID),
			kind:     notify.AlertKindReleaseExpired,
		}
	}
	slog.Info("release expired", "load_id", l.ID)
	return true
}

// ConfirmPickup moves a released load in transit and stops the release timer.
func (m *Manager) ConfirmPickup(ctx context.Context, loadID string) (*models.Load, error) {
	return m.mutate(ctx, loadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if l.Status != models.LoadStatusReleased {
			return false, invalid(l, "confirm pickup")
		}
		if l.ReleaseExpiresAt != nil && !now.Before(*l.ReleaseExpiresAt) {
			return false, errors.Wrapf(models.ErrWindowExpired, "release of load %s expired", l.ID)
		}
		m.disarm(l.ID)
		l.Status = models.LoadStatusInTransit
		l.PickedUpAt = &now
		eff.emit(events.LoadPickedUp, l, driverOf(l), "", now)
		return true, nil
	})
}

type FileTonuInput struct {
	LoadID      string
	Reason      string
	ArrivalTime time.Time
	WaitMinutes int
}

// FileTonu — заявка Truck Ordered Not Used. Только из RELEASED, одна на груз, сплит фиксированный.
func (m *Manager) FileTonu(ctx context.Context, in FileTonuInput) (*models.TonuClaim, error) {
	reason := strings.TrimSpace(in.Reason)

	var claim *models.TonuClaim
	_, err := m.mutate(ctx, in.LoadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if l.Status != models.LoadStatusReleased {
			return false, invalid(l, "file tonu")
		}
		if l.TonuClaim != nil {
			return false, errors.Wrapf(models.ErrInvalidTransition, "tonu already filed for load %s", l.ID)
		}
		if utf8.RuneCountInString(reason) < models.TonuMinReasonLength {
			return false, errors.Wrapf(models.ErrValidationFailed, "reason must be at least %d characters", models.TonuMinReasonLength)
		}
		if in.ArrivalTime.IsZero() {
			return false, errors.Wrap(models.ErrValidationFailed, "arrival time is required")
		}
		if in.WaitMinutes < 0 {
			return false, errors.Wrap(models.ErrValidationFailed, "wait minutes must not be negative")
		}

		split := models.ComputeTonuSplit()
		claim = &models.TonuClaim{
			ID:                 m.newID(),
			LoadID:             l.ID,
			DriverID:           driverOf(l),
			Reason:             reason,
			ArrivalTime:        in.ArrivalTime.UTC(),
			WaitMinutes:        in.WaitMinutes,
			FiledAt:            now,
			Status:             models.TonuStatusFiled,
			TotalChargeCents:   split.TotalChargeCents,
			PlatformFeeCents:   split.PlatformFeeCents,
			CarrierPayoutCents: split.CarrierPayoutCents,
		}
		if err := m.store.PutTonuClaim(ctx, claim); err != nil {
			return false, errors.Wrap(err, "put tonu claim")
		}
		l.TonuClaim = claim.Clone()

		eff.emit(events.TonuFiled, l, claim.DriverID, reason, now)
		slog.Info("tonu filed", "load_id", l.ID, "claim_id", claim.ID, "wait_minutes", in.WaitMinutes)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func driverOf(l *models.Load) string {
	if l.DriverID == nil {
		return ""
	}
	return *l.DriverID
}
