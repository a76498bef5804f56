package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/pkg/errors"
)

func (m *Manager) Complete(ctx context.Context, loadID string) (*models.Load, error) {
	return m.mutate(ctx, loadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		switch l.Status {
		case models.LoadStatusActive, models.LoadStatusReleased, models.LoadStatusInTransit:
		default:
			return false, invalid(l, "complete")
		}
		m.disarm(l.ID)
		l.Status = models.LoadStatusDelivered
		l.DeliveredAt = &now
		l.Archived = true

		driverID := driverOf(l)
		eff.emit(events.LoadDelivered, l, driverID, "", now)
		if driverID != "" {
			eff.closed = &closure{load: l.Clone(), driverID: driverID, outcome: models.OutcomeCompleted}
		}
		slog.Info("load delivered", "load_id", l.ID, "driver_id", driverID)
		return true, nil
	})
}

// Cancel архивирует груз из любого нетерминального состояния и снимает все таймеры.
func (m *Manager) Cancel(ctx context.Context, loadID, reason string) (*models.Load, error) {
	return m.mutate(ctx, loadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if l.Status.IsTerminal() {
			return false, invalid(l, "cancel")
		}
		m.disarm(l.ID)
		driverID := driverOf(l)
		l.Status = models.LoadStatusCancelled
		l.CancelledAt = &now
		l.CancelReason = reason
		l.Window = nil
		l.AcceptanceDeadline = nil
		l.Archived = true

		eff.emit(events.LoadCancelled, l, driverID, reason, now)
		if driverID != "" {
			eff.alert = &alertReq{
				driverID: driverID,
				message:  fmt.Sprintf("Load %s was cancelled: %s", l.ID, reason),
				kind:     notify.AlertKindLoadCancelled,
			}
			eff.closed = &closure{load: l.Clone(), driverID: driverID, outcome: models.OutcomeCancelled}
		}
		slog.Info("load cancelled", "load_id", l.ID, "reason", reason)
		return true, nil
	})
}

// Recover re-arms deadline timers for persisted loads after a restart.
// Дедлайны в прошлом срабатывают сразу через тот же путь истечения.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	loads, err := m.store.ListLoads(ctx, storage.LoadFilter{Statuses: []models.LoadStatus{
		models.LoadStatusPendingDriverAcceptance,
		models.LoadStatusAcceptedPendingSMS,
		models.LoadStatusReleased,
	}})
	if err != nil {
		return 0, errors.Wrap(err, "list loads")
	}

	n := 0
	for _, l := range loads {
		unlock := m.locks.Lock(l.ID)
		switch {
		case l.Status.InAcceptance() && l.Window != nil:
			m.arm(l.ID, timerAcceptance, l.Window.Deadline)
			n++
		case l.Status == models.LoadStatusReleased && l.ReleaseExpiresAt != nil:
			m.arm(l.ID, timerRelease, *l.ReleaseExpiresAt)
			n++
		}
		unlock()
	}
	slog.Info("lifecycle timers recovered", "count", n)
	return n, nil
}
