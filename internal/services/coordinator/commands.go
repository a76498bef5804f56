package coordinator

import (
	"context"
	"log/slog"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/lifecycle"
	"github.com/BearBump/DispatchBox/internal/services/registry"
	"github.com/pkg/errors"
)

func (c *Coordinator) CreateLoad(ctx context.Context, in models.LoadCreateInput) (*models.Load, error) {
	return c.loads.CreateLoad(ctx, in)
}

func (c *Coordinator) RegisterDriver(ctx context.Context, in models.DriverCreateInput) (*models.Driver, error) {
	return c.drivers.Register(ctx, in)
}

func (c *Coordinator) DeregisterDriver(ctx context.Context, id string) error {
	return c.drivers.Deregister(ctx, id)
}

func (c *Coordinator) ReportDriverStatus(ctx context.Context, rep registry.StatusReport) (*models.Driver, error) {
	return c.drivers.ReportStatus(ctx, rep)
}

// Assign: двухфазно. Сначала менеджер открывает окно, затем реестр привязывает водителя.
// Если реестр отказал, предложение отзывается (Withdraw), а не отклоняется от имени водителя.
// Между фазами окно может закрыться (reject, истечение таймера): тогда водитель сразу освобождается.
func (c *Coordinator) Assign(ctx context.Context, in lifecycle.AssignInput) (*models.Load, error) {
	d, err := c.drivers.Get(ctx, in.DriverID)
	if err != nil {
		return nil, err
	}
	if d.CurrentLoadID != nil && *d.CurrentLoadID != in.LoadID {
		return nil, errors.Wrapf(models.ErrConflictingAssignment, "driver %s already holds load %s", d.ID, *d.CurrentLoadID)
	}

	res, err := c.loads.Assign(ctx, in)
	if err != nil {
		return nil, err
	}
	l := res.Load
	if res.PriorDriverID != "" && res.PriorDriverID != in.DriverID {
		c.release(ctx, res.PriorDriverID, l.ID, models.OutcomeOverridden)
	}
	if _, err := c.drivers.AttachLoad(ctx, in.DriverID, l.ID); err != nil {
		slog.Error("attach load, withdrawing assignment", "load_id", l.ID, "driver_id", in.DriverID, "error", err.Error())
		if _, wErr := c.loads.Withdraw(ctx, l.ID, in.DriverID); wErr != nil {
			slog.Error("withdraw assignment", "load_id", l.ID, "error", wErr.Error())
		}
		return nil, errors.Wrap(err, "attach load")
	}

	fresh, err := c.loads.GetLoad(ctx, l.ID)
	if err != nil {
		return nil, errors.Wrap(err, "reload assigned load")
	}
	if !heldBy(fresh, in.DriverID) {
		// Хук закрытия отработал до привязки и не нашёл груз у водителя.
		slog.Info("assignment closed before driver attach", "load_id", fresh.ID, "driver_id", in.DriverID, "outcome", fresh.LastOutcome)
		c.release(ctx, in.DriverID, fresh.ID, fresh.LastOutcome)
		return fresh, nil
	}
	c.armWarning(fresh)
	return fresh, nil
}

func heldBy(l *models.Load, driverID string) bool {
	return l.DriverID != nil && *l.DriverID == driverID && !l.Status.IsTerminal()
}

func (c *Coordinator) DriverAccept(ctx context.Context, loadID, driverID string) (*models.Load, error) {
	return c.loads.DriverAccept(ctx, loadID, driverID)
}

func (c *Coordinator) ResendSMS(ctx context.Context, loadID string) (*models.Load, error) {
	return c.loads.ResendSMS(ctx, loadID)
}

func (c *Coordinator) VerifySMS(ctx context.Context, loadID, code string) (*models.Load, error) {
	l, err := c.loads.VerifySMS(ctx, loadID, code)
	if err != nil {
		return nil, err
	}
	c.stopWarning(l.ID)
	c.raise(models.AlertTypeLoadStatusChanged, models.AlertPriorityLow, driverOf(l), l.ID, "Load "+l.ID+" is active")
	return l, nil
}

// DriverReject: the manager hook detaches the driver, a repeated reject changes nothing.
func (c *Coordinator) DriverReject(ctx context.Context, loadID, reason string) (*models.Load, error) {
	l, _, err := c.loads.DriverReject(ctx, loadID, reason)
	return l, err
}

func (c *Coordinator) RequestRelease(ctx context.Context, loadID string) (*models.Load, error) {
	return c.loads.RequestRelease(ctx, loadID)
}

func (c *Coordinator) ConfirmRelease(ctx context.Context, in lifecycle.ConfirmReleaseInput) (*models.Load, error) {
	l, err := c.loads.ConfirmRelease(ctx, in)
	if err != nil {
		return nil, err
	}
	c.raise(models.AlertTypeLoadStatusChanged, models.AlertPriorityLow, driverOf(l), l.ID,
		"Load "+l.ID+" released, release #"+l.ReleaseNumber)
	return l, nil
}

func (c *Coordinator) ConfirmPickup(ctx context.Context, loadID string) (*models.Load, error) {
	l, err := c.loads.ConfirmPickup(ctx, loadID)
	if err != nil {
		return nil, err
	}
	if id := driverOf(l); id != "" {
		if _, err := c.drivers.ReportStatus(ctx, registry.StatusReport{DriverID: id, Status: models.DriverStatusEnRouteDelivery}); err != nil {
			slog.Warn("update driver after pickup", "driver_id", id, "load_id", l.ID, "error", err.Error())
		}
	}
	return l, nil
}

func (c *Coordinator) FileTonu(ctx context.Context, in lifecycle.FileTonuInput) (*models.TonuClaim, error) {
	claim, err := c.loads.FileTonu(ctx, in)
	if err != nil {
		return nil, err
	}
	c.raise(models.AlertTypeTonuFiled, models.AlertPriorityMedium, claim.DriverID, claim.LoadID,
		"TONU filed for load "+claim.LoadID+": "+claim.Reason)
	return claim, nil
}

func (c *Coordinator) Complete(ctx context.Context, loadID string) (*models.Load, error) {
	l, err := c.loads.Complete(ctx, loadID)
	if err != nil {
		return nil, err
	}
	c.raise(models.AlertTypeLoadStatusChanged, models.AlertPriorityLow, driverOf(l), l.ID, "Load "+l.ID+" delivered")
	return l, nil
}

func (c *Coordinator) Cancel(ctx context.Context, loadID, reason string) (*models.Load, error) {
	return c.loads.Cancel(ctx, loadID, reason)
}

func driverOf(l *models.Load) string {
	if l == nil || l.DriverID == nil {
		return ""
	}
	return *l.DriverID
}
