package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/BearBump/DispatchBox/internal/models"
)

// armWarning взводит предупреждение за warnLead до дедлайна окна принятия.
func (c *Coordinator) armWarning(l *models.Load) {
	if c.warnLead <= 0 || l.Window == nil {
		return
	}
	openedAt := l.Window.OpenedAt
	d := l.Window.Deadline.Add(-c.warnLead).Sub(c.clock.Now())
	if d < 0 {
		d = 0
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if old, ok := c.warnings[l.ID]; ok {
		old.t.Stop()
	}
	loadID := l.ID
	w := &warning{openedAt: openedAt}
	w.t = c.clock.AfterFunc(d, func() { c.fireWarning(loadID, w) })
	c.warnings[loadID] = w
}

func (c *Coordinator) stopWarning(loadID string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if w, ok := c.warnings[loadID]; ok {
		w.t.Stop()
		delete(c.warnings, loadID)
	}
}

func (c *Coordinator) fireWarning(loadID string, w *warning) {
	c.wmu.Lock()
	cur, ok := c.warnings[loadID]
	if !ok || cur != w {
		c.wmu.Unlock()
		return
	}
	delete(c.warnings, loadID)
	c.wmu.Unlock()

	ctx := context.Background()
	l, err := c.loads.GetLoad(ctx, loadID)
	if err != nil {
		slog.Error("deadline warning: get load", "load_id", loadID, "error", err.Error())
		return
	}
	// окно могли закрыть и открыть заново: сверяем момент открытия
	if !l.Status.InAcceptance() || l.Window == nil || !l.Window.OpenedAt.Equal(w.openedAt) {
		return
	}

	driverID := l.Window.DriverID
	left := l.Window.Deadline.Sub(c.clock.Now()).Round(time.Minute)
	msg := fmt.Sprintf("Load %s: %s left to accept", l.ID, left)
	c.raise(models.AlertTypeDeadlineApproaching, models.AlertPriorityMedium, driverID, l.ID, msg)
	if c.alertGW != nil {
		if err := c.alertGW.SendAlert(ctx, driverID, msg, notify.AlertKindDeadlineWarning); err != nil {
			slog.Error("send deadline warning", "driver_id", driverID, "error", err.Error())
		}
	}
}
