package coordinator

import (
	"context"
	"log/slog"
	"sort"

	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/pkg/errors"
)

type AlertFilter struct {
	UnacknowledgedOnly bool
	DriverID           string
	Type               models.AlertType
	Limit              int
}

func (c *Coordinator) raise(typ models.AlertType, prio models.AlertPriority, driverID, loadID, msg string) *models.DispatchAlert {
	now := c.clock.Now()
	a := &models.DispatchAlert{
		ID:        c.newID(),
		Type:      typ,
		DriverID:  driverID,
		Priority:  prio,
		Message:   msg,
		CreatedAt: now,
	}
	if loadID != "" {
		id := loadID
		a.LoadID = &id
	}

	c.amu.Lock()
	c.alerts = append(c.alerts, a)
	if over := len(c.alerts) - c.maxAlerts; over > 0 {
		c.alerts = append([]*models.DispatchAlert(nil), c.alerts[over:]...)
	}
	c.amu.Unlock()

	slog.Info("dispatch alert", "type", string(typ), "priority", string(prio), "driver_id", driverID, "load_id", loadID)
	c.pub.Publish(events.Event{
		Type:       events.AlertRaised,
		LoadID:     loadID,
		DriverID:   driverID,
		AlertID:    a.ID,
		Reason:     string(typ),
		OccurredAt: now,
	})
	return a
}

// ListAlerts returns copies, newest first.
func (c *Coordinator) ListAlerts(ctx context.Context, f AlertFilter) []models.DispatchAlert {
	c.amu.Lock()
	defer c.amu.Unlock()

	out := make([]models.DispatchAlert, 0, len(c.alerts))
	for i := len(c.alerts) - 1; i >= 0; i-- {
		a := c.alerts[i]
		if f.UnacknowledgedOnly && a.Acknowledged {
			continue
		}
		if f.DriverID != "" && a.DriverID != f.DriverID {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		out = append(out, *a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AcknowledgeAlert — однонаправленно, повтор не ошибка.
func (c *Coordinator) AcknowledgeAlert(ctx context.Context, id string) (*models.DispatchAlert, error) {
	c.amu.Lock()
	defer c.amu.Unlock()
	for _, a := range c.alerts {
		if a.ID == id {
			a.Acknowledged = true
			cp := *a
			return &cp, nil
		}
	}
	return nil, errors.Wrapf(models.ErrNotFound, "alert %s", id)
}
