package coordinator

import (
	"context"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
)

type DeadlineKind string

const (
	DeadlineNone       DeadlineKind = ""
	DeadlineAcceptance DeadlineKind = "ACCEPTANCE"
	DeadlineRelease    DeadlineKind = "RELEASE"
)

type Remaining struct {
	LoadID   string       `json:"loadId"`
	Kind     DeadlineKind `json:"kind,omitempty"`
	Deadline *time.Time   `json:"deadline,omitempty"`
	Seconds  int64        `json:"seconds"`
	Expired  bool         `json:"expired"`
}

// TimeRemaining is pure: no locks, no side effects.
func TimeRemaining(l *models.Load, now time.Time) Remaining {
	r := Remaining{LoadID: l.ID}
	var deadline *time.Time
	switch {
	case l.Status.InAcceptance() && l.AcceptanceDeadline != nil:
		r.Kind, deadline = DeadlineAcceptance, l.AcceptanceDeadline
	case l.Status == models.LoadStatusReleased && l.ReleaseExpiresAt != nil:
		r.Kind, deadline = DeadlineRelease, l.ReleaseExpiresAt
	default:
		return r
	}

	d := *deadline
	r.Deadline = &d
	left := d.Sub(now)
	if left <= 0 {
		r.Expired = true
		return r
	}
	r.Seconds = int64(left / time.Second)
	return r
}

func (c *Coordinator) TimeRemaining(ctx context.Context, loadID string) (Remaining, error) {
	l, err := c.loads.GetLoad(ctx, loadID)
	if err != nil {
		return Remaining{}, err
	}
	return TimeRemaining(l, c.clock.Now()), nil
}
