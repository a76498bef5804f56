package registry

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/clock"
	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/keylock"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// Registry — реестр водителей. Переходы статусов разрешительные,
// жёстко держится только правило: currentLoadId есть тогда и только тогда, когда статус не idle.
type Registry struct {
	store storage.Store
	clock clock.Clock
	pub   events.Publisher
	locks *keylock.Locker
}

func New(store storage.Store, clk clock.Clock, pub events.Publisher) *Registry {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Registry{store: store, clock: clk, pub: pub, locks: keylock.New()}
}

func (r *Registry) Register(ctx context.Context, in models.DriverCreateInput) (*models.Driver, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Name == "" {
		return nil, errors.Wrap(models.ErrValidationFailed, "driver name is required")
	}
	if !phoneRe.MatchString(in.Phone) {
		return nil, errors.Wrapf(models.ErrValidationFailed, "invalid phone %q", in.Phone)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	unlock := r.locks.Lock(in.ID)
	defer unlock()

	if _, err := r.store.GetDriver(ctx, in.ID); err == nil {
		return nil, errors.Wrapf(models.ErrValidationFailed, "driver %s already registered", in.ID)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, errors.Wrap(err, "get driver")
	}

	now := r.clock.Now()
	d := &models.Driver{
		ID:        in.ID,
		Name:      in.Name,
		Phone:     in.Phone,
		Status:    models.DriverStatusEmpty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.PutDriver(ctx, d); err != nil {
		return nil, errors.Wrap(err, "put driver")
	}
	slog.Info("driver registered", "driver_id", d.ID)
	return d, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Driver, error) {
	return r.store.GetDriver(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]*models.Driver, error) {
	return r.store.ListDrivers(ctx)
}

// Phone реализует lifecycle.Contacts.
func (r *Registry) Phone(ctx context.Context, driverID string) (string, error) {
	d, err := r.store.GetDriver(ctx, driverID)
	if err != nil {
		return "", err
	}
	return d.Phone, nil
}

func (r *Registry) Deregister(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	d, err := r.store.GetDriver(ctx, id)
	if err != nil {
		return err
	}
	if d.CurrentLoadID != nil {
		return errors.Wrapf(models.ErrInvalidTransition, "driver %s holds load %s", id, *d.CurrentLoadID)
	}
	return r.store.DeleteDriver(ctx, id)
}

type StatusReport struct {
	DriverID string
	Status   models.DriverStatus
	Location *models.Location
	Notes    string
}

// ReportStatus applies a driver-originated status update.
func (r *Registry) ReportStatus(ctx context.Context, rep StatusReport) (*models.Driver, error) {
	if !rep.Status.IsValid() {
		return nil, errors.Wrapf(models.ErrValidationFailed, "unknown driver status %q", rep.Status)
	}
	if rep.Location != nil && !rep.Location.IsValid() {
		return nil, errors.Wrap(models.ErrValidationFailed, "location out of range")
	}

	unlock := r.locks.Lock(rep.DriverID)
	defer unlock()

	d, err := r.store.GetDriver(ctx, rep.DriverID)
	if err != nil {
		return nil, err
	}
	if rep.Status.IsIdle() && d.CurrentLoadID != nil {
		return nil, errors.Wrapf(models.ErrValidationFailed, "driver %s holds load %s and cannot report %s", d.ID, *d.CurrentLoadID, rep.Status)
	}
	if !rep.Status.IsIdle() && d.CurrentLoadID == nil {
		return nil, errors.Wrapf(models.ErrValidationFailed, "driver %s has no load and cannot report %s", d.ID, rep.Status)
	}

	now := r.clock.Now()
	prev := d.Status
	d.Status = rep.Status
	if rep.Location != nil {
		loc := *rep.Location
		if loc.ReportedAt.IsZero() {
			loc.ReportedAt = now
		}
		d.Location = &loc
	}
	if rep.Notes != "" {
		d.Notes = rep.Notes
	}
	d.UpdatedAt = now
	if err := r.store.PutDriver(ctx, d); err != nil {
		return nil, errors.Wrap(err, "put driver")
	}

	if prev != d.Status {
		r.publish(d, now)
	}
	return d, nil
}

// AttachLoad binds the driver to the load; an idle driver goes EN_ROUTE_PICKUP.
func (r *Registry) AttachLoad(ctx context.Context, driverID, loadID string) (*models.Driver, error) {
	unlock := r.locks.Lock(driverID)
	defer unlock()

	d, err := r.store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if d.CurrentLoadID != nil && *d.CurrentLoadID != loadID {
		return nil, errors.Wrapf(models.ErrConflictingAssignment, "driver %s already holds load %s", driverID, *d.CurrentLoadID)
	}

	now := r.clock.Now()
	prev := d.Status
	id := loadID
	d.CurrentLoadID = &id
	if d.Status.IsIdle() {
		d.Status = models.DriverStatusEnRoutePickup
	}
	d.UpdatedAt = now
	if err := r.store.PutDriver(ctx, d); err != nil {
		return nil, errors.Wrap(err, "put driver")
	}
	if prev != d.Status {
		r.publish(d, now)
	}
	return d, nil
}

// DetachLoad освобождает водителя. becameEmpty=false, если водитель уже не держит этот груз.
func (r *Registry) DetachLoad(ctx context.Context, driverID, loadID string) (bool, error) {
	unlock := r.locks.Lock(driverID)
	defer unlock()

	d, err := r.store.GetDriver(ctx, driverID)
	if err != nil {
		return false, err
	}
	if d.CurrentLoadID == nil || *d.CurrentLoadID != loadID {
		return false, nil
	}

	now := r.clock.Now()
	d.CurrentLoadID = nil
	d.Status = models.DriverStatusEmpty
	d.UpdatedAt = now
	if err := r.store.PutDriver(ctx, d); err != nil {
		return false, errors.Wrap(err, "put driver")
	}
	r.publish(d, now)
	return true, nil
}

func (r *Registry) publish(d *models.Driver, now time.Time) {
	ev := events.Event{Type: events.DriverStatusChanged, DriverID: d.ID, Driver: d.Status, OccurredAt: now}
	if d.CurrentLoadID != nil {
		ev.LoadID = *d.CurrentLoadID
	}
	r.pub.Publish(ev)
}
