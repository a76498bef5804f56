package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/DispatchBox/internal/clock"
	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/lifecycle"
	"github.com/BearBump/DispatchBox/internal/services/registry"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/google/uuid"
)

type Lifecycle interface {
	CreateLoad(ctx context.Context, in models.LoadCreateInput) (*models.Load, error)
	GetLoad(ctx context.Context, id string) (*models.Load, error)
	Assign(ctx context.Context, in lifecycle.AssignInput) (lifecycle.AssignResult, error)
	DriverAccept(ctx context.Context, loadID, driverID string) (*models.Load, error)
	ResendSMS(ctx context.Context, loadID string) (*models.Load, error)
	VerifySMS(ctx context.Context, loadID, code string) (*models.Load, error)
	DriverReject(ctx context.Context, loadID, reason string) (*models.Load, bool, error)
	Withdraw(ctx context.Context, loadID, driverID string) (*models.Load, error)
	RequestRelease(ctx context.Context, loadID string) (*models.Load, error)
	ConfirmRelease(ctx context.Context, in lifecycle.ConfirmReleaseInput) (*models.Load, error)
	ConfirmPickup(ctx context.Context, loadID string) (*models.Load, error)
	FileTonu(ctx context.Context, in lifecycle.FileTonuInput) (*models.TonuClaim, error)
	Complete(ctx context.Context, loadID string) (*models.Load, error)
	Cancel(ctx context.Context, loadID, reason string) (*models.Load, error)
}

type Drivers interface {
	Register(ctx context.Context, in models.DriverCreateInput) (*models.Driver, error)
	Get(ctx context.Context, id string) (*models.Driver, error)
	List(ctx context.Context) ([]*models.Driver, error)
	Deregister(ctx context.Context, id string) error
	ReportStatus(ctx context.Context, rep registry.StatusReport) (*models.Driver, error)
	AttachLoad(ctx context.Context, driverID, loadID string) (*models.Driver, error)
	DetachLoad(ctx context.Context, driverID, loadID string) (bool, error)
}

type LoadLister interface {
	ListLoads(ctx context.Context, f storage.LoadFilter) ([]*models.Load, error)
}

type Settings struct {
	DeadlineWarning time.Duration // <= 0 disables DEADLINE_APPROACHING
	MaxAlerts       int           // default: 500
}

// Coordinator связывает менеджер грузов и реестр водителей: сначала переход груза, потом реестр.
// Ничего не ретраит.
type Coordinator struct {
	loads   Lifecycle
	drivers Drivers
	lister  LoadLister
	clock   clock.Clock
	alertGW notify.AlertSender
	pub     events.Publisher

	warnLead  time.Duration
	maxAlerts int
	newID     func() string

	amu    sync.Mutex
	alerts []*models.DispatchAlert

	wmu      sync.Mutex
	warnings map[string]*warning
}

type warning struct {
	t        clock.Timer
	openedAt time.Time
}

func New(loads Lifecycle, drivers Drivers, lister LoadLister, clk clock.Clock, alertGW notify.AlertSender, pub events.Publisher) *Coordinator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Coordinator{
		loads:     loads,
		drivers:   drivers,
		lister:    lister,
		clock:     clk,
		alertGW:   alertGW,
		pub:       pub,
		warnLead:  5 * time.Minute,
		maxAlerts: 500,
		newID:     func() string { return uuid.NewString() },
		warnings:  make(map[string]*warning),
	}
}

func (c *Coordinator) WithSettings(s Settings) *Coordinator {
	c.warnLead = s.DeadlineWarning
	if s.MaxAlerts > 0 {
		c.maxAlerts = s.MaxAlerts
	}
	return c
}

// AssignmentClosed реализует lifecycle.Hooks: освобождает водителя и поднимает DRIVER_EMPTY.
func (c *Coordinator) AssignmentClosed(ctx context.Context, l *models.Load, driverID string, outcome models.Outcome) {
	c.stopWarning(l.ID)
	if driverID == "" {
		return
	}
	c.release(ctx, driverID, l.ID, outcome)
}

func (c *Coordinator) release(ctx context.Context, driverID, loadID string, outcome models.Outcome) {
	empty, err := c.drivers.DetachLoad(ctx, driverID, loadID)
	if err != nil {
		slog.Error("detach load from driver", "driver_id", driverID, "load_id", loadID, "error", err.Error())
		return
	}
	if empty {
		c.raise(models.AlertTypeDriverEmpty, models.AlertPriorityHigh, driverID, loadID,
			"Driver "+driverID+" is empty again: load "+loadID+" "+outcomeText(outcome))
	}
}

func outcomeText(o models.Outcome) string {
	switch o {
	case models.OutcomeExpired:
		return "acceptance window expired"
	case models.OutcomeRejected:
		return "was rejected"
	case models.OutcomeSMSFailed:
		return "failed SMS verification"
	case models.OutcomeOverridden:
		return "was reassigned"
	case models.OutcomeWithdrawn:
		return "offer was withdrawn"
	case models.OutcomeCompleted:
		return "was delivered"
	case models.OutcomeCancelled:
		return "was cancelled"
	default:
		return "was closed"
	}
}
