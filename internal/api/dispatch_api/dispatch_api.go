package dispatch_api

import (
	"context"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/coordinator"
	"github.com/BearBump/DispatchBox/internal/services/lifecycle"
	"github.com/BearBump/DispatchBox/internal/services/registry"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/go-chi/chi/v5"
)

// Dispatcher — командная сторона (координатор).
type Dispatcher interface {
	CreateLoad(ctx context.Context, in models.LoadCreateInput) (*models.Load, error)
	Assign(ctx context.Context, in lifecycle.AssignInput) (*models.Load, error)
	DriverAccept(ctx context.Context, loadID, driverID string) (*models.Load, error)
	ResendSMS(ctx context.Context, loadID string) (*models.Load, error)
	VerifySMS(ctx context.Context, loadID, code string) (*models.Load, error)
	DriverReject(ctx context.Context, loadID, reason string) (*models.Load, error)
	RequestRelease(ctx context.Context, loadID string) (*models.Load, error)
	ConfirmRelease(ctx context.Context, in lifecycle.ConfirmReleaseInput) (*models.Load, error)
	ConfirmPickup(ctx context.Context, loadID string) (*models.Load, error)
	FileTonu(ctx context.Context, in lifecycle.FileTonuInput) (*models.TonuClaim, error)
	Complete(ctx context.Context, loadID string) (*models.Load, error)
	Cancel(ctx context.Context, loadID, reason string) (*models.Load, error)
	TimeRemaining(ctx context.Context, loadID string) (coordinator.Remaining, error)

	RegisterDriver(ctx context.Context, in models.DriverCreateInput) (*models.Driver, error)
	DeregisterDriver(ctx context.Context, id string) error
	ReportDriverStatus(ctx context.Context, rep registry.StatusReport) (*models.Driver, error)

	ListAlerts(ctx context.Context, f coordinator.AlertFilter) []models.DispatchAlert
	AcknowledgeAlert(ctx context.Context, id string) (*models.DispatchAlert, error)
	SuggestPairs(ctx context.Context) ([]coordinator.Pair, error)
	AutoDispatch(ctx context.Context, timeout time.Duration) (coordinator.AutoDispatchResult, error)
}

// LoadReader — сторона чтения для UI (снимки с гейтингом адреса).
type LoadReader interface {
	GetLoad(ctx context.Context, id string) (*models.LoadView, error)
	ListLoads(ctx context.Context, f storage.LoadFilter) ([]models.LoadView, error)
	ListPendingAcceptance(ctx context.Context) ([]models.LoadView, error)
	ListTonuClaims(ctx context.Context, loadID string) ([]*models.TonuClaim, error)
}

type DriverReader interface {
	Get(ctx context.Context, id string) (*models.Driver, error)
	List(ctx context.Context) ([]*models.Driver, error)
}

type DispatchAPI struct {
	cmd     Dispatcher
	loads   LoadReader
	drivers DriverReader
	hub     *Hub
}

func New(cmd Dispatcher, loads LoadReader, drivers DriverReader) *DispatchAPI {
	return &DispatchAPI{cmd: cmd, loads: loads, drivers: drivers}
}

// WithHub включает /events/ws.
func (a *DispatchAPI) WithHub(h *Hub) *DispatchAPI {
	a.hub = h
	return a
}

// Routes монтируется под /v1.
func (a *DispatchAPI) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/loads", func(r chi.Router) {
		r.Post("/", a.createLoad)
		r.Get("/", a.listLoads)
		r.Get("/pending-acceptance", a.listPendingAcceptance) // до /{id}
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getLoad)
			r.Get("/time-remaining", a.timeRemaining)
			r.Get("/tonu-claims", a.listTonuClaims)
			r.Post("/assign", a.assign)
			r.Post("/accept", a.accept)
			r.Post("/resend-sms", a.resendSMS)
			r.Post("/verify-sms", a.verifySMS)
			r.Post("/reject", a.reject)
			r.Post("/release-request", a.requestRelease)
			r.Post("/release-confirm", a.confirmRelease)
			r.Post("/pickup", a.confirmPickup)
			r.Post("/tonu", a.fileTonu)
			r.Post("/complete", a.complete)
			r.Post("/cancel", a.cancel)
		})
	})

	r.Route("/drivers", func(r chi.Router) {
		r.Post("/", a.registerDriver)
		r.Get("/", a.listDrivers)
		r.Get("/{id}", a.getDriver)
		r.Delete("/{id}", a.deregisterDriver)
		r.Post("/{id}/status", a.reportDriverStatus)
	})

	r.Get("/alerts", a.listAlerts)
	r.Post("/alerts/{id}/ack", a.ackAlert)

	r.Get("/dispatch/suggestions", a.suggestions)
	r.Post("/dispatch/auto", a.autoDispatch)

	if a.hub != nil {
		r.Get("/events/ws", a.hub.ServeHTTP)
	}

	return r
}
