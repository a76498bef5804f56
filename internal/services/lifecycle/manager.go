package lifecycle

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/BearBump/DispatchBox/internal/clock"
	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/BearBump/DispatchBox/internal/keylock"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Hooks получает уведомление о закрытии назначения уже после коммита перехода груза.
type Hooks interface {
	AssignmentClosed(ctx context.Context, load *models.Load, driverID string, outcome models.Outcome)
}

type Contacts interface {
	Phone(ctx context.Context, driverID string) (string, error)
}

type Config struct {
	DefaultAcceptanceTimeout time.Duration // default: 30 minutes
	MaxSMSAttempts           int           // default: 3
	BcryptCost               int           // default: bcrypt.DefaultCost
}

func DefaultConfig() Config {
	return Config{
		DefaultAcceptanceTimeout: 30 * time.Minute,
		MaxSMSAttempts:           3,
		BcryptCost:               bcrypt.DefaultCost,
	}
}

type timerKind int

const (
	timerAcceptance timerKind = iota + 1
	timerRelease
)

type armedTimer struct {
	t    clock.Timer
	gen  uint64
	kind timerKind
}

// Manager владеет машиной состояний груза. Все переходы одного груза линеаризованы
// через keylock; таймеры истечения берут тот же лок.
type Manager struct {
	store    storage.Store
	clock    clock.Clock
	gw       notify.Gateway
	contacts Contacts
	pub      events.Publisher
	hooks    Hooks
	locks    *keylock.Locker
	cfg      Config

	newID   func() string
	newCode func() (string, error)

	tmu    sync.Mutex
	gen    uint64
	timers map[string]armedTimer
}

func New(store storage.Store, clk clock.Clock, gw notify.Gateway, contacts Contacts, pub events.Publisher) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{
		store:    store,
		clock:    clk,
		gw:       gw,
		contacts: contacts,
		pub:      pub,
		locks:    keylock.New(),
		cfg:      DefaultConfig(),
		newID:    func() string { return uuid.NewString() },
		newCode:  randomCode,
		timers:   make(map[string]armedTimer),
	}
}

func (m *Manager) WithConfig(cfg Config) *Manager {
	if cfg.DefaultAcceptanceTimeout > 0 {
		m.cfg.DefaultAcceptanceTimeout = cfg.DefaultAcceptanceTimeout
	}
	if cfg.MaxSMSAttempts > 0 {
		m.cfg.MaxSMSAttempts = cfg.MaxSMSAttempts
	}
	if cfg.BcryptCost >= bcrypt.MinCost && cfg.BcryptCost <= bcrypt.MaxCost {
		m.cfg.BcryptCost = cfg.BcryptCost
	}
	return m
}

// SetHooks wires the coordinator; must be called before the first transition.
func (m *Manager) SetHooks(h Hooks) {
	m.hooks = h
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) GetLoad(ctx context.Context, id string) (*models.Load, error) {
	return m.store.GetLoad(ctx, id)
}

// LiveTimers returns how many deadline timers are armed.
func (m *Manager) LiveTimers() int {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	return len(m.timers)
}

// effects — всё, что выполняется после отпускания лока груза.
type effects struct {
	events []events.Event
	closed *closure
	alert  *alertReq
	sms    *smsReq
}

type closure struct {
	load     *models.Load
	driverID string
	outcome  models.Outcome
}

type alertReq struct {
	driverID string
	message  string
	kind     notify.AlertKind
}

type smsReq struct {
	loadID string
	phone  string
	text   string
}

func (e *effects) emit(t events.Type, l *models.Load, driverID, reason string, at time.Time) {
	e.events = append(e.events, events.Event{
		Type:       t,
		LoadID:     l.ID,
		DriverID:   driverID,
		LoadStatus: l.Status,
		Reason:     reason,
		OccurredAt: at,
	})
}

func (m *Manager) apply(ctx context.Context, eff *effects) {
	if eff == nil {
		return
	}
	for _, ev := range eff.events {
		m.pub.Publish(ev)
	}
	if eff.sms != nil && m.gw != nil {
		if _, err := m.gw.SendSMS(ctx, eff.sms.phone, eff.sms.text); err != nil {
			slog.Error("send sms code", "load_id", eff.sms.loadID, "error", err.Error())
		}
	}
	if eff.alert != nil && m.gw != nil {
		if err := m.gw.SendAlert(ctx, eff.alert.driverID, eff.alert.message, eff.alert.kind); err != nil {
			slog.Error("send driver alert", "driver_id", eff.alert.driverID, "kind", string(eff.alert.kind), "error", err.Error())
		}
	}
	if eff.closed != nil && m.hooks != nil {
		m.hooks.AssignmentClosed(ctx, eff.closed.load, eff.closed.driverID, eff.closed.outcome)
	}
}

// mutate runs fn under the load lock, persists the result when fn asks for it
// and applies side effects after unlocking.
func (m *Manager) mutate(ctx context.Context, loadID string, fn func(l *models.Load, now time.Time, eff *effects) (bool, error)) (*models.Load, error) {
	unlock := m.locks.Lock(loadID)
	l, err := m.store.GetLoad(ctx, loadID)
	if err != nil {
		unlock()
		return nil, err
	}
	now := m.clock.Now()
	eff := &effects{}
	changed, fnErr := fn(l, now, eff)
	if changed {
		l.UpdatedAt = now
		if err := m.store.PutLoad(ctx, l); err != nil {
			unlock()
			return nil, errors.Wrap(err, "put load")
		}
	}
	unlock()

	if changed {
		m.apply(ctx, eff)
	}
	if fnErr != nil {
		return nil, fnErr
	}
	return l, nil
}

func (m *Manager) arm(loadID string, kind timerKind, at time.Time) {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	if old, ok := m.timers[loadID]; ok {
		old.t.Stop()
	}
	m.gen++
	gen := m.gen
	d := at.Sub(m.clock.Now())
	t := m.clock.AfterFunc(d, func() { m.fire(loadID, kind, gen) })
	m.timers[loadID] = armedTimer{t: t, gen: gen, kind: kind}
}

func (m *Manager) disarm(loadID string) {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	if old, ok := m.timers[loadID]; ok {
		old.t.Stop()
		delete(m.timers, loadID)
	}
}

// claim reports whether gen is still the live timer of the load and removes it.
func (m *Manager) claim(loadID string, gen uint64) bool {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	cur, ok := m.timers[loadID]
	if !ok || cur.gen != gen {
		return false
	}
	delete(m.timers, loadID)
	return true
}

func (m *Manager) fire(loadID string, kind timerKind, gen uint64) {
	ctx := context.Background()
	unlock := m.locks.Lock(loadID)
	if !m.claim(loadID, gen) {
		unlock()
		return
	}
	l, err := m.store.GetLoad(ctx, loadID)
	if err != nil {
		unlock()
		slog.Error("timer: get load", "load_id", loadID, "error", err.Error())
		return
	}

	now := m.clock.Now()
	eff := &effects{}
	var changed bool
	switch kind {
	case timerAcceptance:
		changed = m.expireAcceptanceLocked(l, now, eff)
	case timerRelease:
		changed = m.expireReleaseLocked(l, now, eff)
	}
	if changed {
		l.UpdatedAt = now
		if err := m.store.PutLoad(ctx, l); err != nil {
			unlock()
			slog.Error("timer: put load", "load_id", loadID, "error", err.Error())
			return
		}
	}
	unlock()

	if changed {
		m.apply(ctx, eff)
	}
}

func invalid(l *models.Load, op string) error {
	return errors.Wrapf(models.ErrInvalidTransition, "%s: load %s is %s", op, l.ID, l.Status)
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", errors.Wrap(err, "generate sms code")
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
