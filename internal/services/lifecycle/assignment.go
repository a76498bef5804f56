package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var smsCodeRe = regexp.MustCompile(`^[0-9]{6}$`)

func (m *Manager) CreateLoad(ctx context.Context, in models.LoadCreateInput) (*models.Load, error) {
	in.OriginCity = strings.TrimSpace(in.OriginCity)
	in.DestinationCity = strings.TrimSpace(in.DestinationCity)
	if in.OriginCity == "" || in.DestinationCity == "" {
		return nil, errors.Wrap(models.ErrValidationFailed, "origin and destination are required")
	}

	now := m.clock.Now()
	l := &models.Load{
		ID:              m.newID(),
		Reference:       strings.TrimSpace(in.Reference),
		OriginCity:      in.OriginCity,
		DestinationCity: in.DestinationCity,
		Notes:           in.Notes,
		Status:          models.LoadStatusUnassigned,
		ReleaseState:    models.ReleaseStateNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.PutLoad(ctx, l); err != nil {
		return nil, errors.Wrap(err, "put load")
	}

	slog.Info("load created", "load_id", l.ID, "reference", l.Reference)
	m.pub.Publish(events.Event{Type: events.LoadCreated, LoadID: l.ID, LoadStatus: l.Status, OccurredAt: now})
	return l, nil
}

type AssignInput struct {
	LoadID   string
	DriverID string
	Timeout  time.Duration // <= 0 means default
	Notes    string
	Override bool
}

type AssignResult struct {
	Load *models.Load
	// PriorDriverID is set when an override closed someone else's assignment.
	PriorDriverID string
}

// Assign открывает окно принятия для водителя. Поверх живого назначения только с override.
func (m *Manager) Assign(ctx context.Context, in AssignInput) (AssignResult, error) {
	if strings.TrimSpace(in.DriverID) == "" {
		return AssignResult{}, errors.Wrap(models.ErrValidationFailed, "driver id is required")
	}
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultAcceptanceTimeout
	}

	var prior string
	l, err := m.mutate(ctx, in.LoadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		switch l.Status {
		case models.LoadStatusUnassigned:
		case models.LoadStatusPendingDriverAcceptance, models.LoadStatusAcceptedPendingSMS, models.LoadStatusActive:
			if !in.Override {
				return false, errors.Wrapf(models.ErrConflictingAssignment, "load %s already has a live assignment", l.ID)
			}
			if l.DriverID != nil {
				prior = *l.DriverID
			}
			m.disarm(l.ID)
			l.ResetAssignment(models.OutcomeOverridden, now)
			eff.emit(events.LoadUnassigned, l, prior, string(models.OutcomeOverridden), now)
		default:
			return false, invalid(l, "assign")
		}

		deadline := now.Add(timeout)
		driverID := in.DriverID
		l.Status = models.LoadStatusPendingDriverAcceptance
		l.DriverID = &driverID
		l.AcceptanceDeadline = &deadline
		l.AssignmentNotes = in.Notes
		l.LastOutcome = models.OutcomeNone
		l.Window = &models.AcceptanceWindow{
			LoadID:   l.ID,
			DriverID: driverID,
			Deadline: deadline,
			OpenedAt: now,
		}
		m.arm(l.ID, timerAcceptance, deadline)

		eff.emit(events.LoadAssigned, l, driverID, "", now)
		eff.alert = &alertReq{
			driverID: driverID,
			message:  fmt.Sprintf("Load %s (%s -> %s) offered to you. Accept within %d min.", l.ID, l.OriginCity, l.DestinationCity, int(timeout.Minutes())),
			kind:     notify.AlertKindLoadAssigned,
		}
		slog.Info("load assigned", "load_id", l.ID, "driver_id", driverID, "deadline", deadline, "override", prior != "")
		return true, nil
	})
	if err != nil {
		return AssignResult{}, err
	}
	return AssignResult{Load: l, PriorDriverID: prior}, nil
}

// DriverAccept фиксирует принятие и отправляет SMS-код. Окно и таймер продолжают действовать до верификации.
func (m *Manager) DriverAccept(ctx context.Context, loadID, driverID string) (*models.Load, error) {
	var phone string
	if m.contacts != nil {
		p, err := m.contacts.Phone(ctx, driverID)
		if err != nil {
			return nil, errors.Wrap(err, "driver phone")
		}
		phone = p
	}

	return m.mutate(ctx, loadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if expiredWindow(l) {
			return false, errors.Wrapf(models.ErrWindowExpired, "acceptance window of load %s has expired", l.ID)
		}
		if l.Status != models.LoadStatusPendingDriverAcceptance || l.Window == nil {
			return false, invalid(l, "accept")
		}
		if l.Window.DriverID != driverID {
			return false, errors.Wrapf(models.ErrConflictingAssignment, "load %s is offered to another driver", l.ID)
		}
		if !now.Before(l.Window.Deadline) {
			return false, errors.Wrapf(models.ErrWindowExpired, "acceptance window of load %s closed at %s", l.ID, l.Window.Deadline.Format(time.RFC3339))
		}

		code, hash, err := m.issueCode()
		if err != nil {
			return false, err
		}
		l.Window.CodeHash = hash
		l.Window.AttemptsRemaining = m.cfg.MaxSMSAttempts
		l.Status = models.LoadStatusAcceptedPendingSMS
		l.AcceptedAt = &now

		eff.emit(events.LoadAccepted, l, driverID, "", now)
		if phone != "" {
			eff.sms = &smsReq{loadID: l.ID, phone: phone, text: smsText(l.ID, code)}
		}
		slog.Info("load accepted, sms sent", "load_id", l.ID, "driver_id", driverID)
		return true, nil
	})
}

// ResendSMS issues a fresh code for the same window. Attempts are not restored.
func (m *Manager) ResendSMS(ctx context.Context, loadID string) (*models.Load, error) {
	return m.mutate(ctx, loadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if l.Status != models.LoadStatusAcceptedPendingSMS || l.Window == nil {
			return false, invalid(l, "resend sms")
		}
		if !now.Before(l.Window.Deadline) {
			return false, errors.Wrapf(models.ErrWindowExpired, "acceptance window of load %s closed", l.ID)
		}
		var phone string
		if m.contacts != nil {
			p, err := m.contacts.Phone(ctx, l.Window.DriverID)
			if err != nil {
				return false, errors.Wrap(err, "driver phone")
			}
			phone = p
		}
		code, hash, err := m.issueCode()
		if err != nil {
			return false, err
		}
		l.Window.CodeHash = hash
		if phone != "" {
			eff.sms = &smsReq{loadID: l.ID, phone: phone, text: smsText(l.ID, code)}
		}
		return true, nil
	})
}

// VerifySMS активирует груз при совпадении кода. Неверный код тратит попытку; на нуле окно закрывается.
func (m *Manager) VerifySMS(ctx context.Context, loadID, code string) (*models.Load, error) {
	return m.mutate(ctx, loadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if expiredWindow(l) {
			return false, errors.Wrapf(models.ErrWindowExpired, "acceptance window of load %s has expired", l.ID)
		}
		if l.Status != models.LoadStatusAcceptedPendingSMS || l.Window == nil {
			return false, invalid(l, "verify sms")
		}
		if !now.Before(l.Window.Deadline) {
			return false, errors.Wrapf(models.ErrWindowExpired, "acceptance window of load %s closed", l.ID)
		}
		if !smsCodeRe.MatchString(code) {
			return false, errors.Wrap(models.ErrValidationFailed, "code must be exactly 6 digits")
		}

		driverID := l.Window.DriverID
		if err := bcrypt.CompareHashAndPassword(l.Window.CodeHash, []byte(code)); err != nil {
			l.Window.AttemptsRemaining--
			if l.Window.AttemptsRemaining > 0 {
				return true, errors.Wrapf(models.ErrValidationFailed, "code mismatch, %d attempts remaining", l.Window.AttemptsRemaining)
			}
			m.disarm(l.ID)
			l.ResetAssignment(models.OutcomeSMSFailed, now)
			eff.emit(events.LoadUnassigned, l, driverID, string(models.OutcomeSMSFailed), now)
			eff.closed = &closure{load: l.Clone(), driverID: driverID, outcome: models.OutcomeSMSFailed}
			slog.Warn("sms attempts exhausted", "load_id", l.ID, "driver_id", driverID)
			return true, errors.Wrap(models.ErrValidationFailed, "code mismatch, no attempts left, assignment closed")
		}

		m.disarm(l.ID)
		l.Window = nil
		l.AcceptanceDeadline = nil
		l.SMSVerifiedAt = &now
		l.DriverAccepted = true
		l.Status = models.LoadStatusActive

		eff.emit(events.LoadActivated, l, driverID, "", now)
		slog.Info("load activated", "load_id", l.ID, "driver_id", driverID)
		return true, nil
	})
}

// DriverReject returns changed=false when the load was already rejected; the repeat is a no-op.
func (m *Manager) DriverReject(ctx context.Context, loadID, reason string) (*models.Load, bool, error) {
	var changed bool
	l, err := m.mutate(ctx, loadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if l.Status == models.LoadStatusUnassigned && l.LastOutcome == models.OutcomeRejected {
			return false, nil
		}
		if l.Status != models.LoadStatusPendingDriverAcceptance {
			return false, invalid(l, "reject")
		}

		var driverID string
		if l.DriverID != nil {
			driverID = *l.DriverID
		}
		m.disarm(l.ID)
		l.ResetAssignment(models.OutcomeRejected, now)
		eff.emit(events.LoadRejected, l, driverID, reason, now)
		eff.closed = &closure{load: l.Clone(), driverID: driverID, outcome: models.OutcomeRejected}
		changed = true
		slog.Info("load rejected", "load_id", l.ID, "driver_id", driverID, "reason", reason)
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	return l, changed, nil
}

// Withdraw takes back an offer the dispatcher could not complete, e.g. the driver record failed to
// update. Only the live acceptance of driverID is withdrawn; anything else is returned unchanged.
// The driver never saw a closure, so no assignment-closed hook runs.
func (m *Manager) Withdraw(ctx context.Context, loadID, driverID string) (*models.Load, error) {
	return m.mutate(ctx, loadID, func(l *models.Load, now time.Time, eff *effects) (bool, error) {
		if !l.Status.InAcceptance() || l.DriverID == nil || *l.DriverID != driverID {
			return false, nil
		}
		m.disarm(l.ID)
		l.ResetAssignment(models.OutcomeWithdrawn, now)
		eff.emit(events.LoadUnassigned, l, driverID, string(models.OutcomeWithdrawn), now)
		slog.Info("assignment withdrawn", "load_id", l.ID, "driver_id", driverID)
		return true, nil
	})
}

func (m *Manager) expireAcceptanceLocked(l *models.Load, now time.Time, eff *effects) bool {
	if !l.Status.InAcceptance() || l.Window == nil {
		return false
	}
	if now.Before(l.Window.Deadline) {
		m.arm(l.ID, timerAcceptance, l.Window.Deadline)
		return false
	}
	driverID := l.Window.DriverID
	l.ResetAssignment(models.OutcomeExpired, now)
	eff.emit(events.LoadExpired, l, driverID, string(models.OutcomeExpired), now)
	eff.alert = &alertReq{
		driverID: driverID,
		message:  fmt.Sprintf("Acceptance window for load %s has expired.", l.ID),
		kind:     notify.AlertKindAssignmentClosed,
	}
	eff.closed = &closure{load: l.Clone(), driverID: driverID, outcome: models.OutcomeExpired}
	slog.Info("acceptance window expired", "load_id", l.ID, "driver_id", driverID)
	return true
}

// expiredWindow: таймер уже вернул груз в пул, но для опоздавшего водителя это всё ещё истёкшее окно.
func expiredWindow(l *models.Load) bool {
	return l.Status == models.LoadStatusUnassigned && l.LastOutcome == models.OutcomeExpired
}

func (m *Manager) issueCode() (string, []byte, error) {
	code, err := m.newCode()
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), m.cfg.BcryptCost)
	if err != nil {
		return "", nil, errors.Wrap(err, "hash sms code")
	}
	return code, hash, nil
}

func smsText(loadID, code string) string {
	return fmt.Sprintf("DispatchBox: your code for load %s is %s", loadID, code)
}
