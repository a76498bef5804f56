package models

import "time"

type LoadStatus string

const (
	LoadStatusUnassigned              LoadStatus = "UNASSIGNED"
	LoadStatusPendingDriverAcceptance LoadStatus = "PENDING_DRIVER_ACCEPTANCE"
	LoadStatusAcceptedPendingSMS      LoadStatus = "ACCEPTED_PENDING_SMS"
	LoadStatusActive                  LoadStatus = "ACTIVE"
	LoadStatusReleaseRequested        LoadStatus = "RELEASE_REQUESTED"
	LoadStatusReleased                LoadStatus = "RELEASED"
	LoadStatusExpiredRelease          LoadStatus = "EXPIRED_RELEASE"
	LoadStatusInTransit               LoadStatus = "IN_TRANSIT"
	LoadStatusDelivered               LoadStatus = "DELIVERED"
	LoadStatusCancelled               LoadStatus = "CANCELLED"
)

func (s LoadStatus) IsValid() bool {
	switch s {
	case LoadStatusUnassigned, LoadStatusPendingDriverAcceptance, LoadStatusAcceptedPendingSMS,
		LoadStatusActive, LoadStatusReleaseRequested, LoadStatusReleased, LoadStatusExpiredRelease,
		LoadStatusInTransit, LoadStatusDelivered, LoadStatusCancelled:
		return true
	default:
		return false
	}
}

func (s LoadStatus) IsTerminal() bool {
	return s == LoadStatusDelivered || s == LoadStatusCancelled
}

// InAcceptance is true while an acceptance window governs the load.
func (s LoadStatus) InAcceptance() bool {
	return s == LoadStatusPendingDriverAcceptance || s == LoadStatusAcceptedPendingSMS
}

// PickupVisible: адрес погрузки раскрывается водителю только после подтверждения релиза.
func (s LoadStatus) PickupVisible() bool {
	return s == LoadStatusReleased || s == LoadStatusInTransit || s == LoadStatusDelivered
}

type ReleaseState string

const (
	ReleaseStateNone      ReleaseState = "NONE"
	ReleaseStateRequested ReleaseState = "REQUESTED"
	ReleaseStateReleased  ReleaseState = "RELEASED"
	ReleaseStateExpired   ReleaseState = "EXPIRED"
)

// Outcome records why the last assignment of a load was closed.
type Outcome string

const (
	OutcomeNone       Outcome = ""
	OutcomeExpired    Outcome = "EXPIRED"
	OutcomeRejected   Outcome = "REJECTED"
	OutcomeSMSFailed  Outcome = "SMS_FAILED"
	OutcomeOverridden Outcome = "OVERRIDDEN"
	OutcomeWithdrawn  Outcome = "WITHDRAWN"
	OutcomeCompleted  Outcome = "COMPLETED"
	OutcomeCancelled  Outcome = "CANCELLED"
)

type PickupDetails struct {
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

type AcceptanceWindow struct {
	LoadID            string    `json:"load_id"`
	DriverID          string    `json:"driver_id"`
	Deadline          time.Time `json:"deadline"`
	OpenedAt          time.Time `json:"opened_at"`
	CodeHash          []byte    `json:"code_hash,omitempty"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}

func (w *AcceptanceWindow) clone() *AcceptanceWindow {
	if w == nil {
		return nil
	}
	c := *w
	if w.CodeHash != nil {
		c.CodeHash = append([]byte(nil), w.CodeHash...)
	}
	return &c
}

// Load — запись груза под координацией. Мутируется только менеджером жизненного цикла.
type Load struct {
	ID              string `json:"id"`
	Reference       string `json:"reference,omitempty"`
	OriginCity      string `json:"origin_city,omitempty"`
	DestinationCity string `json:"destination_city,omitempty"`
	Notes           string `json:"notes,omitempty"`

	Status   LoadStatus `json:"status"`
	DriverID *string    `json:"driver_id,omitempty"`

	AcceptanceDeadline *time.Time `json:"acceptance_deadline,omitempty"`
	AcceptedAt         *time.Time `json:"accepted_at,omitempty"`
	SMSVerifiedAt      *time.Time `json:"sms_verified_at,omitempty"`
	DriverAccepted     bool       `json:"driver_accepted"`
	AssignmentNotes    string     `json:"assignment_notes,omitempty"`

	ReleaseState     ReleaseState   `json:"release_state"`
	ReleaseNumber    string         `json:"release_number,omitempty"`
	ReleaseExpiresAt *time.Time     `json:"release_expires_at,omitempty"`
	Pickup           *PickupDetails `json:"pickup,omitempty"`

	PickedUpAt   *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`

	LastOutcome Outcome `json:"last_outcome,omitempty"`
	Archived    bool    `json:"archived"`

	Window    *AcceptanceWindow `json:"window,omitempty"`
	TonuClaim *TonuClaim        `json:"tonu_claim,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (l *Load) Clone() *Load {
	if l == nil {
		return nil
	}
	c := *l
	c.DriverID = clonePtr(l.DriverID)
	c.AcceptanceDeadline = clonePtr(l.AcceptanceDeadline)
	c.AcceptedAt = clonePtr(l.AcceptedAt)
	c.SMSVerifiedAt = clonePtr(l.SMSVerifiedAt)
	c.ReleaseExpiresAt = clonePtr(l.ReleaseExpiresAt)
	c.Pickup = clonePtr(l.Pickup)
	c.PickedUpAt = clonePtr(l.PickedUpAt)
	c.DeliveredAt = clonePtr(l.DeliveredAt)
	c.CancelledAt = clonePtr(l.CancelledAt)
	c.Window = l.Window.clone()
	c.TonuClaim = l.TonuClaim.Clone()
	return &c
}

// ResetAssignment returns the load to the unassigned pool.
func (l *Load) ResetAssignment(outcome Outcome, now time.Time) {
	l.Status = LoadStatusUnassigned
	l.DriverID = nil
	l.Window = nil
	l.AcceptanceDeadline = nil
	l.AcceptedAt = nil
	l.SMSVerifiedAt = nil
	l.DriverAccepted = false
	l.AssignmentNotes = ""
	l.LastOutcome = outcome
	l.UpdatedAt = now
}

type LoadCreateInput struct {
	Reference       string
	OriginCity      string
	DestinationCity string
	Notes           string
}

// LoadView — снимок для UI и внешних читателей.
type LoadView struct {
	ID                 string       `json:"id"`
	Reference          string       `json:"reference,omitempty"`
	OriginCity         string       `json:"originCity,omitempty"`
	DestinationCity    string       `json:"destinationCity,omitempty"`
	Notes              string       `json:"notes,omitempty"`
	Status             LoadStatus   `json:"status"`
	DriverID           string       `json:"driverId,omitempty"`
	AcceptanceDeadline *time.Time   `json:"acceptanceDeadline,omitempty"`
	AcceptedAt         *time.Time   `json:"acceptedAt,omitempty"`
	SMSVerifiedAt      *time.Time   `json:"smsVerifiedAt,omitempty"`
	DriverAccepted     bool         `json:"driverAccepted"`
	AttemptsRemaining  int          `json:"attemptsRemaining,omitempty"`
	ReleaseState       ReleaseState `json:"releaseState"`
	ReleaseNumber      string       `json:"releaseNumber,omitempty"`
	ReleaseExpiresAt   *time.Time   `json:"releaseExpiresAt,omitempty"`
	PickupAddress      string       `json:"pickupAddress,omitempty"`
	PickupInstructions string       `json:"pickupInstructions,omitempty"`
	PickedUpAt         *time.Time   `json:"pickedUpAt,omitempty"`
	DeliveredAt        *time.Time   `json:"deliveredAt,omitempty"`
	CancelledAt        *time.Time   `json:"cancelledAt,omitempty"`
	CancelReason       string       `json:"cancelReason,omitempty"`
	LastOutcome        Outcome      `json:"lastOutcome,omitempty"`
	Archived           bool         `json:"archived"`
	TonuClaim          *TonuClaim   `json:"tonuClaim,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// View builds the reader snapshot. Pickup details stay empty until the release is confirmed.
func (l *Load) View() LoadView {
	v := LoadView{
		ID:                 l.ID,
		Reference:          l.Reference,
		OriginCity:         l.OriginCity,
		DestinationCity:    l.DestinationCity,
		Notes:              l.Notes,
		Status:             l.Status,
		AcceptanceDeadline: clonePtr(l.AcceptanceDeadline),
		AcceptedAt:         clonePtr(l.AcceptedAt),
		SMSVerifiedAt:      clonePtr(l.SMSVerifiedAt),
		DriverAccepted:     l.DriverAccepted,
		ReleaseState:       l.ReleaseState,
		ReleaseNumber:      l.ReleaseNumber,
		ReleaseExpiresAt:   clonePtr(l.ReleaseExpiresAt),
		PickedUpAt:         clonePtr(l.PickedUpAt),
		DeliveredAt:        clonePtr(l.DeliveredAt),
		CancelledAt:        clonePtr(l.CancelledAt),
		CancelReason:       l.CancelReason,
		LastOutcome:        l.LastOutcome,
		Archived:           l.Archived,
		TonuClaim:          l.TonuClaim.Clone(),
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
	if l.DriverID != nil {
		v.DriverID = *l.DriverID
	}
	if l.Window != nil {
		v.AttemptsRemaining = l.Window.AttemptsRemaining
	}
	if l.Status.PickupVisible() && l.Pickup != nil {
		v.PickupAddress = l.Pickup.Address
		v.PickupInstructions = l.Pickup.Instructions
	}
	return v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
