package notify

import "context"

type AlertKind string

const (
	AlertKindLoadAssigned     AlertKind = "LOAD_ASSIGNED"
	AlertKindAssignmentClosed AlertKind = "ASSIGNMENT_CLOSED"
	AlertKindReleaseConfirmed AlertKind = "RELEASE_CONFIRMED"
	AlertKindReleaseExpired   AlertKind = "RELEASE_EXPIRED"
	AlertKindDeadlineWarning  AlertKind = "DEADLINE_WARNING"
	AlertKindLoadCancelled    AlertKind = "LOAD_CANCELLED"
)

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (deliveryID string, err error)
}

type AlertSender interface {
	SendAlert(ctx context.Context, driverID, message string, kind AlertKind) error
}

// Gateway — узкий интерфейс внешней доставки уведомлений. Ретраи — забота реализации.
type Gateway interface {
	SMSSender
	AlertSender
}

type composite struct {
	SMSSender
	AlertSender
}

// Compose joins independent SMS and push providers into one Gateway.
func Compose(sms SMSSender, push AlertSender) Gateway {
	return composite{SMSSender: sms, AlertSender: push}
}
