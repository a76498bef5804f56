package fake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BearBump/DispatchBox/internal/integrations/notify"
)

type SMS struct {
	DeliveryID string
	Phone      string
	Message    string
}

type Alert struct {
	DriverID string
	Message  string
	Kind     notify.AlertKind
}

// Gateway — локальная заглушка провайдеров: ничего не отправляет, всё запоминает.
type Gateway struct {
	mu     sync.Mutex
	seq    int
	sms    []SMS
	alerts []Alert

	SMSErr   error
	AlertErr error
}

func New() *Gateway { return &Gateway{} }

func (g *Gateway) SendSMS(ctx context.Context, phone, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SMSErr != nil {
		return "", g.SMSErr
	}
	g.seq++
	id := fmt.Sprintf("fake-sms-%d", g.seq)
	g.sms = append(g.sms, SMS{DeliveryID: id, Phone: phone, Message: message})
	slog.Info("fake sms", "delivery_id", id, "phone", phone, "message", message)
	return id, nil
}

func (g *Gateway) SendAlert(ctx context.Context, driverID, message string, kind notify.AlertKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.AlertErr != nil {
		return g.AlertErr
	}
	g.alerts = append(g.alerts, Alert{DriverID: driverID, Message: message, Kind: kind})
	return nil
}

func (g *Gateway) SMS() []SMS {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SMS(nil), g.sms...)
}

func (g *Gateway) Alerts() []Alert {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Alert(nil), g.alerts...)
}

// LastSMS returns the most recent message sent to phone.
func (g *Gateway) LastSMS(phone string) (SMS, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.sms) - 1; i >= 0; i-- {
		if g.sms[i].Phone == phone {
			return g.sms[i], true
		}
	}
	return SMS{}, false
}
