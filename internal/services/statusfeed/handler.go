package statusfeed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BearBump/DispatchBox/internal/broker/kafka"
	"github.com/BearBump/DispatchBox/internal/broker/messages"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/services/registry"
	"github.com/pkg/errors"
)

type Reporter interface {
	ReportDriverStatus(ctx context.Context, rep registry.StatusReport) (*models.Driver, error)
}

// Handler превращает сообщения топика статусов водителей в ReportDriverStatus.
// Ошибки валидации и неизвестные водители не лечатся повтором, поэтому помечаются как poison.
func Handler(ctx context.Context, r Reporter) func(key, value []byte) error {
	return func(key, value []byte) error {
		var msg messages.DriverStatusReported
		if err := json.Unmarshal(value, &msg); err != nil {
			return errors.Wrap(kafka.ErrPoison, "decode driver status: "+err.Error())
		}
		if msg.DriverID == "" {
			msg.DriverID = string(key)
		}

		rep := registry.StatusReport{
			DriverID: msg.DriverID,
			Status:   models.DriverStatus(msg.Status),
			Notes:    msg.Notes,
		}
		if msg.Lat != nil && msg.Lng != nil {
			loc := models.Location{Lat: *msg.Lat, Lng: *msg.Lng}
			if msg.ReportedAt != nil {
				loc.ReportedAt = msg.ReportedAt.UTC()
			}
			rep.Location = &loc
		}

		_, err := r.ReportDriverStatus(ctx, rep)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, models.ErrValidationFailed), errors.Is(err, models.ErrNotFound):
			return errors.Wrap(kafka.ErrPoison, err.Error())
		default:
			slog.Error("apply driver status", "driver_id", msg.DriverID, "error", err.Error())
			return err
		}
	}
}
