package models

import "time"

type DriverStatus string

const (
	DriverStatusEmpty           DriverStatus = "EMPTY"
	DriverStatusLoaded          DriverStatus = "LOADED"
	DriverStatusAtPickup        DriverStatus = "AT_PICKUP"
	DriverStatusAtDelivery      DriverStatus = "AT_DELIVERY"
	DriverStatusEnRoutePickup   DriverStatus = "EN_ROUTE_PICKUP"
	DriverStatusEnRouteDelivery DriverStatus = "EN_ROUTE_DELIVERY"
	DriverStatusOnBreak         DriverStatus = "ON_BREAK"
	DriverStatusOffDuty         DriverStatus = "OFF_DUTY"
)

func (s DriverStatus) IsValid() bool {
	switch s {
	case DriverStatusEmpty, DriverStatusLoaded, DriverStatusAtPickup, DriverStatusAtDelivery,
		DriverStatusEnRoutePickup, DriverStatusEnRouteDelivery, DriverStatusOnBreak, DriverStatusOffDuty:
		return true
	default:
		return false
	}
}

// IsIdle — статусы, при которых у водителя не может быть текущего груза.
func (s DriverStatus) IsIdle() bool {
	return s == DriverStatusEmpty || s == DriverStatusOffDuty || s == DriverStatusOnBreak
}

type Location struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	ReportedAt time.Time `json:"reportedAt"`
}

func (l Location) IsValid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

type Driver struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Phone         string       `json:"phone"`
	Status        DriverStatus `json:"status"`
	CurrentLoadID *string      `json:"currentLoadId,omitempty"`
	Location      *Location    `json:"location,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func (d *Driver) Clone() *Driver {
	if d == nil {
		return nil
	}
	c := *d
	c.CurrentLoadID = clonePtr(d.CurrentLoadID)
	c.Location = clonePtr(d.Location)
	return &c
}

// Consistent reports whether currentLoadId is set exactly when the status is not idle.
func (d *Driver) Consistent() bool {
	return (d.CurrentLoadID != nil) == !d.Status.IsIdle()
}

type DriverCreateInput struct {
	ID    string
	Name  string
	Phone string
}
