package messages

import "time"

// DispatchEvent — то, что уходит в топик dispatch.events. Ключ сообщения: load_id (или driver_id).
type DispatchEvent struct {
	Type         string    `json:"type"`
	LoadID       string    `json:"load_id,omitempty"`
	DriverID     string    `json:"driver_id,omitempty"`
	LoadStatus   string    `json:"load_status,omitempty"`
	DriverStatus string    `json:"driver_status,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	AlertID      string    `json:"alert_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// DriverStatusReported приходит из мобильного приложения водителя через топик статусов.
type DriverStatusReported struct {
	DriverID   string     `json:"driver_id"`
	Status     string     `json:"status"`
	Lat        *float64   `json:"lat,omitempty"`
	Lng        *float64   `json:"lng,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	ReportedAt *time.Time `json:"reported_at,omitempty"`
}
