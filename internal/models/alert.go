package models

import "time"

type AlertType string

const (
	AlertTypeDriverEmpty         AlertType = "DRIVER_EMPTY"
	AlertTypeDeadlineApproaching AlertType = "DEADLINE_APPROACHING"
	AlertTypeLoadStatusChanged   AlertType = "LOAD_STATUS_CHANGED"
	AlertTypeTonuFiled           AlertType = "TONU_FILED"
)

type AlertPriority string

const (
	AlertPriorityLow    AlertPriority = "LOW"
	AlertPriorityMedium AlertPriority = "MEDIUM"
	AlertPriorityHigh   AlertPriority = "HIGH"
)

type DispatchAlert struct {
	ID           string        `json:"id"`
	Type         AlertType     `json:"type"`
	DriverID     string        `json:"driverId"`
	LoadID       *string       `json:"loadId,omitempty"`
	Priority     AlertPriority `json:"priority"`
	Message      string        `json:"message"`
	Acknowledged bool          `json:"acknowledged"`
	CreatedAt    time.Time     `json:"createdAt"`
}
