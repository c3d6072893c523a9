package model

import "time"

// Event types.
const (
	EventTypeCalibration = "calibration"
	EventTypeConfig      = "config"
)

// Event is a calibration or configuration event recorded against an item.
type Event struct {
	ID           int64     `json:"id"`
	EventType    string    `json:"event_type"`
	InventoryID  *int64    `json:"inventory_id,omitempty"`
	DeploymentID *int64    `json:"deployment_id,omitempty"`
	EventDate    time.Time `json:"event_date"`
	Approved     bool      `json:"approved"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Label returns the display name for the event type.
func (e *Event) Label() string {
	if e.EventType == EventTypeConfig {
		return "Configuration Event"
	}
	return "Calibration Event"
}

// EventReviewer is a user asked to approve an event.
type EventReviewer struct {
	EventID  int64  `json:"event_id"`
	UserID   int64  `json:"user_id"`
	Approved bool   `json:"approved"`
	Username string `json:"username,omitempty"`
}
