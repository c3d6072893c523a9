package model

import "time"

// PhaseDates holds the lifecycle dates shared by deployments and
// per-item deployment records. A nil date means the phase was not reached.
type PhaseDates struct {
	StartDate    *time.Time `json:"deployment_start_date,omitempty"`
	BurninDate   *time.Time `json:"deployment_burnin_date,omitempty"`
	ToFieldDate  *time.Time `json:"deployment_to_field_date,omitempty"`
	RecoveryDate *time.Time `json:"deployment_recovery_date,omitempty"`
	RetireDate   *time.Time `json:"deployment_retire_date,omitempty"`
}

// Deployment is one field-deployment episode of a build.
type Deployment struct {
	ID                int64    `json:"id"`
	DeploymentNumber  string   `json:"deployment_number"`
	BuildID           int64    `json:"build_id"`
	LocationID        *int64   `json:"location_id,omitempty"`
	FinalLocationID   *int64   `json:"final_location_id,omitempty"`
	CruiseDeployedID  *int64   `json:"cruise_deployed_id,omitempty"`
	CruiseRecoveredID *int64   `json:"cruise_recovered_id,omitempty"`
	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
	Depth             *int     `json:"depth,omitempty"`
	Version           int64    `json:"version"`
	PhaseDates
	CreatedAt time.Time `json:"created_at"`
}

// Cruise is a ship voyage on which deployments and recoveries happen.
type Cruise struct {
	ID           int64  `json:"id"`
	CruiseNumber string `json:"cruise_number"`
	ShipName     string `json:"ship_name,omitempty"`
}
