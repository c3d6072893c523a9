package model

import "time"

// Inventory is one physical, serial-numbered unit of equipment.
type Inventory struct {
	ID                    int64         `json:"id"`
	SerialNumber          string        `json:"serial_number"`
	PartID                int64         `json:"part_id"`
	Revision              string        `json:"revision,omitempty"`
	LocationID            *int64        `json:"location_id,omitempty"`
	ParentID              *int64        `json:"parent_id,omitempty"`
	BuildID               *int64        `json:"build_id,omitempty"`
	DeploymentID          *int64        `json:"deployment_id,omitempty"`
	AssemblyPartID        *int64        `json:"assembly_part_id,omitempty"`
	MooringPartID         *int64        `json:"mooring_part_id,omitempty"`
	AssignedDestinationID *int64        `json:"assigned_destination_root_id,omitempty"`
	TestType              string        `json:"test_type,omitempty"`
	TestResult            *bool         `json:"test_result,omitempty"`
	Flag                  bool          `json:"flag"`
	TimeAtSea             time.Duration `json:"time_at_sea"`
	Detail                string        `json:"detail,omitempty"`
	ImageMime             string        `json:"image_mime,omitempty"`
	Version               int64         `json:"version"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`

	// Joined fields (not always populated).
	PartName     string `json:"part_name,omitempty"`
	LocationName string `json:"location_name,omitempty"`
}

// InventoryFields are the user-editable attributes of an inventory item.
// Field-change history is computed from a before/after pair of these.
type InventoryFields struct {
	SerialNumber string `json:"serial_number"`
	Revision     string `json:"revision"`
	Detail       string `json:"detail"`
}

// Fields returns the editable attributes of the item.
func (i *Inventory) Fields() InventoryFields {
	return InventoryFields{SerialNumber: i.SerialNumber, Revision: i.Revision, Detail: i.Detail}
}

// InventoryDeployment tracks one inventory item's phases within a
// deployment, independently of the build-level dates.
type InventoryDeployment struct {
	ID                int64    `json:"id"`
	InventoryID       int64    `json:"inventory_id"`
	DeploymentID      int64    `json:"deployment_id"`
	CruiseDeployedID  *int64   `json:"cruise_deployed_id,omitempty"`
	CruiseRecoveredID *int64   `json:"cruise_recovered_id,omitempty"`
	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
	Depth             *int     `json:"depth,omitempty"`
	PhaseDates
}

// Active reports whether the record has not been retired.
func (d *InventoryDeployment) Active() bool {
	return d.RetireDate == nil
}
