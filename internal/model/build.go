package model

import "time"

// Build is a physical assembly instantiated from an Assembly template.
type Build struct {
	ID          int64     `json:"id"`
	BuildNumber string    `json:"build_number"`
	AssemblyID  *int64    `json:"assembly_id,omitempty"`
	LocationID  *int64    `json:"location_id,omitempty"`
	IsDeployed  bool      `json:"is_deployed"`
	Detail      string    `json:"detail,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Joined fields (not always populated).
	LocationName string `json:"location_name,omitempty"`
}

// BuildSnapshot is a point-in-time copy of a build's inventory tree.
type BuildSnapshot struct {
	ID           int64     `json:"id"`
	BuildID      int64     `json:"build_id"`
	DeploymentID *int64    `json:"deployment_id,omitempty"`
	LocationID   *int64    `json:"location_id,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// InventorySnapshot is one node of a BuildSnapshot's copied inventory tree.
type InventorySnapshot struct {
	ID             int64  `json:"id"`
	SnapshotID     int64  `json:"snapshot_id"`
	InventoryID    int64  `json:"inventory_id"`
	ParentID       *int64 `json:"parent_id,omitempty"`
	LocationID     *int64 `json:"location_id,omitempty"`
	AssemblyPartID *int64 `json:"assembly_part_id,omitempty"`
	SortOrder      int    `json:"sort_order"`
	Level          int    `json:"level"`

	// Joined fields (not always populated).
	SerialNumber string `json:"serial_number,omitempty"`
}
