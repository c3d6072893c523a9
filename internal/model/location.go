package model

import "time"

// Location is a node of the physical location hierarchy.
type Location struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	Level     int       `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// Part is a catalogue entry that inventory items and template slots refer to.
type Part struct {
	ID         int64  `json:"id"`
	PartNumber string `json:"part_number"`
	Name       string `json:"name"`
}

// Assembly is a build template made of an AssemblyPart tree.
type Assembly struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	AssemblyNumber string    `json:"assembly_number,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AssemblyPart is one slot of an assembly template.
type AssemblyPart struct {
	ID         int64  `json:"id"`
	AssemblyID int64  `json:"assembly_id"`
	PartID     int64  `json:"part_id"`
	ParentID   *int64 `json:"parent_id,omitempty"`
	SortOrder  int    `json:"sort_order"`
	Note       string `json:"note,omitempty"`
	Level      int    `json:"level"`
}

// MooringPart is one slot of a mooring template attached to a location.
type MooringPart struct {
	ID         int64  `json:"id"`
	LocationID int64  `json:"location_id"`
	PartID     int64  `json:"part_id"`
	ParentID   *int64 `json:"parent_id,omitempty"`
	SortOrder  int    `json:"sort_order"`
	Level      int    `json:"level"`
}
