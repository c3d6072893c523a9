package model

import (
	"fmt"
	"time"
)

// ActionKind tags what kind of state transition an Action records.
type ActionKind string

// Action kinds.
const (
	ActionAdd               ActionKind = "add"
	ActionUpdate            ActionKind = "update"
	ActionLocationChange    ActionKind = "location_change"
	ActionSubassemblyChange ActionKind = "subassembly_change"
	ActionAddToBuild        ActionKind = "add_to_build"
	ActionRemoveFromBuild   ActionKind = "remove_from_build"
	ActionStartDeployment   ActionKind = "start_deployment"
	ActionDeploymentBurnin  ActionKind = "deployment_burnin"
	ActionDeploymentToField ActionKind = "deployment_to_field"
	ActionDeploymentRecover ActionKind = "deployment_recover"
	ActionDeploymentRetire  ActionKind = "deployment_retire"
	ActionAssignDestination ActionKind = "assign_dest"
	ActionRemoveDestination ActionKind = "remove_dest"
	ActionTest              ActionKind = "test"
	ActionNote              ActionKind = "note"
	ActionFlag              ActionKind = "flag"
	ActionFieldChange       ActionKind = "field_change"
	ActionMoveToTrash       ActionKind = "move_to_trash"
	ActionRetireBuild       ActionKind = "retire_build"
	ActionReviewApprove     ActionKind = "review_approve"
	ActionEventApprove      ActionKind = "event_approve"
	ActionCSVImport         ActionKind = "csv_import"
	ActionCSVUpdate         ActionKind = "csv_update"
)

var actionKinds = map[ActionKind]string{
	ActionAdd:               "Add",
	ActionUpdate:            "Update",
	ActionLocationChange:    "Location Change",
	ActionSubassemblyChange: "Subassembly Change",
	ActionAddToBuild:        "Add to Build",
	ActionRemoveFromBuild:   "Remove from Build",
	ActionStartDeployment:   "Start Deployment",
	ActionDeploymentBurnin:  "Deployment Burnin",
	ActionDeploymentToField: "Deployment to Field",
	ActionDeploymentRecover: "Deployment Recovered",
	ActionDeploymentRetire:  "Deployment Retired",
	ActionAssignDestination: "Assign Destination",
	ActionRemoveDestination: "Remove Destination",
	ActionTest:              "Test",
	ActionNote:              "Note",
	ActionFlag:              "Flag",
	ActionFieldChange:       "Field Change",
	ActionMoveToTrash:       "Move to Trash",
	ActionRetireBuild:       "Retire Build",
	ActionReviewApprove:     "Reviewer Approved",
	ActionEventApprove:      "Event Approved",
	ActionCSVImport:         "CSV Import",
	ActionCSVUpdate:         "CSV Update",
}

// Valid reports whether k is a declared action kind.
func (k ActionKind) Valid() bool {
	_, ok := actionKinds[k]
	return ok
}

// Display returns the human readable name of the kind.
func (k ActionKind) Display() string {
	if name, ok := actionKinds[k]; ok {
		return name
	}
	return string(k)
}

// IsDeploymentPhase reports whether k is one of the deployment lifecycle kinds.
func (k ActionKind) IsDeploymentPhase() bool {
	switch k {
	case ActionStartDeployment, ActionDeploymentBurnin, ActionDeploymentToField,
		ActionDeploymentRecover, ActionDeploymentRetire:
		return true
	}
	return false
}

// SubjectType tags the kind of object an Action belongs to.
type SubjectType string

// Subject types.
const (
	SubjectInventory  SubjectType = "inventory"
	SubjectBuild      SubjectType = "build"
	SubjectDeployment SubjectType = "deployment"
	SubjectLocation   SubjectType = "location"
	SubjectEvent      SubjectType = "event"
)

// Subject identifies exactly one owning object of an Action.
type Subject struct {
	Type SubjectType `json:"type"`
	ID   int64       `json:"id"`
}

// InventorySubject returns the subject for an inventory item.
func InventorySubject(id int64) Subject { return Subject{Type: SubjectInventory, ID: id} }

// BuildSubject returns the subject for a build.
func BuildSubject(id int64) Subject { return Subject{Type: SubjectBuild, ID: id} }

// DeploymentSubject returns the subject for a deployment.
func DeploymentSubject(id int64) Subject { return Subject{Type: SubjectDeployment, ID: id} }

// LocationSubject returns the subject for a location.
func LocationSubject(id int64) Subject { return Subject{Type: SubjectLocation, ID: id} }

// EventSubject returns the subject for a calibration or config event.
func EventSubject(id int64) Subject { return Subject{Type: SubjectEvent, ID: id} }

func (s Subject) String() string {
	return fmt.Sprintf("%s:%d", s.Type, s.ID)
}

// Valid reports whether the subject names a known type and a positive ID.
func (s Subject) Valid() bool {
	switch s.Type {
	case SubjectInventory, SubjectBuild, SubjectDeployment, SubjectLocation, SubjectEvent:
		return s.ID > 0
	}
	return false
}

// DeploymentType distinguishes whole-build deployments from individually
// deployed inventory items.
type DeploymentType string

// Deployment types.
const (
	DeploymentTypeBuild     DeploymentType = "build"
	DeploymentTypeInventory DeploymentType = "inventory"
)

// Action is an immutable audit record of one state transition.
type Action struct {
	ID                    int64          `json:"id"`
	Seq                   int64          `json:"seq"`
	Kind                  ActionKind     `json:"action_type"`
	Subject               Subject        `json:"subject"`
	Detail                string         `json:"detail"`
	UserID                *int64         `json:"user_id,omitempty"`
	LocationID            *int64         `json:"location_id,omitempty"`
	DeploymentType        DeploymentType `json:"deployment_type,omitempty"`
	ParentID              *int64         `json:"parent_id,omitempty"`
	BuildID               *int64         `json:"build_id,omitempty"`
	DeploymentID          *int64         `json:"deployment_id,omitempty"`
	InventoryDeploymentID *int64         `json:"inventory_deployment_id,omitempty"`
	CruiseID              *int64         `json:"cruise_id,omitempty"`
	Latitude              *float64       `json:"latitude,omitempty"`
	Longitude             *float64       `json:"longitude,omitempty"`
	Depth                 *int           `json:"depth,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`

	// Joined fields (not always populated).
	Username     string `json:"username,omitempty"`
	LocationName string `json:"location_name,omitempty"`
}

// ActionFilter narrows action listings. Zero values match everything.
type ActionFilter struct {
	Subject      *Subject
	Kind         ActionKind
	BuildID      int64
	DeploymentID int64
	Limit        int
}
