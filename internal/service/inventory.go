package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

// NewInventory describes an item to create.
type NewInventory struct {
	SerialNumber string
	PartID       int64
	Revision     string
	LocationID   int64
	ParentID     *int64
	Detail       string
}

// CreateInventory adds an item at a location. With a parent the item is
// installed under it straight away and joins the parent's build.
func (s *Service) CreateInventory(ctx context.Context, actor int64, in NewInventory) (*model.Inventory, *Outcome, error) {
	in.SerialNumber = strings.TrimSpace(in.SerialNumber)
	if in.SerialNumber == "" {
		return nil, nil, fmt.Errorf("%w: serial number is required", ErrInvalid)
	}

	var inv *model.Inventory
	out, err := s.run(ctx, actor, func(o *op) error {
		if _, err := o.part(ctx, in.PartID); err != nil {
			return err
		}
		if _, err := o.location(ctx, in.LocationID); err != nil {
			return err
		}
		if err := o.serialFree(ctx, in.SerialNumber, 0); err != nil {
			return err
		}

		var err error
		inv, err = store.CreateInventory(ctx, o.tx, model.Inventory{
			SerialNumber: in.SerialNumber,
			PartID:       in.PartID,
			Revision:     in.Revision,
			LocationID:   &in.LocationID,
			Detail:       in.Detail,
		})
		if err != nil {
			return err
		}
		if err := o.record(ctx, history.Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionAdd}); err != nil {
			return err
		}

		if in.ParentID != nil {
			if err := o.setParent(ctx, inv, inv.Version, in.ParentID); err != nil {
				return err
			}
		} else if _, err := tree.Rebuild(ctx, o.tx, tree.Inventory); err != nil {
			return err
		}
		inv, err = o.inventory(ctx, inv.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, out, nil
}

func (o *op) serialFree(ctx context.Context, serial string, self int64) error {
	existing, err := store.GetInventoryBySerial(ctx, o.tx, serial)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return fmt.Errorf("%w: serial number %s is already in use", ErrInvalid, serial)
	}
	return nil
}

// MoveInventory moves an item and everything installed in it to another
// location. The item leaves its parent and its build unless the build is
// at the same location.
func (s *Service) MoveInventory(ctx context.Context, actor, id, version, locationID int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		if _, err := o.location(ctx, locationID); err != nil {
			return err
		}
		if inv.LocationID != nil && *inv.LocationID == locationID {
			return nil
		}

		p := store.PlacementOf(inv)
		p.LocationID = &locationID
		p.ParentID = nil
		if inv.BuildID != nil {
			b, err := o.build(ctx, *inv.BuildID)
			if err != nil {
				return err
			}
			if !sameID(b.LocationID, p.LocationID) {
				p.BuildID, p.DeploymentID, p.AssemblyPartID = nil, nil, nil
			}
		}
		return o.moveTree(ctx, inv, version, p, false)
	})
}

// SetInventoryParent installs an item under parentID, or detaches it
// when parentID is nil. An installed item takes on its parent's location,
// build and deployment.
func (s *Service) SetInventoryParent(ctx context.Context, actor, id, version int64, parentID *int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		return o.setParent(ctx, inv, version, parentID)
	})
}

func (o *op) setParent(ctx context.Context, inv *model.Inventory, version int64, parentID *int64) error {
	if sameID(inv.ParentID, parentID) {
		return nil
	}

	p := store.PlacementOf(inv)
	p.ParentID = parentID
	if parentID != nil {
		if *parentID == inv.ID {
			return fmt.Errorf("%w: %s cannot contain itself", ErrInvalidParent, inv.SerialNumber)
		}
		parent, err := o.inventory(ctx, *parentID)
		if err != nil {
			return err
		}
		below, err := tree.IsAncestor(ctx, o.tx, tree.Inventory, inv.ID, parent.ID)
		if errors.Is(err, tree.ErrCycle) || below {
			return fmt.Errorf("%w: %s is installed in %s", ErrInvalidParent, parent.SerialNumber, inv.SerialNumber)
		}
		if err != nil {
			return err
		}
		p.LocationID, p.BuildID, p.DeploymentID = parent.LocationID, parent.BuildID, parent.DeploymentID
		if !sameID(inv.BuildID, parent.BuildID) {
			p.AssemblyPartID = nil
		}
	}
	return o.moveTree(ctx, inv, version, p, false)
}

// AddToBuild installs an item in a build, optionally in one of the slots
// of the build's assembly. The item moves to the build's location and, if
// the build is deployed, joins its deployment.
func (s *Service) AddToBuild(ctx context.Context, actor, id, version, buildID int64, slotID *int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		b, err := o.build(ctx, buildID)
		if err != nil {
			return err
		}
		if inv.BuildID != nil && *inv.BuildID == buildID {
			return fmt.Errorf("%w: %s is already in %s", ErrInvalid, inv.SerialNumber, b.BuildNumber)
		}
		if slotID != nil {
			slot, err := store.GetAssemblyPart(ctx, o.tx, *slotID)
			if err != nil {
				return err
			}
			if slot == nil {
				return notFound("assembly part", *slotID)
			}
			if b.AssemblyID == nil || slot.AssemblyID != *b.AssemblyID {
				return fmt.Errorf("%w: slot %d is not part of %s", ErrInvalid, slot.ID, b.BuildNumber)
			}
		}

		p := store.PlacementOf(inv)
		p.BuildID = &b.ID
		p.AssemblyPartID = slotID
		p.DeploymentID = nil
		if b.LocationID != nil {
			p.LocationID = b.LocationID
		}
		if b.IsDeployed {
			current, err := store.CurrentDeployment(ctx, o.tx, b.ID)
			if err != nil {
				return err
			}
			if current != nil {
				p.DeploymentID = &current.ID
			}
		}
		if inv.ParentID != nil {
			parent, err := o.inventory(ctx, *inv.ParentID)
			if err != nil {
				return err
			}
			if !sameID(parent.BuildID, p.BuildID) {
				p.ParentID = nil
			}
		}
		return o.moveTree(ctx, inv, version, p, false)
	})
}

// RemoveFromBuild takes an item and its subtree out of their build. The
// item stays where it is.
func (s *Service) RemoveFromBuild(ctx context.Context, actor, id, version int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		if inv.BuildID == nil {
			return fmt.Errorf("%w: %s is not in a build", ErrInvalid, inv.SerialNumber)
		}
		return o.removeFromBuild(ctx, inv, version)
	})
}

func (o *op) removeFromBuild(ctx context.Context, inv *model.Inventory, version int64) error {
	p := store.PlacementOf(inv)
	p.BuildID, p.DeploymentID, p.AssemblyPartID = nil, nil, nil
	if inv.ParentID != nil {
		parent, err := o.inventory(ctx, *inv.ParentID)
		if err != nil {
			return err
		}
		if sameID(parent.BuildID, inv.BuildID) {
			p.ParentID = nil
		}
	}
	return o.moveTree(ctx, inv, version, p, false)
}

// MoveToTrash discards an item and its subtree into the trash location.
func (s *Service) MoveToTrash(ctx context.Context, actor, id, version int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		trash, err := o.trash(ctx)
		if err != nil {
			return err
		}
		return o.moveTree(ctx, inv, version, store.Placement{LocationID: &trash.ID}, true)
	})
}

// RecordTest stores a test result on an item.
func (s *Service) RecordTest(ctx context.Context, actor, id int64, testType string, passed bool) (*Outcome, error) {
	if strings.TrimSpace(testType) == "" {
		return nil, fmt.Errorf("%w: test type is required", ErrInvalid)
	}
	return s.run(ctx, actor, func(o *op) error {
		if _, err := o.inventory(ctx, id); err != nil {
			return err
		}
		if err := store.SetInventoryTest(ctx, o.tx, id, strings.TrimSpace(testType), passed); err != nil {
			return err
		}
		return o.record(ctx, history.Request{Subject: model.InventorySubject(id), Kind: model.ActionTest})
	})
}

// SetFlag flags or unflags an item.
func (s *Service) SetFlag(ctx context.Context, actor, id int64, flag bool) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		if inv.Flag == flag {
			return nil
		}
		if err := store.SetInventoryFlag(ctx, o.tx, id, flag); err != nil {
			return err
		}
		return o.record(ctx, history.Request{Subject: model.InventorySubject(id), Kind: model.ActionFlag})
	})
}

// AddNote appends a free-text note to the history of any subject.
func (s *Service) AddNote(ctx context.Context, actor int64, subject model.Subject, text string) (*Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: note text is required", ErrInvalid)
	}
	if !subject.Valid() {
		return nil, fmt.Errorf("%w: subject %s", ErrInvalid, subject)
	}
	return s.run(ctx, actor, func(o *op) error {
		return o.record(ctx, history.Request{Subject: subject, Kind: model.ActionNote, Detail: text})
	})
}

// UpdateInventoryFields edits an item's attributes and records what changed.
func (s *Service) UpdateInventoryFields(ctx context.Context, actor, id, version int64, f model.InventoryFields) (*Outcome, error) {
	f.SerialNumber = strings.TrimSpace(f.SerialNumber)
	if f.SerialNumber == "" {
		return nil, fmt.Errorf("%w: serial number is required", ErrInvalid)
	}
	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		if err := o.serialFree(ctx, f.SerialNumber, id); err != nil {
			return err
		}
		if err := store.UpdateInventoryFields(ctx, o.tx, id, version, f); err != nil {
			return err
		}
		return o.record(ctx, history.Request{
			Subject: model.InventorySubject(id),
			Kind:    model.ActionFieldChange,
			Change:  history.Change{Before: inv.Fields(), After: f},
		})
	})
}

// AssignDestination sets the item an item is meant to be installed under,
// or clears it when destID is nil.
func (s *Service) AssignDestination(ctx context.Context, actor, id int64, destID *int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		if sameID(inv.AssignedDestinationID, destID) {
			return nil
		}
		kind := model.ActionRemoveDestination
		if destID != nil {
			if *destID == id {
				return fmt.Errorf("%w: %s cannot be its own destination", ErrInvalidParent, inv.SerialNumber)
			}
			if _, err := o.inventory(ctx, *destID); err != nil {
				return err
			}
			kind = model.ActionAssignDestination
		}
		if err := store.SetInventoryDestination(ctx, o.tx, id, destID); err != nil {
			return err
		}
		return o.record(ctx, history.Request{Subject: model.InventorySubject(id), Kind: kind})
	})
}

// SetInventoryImage stores an already normalised photo of an item.
func (s *Service) SetInventoryImage(ctx context.Context, actor, id int64, image []byte, mime string) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		if _, err := o.inventory(ctx, id); err != nil {
			return err
		}
		if err := store.SetInventoryImage(ctx, o.tx, id, image, mime); err != nil {
			return err
		}
		return o.record(ctx, history.Request{
			Subject: model.InventorySubject(id),
			Kind:    model.ActionUpdate,
			Detail:  "Photo updated.",
		})
	})
}

// DeleteInventory removes an item that has nothing installed in it. Its
// history is kept; its events are detached and later cleaned up.
func (s *Service) DeleteInventory(ctx context.Context, actor, id int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		children, err := tree.Children(ctx, o.tx, tree.Inventory, id)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: %s still contains %d items", ErrInvalid, inv.SerialNumber, len(children))
		}
		refs, err := store.CountInventorySnapshotRefs(ctx, o.tx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return fmt.Errorf("%w: %s is part of %d snapshots", ErrInvalid, inv.SerialNumber, refs)
		}
		if err := o.record(ctx, history.Request{
			Subject: model.InventorySubject(id),
			Kind:    model.ActionUpdate,
			Detail:  inv.SerialNumber + " deleted.",
		}); err != nil {
			return err
		}
		return store.DeleteInventory(ctx, o.tx, id)
	})
}
