package snapshot

import (
	"context"
	"fmt"

	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

// AssemblyCloner copies assembly template slots into another assembly.
type AssemblyCloner struct {
	Q                store.Querier
	TargetAssemblyID int64
}

func (c *AssemblyCloner) Children(ctx context.Context, id int64) ([]int64, error) {
	return tree.Children(ctx, c.Q, tree.AssemblyParts, id)
}

func (c *AssemblyCloner) Clone(ctx context.Context, id int64, parent *int64) (int64, bool, error) {
	src, err := store.GetAssemblyPart(ctx, c.Q, id)
	if err != nil {
		return 0, false, err
	}
	if src == nil {
		return 0, false, fmt.Errorf("assembly part %d not found", id)
	}
	dst, err := store.CreateAssemblyPart(ctx, c.Q, model.AssemblyPart{
		AssemblyID: c.TargetAssemblyID,
		PartID:     src.PartID,
		ParentID:   parent,
		SortOrder:  src.SortOrder,
		Note:       src.Note,
	})
	if err != nil {
		return 0, false, err
	}
	return dst.ID, true, nil
}

// MooringCloner copies a mooring template to another location.
type MooringCloner struct {
	Q                store.Querier
	TargetLocationID int64
}

func (c *MooringCloner) Children(ctx context.Context, id int64) ([]int64, error) {
	return tree.Children(ctx, c.Q, tree.MooringParts, id)
}

func (c *MooringCloner) Clone(ctx context.Context, id int64, parent *int64) (int64, bool, error) {
	src, err := store.GetMooringPart(ctx, c.Q, id)
	if err != nil {
		return 0, false, err
	}
	if src == nil {
		return 0, false, fmt.Errorf("mooring part %d not found", id)
	}
	dst, err := store.CreateMooringPart(ctx, c.Q, model.MooringPart{
		LocationID: c.TargetLocationID,
		PartID:     src.PartID,
		ParentID:   parent,
		SortOrder:  src.SortOrder,
	})
	if err != nil {
		return 0, false, err
	}
	return dst.ID, true, nil
}

// InventoryCloner records an inventory tree into a build snapshot. When
// AssemblyID is set, items whose slot belongs to a different assembly
// have no place in the snapshot and are skipped with their subtree.
type InventoryCloner struct {
	Q          store.Querier
	SnapshotID int64
	AssemblyID *int64
	LocationID *int64

	order int
}

func (c *InventoryCloner) Children(ctx context.Context, id int64) ([]int64, error) {
	return tree.Children(ctx, c.Q, tree.Inventory, id)
}

func (c *InventoryCloner) Clone(ctx context.Context, id int64, parent *int64) (int64, bool, error) {
	inv, err := store.GetInventory(ctx, c.Q, id)
	if err != nil {
		return 0, false, err
	}
	if inv == nil {
		return 0, false, fmt.Errorf("inventory %d not found", id)
	}

	if c.AssemblyID != nil && inv.AssemblyPartID != nil {
		slot, err := store.GetAssemblyPart(ctx, c.Q, *inv.AssemblyPartID)
		if err != nil {
			return 0, false, err
		}
		if slot == nil || slot.AssemblyID != *c.AssemblyID {
			return 0, false, nil
		}
	}

	location := c.LocationID
	if location == nil {
		location = inv.LocationID
	}
	c.order++
	node, err := store.CreateInventorySnapshot(ctx, c.Q, model.InventorySnapshot{
		SnapshotID:     c.SnapshotID,
		InventoryID:    inv.ID,
		ParentID:       parent,
		LocationID:     location,
		AssemblyPartID: inv.AssemblyPartID,
		SortOrder:      c.order,
	})
	if err != nil {
		return 0, false, err
	}
	return node.ID, true, nil
}
