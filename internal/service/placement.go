package service

import (
	"context"

	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

// moveTree places root at p and carries its descendants along, so a
// subtree always shares the location, build and deployment of its root.
func (o *op) moveTree(ctx context.Context, root *model.Inventory, version int64, p store.Placement, trash bool) error {
	if err := o.place(ctx, root, version, p, trash); err != nil {
		return err
	}

	ids, err := o.descendants(ctx, root.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		d, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}
		dp := store.PlacementOf(d)
		dp.LocationID, dp.BuildID, dp.DeploymentID = p.LocationID, p.BuildID, p.DeploymentID
		if p.BuildID == nil {
			dp.AssemblyPartID = nil
		}
		if err := o.place(ctx, d, d.Version, dp, trash); err != nil {
			return err
		}
	}

	_, err = tree.Rebuild(ctx, o.tx, tree.Inventory)
	return err
}

// place writes one item's new placement and records what changed. The
// location change is carried by the first structural record; a plain
// location_change is written only when nothing else changed.
func (o *op) place(ctx context.Context, inv *model.Inventory, version int64, p store.Placement, trash bool) error {
	old := store.PlacementOf(inv)
	if err := store.UpdateInventoryPlacement(ctx, o.tx, inv.ID, version, p); err != nil {
		return err
	}

	subject := model.InventorySubject(inv.ID)
	var oldLocation *int64
	if !sameID(old.LocationID, p.LocationID) {
		oldLocation = old.LocationID
	}

	if trash {
		if err := o.record(ctx, history.Request{
			Subject: subject,
			Kind:    model.ActionMoveToTrash,
			Change:  history.Change{OldLocationID: oldLocation, OldBuildID: old.BuildID},
		}); err != nil {
			return err
		}
		if sameID(old.ParentID, p.ParentID) {
			return nil
		}
		return o.record(ctx, history.Request{
			Subject: subject,
			Kind:    model.ActionSubassemblyChange,
			Change:  history.Change{OldParentID: old.ParentID},
		})
	}

	if !sameID(old.ParentID, p.ParentID) {
		if err := o.record(ctx, history.Request{
			Subject: subject,
			Kind:    model.ActionSubassemblyChange,
			Change:  history.Change{OldLocationID: oldLocation, OldParentID: old.ParentID},
		}); err != nil {
			return err
		}
		oldLocation = nil
	}

	if !sameID(old.BuildID, p.BuildID) {
		if old.BuildID != nil {
			if err := o.record(ctx, history.Request{
				Subject: subject,
				Kind:    model.ActionRemoveFromBuild,
				Change:  history.Change{OldLocationID: oldLocation, OldBuildID: old.BuildID},
			}); err != nil {
				return err
			}
			oldLocation = nil
		}
		if p.BuildID != nil {
			if err := o.record(ctx, history.Request{
				Subject: subject,
				Kind:    model.ActionAddToBuild,
				Change:  history.Change{OldLocationID: oldLocation},
			}); err != nil {
				return err
			}
			oldLocation = nil
		}
	}

	if oldLocation == nil {
		return nil
	}
	return o.record(ctx, history.Request{
		Subject: subject,
		Kind:    model.ActionLocationChange,
		Change:  history.Change{OldLocationID: oldLocation},
	})
}

// descendants lists the live subtree below id, parents first. Parent
// pointers are followed directly since the nested-set numbering may be
// stale inside a transaction that has just restructured the tree.
func (o *op) descendants(ctx context.Context, id int64) ([]int64, error) {
	var out []int64
	seen := map[int64]bool{id: true}
	queue := []int64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := tree.Children(ctx, o.tx, tree.Inventory, cur)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if seen[c] {
				return nil, tree.ErrCycle
			}
			seen[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out, nil
}

// followLocation moves the descendants of id to location, recording a
// location change on each item that moved.
func (o *op) followLocation(ctx context.Context, id int64, location *int64) error {
	ids, err := o.descendants(ctx, id)
	if err != nil {
		return err
	}
	for _, did := range ids {
		d, err := o.inventory(ctx, did)
		if err != nil {
			return err
		}
		if sameID(d.LocationID, location) {
			continue
		}
		p := store.PlacementOf(d)
		p.LocationID = location
		if err := o.place(ctx, d, d.Version, p, false); err != nil {
			return err
		}
	}
	return nil
}
