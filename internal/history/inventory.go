package history

import (
	"context"
	"fmt"

	"github.com/erazemk/rdb/internal/lifecycle"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

func (r *run) inventory(ctx context.Context, req Request, depth int) error {
	inv, err := store.GetInventory(ctx, r.q, req.Subject.ID)
	if err != nil {
		return err
	}
	if inv == nil {
		return fmt.Errorf("recording %s: %w: %s", req.Kind, ErrSubjectNotFound, req.Subject)
	}

	a := r.base(req)
	a.LocationID = inv.LocationID
	a.ParentID = inv.ParentID
	a.BuildID = inv.BuildID
	if a.DeploymentID == nil {
		a.DeploymentID = inv.DeploymentID
	}

	switch req.Kind {
	case model.ActionAdd:
		a.Detail = r.labels.Get(model.LabelInventory) + " first added."
		return r.persist(ctx, a)

	case model.ActionLocationChange:
		if a.Detail, err = r.movedDetail(ctx, inv.LocationID, req.Change.OldLocationID); err != nil {
			return err
		}
		return r.persist(ctx, a)

	case model.ActionMoveToTrash:
		return r.moveToTrash(ctx, req, inv, a, depth)

	case model.ActionSubassemblyChange:
		return r.subassembly(ctx, req, inv, a, depth)

	case model.ActionAddToBuild, model.ActionRemoveFromBuild:
		return r.buildMembership(ctx, req, inv, a, depth)

	case model.ActionStartDeployment, model.ActionDeploymentBurnin, model.ActionDeploymentToField,
		model.ActionDeploymentRecover, model.ActionDeploymentRetire:
		return r.inventoryPhase(ctx, req, inv, a, depth)

	case model.ActionTest:
		a.Detail = testDetail(inv)
		return r.persist(ctx, a)

	case model.ActionFlag:
		a.Detail = flagDetail(inv.Flag)
		return r.persist(ctx, a)

	case model.ActionAssignDestination:
		if inv.AssignedDestinationID == nil {
			a.Detail = "Destination assigned."
			return r.persist(ctx, a)
		}
		dest, err := r.serial(ctx, *inv.AssignedDestinationID)
		if err != nil {
			return err
		}
		a.Detail = fmt.Sprintf("Destination assigned: %s.", dest)
		return r.persist(ctx, a)

	case model.ActionRemoveDestination:
		a.Detail = "Destination removed."
		return r.persist(ctx, a)

	case model.ActionFieldChange:
		diff, err := fieldDiff(req.Change.Before, req.Change.After)
		if err != nil {
			return err
		}
		if diff == "" {
			return nil
		}
		a.Detail = diff
		return r.persist(ctx, a)

	case model.ActionCSVImport, model.ActionCSVUpdate:
		a.Detail = csvDetail(r.labels.Get(model.LabelInventory), req.Kind, req.Detail)
		return r.persist(ctx, a)
	}

	if a.Detail == "" {
		a.Detail = inv.Detail
	}
	return r.persist(ctx, a)
}

// moveToTrash records the move and takes the item out of the build it was in.
func (r *run) moveToTrash(ctx context.Context, req Request, inv *model.Inventory, a model.Action, depth int) error {
	detail, err := r.movedDetail(ctx, inv.LocationID, req.Change.OldLocationID)
	if err != nil {
		return err
	}
	a.Detail = detail
	if err := r.persist(ctx, a); err != nil {
		return err
	}

	oldBuild := req.Change.OldBuildID
	if oldBuild == nil {
		oldBuild = inv.BuildID
	}
	if oldBuild == nil {
		return nil
	}
	sub := req.cascade(req.Subject, model.ActionRemoveFromBuild)
	// The move itself has been recorded above.
	sub.Change = Change{OldBuildID: oldBuild}
	return r.record(ctx, sub, depth+1)
}

// subassembly records a change of tree parent. Without a referrer the
// subject is the moved child and both parents are notified; with one the
// subject is a parent and the referrer is the child.
func (r *run) subassembly(ctx context.Context, req Request, inv *model.Inventory, a model.Action, depth int) error {
	if err := r.cascadeLocation(ctx, req, inv.LocationID, depth); err != nil {
		return err
	}

	if req.Referrer != nil {
		child, err := r.serial(ctx, req.Referrer.ID)
		if err != nil {
			return err
		}
		verb := "added"
		if req.Removed {
			verb = "removed"
		}
		a.Detail = fmt.Sprintf("Sub-Assembly %s %s.", child, verb)
		return r.persist(ctx, a)
	}

	newParent, oldParent := inv.ParentID, req.Change.OldParentID
	if sameID(newParent, oldParent) {
		oldParent = nil
	}

	var detail string
	if newParent != nil {
		name, err := r.serial(ctx, *newParent)
		if err != nil {
			return err
		}
		detail = fmt.Sprintf("Added to %s.", name)
	}
	if oldParent != nil {
		name, err := r.serial(ctx, *oldParent)
		if err != nil {
			return err
		}
		if detail != "" {
			detail += " "
		}
		detail += fmt.Sprintf("Removed from %s.", name)
	}
	if detail != "" {
		a.Detail = detail
	}
	if err := r.persist(ctx, a); err != nil {
		return err
	}

	self := req.Subject
	if newParent != nil {
		sub := req.cascade(model.InventorySubject(*newParent), model.ActionSubassemblyChange)
		sub.Referrer = &self
		if err := r.record(ctx, sub, depth+1); err != nil {
			return err
		}
	}
	if oldParent != nil {
		sub := req.cascade(model.InventorySubject(*oldParent), model.ActionSubassemblyChange)
		sub.Referrer = &self
		sub.Removed = true
		if err := r.record(ctx, sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// buildMembership records an item joining or leaving a build, and keeps
// the build's history and any running deployment in step.
func (r *run) buildMembership(ctx context.Context, req Request, inv *model.Inventory, a model.Action, depth int) error {
	if err := r.cascadeLocation(ctx, req, inv.LocationID, depth); err != nil {
		return err
	}

	adding := req.Kind == model.ActionAddToBuild
	buildID := inv.BuildID
	if !adding {
		buildID = req.Change.OldBuildID
		if buildID == nil {
			last, err := store.LastAction(ctx, r.q, req.Subject, model.ActionAddToBuild)
			if err != nil {
				return err
			}
			if last != nil {
				buildID = last.BuildID
			}
		}
	}

	var build *model.Build
	if buildID != nil {
		var err error
		if build, err = store.GetBuild(ctx, r.q, *buildID); err != nil {
			return err
		}
	}

	label := r.labels.Get(model.LabelBuild)
	if build == nil {
		reason := "build missing for " + string(req.Kind)
		if buildID == nil {
			reason = "no build history for " + string(req.Kind)
		}
		r.repair(req.Subject, tree.Inventory, reason)
		if adding {
			a.Detail = fmt.Sprintf("Moved to %s.", label)
		} else {
			a.Detail = fmt.Sprintf("Removed from %s.", label)
		}
		a.BuildID = buildID
		return r.persist(ctx, a)
	}

	a.BuildID = &build.ID
	if adding {
		a.Detail = fmt.Sprintf("Moved to %s.", r.buildName(build))
	} else {
		a.Detail = fmt.Sprintf("Removed from %s.", r.buildName(build))
	}
	if err := r.persist(ctx, a); err != nil {
		return err
	}

	if build.IsDeployed {
		current, err := store.CurrentDeployment(ctx, r.q, build.ID)
		if err != nil {
			return err
		}
		if current != nil {
			kinds := []model.ActionKind{model.ActionDeploymentRetire}
			if adding {
				kinds = []model.ActionKind{model.ActionStartDeployment}
				if lifecycle.PhaseOf(current.PhaseDates) == lifecycle.Burnin {
					kinds = append(kinds, model.ActionDeploymentBurnin)
				}
			}
			for _, kind := range kinds {
				sub := req.cascade(req.Subject, kind)
				sub.DeploymentType = model.DeploymentTypeBuild
				sub.DeploymentID = &current.ID
				if err := r.record(ctx, sub, depth+1); err != nil {
					return err
				}
			}
		}
	}

	self := req.Subject
	sub := req.cascade(model.BuildSubject(build.ID), model.ActionSubassemblyChange)
	sub.Referrer = &self
	sub.Removed = !adding
	return r.record(ctx, sub, depth+1)
}

// inventoryPhase moves an item's own deployment record through a phase.
// Item-level deployments are validated; phases cascaded from a build
// deployment are applied as they come, since items may join mid-flight.
func (r *run) inventoryPhase(ctx context.Context, req Request, inv *model.Inventory, a model.Action, depth int) error {
	if err := r.cascadeLocation(ctx, req, inv.LocationID, depth); err != nil {
		return err
	}

	phase, _ := lifecycle.PhaseFor(req.Kind)
	enforce := req.DeploymentType == model.DeploymentTypeInventory

	active, err := store.ActiveInventoryDeployment(ctx, r.q, inv.ID)
	if err != nil {
		return err
	}

	depID := req.DeploymentID
	if depID == nil && active != nil {
		depID = &active.DeploymentID
	}
	if depID == nil {
		depID = inv.DeploymentID
	}

	if phase == lifecycle.Created {
		if depID == nil {
			return fmt.Errorf("starting deployment of %s: %w", inv.SerialNumber, ErrMissingDeployment)
		}
		if active != nil && active.DeploymentID != *depID {
			if enforce {
				return fmt.Errorf("starting deployment of %s: %w", inv.SerialNumber, lifecycle.ErrActiveDeployment)
			}
			r.logger.Warn("closing stale item deployment", "serial", inv.SerialNumber, "deployment_id", active.DeploymentID)
			lifecycle.Apply(&active.PhaseDates, lifecycle.Retired, req.Date)
			if err := store.UpdateInventoryDeployment(ctx, r.q, active); err != nil {
				return err
			}
			active = nil
		}
		if active == nil {
			rec := model.InventoryDeployment{InventoryID: inv.ID, DeploymentID: *depID}
			lifecycle.Apply(&rec.PhaseDates, lifecycle.Created, req.Date)
			if active, err = store.CreateInventoryDeployment(ctx, r.q, rec); err != nil {
				return err
			}
		}
	} else if active == nil {
		r.repair(req.Subject, tree.Inventory, "no active deployment record for "+string(req.Kind))
	} else {
		if enforce {
			if err := lifecycle.Advance(&active.PhaseDates, phase, req.Date); err != nil {
				return fmt.Errorf("%s on %s: %w", req.Kind, inv.SerialNumber, err)
			}
		} else {
			lifecycle.Apply(&active.PhaseDates, phase, req.Date)
		}
		switch phase {
		case lifecycle.ToField:
			active.CruiseDeployedID = req.CruiseID
			active.Latitude, active.Longitude, active.Depth = req.Latitude, req.Longitude, req.Depth
		case lifecycle.Recovered:
			active.CruiseRecoveredID = req.CruiseID
		}
		if err := store.UpdateInventoryDeployment(ctx, r.q, active); err != nil {
			return err
		}
		if phase == lifecycle.Recovered {
			if err := store.AddInventoryTimeAtSea(ctx, r.q, inv.ID, lifecycle.TimeAtSea(active.PhaseDates)); err != nil {
				return err
			}
		}
	}

	var dep *model.Deployment
	if depID != nil {
		if dep, err = store.GetDeployment(ctx, r.q, *depID); err != nil {
			return err
		}
	}
	a.DeploymentID = depID
	if active != nil {
		a.InventoryDeploymentID = &active.ID
	}
	if phase == lifecycle.ToField || phase == lifecycle.Recovered {
		a.CruiseID = req.CruiseID
	}
	if phase == lifecycle.ToField {
		a.Latitude, a.Longitude, a.Depth = req.Latitude, req.Longitude, req.Depth
	}
	if a.Detail, err = r.phaseDetail(ctx, phase, dep, req.CruiseID); err != nil {
		return err
	}
	if err := r.persist(ctx, a); err != nil {
		return err
	}

	// An individually recovered item leaves the build it was deployed with.
	if phase == lifecycle.Recovered && enforce && req.Change.OldBuildID != nil {
		sub := req.cascade(req.Subject, model.ActionRemoveFromBuild)
		sub.Change = Change{OldBuildID: req.Change.OldBuildID}
		return r.record(ctx, sub, depth+1)
	}
	return nil
}
