package history

import (
	"context"
	"fmt"

	"github.com/erazemk/rdb/internal/lifecycle"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

func (r *run) build(ctx context.Context, req Request, depth int) error {
	b, err := store.GetBuild(ctx, r.q, req.Subject.ID)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("recording %s: %w: %s", req.Kind, ErrSubjectNotFound, req.Subject)
	}

	a := r.base(req)
	a.LocationID = b.LocationID
	a.BuildID = &b.ID

	switch req.Kind {
	case model.ActionAdd:
		a.Detail = r.labels.Get(model.LabelBuild) + " first added."
		return r.persist(ctx, a)

	case model.ActionLocationChange:
		if a.Detail, err = r.movedDetail(ctx, b.LocationID, req.Change.OldLocationID); err != nil {
			return err
		}
		if err := r.persist(ctx, a); err != nil {
			return err
		}
		return r.cascadeMembers(ctx, req, b, model.ActionLocationChange, depth)

	case model.ActionSubassemblyChange:
		if req.Referrer == nil {
			break
		}
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

	case model.ActionStartDeployment, model.ActionDeploymentBurnin, model.ActionDeploymentToField,
		model.ActionDeploymentRecover, model.ActionDeploymentRetire:
		return r.buildPhase(ctx, req, b, a, depth)

	case model.ActionRetireBuild:
		a.Detail = r.buildName(b) + " retired."
		return r.persist(ctx, a)

	case model.ActionFieldChange:
		diff, err := fieldDiff(req.Change.Before, req.Change.After)
		if err != nil || diff == "" {
			return err
		}
		a.Detail = diff
		return r.persist(ctx, a)

	case model.ActionCSVImport, model.ActionCSVUpdate:
		a.Detail = csvDetail(r.labels.Get(model.LabelBuild), req.Kind, req.Detail)
		return r.persist(ctx, a)
	}

	if a.Detail == "" {
		a.Detail = b.Detail
	}
	return r.persist(ctx, a)
}

// buildPhase records a whole-build deployment transition on the build, on
// the deployment and on every item in the build.
func (r *run) buildPhase(ctx context.Context, req Request, b *model.Build, a model.Action, depth int) error {
	if err := r.cascadeLocation(ctx, req, b.LocationID, depth); err != nil {
		return err
	}

	depID := req.DeploymentID
	if depID == nil {
		current, err := store.CurrentDeployment(ctx, r.q, b.ID)
		if err != nil {
			return err
		}
		if current != nil {
			depID = &current.ID
		}
	}
	var dep *model.Deployment
	if depID != nil {
		var err error
		if dep, err = store.GetDeployment(ctx, r.q, *depID); err != nil {
			return err
		}
	}
	if dep == nil {
		r.repair(req.Subject, tree.Inventory, "no deployment for "+string(req.Kind))
	}

	phase, _ := lifecycle.PhaseFor(req.Kind)
	detail, err := r.phaseDetail(ctx, phase, dep, req.CruiseID)
	if err != nil {
		return err
	}
	a.Detail = detail
	a.DeploymentID = depID
	a.DeploymentType = model.DeploymentTypeBuild
	if phase == lifecycle.ToField || phase == lifecycle.Recovered {
		a.CruiseID = req.CruiseID
	}
	if phase == lifecycle.ToField {
		a.Latitude, a.Longitude, a.Depth = req.Latitude, req.Longitude, req.Depth
	}
	if err := r.persist(ctx, a); err != nil {
		return err
	}
	if dep == nil {
		return nil
	}

	self := req.Subject
	sub := req.cascade(model.DeploymentSubject(dep.ID), req.Kind)
	sub.Referrer = &self
	sub.DeploymentType = model.DeploymentTypeBuild
	sub.DeploymentID = &dep.ID
	if err := r.record(ctx, sub, depth+1); err != nil {
		return err
	}

	req.DeploymentType = model.DeploymentTypeBuild
	req.DeploymentID = &dep.ID
	return r.cascadeMembers(ctx, req, b, req.Kind, depth)
}

// cascadeMembers repeats kind on every item of the build, passing each
// item its own previous values.
func (r *run) cascadeMembers(ctx context.Context, req Request, b *model.Build, kind model.ActionKind, depth int) error {
	items, err := store.ListBuildInventory(ctx, r.q, b.ID)
	if err != nil {
		return err
	}
	self := req.Subject
	for _, item := range items {
		change, tracked := req.Change.Children[item.ID]
		if kind == model.ActionLocationChange && !tracked {
			continue
		}
		sub := req.cascade(model.InventorySubject(item.ID), kind)
		sub.Referrer = &self
		sub.Change = change
		if err := r.record(ctx, sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) deployment(ctx context.Context, req Request) error {
	dep, err := store.GetDeployment(ctx, r.q, req.Subject.ID)
	if err != nil {
		return err
	}
	if dep == nil {
		return fmt.Errorf("recording %s: %w: %s", req.Kind, ErrSubjectNotFound, req.Subject)
	}

	a := r.base(req)
	a.LocationID = dep.LocationID
	a.BuildID = &dep.BuildID
	a.DeploymentID = &dep.ID

	if phase, ok := lifecycle.PhaseFor(req.Kind); ok {
		if a.Detail, err = r.phaseDetail(ctx, phase, dep, req.CruiseID); err != nil {
			return err
		}
		if phase == lifecycle.ToField || phase == lifecycle.Recovered {
			a.CruiseID = req.CruiseID
		}
		if phase == lifecycle.ToField {
			a.Latitude, a.Longitude, a.Depth = req.Latitude, req.Longitude, req.Depth
		}
		return r.persist(ctx, a)
	}

	switch req.Kind {
	case model.ActionAdd:
		a.Detail = r.labels.Get(model.LabelDeployment) + " first added."
	case model.ActionLocationChange:
		if a.Detail, err = r.movedDetail(ctx, dep.LocationID, req.Change.OldLocationID); err != nil {
			return err
		}
	}
	return r.persist(ctx, a)
}

func (r *run) location(ctx context.Context, req Request) error {
	l, err := store.GetLocation(ctx, r.q, req.Subject.ID)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("recording %s: %w: %s", req.Kind, ErrSubjectNotFound, req.Subject)
	}

	a := r.base(req)
	a.LocationID = &l.ID
	a.ParentID = l.ParentID

	switch req.Kind {
	case model.ActionAdd:
		a.Detail = r.labels.Get(model.LabelLocation) + " first added."
	case model.ActionLocationChange:
		// A location moves by changing its parent location.
		if a.Detail, err = r.movedDetail(ctx, l.ParentID, req.Change.OldParentID); err != nil {
			return err
		}
	}
	return r.persist(ctx, a)
}

func (r *run) event(ctx context.Context, req Request) error {
	ev, err := store.GetEvent(ctx, r.q, req.Subject.ID)
	if err != nil {
		return err
	}
	if ev == nil {
		return fmt.Errorf("recording %s: %w: %s", req.Kind, ErrSubjectNotFound, req.Subject)
	}

	a := r.base(req)
	if ev.InventoryID != nil {
		inv, err := store.GetInventory(ctx, r.q, *ev.InventoryID)
		if err != nil {
			return err
		}
		if inv != nil {
			a.LocationID = inv.LocationID
		}
	}
	if a.DeploymentID == nil {
		a.DeploymentID = ev.DeploymentID
	}

	switch req.Kind {
	case model.ActionAdd:
		a.Detail = ev.Label() + " first added."
	case model.ActionReviewApprove:
		name := "unknown"
		if req.ActorID != nil {
			u, err := store.GetUser(ctx, r.q, *req.ActorID)
			if err != nil {
				return err
			}
			if u != nil {
				name = u.Username
			}
		}
		a.Detail = fmt.Sprintf("Reviewer approved %s: %s", ev.Label(), name)
	case model.ActionEventApprove:
		a.Detail = ev.Label() + " approved."
	case model.ActionCSVImport, model.ActionCSVUpdate:
		a.Detail = csvDetail(ev.Label(), req.Kind, req.Detail)
	case model.ActionFieldChange:
		diff, err := fieldDiff(req.Change.Before, req.Change.After)
		if err != nil || diff == "" {
			return err
		}
		a.Detail = diff
	default:
		if a.Detail == "" {
			a.Detail = ev.Detail
		}
	}
	return r.persist(ctx, a)
}
