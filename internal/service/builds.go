package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/lifecycle"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

// CreateBuild adds a build of an assembly at a location.
func (s *Service) CreateBuild(ctx context.Context, actor int64, number string, assemblyID *int64, locationID int64, detail string) (*model.Build, *Outcome, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, nil, fmt.Errorf("%w: build number is required", ErrInvalid)
	}

	var b *model.Build
	out, err := s.run(ctx, actor, func(o *op) error {
		if assemblyID != nil {
			if _, err := o.assembly(ctx, *assemblyID); err != nil {
				return err
			}
		}
		if _, err := o.location(ctx, locationID); err != nil {
			return err
		}
		var err error
		if b, err = store.CreateBuild(ctx, o.tx, number, assemblyID, &locationID, detail); err != nil {
			return err
		}
		return o.record(ctx, history.Request{Subject: model.BuildSubject(b.ID), Kind: model.ActionAdd})
	})
	if err != nil {
		return nil, nil, err
	}
	return b, out, nil
}

// MoveBuild moves a build and every item in it to another location.
func (s *Service) MoveBuild(ctx context.Context, actor, id, version, locationID int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		b, err := o.build(ctx, id)
		if err != nil {
			return err
		}
		if _, err := o.location(ctx, locationID); err != nil {
			return err
		}
		if b.LocationID != nil && *b.LocationID == locationID {
			return nil
		}
		if err := store.UpdateBuildPlacement(ctx, o.tx, b.ID, version, &locationID, b.IsDeployed); err != nil {
			return err
		}
		children, err := o.moveMembers(ctx, b.ID, &locationID, false)
		if err != nil {
			return err
		}
		return o.record(ctx, history.Request{
			Subject: model.BuildSubject(b.ID),
			Kind:    model.ActionLocationChange,
			Change:  history.Change{OldLocationID: b.LocationID, Children: children},
		})
	})
}

// moveMembers moves the items of a build to location and returns the
// location changes of the items that actually moved. With release the
// items also leave the build's deployment.
func (o *op) moveMembers(ctx context.Context, buildID int64, location *int64, release bool) (map[int64]history.Change, error) {
	items, err := store.ListBuildInventory(ctx, o.tx, buildID)
	if err != nil {
		return nil, err
	}
	children := make(map[int64]history.Change, len(items))
	for _, item := range items {
		p := store.PlacementOf(&item)
		var change history.Change
		dirty := false
		if !sameID(item.LocationID, location) {
			change.OldLocationID = item.LocationID
			p.LocationID = location
			dirty = true
		}
		if release && item.DeploymentID != nil {
			p.DeploymentID = nil
			dirty = true
		}
		if dirty {
			if err := store.UpdateInventoryPlacement(ctx, o.tx, item.ID, item.Version, p); err != nil {
				return nil, err
			}
		}
		if change.OldLocationID != nil {
			children[item.ID] = change
		}
	}
	return children, nil
}

// RetireBuild takes every item out of a build that is not deployed and
// marks the build retired in its history.
func (s *Service) RetireBuild(ctx context.Context, actor, id, version int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		b, err := o.build(ctx, id)
		if err != nil {
			return err
		}
		if b.IsDeployed {
			return fmt.Errorf("%w: %s is deployed", lifecycle.ErrActiveDeployment, b.BuildNumber)
		}
		if err := store.UpdateBuildPlacement(ctx, o.tx, b.ID, version, b.LocationID, false); err != nil {
			return err
		}

		items, err := store.ListBuildInventory(ctx, o.tx, b.ID)
		if err != nil {
			return err
		}
		inBuild := make(map[int64]bool, len(items))
		for _, item := range items {
			inBuild[item.ID] = true
		}
		for _, item := range items {
			if item.ParentID != nil && inBuild[*item.ParentID] {
				continue
			}
			// Re-read: an earlier subtree move may have bumped the version.
			cur, err := o.inventory(ctx, item.ID)
			if err != nil {
				return err
			}
			if err := o.removeFromBuild(ctx, cur, cur.Version); err != nil {
				return err
			}
		}
		return o.record(ctx, history.Request{Subject: model.BuildSubject(b.ID), Kind: model.ActionRetireBuild})
	})
}

// NewDeployment describes a deployment to start.
type NewDeployment struct {
	Number          string
	FinalLocationID *int64
	Date            time.Time
}

// StartDeployment opens a new deployment of a build. The build must not
// have another deployment that is still open.
func (s *Service) StartDeployment(ctx context.Context, actor, buildID, version int64, in NewDeployment) (*model.Deployment, *Outcome, error) {
	in.Number = strings.TrimSpace(in.Number)
	if in.Number == "" {
		return nil, nil, fmt.Errorf("%w: deployment number is required", ErrInvalid)
	}
	date := s.dateOr(in.Date)

	var dep *model.Deployment
	out, err := s.run(ctx, actor, func(o *op) error {
		b, err := o.build(ctx, buildID)
		if err != nil {
			return err
		}
		current, err := store.CurrentDeployment(ctx, o.tx, b.ID)
		if err != nil {
			return err
		}
		if err := lifecycle.CanStart(current); err != nil {
			return err
		}
		if in.FinalLocationID != nil {
			if _, err := o.location(ctx, *in.FinalLocationID); err != nil {
				return err
			}
		}

		d := model.Deployment{
			DeploymentNumber: in.Number,
			BuildID:          b.ID,
			LocationID:       b.LocationID,
			FinalLocationID:  in.FinalLocationID,
		}
		lifecycle.Apply(&d.PhaseDates, lifecycle.Created, date)
		if dep, err = store.CreateDeployment(ctx, o.tx, d); err != nil {
			return err
		}
		if err := store.UpdateBuildPlacement(ctx, o.tx, b.ID, version, b.LocationID, true); err != nil {
			return err
		}

		items, err := store.ListBuildInventory(ctx, o.tx, b.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			p := store.PlacementOf(&item)
			p.DeploymentID = &dep.ID
			if err := store.UpdateInventoryPlacement(ctx, o.tx, item.ID, item.Version, p); err != nil {
				return err
			}
		}

		if err := o.record(ctx, history.Request{Subject: model.DeploymentSubject(dep.ID), Kind: model.ActionAdd, Date: date}); err != nil {
			return err
		}
		return o.record(ctx, history.Request{
			Subject:        model.BuildSubject(b.ID),
			Kind:           model.ActionStartDeployment,
			Date:           date,
			DeploymentType: model.DeploymentTypeBuild,
			DeploymentID:   &dep.ID,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return dep, out, nil
}

// Transition moves a deployment, or an individually deployed item, into
// the phase named by Kind.
type Transition struct {
	Kind model.ActionKind
	// Date backdates the transition. Zero means now.
	Date time.Time

	// DeploymentID names the deployment an item joins on start_deployment.
	DeploymentID *int64
	// LocationID is where the build or item is afterwards. For
	// deployment_to_field it defaults to the deployment's final location.
	LocationID *int64
	CruiseID   *int64
	Latitude   *float64
	Longitude  *float64
	Depth      *int
}

func (t Transition) phase() (lifecycle.Phase, error) {
	phase, ok := lifecycle.PhaseFor(t.Kind)
	if !ok {
		return lifecycle.None, fmt.Errorf("%w: %s is not a deployment phase", ErrInvalid, t.Kind)
	}
	if phase == lifecycle.ToField {
		if err := lifecycle.CheckPosition(t.Latitude, t.Longitude); err != nil {
			return lifecycle.None, err
		}
	}
	return phase, nil
}

// TransitionDeployment moves a whole-build deployment into the next phase.
// The deployment, the build's location and every item of the build are
// updated, and the phase is recorded on all of them.
func (s *Service) TransitionDeployment(ctx context.Context, actor, deploymentID, version int64, t Transition) (*model.Deployment, *Outcome, error) {
	phase, err := t.phase()
	if err != nil {
		return nil, nil, err
	}
	if phase == lifecycle.Created {
		return nil, nil, fmt.Errorf("%w: use a new deployment to start", ErrInvalid)
	}
	date := s.dateOr(t.Date)

	var dep *model.Deployment
	out, err := s.run(ctx, actor, func(o *op) error {
		var err error
		if dep, err = o.deployment(ctx, deploymentID); err != nil {
			return err
		}
		if dep.Version != version {
			return fmt.Errorf("updating deployment: %w", store.ErrConflict)
		}
		if err := lifecycle.Advance(&dep.PhaseDates, phase, date); err != nil {
			return err
		}
		b, err := o.build(ctx, dep.BuildID)
		if err != nil {
			return err
		}
		if err := o.checkCruise(ctx, t.CruiseID); err != nil {
			return err
		}

		location := b.LocationID
		if t.LocationID != nil {
			location = t.LocationID
		}
		switch phase {
		case lifecycle.ToField:
			if t.LocationID == nil && dep.FinalLocationID != nil {
				location = dep.FinalLocationID
			}
			dep.CruiseDeployedID = t.CruiseID
			dep.Latitude, dep.Longitude, dep.Depth = t.Latitude, t.Longitude, t.Depth
		case lifecycle.Recovered:
			dep.CruiseRecoveredID = t.CruiseID
		}
		if location != nil {
			if _, err := o.location(ctx, *location); err != nil {
				return err
			}
		}
		dep.LocationID = location

		if err := store.UpdateDeployment(ctx, o.tx, dep); err != nil {
			return err
		}
		retired := phase == lifecycle.Retired
		if err := store.UpdateBuildPlacement(ctx, o.tx, b.ID, b.Version, location, !retired); err != nil {
			return err
		}
		children, err := o.moveMembers(ctx, b.ID, location, retired)
		if err != nil {
			return err
		}

		change := history.Change{Children: children}
		if !sameID(b.LocationID, location) {
			change.OldLocationID = b.LocationID
		}
		return o.record(ctx, history.Request{
			Subject:        model.BuildSubject(b.ID),
			Kind:           t.Kind,
			Date:           date,
			DeploymentType: model.DeploymentTypeBuild,
			DeploymentID:   &dep.ID,
			CruiseID:       t.CruiseID,
			Latitude:       t.Latitude,
			Longitude:      t.Longitude,
			Depth:          t.Depth,
			Change:         change,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return dep, out, nil
}

// TransitionInventory moves an individually deployed item into the next
// phase. An item recovered on its own leaves the build it was deployed
// with; whatever is installed in it follows it to its new location.
func (s *Service) TransitionInventory(ctx context.Context, actor, id, version int64, t Transition) (*Outcome, error) {
	phase, err := t.phase()
	if err != nil {
		return nil, err
	}
	date := s.dateOr(t.Date)

	return s.run(ctx, actor, func(o *op) error {
		inv, err := o.inventory(ctx, id)
		if err != nil {
			return err
		}

		active, err := store.ActiveInventoryDeployment(ctx, o.tx, id)
		if err != nil {
			return err
		}
		switch {
		case phase == lifecycle.Created && active != nil:
			return fmt.Errorf("%w: %s", lifecycle.ErrActiveDeployment, inv.SerialNumber)
		case phase != lifecycle.Created && active == nil:
			return fmt.Errorf("%w: %s has no open deployment", lifecycle.ErrInvalidTransition, inv.SerialNumber)
		}
		if err := o.checkCruise(ctx, t.CruiseID); err != nil {
			return err
		}

		p := store.PlacementOf(inv)
		depID := inv.DeploymentID
		if active != nil {
			depID = &active.DeploymentID
		}
		if phase == lifecycle.Created {
			if t.DeploymentID == nil {
				return fmt.Errorf("%w: deployment is required to start", ErrInvalid)
			}
			if _, err := o.deployment(ctx, *t.DeploymentID); err != nil {
				return err
			}
			depID = t.DeploymentID
			p.DeploymentID = depID
		}

		var change history.Change
		if t.LocationID != nil && !sameID(inv.LocationID, t.LocationID) {
			if _, err := o.location(ctx, *t.LocationID); err != nil {
				return err
			}
			change.OldLocationID = inv.LocationID
			p.LocationID = t.LocationID
		}

		detached := false
		if phase == lifecycle.Recovered && inv.BuildID != nil {
			change.OldBuildID = inv.BuildID
			p.BuildID, p.AssemblyPartID, p.DeploymentID = nil, nil, nil
			if inv.ParentID != nil {
				parent, err := o.inventory(ctx, *inv.ParentID)
				if err != nil {
					return err
				}
				if sameID(parent.BuildID, inv.BuildID) {
					p.ParentID = nil
					detached = true
				}
			}
		}
		if phase == lifecycle.Retired {
			p.DeploymentID = nil
		}

		if err := store.UpdateInventoryPlacement(ctx, o.tx, id, version, p); err != nil {
			return err
		}
		if err := o.record(ctx, history.Request{
			Subject:        model.InventorySubject(id),
			Kind:           t.Kind,
			Date:           date,
			DeploymentType: model.DeploymentTypeInventory,
			DeploymentID:   depID,
			CruiseID:       t.CruiseID,
			Latitude:       t.Latitude,
			Longitude:      t.Longitude,
			Depth:          t.Depth,
			Change:         change,
		}); err != nil {
			return err
		}
		if detached {
			if err := o.record(ctx, history.Request{
				Subject: model.InventorySubject(id),
				Kind:    model.ActionSubassemblyChange,
				Change:  history.Change{OldParentID: inv.ParentID},
			}); err != nil {
				return err
			}
		}
		if err := o.followLocation(ctx, id, p.LocationID); err != nil {
			return err
		}
		if detached {
			_, err = tree.Rebuild(ctx, o.tx, tree.Inventory)
		}
		return err
	})
}

func (o *op) checkCruise(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	c, err := store.GetCruise(ctx, o.tx, *id)
	if err != nil {
		return err
	}
	if c == nil {
		return notFound("cruise", *id)
	}
	return nil
}
