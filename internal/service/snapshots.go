package service

import (
	"context"

	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/snapshot"
	"github.com/erazemk/rdb/internal/store"
)

// CreateBuildSnapshot copies the current inventory tree of a build. Items
// whose slot belongs to another assembly are left out and reported as
// warnings.
func (s *Service) CreateBuildSnapshot(ctx context.Context, actor, buildID int64, detail string) (*model.BuildSnapshot, *Outcome, error) {
	var snap *model.BuildSnapshot
	out, err := s.run(ctx, actor, func(o *op) error {
		b, err := o.build(ctx, buildID)
		if err != nil {
			return err
		}
		var depID *int64
		if b.IsDeployed {
			current, err := store.CurrentDeployment(ctx, o.tx, b.ID)
			if err != nil {
				return err
			}
			if current != nil {
				depID = &current.ID
			}
		}
		snap, err = o.takeSnapshot(ctx, b, depID, detail)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, out, nil
}

// CreateDeploymentSnapshot copies the inventory tree of the build a
// deployment belongs to and ties the copy to that deployment.
func (s *Service) CreateDeploymentSnapshot(ctx context.Context, actor, deploymentID int64, detail string) (*model.BuildSnapshot, *Outcome, error) {
	var snap *model.BuildSnapshot
	out, err := s.run(ctx, actor, func(o *op) error {
		dep, err := o.deployment(ctx, deploymentID)
		if err != nil {
			return err
		}
		b, err := o.build(ctx, dep.BuildID)
		if err != nil {
			return err
		}
		snap, err = o.takeSnapshot(ctx, b, &dep.ID, detail)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, out, nil
}

func (o *op) takeSnapshot(ctx context.Context, b *model.Build, depID *int64, detail string) (*model.BuildSnapshot, error) {
	snap, res, err := snapshot.Build(ctx, o.tx, b, depID, detail)
	if err != nil {
		return nil, err
	}
	o.skipped(res)
	return snap, nil
}
