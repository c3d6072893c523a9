package snapshot

import (
	"context"
	"fmt"

	"github.com/erazemk/rdb/internal/metrics"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

// copyRoots copies several trees with one cloner, then renumbers kind.
func copyRoots(ctx context.Context, q store.Querier, c Cloner, roots []int64, parent *int64, kind tree.Kind) (*Result, error) {
	total := &Result{Mapping: make(map[int64]int64)}
	for _, root := range roots {
		res, err := CopySubtree(ctx, c, root, parent)
		if err != nil {
			return nil, err
		}
		for k, v := range res.Mapping {
			total.Mapping[k] = v
		}
		total.Created += res.Created
		total.Skipped = append(total.Skipped, res.Skipped...)
		if total.RootID == 0 {
			total.RootID = res.RootID
		}
	}
	if _, err := tree.Rebuild(ctx, q, kind); err != nil {
		return nil, err
	}
	metrics.SnapshotsSkipped.Add(float64(len(total.Skipped)))
	return total, nil
}

// Build records the current inventory tree of a build as a new snapshot.
func Build(ctx context.Context, q store.Querier, b *model.Build, deploymentID *int64, detail string) (*model.BuildSnapshot, *Result, error) {
	snap, err := store.CreateBuildSnapshot(ctx, q, model.BuildSnapshot{
		BuildID:      b.ID,
		DeploymentID: deploymentID,
		LocationID:   b.LocationID,
		Detail:       detail,
	})
	if err != nil {
		return nil, nil, err
	}

	items, err := store.ListBuildInventory(ctx, q, b.ID)
	if err != nil {
		return nil, nil, err
	}
	inBuild := make(map[int64]bool, len(items))
	for _, item := range items {
		inBuild[item.ID] = true
	}
	var roots []int64
	for _, item := range items {
		if item.ParentID == nil || !inBuild[*item.ParentID] {
			roots = append(roots, item.ID)
		}
	}

	c := &InventoryCloner{Q: q, SnapshotID: snap.ID, AssemblyID: b.AssemblyID, LocationID: b.LocationID}
	res, err := copyRoots(ctx, q, c, roots, nil, tree.InventorySnapshots)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshotting build %s: %w", b.BuildNumber, err)
	}
	return snap, res, nil
}

// CopyAssembly copies every slot of one assembly template into another.
func CopyAssembly(ctx context.Context, q store.Querier, from, to int64) (*Result, error) {
	parts, err := store.ListAssemblyParts(ctx, q, from)
	if err != nil {
		return nil, err
	}
	var roots []int64
	for _, p := range parts {
		if p.ParentID == nil {
			roots = append(roots, p.ID)
		}
	}

	res, err := copyRoots(ctx, q, &AssemblyCloner{Q: q, TargetAssemblyID: to}, roots, nil, tree.AssemblyParts)
	if err != nil {
		return nil, fmt.Errorf("copying assembly %d: %w", from, err)
	}
	return res, nil
}

// CopyMooring copies the mooring template of one location to another.
func CopyMooring(ctx context.Context, q store.Querier, from, to int64) (*Result, error) {
	parts, err := store.ListMooringParts(ctx, q, from)
	if err != nil {
		return nil, err
	}
	var roots []int64
	for _, p := range parts {
		if p.ParentID == nil {
			roots = append(roots, p.ID)
		}
	}

	res, err := copyRoots(ctx, q, &MooringCloner{Q: q, TargetLocationID: to}, roots, nil, tree.MooringParts)
	if err != nil {
		return nil, fmt.Errorf("copying mooring template of location %d: %w", from, err)
	}
	return res, nil
}
