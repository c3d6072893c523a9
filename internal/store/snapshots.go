package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/rdb/internal/model"
)

// CreateBuildSnapshot inserts the header row of a build snapshot.
func CreateBuildSnapshot(ctx context.Context, q Querier, s model.BuildSnapshot) (*model.BuildSnapshot, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO build_snapshots (build_id, deployment_id, location_id, detail) VALUES (?, ?, ?, ?)`,
		s.BuildID, s.DeploymentID, s.LocationID, s.Detail,
	)
	if err != nil {
		return nil, fmt.Errorf("creating build snapshot: %w", err)
	}
	id, err := lastID(result, "build snapshot")
	if err != nil {
		return nil, err
	}
	return GetBuildSnapshot(ctx, q, id)
}

const buildSnapshotColumns = `id, build_id, deployment_id, location_id, detail, created_at`

func scanBuildSnapshot(s scanner) (*model.BuildSnapshot, error) {
	bs := &model.BuildSnapshot{}
	var detail sql.NullString
	if err := s.Scan(&bs.ID, &bs.BuildID, &bs.DeploymentID, &bs.LocationID, &detail, &bs.CreatedAt); err != nil {
		return nil, err
	}
	bs.Detail = detail.String
	return bs, nil
}

// GetBuildSnapshot returns a build snapshot by ID.
func GetBuildSnapshot(ctx context.Context, q Querier, id int64) (*model.BuildSnapshot, error) {
	bs, err := scanBuildSnapshot(q.QueryRowContext(ctx,
		`SELECT `+buildSnapshotColumns+` FROM build_snapshots WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting build snapshot: %w", err)
	}
	return bs, nil
}

// ListBuildSnapshots returns the snapshots of a build, newest first.
func ListBuildSnapshots(ctx context.Context, q Querier, buildID int64) ([]model.BuildSnapshot, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+buildSnapshotColumns+` FROM build_snapshots WHERE build_id = ? ORDER BY id DESC`, buildID)
	if err != nil {
		return nil, fmt.Errorf("listing build snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.BuildSnapshot
	for rows.Next() {
		bs, err := scanBuildSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build snapshot: %w", err)
		}
		snapshots = append(snapshots, *bs)
	}
	return snapshots, rows.Err()
}

// CreateInventorySnapshot inserts one node of a snapshot tree.
func CreateInventorySnapshot(ctx context.Context, q Querier, s model.InventorySnapshot) (*model.InventorySnapshot, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO inventory_snapshots (snapshot_id, inventory_id, parent_id, location_id, assembly_part_id, sort_order)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.SnapshotID, s.InventoryID, s.ParentID, s.LocationID, s.AssemblyPartID, s.SortOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("creating inventory snapshot: %w", err)
	}
	id, err := lastID(result, "inventory snapshot")
	if err != nil {
		return nil, err
	}
	s.ID = id
	return &s, nil
}

// ListInventorySnapshots returns the nodes of a snapshot in tree order.
func ListInventorySnapshots(ctx context.Context, q Querier, snapshotID int64) ([]model.InventorySnapshot, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT s.id, s.snapshot_id, s.inventory_id, s.parent_id, s.location_id, s.assembly_part_id,
		        s.sort_order, s.level, inv.serial_number
		 FROM inventory_snapshots s JOIN inventory inv ON inv.id = s.inventory_id
		 WHERE s.snapshot_id = ? ORDER BY s.tree_id, s.lft, s.id`, snapshotID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing inventory snapshots: %w", err)
	}
	defer rows.Close()

	var nodes []model.InventorySnapshot
	for rows.Next() {
		var n model.InventorySnapshot
		if err := rows.Scan(&n.ID, &n.SnapshotID, &n.InventoryID, &n.ParentID, &n.LocationID,
			&n.AssemblyPartID, &n.SortOrder, &n.Level, &n.SerialNumber); err != nil {
			return nil, fmt.Errorf("scanning inventory snapshot: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// CountInventorySnapshotRefs returns how many snapshot nodes copy an item.
func CountInventorySnapshotRefs(ctx context.Context, q Querier, inventoryID int64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inventory_snapshots WHERE inventory_id = ?`, inventoryID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting snapshot references: %w", err)
	}
	return n, nil
}
