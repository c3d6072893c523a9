package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/rdb/internal/model"
)

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const inventoryColumns = `inv.id, inv.serial_number, inv.part_id, inv.revision, inv.location_id, inv.parent_id,
	inv.build_id, inv.deployment_id, inv.assembly_part_id, inv.mooring_part_id,
	inv.assigned_destination_root_id, inv.test_type, inv.test_result, inv.flag, inv.time_at_sea,
	inv.detail, inv.image_mime, inv.version, inv.created_at, inv.updated_at,
	p.name AS part_name, COALESCE(l.name, '') AS location_name`

const inventoryFrom = ` FROM inventory inv
	JOIN parts p ON p.id = inv.part_id
	LEFT JOIN locations l ON l.id = inv.location_id`

func scanInventory(s scanner) (*model.Inventory, error) {
	inv := &model.Inventory{}
	var revision, testType, detail, imageMime sql.NullString
	var timeAtSea int64
	err := s.Scan(&inv.ID, &inv.SerialNumber, &inv.PartID, &revision, &inv.LocationID, &inv.ParentID,
		&inv.BuildID, &inv.DeploymentID, &inv.AssemblyPartID, &inv.MooringPartID,
		&inv.AssignedDestinationID, &testType, &inv.TestResult, &inv.Flag, &timeAtSea,
		&detail, &imageMime, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
		&inv.PartName, &inv.LocationName)
	if err != nil {
		return nil, err
	}
	inv.Revision = revision.String
	inv.TestType = testType.String
	inv.Detail = detail.String
	inv.ImageMime = imageMime.String
	inv.TimeAtSea = time.Duration(timeAtSea) * time.Second
	return inv, nil
}

// CreateInventory inserts a new inventory item at a location.
func CreateInventory(ctx context.Context, q Querier, inv model.Inventory) (*model.Inventory, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO inventory (serial_number, part_id, revision, location_id, parent_id, build_id,
		                        assembly_part_id, mooring_part_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.SerialNumber, inv.PartID, inv.Revision, inv.LocationID, inv.ParentID, inv.BuildID,
		inv.AssemblyPartID, inv.MooringPartID, inv.Detail,
	)
	if err != nil {
		return nil, fmt.Errorf("creating inventory: %w", err)
	}
	id, err := lastID(result, "inventory")
	if err != nil {
		return nil, err
	}
	return GetInventory(ctx, q, id)
}

// GetInventory returns an inventory item by ID.
func GetInventory(ctx context.Context, q Querier, id int64) (*model.Inventory, error) {
	inv, err := scanInventory(q.QueryRowContext(ctx,
		`SELECT `+inventoryColumns+inventoryFrom+` WHERE inv.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting inventory: %w", err)
	}
	return inv, nil
}

// GetInventoryBySerial returns an inventory item by serial number.
func GetInventoryBySerial(ctx context.Context, q Querier, serial string) (*model.Inventory, error) {
	inv, err := scanInventory(q.QueryRowContext(ctx,
		`SELECT `+inventoryColumns+inventoryFrom+` WHERE inv.serial_number = ?`, serial))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting inventory by serial: %w", err)
	}
	return inv, nil
}

// InventoryFilter narrows inventory listings. Zero values match everything.
type InventoryFilter struct {
	LocationID int64
	BuildID    int64
	PartID     int64
	Flagged    bool
}

// ListInventory returns inventory items in tree order.
func ListInventory(ctx context.Context, q Querier, f InventoryFilter) ([]model.Inventory, error) {
	query := `SELECT ` + inventoryColumns + inventoryFrom + ` WHERE 1=1`
	var args []any

	if f.LocationID > 0 {
		query += ` AND inv.location_id = ?`
		args = append(args, f.LocationID)
	}
	if f.BuildID > 0 {
		query += ` AND inv.build_id = ?`
		args = append(args, f.BuildID)
	}
	if f.PartID > 0 {
		query += ` AND inv.part_id = ?`
		args = append(args, f.PartID)
	}
	if f.Flagged {
		query += ` AND inv.flag = 1`
	}
	query += ` ORDER BY inv.tree_id, inv.lft, inv.serial_number`

	return queryInventory(ctx, q, query, args...)
}

// ListBuildInventory returns the items belonging to a build, parents before
// their children.
func ListBuildInventory(ctx context.Context, q Querier, buildID int64) ([]model.Inventory, error) {
	return ListInventory(ctx, q, InventoryFilter{BuildID: buildID})
}

func queryInventory(ctx context.Context, q Querier, query string, args ...any) ([]model.Inventory, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}
	defer rows.Close()

	var items []model.Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning inventory: %w", err)
		}
		items = append(items, *inv)
	}
	return items, rows.Err()
}

// Placement is where an inventory item sits: its location, tree parent,
// build membership and deployment.
type Placement struct {
	LocationID     *int64
	ParentID       *int64
	BuildID        *int64
	DeploymentID   *int64
	AssemblyPartID *int64
}

// PlacementOf returns the current placement of inv.
func PlacementOf(inv *model.Inventory) Placement {
	return Placement{
		LocationID:     inv.LocationID,
		ParentID:       inv.ParentID,
		BuildID:        inv.BuildID,
		DeploymentID:   inv.DeploymentID,
		AssemblyPartID: inv.AssemblyPartID,
	}
}

// UpdateInventoryPlacement moves an item, provided it is still at version.
// Tree ordering is not touched; the caller rebuilds it after structural edits.
func UpdateInventoryPlacement(ctx context.Context, q Querier, id, version int64, p Placement) error {
	result, err := q.ExecContext(ctx,
		`UPDATE inventory SET location_id = ?, parent_id = ?, build_id = ?, deployment_id = ?,
		        assembly_part_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ?`,
		p.LocationID, p.ParentID, p.BuildID, p.DeploymentID, p.AssemblyPartID, id, version,
	)
	if err != nil {
		return fmt.Errorf("updating inventory placement: %w", err)
	}
	return checkVersioned(result, "inventory")
}

// UpdateInventoryFields changes the editable attributes of an item.
func UpdateInventoryFields(ctx context.Context, q Querier, id, version int64, f model.InventoryFields) error {
	result, err := q.ExecContext(ctx,
		`UPDATE inventory SET serial_number = ?, revision = ?, detail = ?,
		        version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ?`,
		f.SerialNumber, f.Revision, f.Detail, id, version,
	)
	if err != nil {
		return fmt.Errorf("updating inventory fields: %w", err)
	}
	return checkVersioned(result, "inventory")
}

// SetInventoryTest stores the latest test result of an item.
func SetInventoryTest(ctx context.Context, q Querier, id int64, testType string, passed bool) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE inventory SET test_type = ?, test_result = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, testType, passed, id,
	); err != nil {
		return fmt.Errorf("setting inventory test: %w", err)
	}
	return nil
}

// SetInventoryFlag turns an item's flag on or off.
func SetInventoryFlag(ctx context.Context, q Querier, id int64, flag bool) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE inventory SET flag = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, flag, id,
	); err != nil {
		return fmt.Errorf("setting inventory flag: %w", err)
	}
	return nil
}

// SetInventoryDestination assigns (or with nil clears) the root item an
// item is destined to be installed under.
func SetInventoryDestination(ctx context.Context, q Querier, id int64, destID *int64) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE inventory SET assigned_destination_root_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, destID, id,
	); err != nil {
		return fmt.Errorf("setting inventory destination: %w", err)
	}
	return nil
}

// AddInventoryTimeAtSea adds d to an item's accumulated time at sea.
func AddInventoryTimeAtSea(ctx context.Context, q Querier, id int64, d time.Duration) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE inventory SET time_at_sea = time_at_sea + ? WHERE id = ?`, int64(d/time.Second), id,
	); err != nil {
		return fmt.Errorf("adding time at sea: %w", err)
	}
	return nil
}

// SetInventoryImage sets an item's photo.
func SetInventoryImage(ctx context.Context, q Querier, id int64, image []byte, mime string) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE inventory SET image = ?, image_mime = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		image, mime, id,
	); err != nil {
		return fmt.Errorf("setting inventory image: %w", err)
	}
	return nil
}

// GetInventoryImage returns an item's photo and MIME type.
func GetInventoryImage(ctx context.Context, q Querier, id int64) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT image, image_mime FROM inventory WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting inventory image: %w", err)
	}
	return image, mime.String, nil
}

// DeleteInventory removes an item. Its history stays behind.
func DeleteInventory(ctx context.Context, q Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM inventory WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting inventory: %w", err)
	}
	return nil
}
