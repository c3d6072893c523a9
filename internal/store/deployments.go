package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/rdb/internal/model"
)

const deploymentColumns = `id, deployment_number, build_id, location_id, final_location_id,
	cruise_deployed_id, cruise_recovered_id, start_date, burnin_date, to_field_date,
	recovery_date, retire_date, latitude, longitude, depth, version, created_at`

func scanDeployment(s scanner) (*model.Deployment, error) {
	d := &model.Deployment{}
	if err := s.Scan(&d.ID, &d.DeploymentNumber, &d.BuildID, &d.LocationID, &d.FinalLocationID,
		&d.CruiseDeployedID, &d.CruiseRecoveredID, &d.StartDate, &d.BurninDate, &d.ToFieldDate,
		&d.RecoveryDate, &d.RetireDate, &d.Latitude, &d.Longitude, &d.Depth, &d.Version, &d.CreatedAt); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDeployment inserts a deployment of a build.
func CreateDeployment(ctx context.Context, q Querier, d model.Deployment) (*model.Deployment, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO deployments (deployment_number, build_id, location_id, final_location_id, start_date)
		 VALUES (?, ?, ?, ?, ?)`,
		d.DeploymentNumber, d.BuildID, d.LocationID, d.FinalLocationID, utc(d.StartDate),
	)
	if err != nil {
		return nil, fmt.Errorf("creating deployment: %w", err)
	}
	id, err := lastID(result, "deployment")
	if err != nil {
		return nil, err
	}
	return GetDeployment(ctx, q, id)
}

// GetDeployment returns a deployment by ID.
func GetDeployment(ctx context.Context, q Querier, id int64) (*model.Deployment, error) {
	d, err := scanDeployment(q.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting deployment: %w", err)
	}
	return d, nil
}

// CurrentDeployment returns the most recent non-retired deployment of a
// build, or nil if it has none.
func CurrentDeployment(ctx context.Context, q Querier, buildID int64) (*model.Deployment, error) {
	d, err := scanDeployment(q.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments
		 WHERE build_id = ? AND retire_date IS NULL
		 ORDER BY created_at DESC, id DESC LIMIT 1`, buildID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting current deployment: %w", err)
	}
	return d, nil
}

// ListBuildDeployments returns a build's deployments, newest first.
func ListBuildDeployments(ctx context.Context, q Querier, buildID int64) ([]model.Deployment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE build_id = ? ORDER BY created_at DESC, id DESC`,
		buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer rows.Close()

	var deployments []model.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// UpdateDeployment writes a deployment's location, cruise, position and
// phase dates, provided it is still at d.Version.
func UpdateDeployment(ctx context.Context, q Querier, d *model.Deployment) error {
	result, err := q.ExecContext(ctx,
		`UPDATE deployments SET location_id = ?, final_location_id = ?, cruise_deployed_id = ?,
		        cruise_recovered_id = ?, start_date = ?, burnin_date = ?, to_field_date = ?,
		        recovery_date = ?, retire_date = ?, latitude = ?, longitude = ?, depth = ?,
		        version = version + 1
		 WHERE id = ? AND version = ?`,
		d.LocationID, d.FinalLocationID, d.CruiseDeployedID, d.CruiseRecoveredID,
		utc(d.StartDate), utc(d.BurninDate), utc(d.ToFieldDate), utc(d.RecoveryDate), utc(d.RetireDate),
		d.Latitude, d.Longitude, d.Depth, d.ID, d.Version,
	)
	if err != nil {
		return fmt.Errorf("updating deployment: %w", err)
	}
	if err := checkVersioned(result, "deployment"); err != nil {
		return err
	}
	d.Version++
	return nil
}

const inventoryDeploymentColumns = `id, inventory_id, deployment_id, cruise_deployed_id, cruise_recovered_id,
	start_date, burnin_date, to_field_date, recovery_date, retire_date, latitude, longitude, depth`

func scanInventoryDeployment(s scanner) (*model.InventoryDeployment, error) {
	d := &model.InventoryDeployment{}
	if err := s.Scan(&d.ID, &d.InventoryID, &d.DeploymentID, &d.CruiseDeployedID, &d.CruiseRecoveredID,
		&d.StartDate, &d.BurninDate, &d.ToFieldDate, &d.RecoveryDate, &d.RetireDate,
		&d.Latitude, &d.Longitude, &d.Depth); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateInventoryDeployment starts tracking an item within a deployment.
func CreateInventoryDeployment(ctx context.Context, q Querier, d model.InventoryDeployment) (*model.InventoryDeployment, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO inventory_deployments (inventory_id, deployment_id, start_date) VALUES (?, ?, ?)`,
		d.InventoryID, d.DeploymentID, utc(d.StartDate),
	)
	if err != nil {
		return nil, fmt.Errorf("creating inventory deployment: %w", err)
	}
	id, err := lastID(result, "inventory deployment")
	if err != nil {
		return nil, err
	}
	d.ID = id
	return &d, nil
}

// ActiveInventoryDeployment returns the item's non-retired deployment
// record, or nil if it has none.
func ActiveInventoryDeployment(ctx context.Context, q Querier, inventoryID int64) (*model.InventoryDeployment, error) {
	d, err := scanInventoryDeployment(q.QueryRowContext(ctx,
		`SELECT `+inventoryDeploymentColumns+` FROM inventory_deployments
		 WHERE inventory_id = ? AND retire_date IS NULL`, inventoryID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active inventory deployment: %w", err)
	}
	return d, nil
}

// ListInventoryDeployments returns an item's deployment records, newest first.
func ListInventoryDeployments(ctx context.Context, q Querier, inventoryID int64) ([]model.InventoryDeployment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+inventoryDeploymentColumns+` FROM inventory_deployments
		 WHERE inventory_id = ? ORDER BY id DESC`, inventoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing inventory deployments: %w", err)
	}
	defer rows.Close()

	var records []model.InventoryDeployment
	for rows.Next() {
		d, err := scanInventoryDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning inventory deployment: %w", err)
		}
		records = append(records, *d)
	}
	return records, rows.Err()
}

// UpdateInventoryDeployment writes an item's deployment phase data.
func UpdateInventoryDeployment(ctx context.Context, q Querier, d *model.InventoryDeployment) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE inventory_deployments SET cruise_deployed_id = ?, cruise_recovered_id = ?,
		        start_date = ?, burnin_date = ?, to_field_date = ?, recovery_date = ?, retire_date = ?,
		        latitude = ?, longitude = ?, depth = ?
		 WHERE id = ?`,
		d.CruiseDeployedID, d.CruiseRecoveredID,
		utc(d.StartDate), utc(d.BurninDate), utc(d.ToFieldDate), utc(d.RecoveryDate), utc(d.RetireDate),
		d.Latitude, d.Longitude, d.Depth, d.ID,
	); err != nil {
		return fmt.Errorf("updating inventory deployment: %w", err)
	}
	return nil
}
