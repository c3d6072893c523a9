package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/rdb/internal/model"
)

const buildColumns = `b.id, b.build_number, b.assembly_id, b.location_id, b.is_deployed, b.detail,
	b.version, b.created_at, b.updated_at, COALESCE(l.name, '') AS location_name`

const buildFrom = ` FROM builds b LEFT JOIN locations l ON l.id = b.location_id`

func scanBuild(s scanner) (*model.Build, error) {
	b := &model.Build{}
	var detail sql.NullString
	if err := s.Scan(&b.ID, &b.BuildNumber, &b.AssemblyID, &b.LocationID, &b.IsDeployed, &detail,
		&b.Version, &b.CreatedAt, &b.UpdatedAt, &b.LocationName); err != nil {
		return nil, err
	}
	b.Detail = detail.String
	return b, nil
}

// CreateBuild inserts a build of an assembly at a location.
func CreateBuild(ctx context.Context, q Querier, number string, assemblyID, locationID *int64, detail string) (*model.Build, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO builds (build_number, assembly_id, location_id, detail) VALUES (?, ?, ?, ?)`,
		number, assemblyID, locationID, detail,
	)
	if err != nil {
		return nil, fmt.Errorf("creating build: %w", err)
	}
	id, err := lastID(result, "build")
	if err != nil {
		return nil, err
	}
	return GetBuild(ctx, q, id)
}

// GetBuild returns a build by ID.
func GetBuild(ctx context.Context, q Querier, id int64) (*model.Build, error) {
	b, err := scanBuild(q.QueryRowContext(ctx, `SELECT `+buildColumns+buildFrom+` WHERE b.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting build: %w", err)
	}
	return b, nil
}

// ListBuilds returns all builds, deployed ones first.
func ListBuilds(ctx context.Context, q Querier) ([]model.Build, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+buildColumns+buildFrom+` ORDER BY b.is_deployed DESC, b.build_number`)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var builds []model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		builds = append(builds, *b)
	}
	return builds, rows.Err()
}

// UpdateBuildPlacement sets a build's location and deployed flag, provided
// it is still at version.
func UpdateBuildPlacement(ctx context.Context, q Querier, id, version int64, locationID *int64, deployed bool) error {
	result, err := q.ExecContext(ctx,
		`UPDATE builds SET location_id = ?, is_deployed = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ?`,
		locationID, deployed, id, version,
	)
	if err != nil {
		return fmt.Errorf("updating build: %w", err)
	}
	return checkVersioned(result, "build")
}
