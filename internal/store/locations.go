package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/rdb/internal/model"
)

// CreateLocation inserts a location. Its nested-set columns are left for
// the tree maintainer to fill in.
func CreateLocation(ctx context.Context, q Querier, name string, parentID *int64) (*model.Location, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO locations (name, parent_id) VALUES (?, ?)`, name, parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating location: %w", err)
	}
	id, err := lastID(result, "location")
	if err != nil {
		return nil, err
	}
	return GetLocation(ctx, q, id)
}

// GetLocation returns a location by ID.
func GetLocation(ctx context.Context, q Querier, id int64) (*model.Location, error) {
	l := &model.Location{}
	err := q.QueryRowContext(ctx,
		`SELECT id, name, parent_id, level, created_at FROM locations WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &l.ParentID, &l.Level, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting location: %w", err)
	}
	return l, nil
}

// ListLocations returns all locations in tree order.
func ListLocations(ctx context.Context, q Querier) ([]model.Location, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, parent_id, level, created_at FROM locations ORDER BY tree_id, lft, id`)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.ParentID, &l.Level, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// RenameLocation changes a location's name.
func RenameLocation(ctx context.Context, q Querier, id int64, name string) error {
	if _, err := q.ExecContext(ctx, `UPDATE locations SET name = ? WHERE id = ?`, name, id); err != nil {
		return fmt.Errorf("renaming location: %w", err)
	}
	return nil
}

// GetRootLocationByName returns the top-level location called name.
func GetRootLocationByName(ctx context.Context, q Querier, name string) (*model.Location, error) {
	l := &model.Location{}
	err := q.QueryRowContext(ctx,
		`SELECT id, name, parent_id, level, created_at FROM locations
		 WHERE parent_id IS NULL AND name = ? ORDER BY id LIMIT 1`, name,
	).Scan(&l.ID, &l.Name, &l.ParentID, &l.Level, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting location by name: %w", err)
	}
	return l, nil
}
