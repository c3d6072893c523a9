package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/rdb/internal/model"
)

const actionColumns = `a.id, a.seq, a.action_type, a.object_type, a.object_id, a.detail, a.user_id,
	a.location_id, a.deployment_type, a.parent_id, a.build_id, a.deployment_id,
	a.inventory_deployment_id, a.cruise_id, a.latitude, a.longitude, a.depth, a.created_at,
	COALESCE(u.username, '') AS username, COALESCE(l.name, '') AS location_name`

const actionFrom = ` FROM actions a
	LEFT JOIN users u ON u.id = a.user_id
	LEFT JOIN locations l ON l.id = a.location_id`

func scanAction(s scanner) (*model.Action, error) {
	a := &model.Action{}
	var kind, objectType, deploymentType string
	if err := s.Scan(&a.ID, &a.Seq, &kind, &objectType, &a.Subject.ID, &a.Detail, &a.UserID,
		&a.LocationID, &deploymentType, &a.ParentID, &a.BuildID, &a.DeploymentID,
		&a.InventoryDeploymentID, &a.CruiseID, &a.Latitude, &a.Longitude, &a.Depth, &a.CreatedAt,
		&a.Username, &a.LocationName); err != nil {
		return nil, err
	}
	a.Kind = model.ActionKind(kind)
	a.Subject.Type = model.SubjectType(objectType)
	a.DeploymentType = model.DeploymentType(deploymentType)
	return a, nil
}

// InsertAction appends an action record. Its sequence number is assigned
// here and orders records that share a timestamp.
func InsertAction(ctx context.Context, q Querier, a *model.Action) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO actions (seq, action_type, object_type, object_id, detail, user_id, location_id,
		                      deployment_type, parent_id, build_id, deployment_id, inventory_deployment_id,
		                      cruise_id, latitude, longitude, depth, created_at)
		 VALUES ((SELECT COALESCE(MAX(seq), 0) + 1 FROM actions), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id, seq`,
		string(a.Kind), string(a.Subject.Type), a.Subject.ID, a.Detail, a.UserID, a.LocationID,
		string(a.DeploymentType), a.ParentID, a.BuildID, a.DeploymentID, a.InventoryDeploymentID,
		a.CruiseID, a.Latitude, a.Longitude, a.Depth, a.CreatedAt.UTC(),
	).Scan(&a.ID, &a.Seq)
	if err != nil {
		return fmt.Errorf("inserting action: %w", err)
	}
	return nil
}

// ListActions returns action records newest first.
func ListActions(ctx context.Context, q Querier, f model.ActionFilter) ([]model.Action, error) {
	query := `SELECT ` + actionColumns + actionFrom + ` WHERE 1=1`
	var args []any

	if f.Subject != nil {
		query += ` AND a.object_type = ? AND a.object_id = ?`
		args = append(args, string(f.Subject.Type), f.Subject.ID)
	}
	if f.Kind != "" {
		query += ` AND a.action_type = ?`
		args = append(args, string(f.Kind))
	}
	if f.BuildID > 0 {
		query += ` AND a.build_id = ?`
		args = append(args, f.BuildID)
	}
	if f.DeploymentID > 0 {
		query += ` AND a.deployment_id = ?`
		args = append(args, f.DeploymentID)
	}
	query += ` ORDER BY a.created_at DESC, a.seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var actions []model.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}

// LastAction returns the newest action of kind for subject, or nil.
func LastAction(ctx context.Context, q Querier, subject model.Subject, kind model.ActionKind) (*model.Action, error) {
	a, err := scanAction(q.QueryRowContext(ctx,
		`SELECT `+actionColumns+actionFrom+`
		 WHERE a.object_type = ? AND a.object_id = ? AND a.action_type = ?
		 ORDER BY a.created_at DESC, a.seq DESC LIMIT 1`,
		string(subject.Type), subject.ID, string(kind)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last action: %w", err)
	}
	return a, nil
}
