package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/rdb/internal/model"
)

const eventColumns = `id, event_type, inventory_id, deployment_id, event_date, approved, detail, created_at`

func scanEvent(s scanner) (*model.Event, error) {
	e := &model.Event{}
	var detail sql.NullString
	if err := s.Scan(&e.ID, &e.EventType, &e.InventoryID, &e.DeploymentID, &e.EventDate,
		&e.Approved, &detail, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Detail = detail.String
	return e, nil
}

// CreateEvent inserts a calibration or configuration event.
func CreateEvent(ctx context.Context, q Querier, e model.Event) (*model.Event, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO events (event_type, inventory_id, deployment_id, event_date, detail) VALUES (?, ?, ?, ?, ?)`,
		e.EventType, e.InventoryID, e.DeploymentID, e.EventDate.UTC(), e.Detail,
	)
	if err != nil {
		return nil, fmt.Errorf("creating event: %w", err)
	}
	id, err := lastID(result, "event")
	if err != nil {
		return nil, err
	}
	return GetEvent(ctx, q, id)
}

// GetEvent returns an event by ID.
func GetEvent(ctx context.Context, q Querier, id int64) (*model.Event, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting event: %w", err)
	}
	return e, nil
}

// ListInventoryEvents returns the events of an item, newest first.
func ListInventoryEvents(ctx context.Context, q Querier, inventoryID int64) ([]model.Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE inventory_id = ? ORDER BY event_date DESC, id DESC`,
		inventoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// SetEventApproved marks an event as approved.
func SetEventApproved(ctx context.Context, q Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `UPDATE events SET approved = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("approving event: %w", err)
	}
	return nil
}

// DeleteOrphanedEvents removes events whose item has been deleted and
// returns how many were removed.
func DeleteOrphanedEvents(ctx context.Context, q Querier) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM events WHERE inventory_id IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("deleting orphaned events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting orphaned events: %w", err)
	}
	return n, nil
}

// AddEventReviewer asks a user to review an event.
func AddEventReviewer(ctx context.Context, q Querier, eventID, userID int64) error {
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO event_reviewers (event_id, user_id) VALUES (?, ?)`, eventID, userID,
	); err != nil {
		return fmt.Errorf("adding event reviewer: %w", err)
	}
	return nil
}

// ApproveEventReviewer records a reviewer's approval. It reports false if
// the user is not a reviewer of the event.
func ApproveEventReviewer(ctx context.Context, q Querier, eventID, userID int64) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE event_reviewers SET approved = 1 WHERE event_id = ? AND user_id = ?`, eventID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("approving event reviewer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking event reviewer: %w", err)
	}
	return n > 0, nil
}

// ListEventReviewers returns the reviewers of an event.
func ListEventReviewers(ctx context.Context, q Querier, eventID int64) ([]model.EventReviewer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT r.event_id, r.user_id, r.approved, u.username
		 FROM event_reviewers r JOIN users u ON u.id = r.user_id
		 WHERE r.event_id = ? ORDER BY u.username`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing event reviewers: %w", err)
	}
	defer rows.Close()

	var reviewers []model.EventReviewer
	for rows.Next() {
		var r model.EventReviewer
		if err := rows.Scan(&r.EventID, &r.UserID, &r.Approved, &r.Username); err != nil {
			return nil, fmt.Errorf("scanning event reviewer: %w", err)
		}
		reviewers = append(reviewers, r)
	}
	return reviewers, rows.Err()
}
