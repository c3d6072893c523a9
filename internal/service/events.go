package service

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
)

// NewEvent describes a calibration or configuration event.
type NewEvent struct {
	Type         string
	InventoryID  *int64
	DeploymentID *int64
	Date         time.Time
	Detail       string
	Reviewers    []int64
}

// CreateEvent records an event and asks its reviewers for approval.
func (s *Service) CreateEvent(ctx context.Context, actor int64, in NewEvent) (*model.Event, *Outcome, error) {
	if in.Type != model.EventTypeCalibration && in.Type != model.EventTypeConfig {
		return nil, nil, fmt.Errorf("%w: unknown event type %q", ErrInvalid, in.Type)
	}

	var ev *model.Event
	out, err := s.run(ctx, actor, func(o *op) error {
		if in.InventoryID != nil {
			if _, err := o.inventory(ctx, *in.InventoryID); err != nil {
				return err
			}
		}
		if in.DeploymentID != nil {
			if _, err := o.deployment(ctx, *in.DeploymentID); err != nil {
				return err
			}
		}

		var err error
		ev, err = store.CreateEvent(ctx, o.tx, model.Event{
			EventType:    in.Type,
			InventoryID:  in.InventoryID,
			DeploymentID: in.DeploymentID,
			EventDate:    o.s.dateOr(in.Date),
			Detail:       in.Detail,
		})
		if err != nil {
			return err
		}
		for _, uid := range in.Reviewers {
			u, err := store.GetUser(ctx, o.tx, uid)
			if err != nil {
				return err
			}
			if u == nil || u.DeletedAt != nil {
				return notFound("user", uid)
			}
			if err := store.AddEventReviewer(ctx, o.tx, ev.ID, uid); err != nil {
				return err
			}
		}
		return o.record(ctx, history.Request{Subject: model.EventSubject(ev.ID), Kind: model.ActionAdd})
	})
	if err != nil {
		return nil, nil, err
	}
	return ev, out, nil
}

// ApproveEvent records the actor's approval of an event. The event itself
// is approved once every reviewer has approved it.
func (s *Service) ApproveEvent(ctx context.Context, actor, eventID int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		ev, err := o.event(ctx, eventID)
		if err != nil {
			return err
		}
		ok, err := store.ApproveEventReviewer(ctx, o.tx, eventID, actor)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: user %d is not a reviewer of event %d", ErrInvalid, actor, eventID)
		}
		if err := o.record(ctx, history.Request{Subject: model.EventSubject(eventID), Kind: model.ActionReviewApprove}); err != nil {
			return err
		}

		if ev.Approved {
			return nil
		}
		reviewers, err := store.ListEventReviewers(ctx, o.tx, eventID)
		if err != nil {
			return err
		}
		for _, r := range reviewers {
			if !r.Approved {
				return nil
			}
		}
		if err := store.SetEventApproved(ctx, o.tx, eventID); err != nil {
			return err
		}
		return o.record(ctx, history.Request{Subject: model.EventSubject(eventID), Kind: model.ActionEventApprove})
	})
}
