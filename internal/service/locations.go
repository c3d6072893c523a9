package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

// TrashLocation is the top-level location discarded items are moved to.
const TrashLocation = "Trash"

// CreateLocation adds a location under parentID, or at the top level when
// parentID is nil.
func (s *Service) CreateLocation(ctx context.Context, actor int64, name string, parentID *int64) (*model.Location, *Outcome, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: location name is required", ErrInvalid)
	}

	var loc *model.Location
	out, err := s.run(ctx, actor, func(o *op) error {
		if parentID != nil {
			if _, err := o.location(ctx, *parentID); err != nil {
				return err
			}
		}
		var err error
		loc, err = o.createLocation(ctx, name, parentID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return loc, out, nil
}

func (o *op) createLocation(ctx context.Context, name string, parentID *int64) (*model.Location, error) {
	loc, err := store.CreateLocation(ctx, o.tx, name, parentID)
	if err != nil {
		return nil, err
	}
	if _, err := tree.Rebuild(ctx, o.tx, tree.Locations); err != nil {
		return nil, err
	}
	if err := o.record(ctx, history.Request{Subject: model.LocationSubject(loc.ID), Kind: model.ActionAdd}); err != nil {
		return nil, err
	}
	return store.GetLocation(ctx, o.tx, loc.ID)
}

// MoveLocation re-parents a location. Descendant queries see the move once
// the location tree has been rebuilt, which happens before this returns.
func (s *Service) MoveLocation(ctx context.Context, actor, id int64, parentID *int64) (*Outcome, error) {
	return s.run(ctx, actor, func(o *op) error {
		loc, err := o.location(ctx, id)
		if err != nil {
			return err
		}
		if parentID != nil {
			if _, err := o.location(ctx, *parentID); err != nil {
				return err
			}
		}
		if sameID(loc.ParentID, parentID) {
			return nil
		}

		if err := tree.Move(ctx, o.tx, tree.Locations, id, parentID); err != nil {
			if errors.Is(err, tree.ErrCycle) {
				return fmt.Errorf("%w: %w", ErrInvalidParent, err)
			}
			return err
		}
		if _, err := tree.Rebuild(ctx, o.tx, tree.Locations); err != nil {
			return err
		}
		return o.record(ctx, history.Request{
			Subject: model.LocationSubject(id),
			Kind:    model.ActionLocationChange,
			Change:  history.Change{OldParentID: loc.ParentID},
		})
	})
}

// trash returns the trash location, creating it on first use.
func (o *op) trash(ctx context.Context) (*model.Location, error) {
	loc, err := store.GetRootLocationByName(ctx, o.tx, TrashLocation)
	if err != nil || loc != nil {
		return loc, err
	}
	return o.createLocation(ctx, TrashLocation, nil)
}
