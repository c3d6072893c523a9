package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/snapshot"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

// CreatePart adds a catalogue part.
func (s *Service) CreatePart(ctx context.Context, number, name string) (*model.Part, error) {
	number, name = strings.TrimSpace(number), strings.TrimSpace(name)
	if number == "" || name == "" {
		return nil, fmt.Errorf("%w: part number and name are required", ErrInvalid)
	}
	existing, err := store.GetPartByNumber(ctx, s.db, number)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: part %s already exists", ErrInvalid, number)
	}
	return store.CreatePart(ctx, s.db, number, name)
}

// CreateAssembly adds an empty assembly template.
func (s *Service) CreateAssembly(ctx context.Context, name, number string) (*model.Assembly, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: assembly name is required", ErrInvalid)
	}
	return store.CreateAssembly(ctx, s.db, strings.TrimSpace(name), strings.TrimSpace(number))
}

// CreateCruise adds a cruise.
func (s *Service) CreateCruise(ctx context.Context, number, ship string) (*model.Cruise, error) {
	if strings.TrimSpace(number) == "" {
		return nil, fmt.Errorf("%w: cruise number is required", ErrInvalid)
	}
	return store.CreateCruise(ctx, s.db, strings.TrimSpace(number), strings.TrimSpace(ship))
}

// AddAssemblyPart adds a slot to an assembly template. A parent slot must
// belong to the same assembly.
func (s *Service) AddAssemblyPart(ctx context.Context, ap model.AssemblyPart) (*model.AssemblyPart, error) {
	var created *model.AssemblyPart
	_, err := s.run(ctx, 0, func(o *op) error {
		if _, err := o.assembly(ctx, ap.AssemblyID); err != nil {
			return err
		}
		if _, err := o.part(ctx, ap.PartID); err != nil {
			return err
		}
		if ap.ParentID != nil {
			parent, err := store.GetAssemblyPart(ctx, o.tx, *ap.ParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return notFound("assembly part", *ap.ParentID)
			}
			if parent.AssemblyID != ap.AssemblyID {
				return fmt.Errorf("%w: slot %d belongs to another assembly", ErrInvalidParent, parent.ID)
			}
		}
		var err error
		if created, err = store.CreateAssemblyPart(ctx, o.tx, ap); err != nil {
			return err
		}
		_, err = tree.Rebuild(ctx, o.tx, tree.AssemblyParts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AddMooringPart adds a slot to a location's mooring template.
func (s *Service) AddMooringPart(ctx context.Context, mp model.MooringPart) (*model.MooringPart, error) {
	var created *model.MooringPart
	_, err := s.run(ctx, 0, func(o *op) error {
		if _, err := o.location(ctx, mp.LocationID); err != nil {
			return err
		}
		if _, err := o.part(ctx, mp.PartID); err != nil {
			return err
		}
		if mp.ParentID != nil {
			parent, err := store.GetMooringPart(ctx, o.tx, *mp.ParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return notFound("mooring part", *mp.ParentID)
			}
			if parent.LocationID != mp.LocationID {
				return fmt.Errorf("%w: slot %d belongs to another mooring", ErrInvalidParent, parent.ID)
			}
		}
		var err error
		if created, err = store.CreateMooringPart(ctx, o.tx, mp); err != nil {
			return err
		}
		_, err = tree.Rebuild(ctx, o.tx, tree.MooringParts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CopyAssemblyTemplate copies every slot of assembly from into assembly to.
func (s *Service) CopyAssemblyTemplate(ctx context.Context, from, to int64) (*snapshot.Result, *Outcome, error) {
	var res *snapshot.Result
	out, err := s.run(ctx, 0, func(o *op) error {
		if _, err := o.assembly(ctx, from); err != nil {
			return err
		}
		if _, err := o.assembly(ctx, to); err != nil {
			return err
		}
		var err error
		if res, err = snapshot.CopyAssembly(ctx, o.tx, from, to); err != nil {
			return err
		}
		o.skipped(res)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, out, nil
}

// CopyMooringTemplate copies the mooring template of location from to
// location to.
func (s *Service) CopyMooringTemplate(ctx context.Context, from, to int64) (*snapshot.Result, *Outcome, error) {
	var res *snapshot.Result
	out, err := s.run(ctx, 0, func(o *op) error {
		if _, err := o.location(ctx, from); err != nil {
			return err
		}
		if _, err := o.location(ctx, to); err != nil {
			return err
		}
		var err error
		if res, err = snapshot.CopyMooring(ctx, o.tx, from, to); err != nil {
			return err
		}
		o.skipped(res)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, out, nil
}

// skipped turns the subtrees a copy left out into warnings.
func (o *op) skipped(res *snapshot.Result) {
	for _, id := range res.Skipped {
		o.warn("node %d has no matching slot; its subtree was not copied", id)
	}
}
