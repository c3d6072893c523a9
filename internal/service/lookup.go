package service

import (
	"context"

	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
)

func (o *op) inventory(ctx context.Context, id int64) (*model.Inventory, error) {
	inv, err := store.GetInventory(ctx, o.tx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, notFound("inventory", id)
	}
	return inv, nil
}

func (o *op) build(ctx context.Context, id int64) (*model.Build, error) {
	b, err := store.GetBuild(ctx, o.tx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("build", id)
	}
	return b, nil
}

func (o *op) deployment(ctx context.Context, id int64) (*model.Deployment, error) {
	d, err := store.GetDeployment(ctx, o.tx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFound("deployment", id)
	}
	return d, nil
}

func (o *op) location(ctx context.Context, id int64) (*model.Location, error) {
	l, err := store.GetLocation(ctx, o.tx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, notFound("location", id)
	}
	return l, nil
}

func (o *op) event(ctx context.Context, id int64) (*model.Event, error) {
	e, err := store.GetEvent(ctx, o.tx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound("event", id)
	}
	return e, nil
}

func (o *op) assembly(ctx context.Context, id int64) (*model.Assembly, error) {
	a, err := store.GetAssembly(ctx, o.tx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, notFound("assembly", id)
	}
	return a, nil
}

func (o *op) part(ctx context.Context, id int64) (*model.Part, error) {
	p, err := store.GetPart(ctx, o.tx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound("part", id)
	}
	return p, nil
}
