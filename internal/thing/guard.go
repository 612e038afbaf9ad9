package thing

import (
	"context"

	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

// Authorizer checks one action against the holder's policy.
type Authorizer interface {
	Authorize(action, resource string) error
}

// Guarded is a Registry that refuses calls its holder has no grant for.
// Resources are the registry ARNs of the thing, type or group involved.
type Guarded struct {
	reg  Registry
	auth Authorizer
	arns topology.ARNs
}

// NewGuarded wraps reg.
func NewGuarded(reg Registry, auth Authorizer, arns topology.ARNs) *Guarded {
	return &Guarded{reg: reg, auth: auth, arns: arns}
}

// CreateThingType registers a thing type.
func (g *Guarded) CreateThingType(ctx context.Context, tt ThingType) error {
	if err := g.auth.Authorize(topology.ActionCreateThingType, g.arns.ThingType(tt.Name)); err != nil {
		return err
	}
	return g.reg.CreateThingType(ctx, tt)
}

// CreateThing registers a thing.
func (g *Guarded) CreateThing(ctx context.Context, t Thing) (*Thing, error) {
	if err := g.auth.Authorize(topology.ActionCreateThing, g.arns.Thing(t.Name)); err != nil {
		return nil, err
	}
	return g.reg.CreateThing(ctx, t)
}

// UpdateThing merges attributes into a thing.
func (g *Guarded) UpdateThing(ctx context.Context, t Thing) (*Thing, error) {
	if err := g.auth.Authorize(topology.ActionUpdateThing, g.arns.Thing(t.Name)); err != nil {
		return nil, err
	}
	return g.reg.UpdateThing(ctx, t)
}

// DescribeThing returns one thing.
func (g *Guarded) DescribeThing(ctx context.Context, name string) (*Thing, error) {
	if err := g.auth.Authorize(topology.ActionDescribeThing, g.arns.Thing(name)); err != nil {
		return nil, err
	}
	return g.reg.DescribeThing(ctx, name)
}

// ListThings returns the things matching filter.
func (g *Guarded) ListThings(ctx context.Context, filter ListFilter) ([]Thing, error) {
	if err := g.auth.Authorize(topology.ActionListThings, "*"); err != nil {
		return nil, err
	}
	return g.reg.ListThings(ctx, filter)
}

// CreateThingGroup registers a group.
func (g *Guarded) CreateThingGroup(ctx context.Context, tg ThingGroup) error {
	if err := g.auth.Authorize(topology.ActionCreateThingGroup, g.arns.ThingGroup(tg.Name)); err != nil {
		return err
	}
	return g.reg.CreateThingGroup(ctx, tg)
}

// ListThingGroups returns every group.
func (g *Guarded) ListThingGroups(ctx context.Context) ([]ThingGroup, error) {
	if err := g.auth.Authorize(topology.ActionListThingGroups, "*"); err != nil {
		return nil, err
	}
	return g.reg.ListThingGroups(ctx)
}

// AddThingToThingGroup adds a thing to a group.
func (g *Guarded) AddThingToThingGroup(ctx context.Context, group, thing string) error {
	if err := g.auth.Authorize(topology.ActionAddThingToThingGroup, g.arns.ThingGroup(group)); err != nil {
		return err
	}
	return g.reg.AddThingToThingGroup(ctx, group, thing)
}

// GetThingShadow returns a thing's shadow.
func (g *Guarded) GetThingShadow(ctx context.Context, name string) (*Shadow, error) {
	if err := g.auth.Authorize(topology.ActionGetThingShadow, g.arns.Thing(name)); err != nil {
		return nil, err
	}
	return g.reg.GetThingShadow(ctx, name)
}

// UpdateThingShadow merges u into a thing's shadow.
func (g *Guarded) UpdateThingShadow(ctx context.Context, name string, u ShadowUpdate) (*Shadow, error) {
	if err := g.auth.Authorize(topology.ActionUpdateThingShadow, g.arns.Thing(name)); err != nil {
		return nil, err
	}
	return g.reg.UpdateThingShadow(ctx, name, u)
}
