package endpoint

import (
	"context"

	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

// Authorizer checks one action against the holder's policy.
type Authorizer interface {
	Authorize(action, resource string) error
}

// Guarded is a Repository that refuses calls its holder has no grant for.
// ListByUser is checked against the index resource, the rest against the
// table.
type Guarded struct {
	repo  Repository
	auth  Authorizer
	table string
	index string
}

// NewGuarded wraps repo. table and index are resource names.
func NewGuarded(repo Repository, auth Authorizer, table, index string) *Guarded {
	return &Guarded{repo: repo, auth: auth, table: table, index: index}
}

// Get retrieves an endpoint by id.
func (g *Guarded) Get(ctx context.Context, id string) (*Endpoint, error) {
	if err := g.auth.Authorize(topology.ActionGetItem, g.table); err != nil {
		return nil, err
	}
	return g.repo.Get(ctx, id)
}

// Put creates or replaces an endpoint.
func (g *Guarded) Put(ctx context.Context, e *Endpoint) error {
	if err := g.auth.Authorize(topology.ActionPutItem, g.table); err != nil {
		return err
	}
	return g.repo.Put(ctx, e)
}

// Delete removes an endpoint.
func (g *Guarded) Delete(ctx context.Context, id string) error {
	if err := g.auth.Authorize(topology.ActionDeleteItem, g.table); err != nil {
		return err
	}
	return g.repo.Delete(ctx, id)
}

// ListByUser returns the endpoints owned by userID.
func (g *Guarded) ListByUser(ctx context.Context, userID string) ([]Endpoint, error) {
	if err := g.auth.Authorize(topology.ActionQuery, g.index); err != nil {
		return nil, err
	}
	return g.repo.ListByUser(ctx, userID)
}

// List returns every endpoint.
func (g *Guarded) List(ctx context.Context) ([]Endpoint, error) {
	if err := g.auth.Authorize(topology.ActionScan, g.table); err != nil {
		return nil, err
	}
	return g.repo.List(ctx)
}

// UpdateState merges state into the stored state.
func (g *Guarded) UpdateState(ctx context.Context, id string, state State) error {
	if err := g.auth.Authorize(topology.ActionUpdateItem, g.table); err != nil {
		return err
	}
	return g.repo.UpdateState(ctx, id, state)
}
