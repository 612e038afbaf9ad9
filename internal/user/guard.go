package user

import (
	"context"

	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

// Authorizer checks one action against the holder's policy.
type Authorizer interface {
	Authorize(action, resource string) error
}

// Guarded is a Repository that refuses calls its holder has no grant for.
type Guarded struct {
	repo     Repository
	auth     Authorizer
	resource string
}

// NewGuarded wraps repo. resource is the table's resource name.
func NewGuarded(repo Repository, auth Authorizer, resource string) *Guarded {
	return &Guarded{repo: repo, auth: auth, resource: resource}
}

// Get retrieves a user by id.
func (g *Guarded) Get(ctx context.Context, id string) (*User, error) {
	if err := g.auth.Authorize(topology.ActionGetItem, g.resource); err != nil {
		return nil, err
	}
	return g.repo.Get(ctx, id)
}

// Put creates or replaces a user.
func (g *Guarded) Put(ctx context.Context, u *User) error {
	if err := g.auth.Authorize(topology.ActionPutItem, g.resource); err != nil {
		return err
	}
	return g.repo.Put(ctx, u)
}

// Exists reports whether a user record is present.
func (g *Guarded) Exists(ctx context.Context, id string) (bool, error) {
	if err := g.auth.Authorize(topology.ActionGetItem, g.resource); err != nil {
		return false, err
	}
	return g.repo.Exists(ctx, id)
}
