package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"
)

const memTable = "users"

func memSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memTable: {
				Name: memTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "UserID"},
					},
				},
			},
		},
	}
}

// MemoryRepository implements Repository in process memory. Records are
// copied on the way in and out so callers never share state with the store.
type MemoryRepository struct {
	db *memdb.MemDB
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() (*MemoryRepository, error) {
	db, err := memdb.NewMemDB(memSchema())
	if err != nil {
		return nil, fmt.Errorf("creating memdb: %w", err)
	}
	return &MemoryRepository{db: db}, nil
}

// Get retrieves a user by id.
func (r *MemoryRepository) Get(_ context.Context, id string) (*User, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(memTable, "id", id)
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	if raw == nil {
		return nil, ErrUserNotFound
	}
	return clone(raw.(*User)), nil
}

// Put creates or replaces a user.
func (r *MemoryRepository) Put(_ context.Context, u *User) error {
	if err := Validate(u); err != nil {
		return err
	}

	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(memTable, "id", u.UserID)
	if err != nil {
		return fmt.Errorf("querying user by id: %w", err)
	}
	if raw != nil {
		u.CreatedAt = raw.(*User).CreatedAt
	}
	stamp(u, time.Now().UTC().Truncate(time.Second))

	if err := txn.Insert(memTable, clone(u)); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	txn.Commit()
	return nil
}

// Exists reports whether a user record is present.
func (r *MemoryRepository) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}

func clone(u *User) *User {
	c := *u
	if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}
