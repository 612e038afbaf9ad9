package endpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"
)

const memTable = "endpoints"

func memSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memTable: {
				Name: memTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "EndpointID"},
					},
					userIndex: {
						Name:    userIndex,
						Indexer: &memdb.StringFieldIndex{Field: "UserID"},
					},
				},
			},
		},
	}
}

// MemoryRepository implements Repository in process memory with the same
// byUserId index as the table. Records are copied in and out.
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

// Get retrieves an endpoint by id.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Endpoint, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(memTable, "id", id)
	if err != nil {
		return nil, fmt.Errorf("querying endpoint by id: %w", err)
	}
	if raw == nil {
		return nil, ErrEndpointNotFound
	}
	return raw.(*Endpoint).Clone(), nil
}

// Put creates or replaces an endpoint.
func (r *MemoryRepository) Put(_ context.Context, e *Endpoint) error {
	if err := ValidateEndpoint(e); err != nil {
		return err
	}

	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(memTable, "id", e.EndpointID)
	if err != nil {
		return fmt.Errorf("querying endpoint by id: %w", err)
	}
	if raw != nil {
		e.CreatedAt = raw.(*Endpoint).CreatedAt
	}
	stamp(e, time.Now().UTC().Truncate(time.Second))

	if err := txn.Insert(memTable, e.Clone()); err != nil {
		return fmt.Errorf("inserting endpoint: %w", err)
	}
	txn.Commit()
	return nil
}

// Delete removes an endpoint by id.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(memTable, "id", id)
	if err != nil {
		return fmt.Errorf("querying endpoint by id: %w", err)
	}
	if raw == nil {
		return ErrEndpointNotFound
	}
	if err := txn.Delete(memTable, raw); err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}
	txn.Commit()
	return nil
}

// ListByUser returns the endpoints owned by userID.
func (r *MemoryRepository) ListByUser(_ context.Context, userID string) ([]Endpoint, error) {
	return r.collect(userIndex, userID)
}

// List returns every endpoint.
func (r *MemoryRepository) List(_ context.Context) ([]Endpoint, error) {
	return r.collect("id")
}

func (r *MemoryRepository) collect(index string, args ...any) ([]Endpoint, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(memTable, index, args...)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	endpoints := []Endpoint{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		endpoints = append(endpoints, *raw.(*Endpoint).Clone())
	}
	sortByID(endpoints)
	return endpoints, nil
}

// UpdateState merges state into the stored state.
func (r *MemoryRepository) UpdateState(_ context.Context, id string, state State) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(memTable, "id", id)
	if err != nil {
		return fmt.Errorf("querying endpoint by id: %w", err)
	}
	if raw == nil {
		return ErrEndpointNotFound
	}
	updated := raw.(*Endpoint).Clone()
	updated.State = MergeState(updated.State, state)
	now := time.Now().UTC().Truncate(time.Second)
	updated.StateUpdatedAt = &now
	updated.UpdatedAt = now

	if err := txn.Insert(memTable, updated); err != nil {
		return fmt.Errorf("updating endpoint state: %w", err)
	}
	txn.Commit()
	return nil
}
