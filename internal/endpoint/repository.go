package endpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines the Endpoint Store operations.
type Repository interface {
	// Get retrieves an endpoint by id.
	// Returns ErrEndpointNotFound if the endpoint does not exist.
	Get(ctx context.Context, id string) (*Endpoint, error)

	// Put creates or replaces an endpoint. CreatedAt of an existing record is kept.
	Put(ctx context.Context, e *Endpoint) error

	// Delete removes an endpoint.
	// Returns ErrEndpointNotFound if the endpoint does not exist.
	Delete(ctx context.Context, id string) error

	// ListByUser returns exactly the endpoints owned by userID, sorted by id.
	ListByUser(ctx context.Context, userID string) ([]Endpoint, error)

	// List returns every endpoint, sorted by id.
	List(ctx context.Context) ([]Endpoint, error)

	// UpdateState merges state into the endpoint's stored state using
	// MergeState: top-level keys only, nested values are replaced whole.
	// Returns ErrEndpointNotFound if the endpoint does not exist.
	UpdateState(ctx context.Context, id string, state State) error
}

var (
	_ Repository = (*SQLiteRepository)(nil)
	_ Repository = (*DynamoRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*Guarded)(nil)
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT endpoint_id, user_id, friendly_name, description, manufacturer_name,
		sku, display_categories, capabilities, cookie, state, state_updated_at,
		created_at, updated_at
	FROM endpoints`

// Get retrieves an endpoint by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Endpoint, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE endpoint_id = ?", id)
	e, err := scanEndpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("querying endpoint by id: %w", err)
	}
	return e, nil
}

// Put creates or replaces an endpoint.
func (r *SQLiteRepository) Put(ctx context.Context, e *Endpoint) error {
	if err := ValidateEndpoint(e); err != nil {
		return err
	}

	categoriesJSON, err := json.Marshal(nonNil(e.DisplayCategories))
	if err != nil {
		return fmt.Errorf("marshalling display_categories: %w", err)
	}
	capsJSON, err := json.Marshal(nonNilCaps(e.Capabilities))
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}
	cookieJSON, err := json.Marshal(nonNilMap(e.Cookie))
	if err != nil {
		return fmt.Errorf("marshalling cookie: %w", err)
	}
	stateJSON, err := json.Marshal(nonNilState(e.State))
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	stamp(e, time.Now().UTC().Truncate(time.Second))

	query := `
		INSERT INTO endpoints (
			endpoint_id, user_id, friendly_name, description, manufacturer_name,
			sku, display_categories, capabilities, cookie, state, state_updated_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint_id) DO UPDATE SET
			user_id = excluded.user_id,
			friendly_name = excluded.friendly_name,
			description = excluded.description,
			manufacturer_name = excluded.manufacturer_name,
			sku = excluded.sku,
			display_categories = excluded.display_categories,
			capabilities = excluded.capabilities,
			cookie = excluded.cookie,
			state = excluded.state,
			state_updated_at = excluded.state_updated_at,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		e.EndpointID,
		e.UserID,
		e.FriendlyName,
		e.Description,
		e.ManufacturerName,
		e.SKU,
		string(categoriesJSON),
		string(capsJSON),
		string(cookieJSON),
		string(stateJSON),
		nullableTime(e.StateUpdatedAt),
		e.CreatedAt.Format(time.RFC3339),
		e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting endpoint: %w", err)
	}
	return nil
}

// Delete removes an endpoint by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM endpoints WHERE endpoint_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// ListByUser returns the endpoints owned by userID.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]Endpoint, error) {
	return r.queryEndpoints(ctx, selectColumns+" WHERE user_id = ? ORDER BY endpoint_id", userID)
}

// List returns every endpoint.
func (r *SQLiteRepository) List(ctx context.Context) ([]Endpoint, error) {
	return r.queryEndpoints(ctx, selectColumns+" ORDER BY endpoint_id")
}

// UpdateState merges state into the stored state.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning state update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	var current string
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(state, '{}') FROM endpoints WHERE endpoint_id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEndpointNotFound
	}
	if err != nil {
		return fmt.Errorf("reading endpoint state: %w", err)
	}

	var base State
	if err := json.Unmarshal([]byte(current), &base); err != nil {
		return fmt.Errorf("unmarshalling state: %w", err)
	}
	// Top-level merge, same as the other stores: a property value is replaced
	// whole, never merged into.
	stateJSON, err := json.Marshal(nonNilState(MergeState(base, state)))
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		UPDATE endpoints
		SET state = ?,
		    state_updated_at = ?,
		    updated_at = ?
		WHERE endpoint_id = ?`
	if _, err := tx.ExecContext(ctx, query, string(stateJSON), now, now, id); err != nil {
		return fmt.Errorf("updating endpoint state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state update: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) queryEndpoints(ctx context.Context, query string, args ...any) ([]Endpoint, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []Endpoint{}
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		endpoints = append(endpoints, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating endpoints: %w", err)
	}
	return endpoints, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(scanner rowScanner) (*Endpoint, error) {
	var e Endpoint
	var categoriesJSON, capsJSON, cookieJSON, stateJSON string
	var stateUpdatedAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&e.EndpointID,
		&e.UserID,
		&e.FriendlyName,
		&e.Description,
		&e.ManufacturerName,
		&e.SKU,
		&categoriesJSON,
		&capsJSON,
		&cookieJSON,
		&stateJSON,
		&stateUpdatedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(categoriesJSON), &e.DisplayCategories); err != nil {
		return nil, fmt.Errorf("unmarshalling display_categories: %w", err)
	}
	if err := json.Unmarshal([]byte(capsJSON), &e.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(cookieJSON), &e.Cookie); err != nil {
		return nil, fmt.Errorf("unmarshalling cookie: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &e.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}
	if stateUpdatedAt.Valid {
		t, err := time.Parse(time.RFC3339, stateUpdatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing state_updated_at: %w", err)
		}
		e.StateUpdatedAt = &t
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilCaps(c []Capability) []Capability {
	if c == nil {
		return []Capability{}
	}
	return c
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilState(s State) State {
	if s == nil {
		return State{}
	}
	return s
}
