package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the Identity Store operations.
type Repository interface {
	// Get retrieves a user by id.
	// Returns ErrUserNotFound if the user does not exist.
	Get(ctx context.Context, id string) (*User, error)

	// Put creates or replaces a user. CreatedAt of an existing record is kept.
	Put(ctx context.Context, u *User) error

	// Exists reports whether a user record is present.
	Exists(ctx context.Context, id string) (bool, error)
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
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get retrieves a user by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT user_id, access_token, refresh_token, token_type, expires_at,
			client_id, redirect_uri, grant_code_hash, created_at, updated_at
		FROM users
		WHERE user_id = ?`

	var u User
	var access, refresh, tokenType, expiresAt, clientID, redirectURI, grantHash sql.NullString
	var createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.UserID, &access, &refresh, &tokenType, &expiresAt,
		&clientID, &redirectURI, &grantHash, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user by id: %w", err)
	}

	u.AccessToken = access.String
	u.RefreshToken = refresh.String
	u.TokenType = tokenType.String
	u.ClientID = clientID.String
	u.RedirectURI = redirectURI.String
	u.GrantCodeHash = grantHash.String
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		u.ExpiresAt = &t
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if u.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &u, nil
}

// Put creates or replaces a user.
func (r *SQLiteRepository) Put(ctx context.Context, u *User) error {
	if err := Validate(u); err != nil {
		return err
	}
	stamp(u, time.Now().UTC().Truncate(time.Second))

	query := `
		INSERT INTO users (
			user_id, access_token, refresh_token, token_type, expires_at,
			client_id, redirect_uri, grant_code_hash, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			client_id = excluded.client_id,
			redirect_uri = excluded.redirect_uri,
			grant_code_hash = excluded.grant_code_hash,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		u.UserID,
		nullableString(u.AccessToken),
		nullableString(u.RefreshToken),
		nullableString(u.TokenType),
		nullableTime(u.ExpiresAt),
		nullableString(u.ClientID),
		nullableString(u.RedirectURI),
		nullableString(u.GrantCodeHash),
		u.CreatedAt.Format(time.RFC3339),
		u.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// Exists reports whether a user record is present.
func (r *SQLiteRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE user_id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking user exists: %w", err)
	}
	return exists, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
