package thing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/mqtt"
)

// LocalRegistry implements Registry on SQLite. When a Publisher is set,
// every shadow update is published to the thing's update topic and, if
// desired and reported disagree, the delta to its delta topic.
type LocalRegistry struct {
	db        *sql.DB
	publisher Publisher
	topics    mqtt.Topics
	logger    Logger
	now       func() time.Time
}

// NewLocalRegistry creates a registry over an open, migrated database.
func NewLocalRegistry(db *sql.DB) *LocalRegistry {
	return &LocalRegistry{
		db:     db,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher enables shadow publishing.
func (r *LocalRegistry) SetPublisher(p Publisher) {
	r.publisher = p
}

// SetLogger sets the logger for the registry.
func (r *LocalRegistry) SetLogger(logger Logger) {
	r.logger = logger
}

// CreateThingType registers a thing type.
func (r *LocalRegistry) CreateThingType(ctx context.Context, tt ThingType) error {
	if err := ValidateName(tt.Name); err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO thing_types (name, description, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		tt.Name, tt.Description, r.timestamp())
	if err != nil {
		return fmt.Errorf("inserting thing type: %w", err)
	}
	return requireInserted(result, "thing type", tt.Name)
}

// CreateThing registers a thing at version 1.
func (r *LocalRegistry) CreateThing(ctx context.Context, t Thing) (*Thing, error) {
	if err := ValidateName(t.Name); err != nil {
		return nil, err
	}
	if t.ThingType != "" {
		if err := r.requireType(ctx, r.db, t.ThingType); err != nil {
			return nil, err
		}
	}

	attrs, err := encodeAttributes(dropEmpty(t.Attributes))
	if err != nil {
		return nil, err
	}

	now := r.timestamp()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO things (name, thing_type, attributes, version, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		t.Name, nullableString(t.ThingType), attrs, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting thing: %w", err)
	}
	if err := requireInserted(result, "thing", t.Name); err != nil {
		return nil, err
	}
	return r.DescribeThing(ctx, t.Name)
}

// UpdateThing merges attributes and bumps the version.
func (r *LocalRegistry) UpdateThing(ctx context.Context, t Thing) (*Thing, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	current, err := describeThing(ctx, tx, t.Name)
	if err != nil {
		return nil, err
	}

	if t.ThingType != "" {
		if err := r.requireType(ctx, tx, t.ThingType); err != nil {
			return nil, err
		}
		current.ThingType = t.ThingType
	}
	for k, v := range t.Attributes {
		if v == "" {
			delete(current.Attributes, k)
			continue
		}
		current.Attributes[k] = v
	}

	attrs, err := encodeAttributes(current.Attributes)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE things SET thing_type = ?, attributes = ?, version = version + 1, updated_at = ?
		 WHERE name = ?`,
		nullableString(current.ThingType), attrs, r.timestamp(), t.Name)
	if err != nil {
		return nil, fmt.Errorf("updating thing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing thing update: %w", err)
	}

	current.Version++
	return current, nil
}

// DescribeThing returns one thing.
func (r *LocalRegistry) DescribeThing(ctx context.Context, name string) (*Thing, error) {
	return describeThing(ctx, r.db, name)
}

// ListThings returns the things matching filter.
func (r *LocalRegistry) ListThings(ctx context.Context, filter ListFilter) ([]Thing, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, COALESCE(thing_type, ''), attributes, version FROM things ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying things: %w", err)
	}
	defer rows.Close()

	things := []Thing{}
	for rows.Next() {
		t, err := scanThing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thing: %w", err)
		}
		if filter.Matches(*t) {
			things = append(things, *t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating things: %w", err)
	}
	return things, nil
}

// CreateThingGroup registers a thing group.
func (r *LocalRegistry) CreateThingGroup(ctx context.Context, g ThingGroup) error {
	if err := ValidateName(g.Name); err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO thing_groups (name, description, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		g.Name, g.Description, r.timestamp())
	if err != nil {
		return fmt.Errorf("inserting thing group: %w", err)
	}
	return requireInserted(result, "thing group", g.Name)
}

// ListThingGroups returns every group.
func (r *LocalRegistry) ListThingGroups(ctx context.Context) ([]ThingGroup, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, description FROM thing_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying thing groups: %w", err)
	}
	defer rows.Close()

	groups := []ThingGroup{}
	for rows.Next() {
		var g ThingGroup
		if err := rows.Scan(&g.Name, &g.Description); err != nil {
			return nil, fmt.Errorf("scanning thing group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thing groups: %w", err)
	}
	return groups, nil
}

// AddThingToThingGroup adds a thing to a group.
func (r *LocalRegistry) AddThingToThingGroup(ctx context.Context, group, thing string) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM thing_groups WHERE name = ?`, group).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("checking thing group: %w", err)
	}
	if _, err := r.DescribeThing(ctx, thing); err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO thing_group_members (group_name, thing_name, added_at) VALUES (?, ?, ?)
		 ON CONFLICT(group_name, thing_name) DO NOTHING`,
		group, thing, r.timestamp())
	if err != nil {
		return fmt.Errorf("adding thing to group: %w", err)
	}
	return nil
}

// GroupMembers returns the names of the things in group, sorted.
func (r *LocalRegistry) GroupMembers(ctx context.Context, group string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT thing_name FROM thing_group_members WHERE group_name = ? ORDER BY thing_name`, group)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetThingShadow returns the thing's shadow.
func (r *LocalRegistry) GetThingShadow(ctx context.Context, name string) (*Shadow, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT document FROM shadows WHERE thing_name = ?`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShadowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying shadow: %w", err)
	}
	return DecodeShadow([]byte(doc))
}

// UpdateThingShadow merges u into the shadow inside one transaction, then
// publishes the result. Publish failures are logged; the update stands.
func (r *LocalRegistry) UpdateThingShadow(ctx context.Context, name string, u ShadowUpdate) (*Shadow, error) {
	if u.Empty() {
		return nil, fmt.Errorf("%w: shadow update has no desired or reported state", ErrInvalid)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := describeThing(ctx, tx, name); err != nil {
		return nil, err
	}

	shadow := &Shadow{State: ShadowState{Desired: map[string]any{}, Reported: map[string]any{}}}
	var doc string
	err = tx.QueryRowContext(ctx, `SELECT document FROM shadows WHERE thing_name = ?`, name).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("querying shadow: %w", err)
	default:
		if shadow, err = DecodeShadow([]byte(doc)); err != nil {
			return nil, err
		}
	}

	now := r.now()
	shadow.Apply(u, now)

	data, err := json.Marshal(shadow)
	if err != nil {
		return nil, fmt.Errorf("encoding shadow: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO shadows (thing_name, document, version, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(thing_name) DO UPDATE SET
			document = excluded.document,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		name, string(data), shadow.Version, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("upserting shadow: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing shadow update: %w", err)
	}

	r.publish(name, shadow)
	return shadow, nil
}

func (r *LocalRegistry) publish(name string, s *Shadow) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishJSON(r.topics.ShadowUpdate(name), s); err != nil {
		r.logger.Warn("shadow publish failed", "thing", name, "error", err)
		return
	}
	if len(s.State.Delta) == 0 {
		return
	}
	delta := struct {
		State     map[string]any `json:"state"`
		Version   int64          `json:"version"`
		Timestamp int64          `json:"timestamp"`
	}{s.State.Delta, s.Version, s.Timestamp}
	if err := r.publisher.PublishJSON(r.topics.ShadowDelta(name), delta); err != nil {
		r.logger.Warn("shadow delta publish failed", "thing", name, "error", err)
	}
}

func (r *LocalRegistry) timestamp() string {
	return r.now().Format(time.RFC3339)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *LocalRegistry) requireType(ctx context.Context, q queryer, name string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM thing_types WHERE name = ?`, name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrThingTypeNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("checking thing type: %w", err)
	}
	return nil
}

func describeThing(ctx context.Context, q queryer, name string) (*Thing, error) {
	row := q.QueryRowContext(ctx,
		`SELECT name, COALESCE(thing_type, ''), attributes, version FROM things WHERE name = ?`, name)
	t, err := scanThing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thing: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThing(scanner rowScanner) (*Thing, error) {
	var t Thing
	var attrs string
	if err := scanner.Scan(&t.Name, &t.ThingType, &attrs, &t.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &t.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshalling attributes: %w", err)
	}
	if t.Attributes == nil {
		t.Attributes = map[string]string{}
	}
	return &t, nil
}

func requireInserted(result sql.Result, kind, name string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrAlreadyExists, kind, name)
	}
	return nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshalling attributes: %w", err)
	}
	return string(data), nil
}

func dropEmpty(attrs map[string]string) map[string]string {
	out := maps.Clone(attrs)
	maps.DeleteFunc(out, func(_, v string) bool { return v == "" })
	return out
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
