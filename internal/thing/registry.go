package thing

import "context"

// Registry is the device-registry capability set held by the endpoint
// handler.
type Registry interface {
	// CreateThingType registers a type. Returns ErrAlreadyExists if taken.
	CreateThingType(ctx context.Context, tt ThingType) error

	// CreateThing registers a thing. Returns ErrAlreadyExists if taken and
	// ErrThingTypeNotFound if its type is unknown.
	CreateThing(ctx context.Context, t Thing) (*Thing, error)

	// UpdateThing merges attributes into an existing thing; an empty value
	// removes the attribute. A non-empty ThingType replaces the type.
	UpdateThing(ctx context.Context, t Thing) (*Thing, error)

	// DescribeThing returns one thing. Returns ErrThingNotFound if absent.
	DescribeThing(ctx context.Context, name string) (*Thing, error)

	// ListThings returns the things matching filter, sorted by name.
	ListThings(ctx context.Context, filter ListFilter) ([]Thing, error)

	// CreateThingGroup registers a group. Returns ErrAlreadyExists if taken.
	CreateThingGroup(ctx context.Context, g ThingGroup) error

	// ListThingGroups returns every group, sorted by name.
	ListThingGroups(ctx context.Context) ([]ThingGroup, error)

	// AddThingToThingGroup adds a thing to a group. Adding twice is a no-op.
	AddThingToThingGroup(ctx context.Context, group, thing string) error

	// GetThingShadow returns the thing's shadow. Returns ErrShadowNotFound
	// if no update was ever made.
	GetThingShadow(ctx context.Context, name string) (*Shadow, error)

	// UpdateThingShadow merges u into the shadow and returns the result.
	UpdateThingShadow(ctx context.Context, name string, u ShadowUpdate) (*Shadow, error)
}

var (
	_ Registry = (*LocalRegistry)(nil)
	_ Registry = (*AWSRegistry)(nil)
	_ Registry = (*Guarded)(nil)
)

// Logger defines the logging interface used by the registries.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher sends shadow documents to the device bus.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any) error
}
