package endpointcloud

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/nerrad567/endpoint-cloud/internal/endpoint"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/mqtt"
	"github.com/nerrad567/endpoint-cloud/internal/thing"
	"github.com/nerrad567/endpoint-cloud/internal/user"
)

// Defaults applied to a new endpoint.
const (
	DefaultIDPrefix         = "SAMPLE_ENDPOINT_"
	DefaultDescription      = "Sample Description"
	DefaultManufacturerName = "Sample Manufacturer"
	DefaultSKU              = "OT00"
	DefaultDisplayCategory  = "OTHER"

	generatedIDLength = 8
	idAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var colors = []string{
	"Amber", "Aqua", "Blue", "Crimson", "Cyan", "Gold", "Green", "Indigo",
	"Lime", "Magenta", "Orange", "Pink", "Purple", "Red", "Silver", "Teal",
	"Violet", "White", "Yellow",
}

// thingTypes maps the two-letter SKU prefix to the registry thing type.
var thingTypes = map[string]string{
	"LI": "SampleLight",
	"MW": "SampleMicrowave",
	"SW": "SampleSwitch",
	"TT": "SampleToaster",
}

const otherThingType = "SampleOther"

var errMissingUser = errors.New("userId is required")

// registryError marks a failure of the device registry so it can be
// answered with 502.
type registryError struct {
	op  string
	err error
}

func (e *registryError) Error() string { return fmt.Sprintf("device registry %s: %v", e.op, e.err) }
func (e *registryError) Unwrap() error { return e.err }

// ThingTypeFor returns the registry thing type for a SKU.
func ThingTypeFor(sku string) string {
	if len(sku) >= 2 {
		if tt, ok := thingTypes[strings.ToUpper(sku[:2])]; ok {
			return tt
		}
	}
	return otherThingType
}

// categories accepts a single category string as well as a list.
type categories []string

func (c *categories) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*c = categories{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*c = many
	return nil
}

// EndpointRequest is the body of POST /endpoints, flat or wrapped in
// {"event":{"endpoint":{...}}}.
type EndpointRequest struct {
	UserID            string                `json:"userId"`
	EndpointID        string                `json:"endpointId"`
	ID                string                `json:"id"`
	FriendlyName      string                `json:"friendlyName"`
	Description       string                `json:"description"`
	ManufacturerName  string                `json:"manufacturerName"`
	SKU               string                `json:"sku"`
	DisplayCategories categories            `json:"displayCategories"`
	Capabilities      []endpoint.Capability `json:"capabilities"`
	Cookie            map[string]string     `json:"cookie"`
}

func decodeEndpointRequest(body []byte) (*EndpointRequest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("request body is required")
	}
	var wrapped struct {
		Event *struct {
			Endpoint *EndpointRequest `json:"endpoint"`
		} `json:"event"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid endpoint request: %w", err)
	}
	if wrapped.Event != nil {
		if wrapped.Event.Endpoint == nil {
			return nil, errors.New("event.endpoint is required")
		}
		return wrapped.Event.Endpoint, nil
	}
	var req EndpointRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid endpoint request: %w", err)
	}
	return &req, nil
}

// record applies defaults and builds the endpoint record.
func (req *EndpointRequest) record() (*endpoint.Endpoint, error) {
	if req.UserID == "" {
		return nil, errMissingUser
	}
	id := firstOf(req.EndpointID, req.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return nil, err
		}
		id = generated
	}
	name := req.FriendlyName
	if name == "" {
		name = randomColor() + " Sample Endpoint"
	}
	cats := []string(req.DisplayCategories)
	if len(cats) == 0 {
		cats = []string{DefaultDisplayCategory}
	}
	caps := req.Capabilities
	if caps == nil {
		caps = []endpoint.Capability{}
	}
	return &endpoint.Endpoint{
		EndpointID:        id,
		UserID:            req.UserID,
		FriendlyName:      name,
		Description:       firstOf(req.Description, DefaultDescription),
		ManufacturerName:  firstOf(req.ManufacturerName, DefaultManufacturerName),
		SKU:               firstOf(req.SKU, DefaultSKU),
		DisplayCategories: cats,
		Capabilities:      caps,
		Cookie:            req.Cookie,
	}, nil
}

// Provision creates or replaces an endpoint: the owning user record is
// created on first registration, the thing and its type are registered,
// the thing joins the configured group and the record is written. It
// reports whether the endpoint is new.
//
// Registry calls are not rolled back if a later step fails.
func (h *Handler) Provision(ctx context.Context, req *EndpointRequest) (*endpoint.Endpoint, bool, error) {
	ep, err := req.record()
	if err != nil {
		return nil, false, err
	}
	if err := endpoint.ValidateEndpoint(ep); err != nil {
		return nil, false, err
	}

	created := true
	existing, err := h.endpoints.Get(ctx, ep.EndpointID)
	switch {
	case err == nil:
		created = false
		ep.State = existing.State
		ep.StateUpdatedAt = existing.StateUpdatedAt
		ep.CreatedAt = existing.CreatedAt
	case !errors.Is(err, endpoint.ErrEndpointNotFound):
		return nil, false, fmt.Errorf("reading endpoint: %w", err)
	}

	if err := h.ensureUser(ctx, ep.UserID); err != nil {
		return nil, false, err
	}
	if err := h.registerThing(ctx, ep); err != nil {
		return nil, false, err
	}
	if err := h.endpoints.Put(ctx, ep); err != nil {
		return nil, false, fmt.Errorf("writing endpoint: %w", err)
	}

	h.logger.Info("endpoint provisioned",
		"endpoint_id", ep.EndpointID,
		"user_id", ep.UserID,
		"created", created,
	)
	h.broadcast(ChannelEndpointAdded, ep)
	h.publishEvent(ChannelEndpointAdded, ep)
	return ep, created, nil
}

// ensureUser creates a minimal user record on first registration so every
// endpoint references an existing user.
func (h *Handler) ensureUser(ctx context.Context, userID string) error {
	ok, err := h.users.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("checking user: %w", err)
	}
	if ok {
		return nil
	}
	if err := h.users.Put(ctx, &user.User{UserID: userID}); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	h.logger.Info("user registered", "user_id", userID)
	return nil
}

// registerThing makes the registry match the endpoint: type, thing with its
// owner attribute, group membership.
func (h *Handler) registerThing(ctx context.Context, ep *endpoint.Endpoint) error {
	thingType := ThingTypeFor(ep.SKU)
	err := h.registry.CreateThingType(ctx, thing.ThingType{
		Name:        thingType,
		Description: "Endpoints with SKU prefix " + skuPrefix(ep.SKU),
	})
	if err != nil && !errors.Is(err, thing.ErrAlreadyExists) {
		return &registryError{"CreateThingType", err}
	}

	t := thing.Thing{
		Name:       ep.EndpointID,
		ThingType:  thingType,
		Attributes: map[string]string{thing.AttrUserID: ep.UserID},
	}
	if _, err := h.registry.CreateThing(ctx, t); err != nil {
		if !errors.Is(err, thing.ErrAlreadyExists) {
			return &registryError{"CreateThing", err}
		}
		if _, err := h.registry.UpdateThing(ctx, t); err != nil {
			return &registryError{"UpdateThing", err}
		}
	}

	if h.thingGroup == "" {
		return nil
	}
	if err := h.ensureGroup(ctx); err != nil {
		return err
	}
	if err := h.registry.AddThingToThingGroup(ctx, h.thingGroup, ep.EndpointID); err != nil {
		return &registryError{"AddThingToThingGroup", err}
	}
	return nil
}

func (h *Handler) ensureGroup(ctx context.Context) error {
	groups, err := h.registry.ListThingGroups(ctx)
	if err != nil {
		return &registryError{"ListThingGroups", err}
	}
	for _, g := range groups {
		if g.Name == h.thingGroup {
			return nil
		}
	}
	err = h.registry.CreateThingGroup(ctx, thing.ThingGroup{Name: h.thingGroup})
	if err != nil && !errors.Is(err, thing.ErrAlreadyExists) {
		return &registryError{"CreateThingGroup", err}
	}
	return nil
}

// Remove detaches an endpoint's thing from its owner, then deletes the
// record. Returns endpoint.ErrEndpointNotFound if the record does not exist.
// A registry failure is returned and leaves the record in place.
func (h *Handler) Remove(ctx context.Context, id string) error {
	ep, err := h.endpoints.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = h.registry.UpdateThing(ctx, thing.Thing{
		Name:       id,
		Attributes: map[string]string{thing.AttrUserID: ""},
	})
	if err != nil && !errors.Is(err, thing.ErrThingNotFound) {
		return &registryError{"UpdateThing", err}
	}

	if err := h.endpoints.Delete(ctx, id); err != nil {
		return err
	}

	h.logger.Info("endpoint removed", "endpoint_id", id, "user_id", ep.UserID)
	removed := map[string]string{"endpointId": id, "userId": ep.UserID}
	h.broadcast(ChannelEndpointRemoved, removed)
	h.publishEvent(ChannelEndpointRemoved, removed)
	return nil
}

func (h *Handler) publishEvent(eventType string, v any) {
	if h.events == nil {
		return
	}
	if err := h.events.PublishJSON(mqtt.Topics{}.Event(eventType), v); err != nil {
		h.logger.Warn("publishing event", "event", eventType, "error", err)
	}
}

func skuPrefix(sku string) string {
	if len(sku) < 2 {
		return sku
	}
	return strings.ToUpper(sku[:2])
}

func generateID() (string, error) {
	var b strings.Builder
	b.WriteString(DefaultIDPrefix)
	limit := big.NewInt(int64(len(idAlphabet)))
	for range generatedIDLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating endpoint id: %w", err)
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func randomColor() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(colors))))
	if err != nil {
		return colors[0]
	}
	return colors[n.Int64()]
}
