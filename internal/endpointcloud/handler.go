package endpointcloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/endpoint-cloud/internal/alexa"
	"github.com/nerrad567/endpoint-cloud/internal/endpoint"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/logging"
	"github.com/nerrad567/endpoint-cloud/internal/thing"
	"github.com/nerrad567/endpoint-cloud/internal/topology"
	"github.com/nerrad567/endpoint-cloud/internal/user"
)

// DefaultTimeout is the per-invocation limit when none is configured.
const DefaultTimeout = 6 * time.Second

// maxBodySize bounds request bodies read by the handler.
const maxBodySize = 1 << 20

// Broadcast channels.
const (
	ChannelEndpointAdded   = "endpoint.added"
	ChannelEndpointRemoved = "endpoint.removed"
	ChannelStateChanged    = "endpoint.state_changed"
)

// Dispatcher executes a directive envelope. *directive.Dispatcher
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, body []byte) *alexa.Response
}

// StateWriter records ingested state as telemetry. *influxdb.Client
// satisfies it.
type StateWriter interface {
	WriteEndpointState(endpointID, userID string, props map[string]any, at time.Time)
}

// Broadcaster pushes changes to live clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// EventPublisher announces endpoint lifecycle events on the device bus.
// *mqtt.Client satisfies it.
type EventPublisher interface {
	PublishJSON(topic string, v any) error
}

// Deps holds the dependencies of the endpoint handler.
type Deps struct {
	Settings   Settings
	Logger     *logging.Logger
	Endpoints  endpoint.Repository
	Users      user.Repository
	Registry   thing.Registry
	Directives Dispatcher
	ThingGroup string        // every endpoint thing joins this group
	Timeout    time.Duration // zero means DefaultTimeout
	Telemetry  StateWriter   // optional
	Hub        Broadcaster   // optional
	Events     EventPublisher
}

// Handler is the endpoint handler.
//
// Thread Safety: ServeHTTP and Ingest are safe for concurrent use. Writes to
// the same endpoint from concurrent requests race; the last write wins.
type Handler struct {
	settings   Settings
	logger     *logging.Logger
	endpoints  endpoint.Repository
	users      user.Repository
	registry   thing.Registry
	directives Dispatcher
	thingGroup string
	telemetry  StateWriter
	hub        Broadcaster
	events     EventPublisher
	timeout    time.Duration
	now        func() time.Time
	handler    http.Handler
}

// New creates the endpoint handler.
//
// Returns an error if a store, the registry, the dispatcher or the logger
// is missing.
func New(deps Deps) (*Handler, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Endpoints == nil:
		return nil, errors.New("endpoint store is required")
	case deps.Users == nil:
		return nil, errors.New("identity store is required")
	case deps.Registry == nil:
		return nil, errors.New("device registry is required")
	case deps.Directives == nil:
		return nil, errors.New("directive dispatcher is required")
	}

	h := &Handler{
		settings:   deps.Settings,
		logger:     deps.Logger.With("component", "endpointcloud"),
		endpoints:  deps.Endpoints,
		users:      deps.Users,
		registry:   deps.Registry,
		directives: deps.Directives,
		thingGroup: deps.ThingGroup,
		telemetry:  deps.Telemetry,
		hub:        deps.Hub,
		events:     deps.Events,
		timeout:    deps.Timeout,
		now:        time.Now,
	}
	if h.timeout <= 0 {
		h.timeout = DefaultTimeout
	}
	h.handler = http.TimeoutHandler(h.routes(), h.timeout, timeoutBody)
	return h, nil
}

// ServeHTTP handles one proxied request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// Timeout returns the per-invocation limit.
func (h *Handler) Timeout() time.Duration {
	return h.timeout
}

func (h *Handler) routes() http.Handler {
	r := chi.NewRouter()

	r.Get(topology.PathEndpoints, h.handleGetEndpoints)
	r.Post(topology.PathEndpoints, h.handlePostEndpoint)
	r.Delete(topology.PathEndpoints, h.handleDeleteEndpoints)
	r.Post(topology.PathDirectives, h.handleDirective)
	r.Post(topology.PathEvents, h.handleEvent)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed",
			fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path))
	})
	return r
}

// handleDirective relays the dispatcher's response with the status its
// error type maps to.
func (h *Handler) handleDirective(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	resp := h.directives.Dispatch(r.Context(), body)
	if t, ok := resp.ErrorType(); ok {
		h.logger.Info("directive failed",
			"namespace", resp.Event.Header.Namespace,
			"error_type", t,
		)
	}
	writeJSON(w, resp.HTTPStatus(), resp)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodySize)
	}
	return body, nil
}

func (h *Handler) broadcast(channel string, payload any) {
	if h.hub != nil {
		h.hub.Broadcast(channel, payload)
	}
}
