package directive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/nerrad567/endpoint-cloud/internal/alexa"
	"github.com/nerrad567/endpoint-cloud/internal/endpoint"
	"github.com/nerrad567/endpoint-cloud/internal/thing"
	"github.com/nerrad567/endpoint-cloud/internal/user"
)

// TokenResolver maps a bearer token to the user it acts for.
// *auth.Resolver satisfies it.
type TokenResolver interface {
	UserID(token string) (string, error)
}

// Logger defines the logging interface used by the dispatcher.
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

// Dispatcher routes directives to their controllers.
//
// Thread Safety: Dispatch is safe for concurrent use. Concurrent directives
// for the same endpoint race; the last write wins.
type Dispatcher struct {
	endpoints endpoint.Repository
	users     user.Repository
	registry  thing.Registry
	tokens    TokenResolver
	oauth     *oauth2.Config
	logger    Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher.
//
// Parameters:
//   - endpoints: Endpoint Store, read for ownership and capabilities
//   - users: Identity Store, written by AcceptGrant
//   - registry: device registry holding the shadows
//   - tokens: resolves bearer tokens to user ids
//   - oauth: grant code exchange (nil makes AcceptGrant fail)
func NewDispatcher(endpoints endpoint.Repository, users user.Repository, registry thing.Registry, tokens TokenResolver, oauth *oauth2.Config) *Dispatcher {
	return &Dispatcher{
		endpoints: endpoints,
		users:     users,
		registry:  registry,
		tokens:    tokens,
		oauth:     oauth,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// NewOAuthConfig builds the grant exchange client. The voice platform's
// authorization server takes the client credentials in the request body.
func NewOAuthConfig(clientID, clientSecret, tokenURL, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Dispatch executes the directive in body and returns the response to send
// back. It never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) *alexa.Response {
	req, err := alexa.DecodeRequest(body)
	if err != nil {
		if errors.Is(err, alexa.ErrEmptyBody) {
			return alexa.NewErrorResponse(nil, alexa.ErrorInternal, "Empty Body")
		}
		return alexa.NewErrorResponse(nil, alexa.ErrorInvalidDirective, err.Error())
	}
	dir := &req.Directive
	h := dir.Header

	d.logger.Debug("directive received",
		"namespace", h.Namespace,
		"name", h.Name,
		"endpoint_id", dir.EndpointID(),
	)

	switch h.Namespace {
	case alexa.NamespaceAuthorization:
		if h.Name == "AcceptGrant" {
			return d.acceptGrant(ctx, dir)
		}
	case alexa.NamespaceDiscovery:
		if h.Name == "Discover" {
			return d.discover(ctx, dir)
		}
	}

	ctl, ok := controllers[controllerKey{h.Namespace, h.Name}]
	if !ok {
		return alexa.NewErrorResponse(dir, alexa.ErrorInvalidDirective,
			fmt.Sprintf("unsupported directive %s.%s", h.Namespace, h.Name))
	}

	ep, errResp := d.target(ctx, dir)
	if errResp != nil {
		return errResp
	}
	return ctl(ctx, d, dir, ep)
}

// target resolves the caller and loads the addressed endpoint, checking
// that the caller owns it. A missing endpoint is reported before any
// registry call is made.
func (d *Dispatcher) target(ctx context.Context, dir *alexa.Directive) (*endpoint.Endpoint, *alexa.Response) {
	id := dir.EndpointID()
	if id == "" {
		return nil, alexa.NewErrorResponse(dir, alexa.ErrorInvalidDirective, "directive has no endpoint")
	}

	userID, err := d.tokens.UserID(dir.Token())
	if err != nil {
		d.logger.Warn("directive token rejected", "endpoint_id", id, "error", err)
		return nil, alexa.NewErrorResponse(dir, alexa.ErrorInvalidCredential, "bearer token is not valid")
	}

	ep, err := d.endpoints.Get(ctx, id)
	if err != nil {
		if errors.Is(err, endpoint.ErrEndpointNotFound) {
			return nil, alexa.NewErrorResponse(dir, alexa.ErrorNoSuchEndpoint,
				fmt.Sprintf("endpoint %s does not exist", id))
		}
		d.logger.Error("loading endpoint", "endpoint_id", id, "error", err)
		return nil, alexa.NewErrorResponse(dir, alexa.ErrorInternal, "endpoint store unavailable")
	}

	if ep.UserID != userID {
		d.logger.Warn("directive for endpoint owned by another user",
			"endpoint_id", id,
			"owner", ep.UserID,
			"caller", userID,
		)
		return nil, alexa.NewErrorResponse(dir, alexa.ErrorInvalidCredential,
			fmt.Sprintf("endpoint %s does not belong to the caller", id))
	}
	return ep, nil
}

// apply writes desired state to the shadow, then merges it into the
// endpoint record. No rollback is attempted if the second write fails.
func (d *Dispatcher) apply(ctx context.Context, dir *alexa.Directive, ep *endpoint.Endpoint, props map[string]any) *alexa.Response {
	if _, err := d.registry.UpdateThingShadow(ctx, ep.EndpointID, thing.Desired(props)); err != nil {
		d.logger.Error("updating shadow", "endpoint_id", ep.EndpointID, "error", err)
		return alexa.NewErrorResponse(dir, alexa.ErrorEndpointUnreachable, "device registry unavailable")
	}
	if err := d.endpoints.UpdateState(ctx, ep.EndpointID, endpoint.State(props)); err != nil {
		d.logger.Error("persisting endpoint state", "endpoint_id", ep.EndpointID, "error", err)
		return alexa.NewErrorResponse(dir, alexa.ErrorInternal, "endpoint store unavailable")
	}
	return nil
}
