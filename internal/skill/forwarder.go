package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/endpoint-cloud/internal/alexa"
	"github.com/nerrad567/endpoint-cloud/internal/auth"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/logging"
	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

// DefaultTimeout is the forwarding limit when none is configured.
const DefaultTimeout = 7 * time.Second

// maxReplySize bounds the relayed response body.
const maxReplySize = 1 << 20

// ErrNotPermitted is returned by New when the unit's policy does not allow
// invoking the directives route.
var ErrNotPermitted = errors.New("skill: invoke not permitted")

// Deps holds the dependencies of the forwarder.
type Deps struct {
	Topology  *topology.Topology
	Principal string // compute unit name; the token subject
	BaseURL   string // overrides the topology's router base URL
	Secret    string // HS256 signing secret shared with the router
	Client    *http.Client
	Logger    *logging.Logger
	Timeout   time.Duration
}

// Reply is the router's answer, relayed unchanged.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Forwarder relays directives to the router.
//
// Thread Safety: safe for concurrent use.
type Forwarder struct {
	principal string
	target    string
	secret    string
	client    *http.Client
	logger    *logging.Logger
	timeout   time.Duration
}

// New creates a forwarder for the compute unit named by deps.Principal.
func New(deps Deps) (*Forwarder, error) {
	switch {
	case deps.Topology == nil:
		return nil, errors.New("topology is required")
	case deps.Principal == "":
		return nil, errors.New("principal is required")
	case deps.Secret == "":
		return nil, errors.New("signing secret is required")
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	}

	enforcer, err := deps.Topology.Enforcer(deps.Principal)
	if err != nil {
		return nil, err
	}
	route := deps.Topology.RouteARN(http.MethodPost, topology.PathDirectives)
	if !enforcer.Allows(topology.ActionInvokeAPI, route) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotPermitted, deps.Principal, route)
	}

	base := deps.BaseURL
	if base == "" {
		base = deps.Topology.API().BaseURL
	}
	f := &Forwarder{
		principal: deps.Principal,
		target:    strings.TrimSuffix(base, "/") + topology.PathDirectives,
		secret:    deps.Secret,
		client:    deps.Client,
		logger:    deps.Logger.With("component", "skill"),
		timeout:   deps.Timeout,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	return f, nil
}

// Target returns the URL directives are forwarded to.
func (f *Forwarder) Target() string {
	return f.target
}

// Forward POSTs payload to the router as this unit and returns the reply.
// A non-2xx reply is not an error; only transport failures are.
func (f *Forwarder) Forward(ctx context.Context, payload []byte) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// Never shorter than DefaultTokenTTL, whatever the request timeout.
	token, err := auth.IssueToken(auth.KindUnit, f.principal, f.secret, max(f.timeout, auth.DefaultTokenTTL))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forwarding directive: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	f.logger.Debug("directive forwarded",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Reply{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Handle forwards a directive and returns the body the voice platform
// receives. Transport failures become an INTERNAL_ERROR response addressed
// to the directive.
func (f *Forwarder) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	reply, err := f.Forward(ctx, payload)
	if err != nil {
		return f.failure(payload, err)
	}
	return reply.Body, nil
}

func (f *Forwarder) failure(payload []byte, err error) ([]byte, error) {
	f.logger.Error("forwarding failed", "error", err)

	var d *alexa.Directive
	if req, decodeErr := alexa.DecodeRequest(payload); decodeErr == nil {
		d = &req.Directive
	}
	message := "endpoint cloud unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		message = "endpoint cloud timed out"
	}
	return json.Marshal(alexa.NewErrorResponse(d, alexa.ErrorInternal, message))
}

// ServeHTTP exposes the forwarder over HTTP, relaying status and body.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxReplySize))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	reply, err := f.Forward(r.Context(), payload)
	if err != nil {
		body, _ := f.failure(payload, err) //nolint:errcheck // marshalling a response cannot fail
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write(body) //nolint:errcheck // best-effort write
		return
	}
	if ct := reply.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(reply.Status)
	w.Write(reply.Body) //nolint:errcheck // best-effort write
}
