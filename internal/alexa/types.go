package alexa

import (
	"encoding/json"
	"fmt"
)

// PayloadVersion is the only envelope version understood.
const PayloadVersion = "3"

// Namespaces handled by the endpoint handler.
const (
	NamespaceAlexa         = "Alexa"
	NamespaceAuthorization = "Alexa.Authorization"
	NamespaceDiscovery     = "Alexa.Discovery"
	NamespacePower         = "Alexa.PowerController"
	NamespaceToggle        = "Alexa.ToggleController"
	NamespaceRange         = "Alexa.RangeController"
	NamespaceMode          = "Alexa.ModeController"
	NamespaceCooking       = "Alexa.Cooking"
	NamespaceHealth        = "Alexa.EndpointHealth"
)

// Scope types.
const (
	ScopeBearerToken = "BearerToken"
)

// Header is shared by directives and events.
type Header struct {
	Namespace        string `json:"namespace"`
	Name             string `json:"name"`
	Instance         string `json:"instance,omitempty"`
	MessageID        string `json:"messageId"`
	CorrelationToken string `json:"correlationToken,omitempty"`
	PayloadVersion   string `json:"payloadVersion"`
}

// Scope carries the caller's bearer token.
type Scope struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Endpoint addresses one device.
type Endpoint struct {
	Scope      *Scope            `json:"scope,omitempty"`
	EndpointID string            `json:"endpointId"`
	Cookie     map[string]string `json:"cookie,omitempty"`
}

// Directive is a command from the voice platform.
type Directive struct {
	Header   Header          `json:"header"`
	Endpoint *Endpoint       `json:"endpoint,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Request is the body POSTed to /directives.
type Request struct {
	Directive Directive `json:"directive"`
}

// DecodeRequest parses a directive request. An empty body is ErrEmptyBody.
func DecodeRequest(body []byte) (*Request, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if req.Directive.Header.Namespace == "" || req.Directive.Header.Name == "" {
		return nil, fmt.Errorf("%w: directive header needs namespace and name", ErrMalformed)
	}
	return &req, nil
}

// Token returns the bearer token of the directive: the endpoint scope for
// device directives, the payload scope for Discover.
func (d *Directive) Token() string {
	if d.Endpoint != nil && d.Endpoint.Scope != nil {
		return d.Endpoint.Scope.Token
	}
	var p struct {
		Scope *Scope `json:"scope"`
	}
	if len(d.Payload) > 0 && json.Unmarshal(d.Payload, &p) == nil && p.Scope != nil {
		return p.Scope.Token
	}
	return ""
}

// EndpointID returns the target endpoint or "".
func (d *Directive) EndpointID() string {
	if d.Endpoint == nil {
		return ""
	}
	return d.Endpoint.EndpointID
}

// DecodePayload unmarshals the directive payload into v.
func (d *Directive) DecodePayload(v any) error {
	if len(d.Payload) == 0 {
		return fmt.Errorf("%w: directive has no payload", ErrMalformed)
	}
	if err := json.Unmarshal(d.Payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// Property is one reported property in a response or report context.
type Property struct {
	Namespace                 string `json:"namespace"`
	Name                      string `json:"name"`
	Instance                  string `json:"instance,omitempty"`
	Value                     any    `json:"value"`
	TimeOfSample              string `json:"timeOfSample"`
	UncertaintyInMilliseconds int    `json:"uncertaintyInMilliseconds"`
}

// Key is the state key the property is stored under: "<instance>.<name>"
// for instance-scoped controllers, else the bare name.
func (p Property) Key() string {
	return StateKey(p.Instance, p.Name)
}

// StateKey joins an instance and property name into a state key.
func StateKey(instance, name string) string {
	if instance == "" {
		return name
	}
	return instance + "." + name
}

// Context carries properties alongside an event.
type Context struct {
	Properties []Property `json:"properties,omitempty"`
}
