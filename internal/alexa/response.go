package alexa

import (
	"time"

	"github.com/google/uuid"
)

// timeOfSampleLayout is UTC with millisecond precision, as the platform
// expects.
const timeOfSampleLayout = "2006-01-02T15:04:05.000Z"

// Response names that carry no endpoint.
const (
	NameDiscoverResponse    = "Discover.Response"
	NameAcceptGrantResponse = "AcceptGrant.Response"
	NameResponse            = "Response"
	NameStateReport         = "StateReport"
	NameErrorResponse       = "ErrorResponse"
)

// Event is the event half of a response.
type Event struct {
	Header   Header    `json:"header"`
	Endpoint *Endpoint `json:"endpoint,omitempty"`
	Payload  any       `json:"payload"`
}

// Response is what the endpoint handler returns for a directive.
type Response struct {
	Context *Context `json:"context,omitempty"`
	Event   Event    `json:"event"`
}

// NewResponse starts a response with a fresh message id and an empty
// payload.
func NewResponse(namespace, name string) *Response {
	return &Response{
		Event: Event{
			Header: Header{
				Namespace:      namespace,
				Name:           name,
				MessageID:      uuid.NewString(),
				PayloadVersion: PayloadVersion,
			},
			Payload: map[string]any{},
		},
	}
}

// ReplyTo builds the response to d: the correlation token and endpoint
// scope are echoed, except for Discover and AcceptGrant responses which
// carry no endpoint.
func ReplyTo(d *Directive, namespace, name string) *Response {
	r := NewResponse(namespace, name)
	if d == nil {
		return r
	}
	r.Event.Header.CorrelationToken = d.Header.CorrelationToken
	if d.Endpoint != nil && name != NameDiscoverResponse && name != NameAcceptGrantResponse {
		ep := *d.Endpoint
		r.Event.Endpoint = &ep
	}
	return r
}

// NewErrorResponse builds an ErrorResponse for d. d may be nil when the
// request could not be decoded.
func NewErrorResponse(d *Directive, t ErrorType, message string) *Response {
	ns := NamespaceAlexa
	if t == ErrorAcceptGrantFailed {
		ns = NamespaceAuthorization
	}
	r := ReplyTo(d, ns, NameErrorResponse)
	r.Event.Payload = ErrorPayload{Type: t, Message: message}
	return r
}

// AddProperty appends a context property sampled at now.
func (r *Response) AddProperty(namespace, name, instance string, value any, now time.Time) {
	if r.Context == nil {
		r.Context = &Context{}
	}
	r.Context.Properties = append(r.Context.Properties, Property{
		Namespace:    namespace,
		Name:         name,
		Instance:     instance,
		Value:        value,
		TimeOfSample: FormatTime(now),
	})
}

// AddHealthy appends the EndpointHealth connectivity OK property.
func (r *Response) AddHealthy(now time.Time) {
	r.AddProperty(NamespaceHealth, "connectivity", "", map[string]string{"value": "OK"}, now)
}

// SetPayload replaces the event payload.
func (r *Response) SetPayload(p any) {
	r.Event.Payload = p
}

// ErrorType returns the error type if r is an ErrorResponse.
func (r *Response) ErrorType() (ErrorType, bool) {
	if r.Event.Header.Name != NameErrorResponse {
		return "", false
	}
	switch p := r.Event.Payload.(type) {
	case ErrorPayload:
		return p.Type, true
	case *ErrorPayload:
		return p.Type, true
	}
	return ErrorInternal, true
}

// HTTPStatus is 200 for normal responses and the error type's status for
// ErrorResponses.
func (r *Response) HTTPStatus() int {
	if t, ok := r.ErrorType(); ok {
		return t.HTTPStatus()
	}
	return 200
}

// FormatTime renders a timeOfSample value.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeOfSampleLayout)
}
