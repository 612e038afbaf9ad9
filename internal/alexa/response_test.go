package alexa

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

const powerDirective = `{
  "directive": {
    "header": {
      "namespace": "Alexa.PowerController",
      "name": "TurnOn",
      "messageId": "1bd5d003-31b9-476f-ad03-71d471922820",
      "correlationToken": "dFMb0z+PgpgdDmluhJ1LddFvSqZ/jCc8ptlAKulUj90jSqg==",
      "payloadVersion": "3"
    },
    "endpoint": {
      "scope": {"type": "BearerToken", "token": "access-token-from-skill"},
      "endpointId": "SAMPLE_ENDPOINT_7Q2KX9AB",
      "cookie": {}
    },
    "payload": {}
  }
}`

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(powerDirective))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	d := req.Directive
	if d.Header.Namespace != NamespacePower || d.Header.Name != "TurnOn" {
		t.Errorf("Header = %+v", d.Header)
	}
	if d.EndpointID() != "SAMPLE_ENDPOINT_7Q2KX9AB" {
		t.Errorf("EndpointID() = %q", d.EndpointID())
	}
	if d.Token() != "access-token-from-skill" {
		t.Errorf("Token() = %q", d.Token())
	}

	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty", "", ErrEmptyBody},
		{"not json", "{", ErrMalformed},
		{"no header", `{"directive":{}}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRequest([]byte(tt.body)); !errors.Is(err, tt.want) {
				t.Errorf("DecodeRequest() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDirectiveTokenFromPayloadScope(t *testing.T) {
	d := Directive{
		Header:  Header{Namespace: NamespaceDiscovery, Name: "Discover"},
		Payload: json.RawMessage(`{"scope":{"type":"BearerToken","token":"tok"}}`),
	}
	if got := d.Token(); got != "tok" {
		t.Errorf("Token() = %q, want tok", got)
	}
	if got := (&Directive{}).Token(); got != "" {
		t.Errorf("Token() on empty directive = %q", got)
	}
}

func TestReplyTo(t *testing.T) {
	req, err := DecodeRequest([]byte(powerDirective))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	d := &req.Directive
	now := time.Date(2026, 10, 19, 12, 0, 0, 520_000_000, time.UTC)

	r := ReplyTo(d, NamespaceAlexa, NameResponse)
	r.AddProperty(NamespacePower, "powerState", "", "ON", now)

	if r.Event.Header.CorrelationToken != d.Header.CorrelationToken {
		t.Error("correlation token not echoed")
	}
	if _, err := uuid.Parse(r.Event.Header.MessageID); err != nil {
		t.Errorf("MessageID %q is not a uuid", r.Event.Header.MessageID)
	}
	if r.Event.Header.MessageID == d.Header.MessageID {
		t.Error("response must carry its own message id")
	}
	if r.Event.Endpoint == nil || r.Event.Endpoint.Scope.Token != "access-token-from-skill" {
		t.Errorf("Endpoint = %+v, want scope echoed", r.Event.Endpoint)
	}
	if got := r.Context.Properties[0].TimeOfSample; got != "2026-10-19T12:00:00.520Z" {
		t.Errorf("TimeOfSample = %q", got)
	}
	if r.HTTPStatus() != http.StatusOK {
		t.Errorf("HTTPStatus() = %d, want 200", r.HTTPStatus())
	}

	for _, name := range []string{NameDiscoverResponse, NameAcceptGrantResponse} {
		if got := ReplyTo(d, NamespaceDiscovery, name); got.Event.Endpoint != nil {
			t.Errorf("%s carries an endpoint", name)
		}
	}
}

func TestResponseJSON(t *testing.T) {
	r := NewResponse(NamespaceDiscovery, NameDiscoverResponse)
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := got["context"]; ok {
		t.Error("empty context should be omitted")
	}
	event := got["event"].(map[string]any)
	if _, ok := event["endpoint"]; ok {
		t.Error("endpoint should be omitted")
	}
	header := event["header"].(map[string]any)
	if header["payloadVersion"] != "3" {
		t.Errorf("payloadVersion = %v", header["payloadVersion"])
	}
}

func TestNewErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		errType    ErrorType
		wantNS     string
		wantStatus int
	}{
		{"internal", ErrorInternal, NamespaceAlexa, http.StatusInternalServerError},
		{"invalid directive", ErrorInvalidDirective, NamespaceAlexa, http.StatusBadRequest},
		{"no endpoint", ErrorNoSuchEndpoint, NamespaceAlexa, http.StatusNotFound},
		{"credential", ErrorInvalidCredential, NamespaceAlexa, http.StatusForbidden},
		{"unreachable", ErrorEndpointUnreachable, NamespaceAlexa, http.StatusBadGateway},
		{"grant", ErrorAcceptGrantFailed, NamespaceAuthorization, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewErrorResponse(nil, tt.errType, "boom")
			if r.Event.Header.Namespace != tt.wantNS {
				t.Errorf("Namespace = %q, want %q", r.Event.Header.Namespace, tt.wantNS)
			}
			got, ok := r.ErrorType()
			if !ok || got != tt.errType {
				t.Errorf("ErrorType() = %q, %v", got, ok)
			}
			if r.HTTPStatus() != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", r.HTTPStatus(), tt.wantStatus)
			}
		})
	}
}
