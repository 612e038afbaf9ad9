package alexa

import (
	"encoding/json"
	"fmt"
)

// Event names accepted on /events.
const (
	NameChangeReport = "ChangeReport"
)

// ReportEvent is the event half of an inbound report.
type ReportEvent struct {
	Header   Header          `json:"header"`
	Endpoint *Endpoint       `json:"endpoint"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Report is an Alexa.ChangeReport or Alexa.StateReport sent by a device.
type Report struct {
	Context *Context    `json:"context,omitempty"`
	Event   ReportEvent `json:"event"`
}

type changePayload struct {
	Change struct {
		Cause struct {
			Type string `json:"type"`
		} `json:"cause"`
		Properties []Property `json:"properties"`
	} `json:"change"`
}

// DecodeReport parses a report. It must name an endpoint.
func DecodeReport(body []byte) (*Report, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	var r Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if r.Event.Header.Name != NameChangeReport && r.Event.Header.Name != NameStateReport {
		return nil, fmt.Errorf("%w: unsupported event %q", ErrMalformed, r.Event.Header.Name)
	}
	if r.Event.Endpoint == nil || r.Event.Endpoint.EndpointID == "" {
		return nil, fmt.Errorf("%w: report has no endpoint", ErrMalformed)
	}
	return &r, nil
}

// Properties returns every reported property: for a ChangeReport the
// changed ones followed by the unchanged context, for a StateReport the
// context.
func (r *Report) Properties() ([]Property, error) {
	var props []Property
	if r.Event.Header.Name == NameChangeReport && len(r.Event.Payload) > 0 {
		var p changePayload
		if err := json.Unmarshal(r.Event.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: change payload: %w", ErrMalformed, err)
		}
		props = append(props, p.Change.Properties...)
	}
	if r.Context != nil {
		props = append(props, r.Context.Properties...)
	}
	return props, nil
}

// State flattens properties into state keys. Later properties do not
// overwrite earlier ones, so a ChangeReport's changes win over its context.
func State(props []Property) map[string]any {
	state := make(map[string]any, len(props))
	for _, p := range props {
		if _, seen := state[p.Key()]; seen {
			continue
		}
		state[p.Key()] = p.Value
	}
	return state
}
