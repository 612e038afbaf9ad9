package endpointcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/endpoint-cloud/internal/alexa"
	"github.com/nerrad567/endpoint-cloud/internal/endpoint"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/mqtt"
	"github.com/nerrad567/endpoint-cloud/internal/thing"
)

// Ingestion sources, attached to logs and broadcasts.
const (
	SourceAPI = "api"
	SourceBus = "bus"
)

// StateChange is broadcast after state is ingested.
type StateChange struct {
	EndpointID string         `json:"endpointId"`
	UserID     string         `json:"userId"`
	Source     string         `json:"source"`
	Properties map[string]any `json:"properties"`
}

// IngestResult is the body of a successful POST /events.
type IngestResult struct {
	EndpointID string         `json:"endpointId"`
	State      endpoint.State `json:"state"`
}

// decodeEvent accepts an Alexa.ChangeReport or Alexa.StateReport envelope,
// or the compact {"endpointId": id, "properties": {name: value}} form.
func decodeEvent(body []byte) (string, map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", nil, errors.New("request body is required")
	}
	var head struct {
		Event      json.RawMessage `json:"event"`
		EndpointID string          `json:"endpointId"`
		Properties map[string]any  `json:"properties"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", nil, fmt.Errorf("invalid event: %w", err)
	}

	if head.Event == nil {
		if head.EndpointID == "" {
			return "", nil, errors.New("endpointId is required")
		}
		if len(head.Properties) == 0 {
			return "", nil, errors.New("properties are required")
		}
		return head.EndpointID, head.Properties, nil
	}

	report, err := alexa.DecodeReport(body)
	if err != nil {
		return "", nil, err
	}
	props, err := report.Properties()
	if err != nil {
		return "", nil, err
	}
	if len(props) == 0 {
		return "", nil, errors.New("report carries no properties")
	}
	return report.Event.Endpoint.EndpointID, alexa.State(props), nil
}

// handleEvent records a device-originated state change.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	id, props, err := decodeEvent(body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	state, err := h.Ingest(r.Context(), id, props, SourceAPI)
	if err != nil {
		var regErr *registryError
		switch {
		case errors.Is(err, endpoint.ErrEndpointNotFound):
			writeNotFound(w, fmt.Sprintf("endpoint %s not found", id))
		case errors.Is(err, endpoint.ErrInvalidEndpoint):
			writeBadRequest(w, err.Error())
		case errors.As(err, &regErr):
			writeRegistryError(w, err.Error())
		default:
			writeInternalError(w, "endpoint store unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, IngestResult{EndpointID: id, State: state})
}

// Ingest applies reported state: the shadow's reported half, the stored
// endpoint state, a telemetry point and a live broadcast, in that order.
// It returns the merged endpoint state.
func (h *Handler) Ingest(ctx context.Context, id string, props map[string]any, source string) (endpoint.State, error) {
	ep, err := h.endpoints.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, endpoint.ErrEndpointNotFound) {
			h.logger.Error("reading endpoint for ingest", "endpoint_id", id, "error", err)
		}
		return nil, err
	}

	if _, err := h.registry.UpdateThingShadow(ctx, id, thing.Reported(props)); err != nil {
		h.logger.Error("updating reported shadow", "endpoint_id", id, "error", err)
		return nil, &registryError{"UpdateThingShadow", err}
	}
	if err := h.endpoints.UpdateState(ctx, id, endpoint.State(props)); err != nil {
		h.logger.Error("persisting reported state", "endpoint_id", id, "error", err)
		return nil, err
	}

	now := h.now()
	if h.telemetry != nil {
		h.telemetry.WriteEndpointState(id, ep.UserID, props, now)
	}
	h.broadcast(ChannelStateChanged, StateChange{
		EndpointID: id,
		UserID:     ep.UserID,
		Source:     source,
		Properties: props,
	})
	h.logger.Debug("state ingested", "endpoint_id", id, "source", source, "properties", len(props))

	return endpoint.MergeState(ep.State, endpoint.State(props)), nil
}

// Subscriber registers bus handlers. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// SubscribeReported feeds reported state published by devices into Ingest.
// The payload is either a flat property map or a shadow update document.
func (h *Handler) SubscribeReported(ctx context.Context, bus Subscriber, qos byte) error {
	topics := mqtt.Topics{}
	return bus.Subscribe(topics.AllShadowReported(), qos, func(topic string, payload []byte) error {
		id, ok := topics.ThingFromTopic(topic)
		if !ok {
			return fmt.Errorf("no thing in topic %q", topic)
		}
		props, err := decodeReported(payload)
		if err != nil {
			return fmt.Errorf("thing %s: %w", id, err)
		}

		ingestCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if _, err := h.Ingest(ingestCtx, id, props, SourceBus); err != nil {
			return fmt.Errorf("ingesting state of %s: %w", id, err)
		}
		return nil
	})
}

func decodeReported(payload []byte) (map[string]any, error) {
	var doc struct {
		State *struct {
			Reported map[string]any `json:"reported"`
		} `json:"state"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("invalid reported payload: %w", err)
	}
	if doc.State != nil {
		if len(doc.State.Reported) == 0 {
			return nil, errors.New("shadow document has no reported state")
		}
		return doc.State.Reported, nil
	}

	var props map[string]any
	if err := json.Unmarshal(payload, &props); err != nil {
		return nil, fmt.Errorf("invalid reported payload: %w", err)
	}
	if len(props) == 0 {
		return nil, errors.New("reported payload is empty")
	}
	return props, nil
}
