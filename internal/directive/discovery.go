package directive

import (
	"context"

	"github.com/nerrad567/endpoint-cloud/internal/alexa"
	"github.com/nerrad567/endpoint-cloud/internal/endpoint"
)

// DiscoveredEndpoint is one entry of a Discover.Response payload.
type DiscoveredEndpoint struct {
	EndpointID        string                `json:"endpointId"`
	ManufacturerName  string                `json:"manufacturerName"`
	FriendlyName      string                `json:"friendlyName"`
	Description       string                `json:"description"`
	DisplayCategories []string              `json:"displayCategories"`
	Capabilities      []endpoint.Capability `json:"capabilities"`
	Cookie            map[string]string     `json:"cookie,omitempty"`
}

// DiscoverPayload is the payload of a Discover.Response.
type DiscoverPayload struct {
	Endpoints []DiscoveredEndpoint `json:"endpoints"`
}

func (d *Dispatcher) discover(ctx context.Context, dir *alexa.Directive) *alexa.Response {
	userID, err := d.tokens.UserID(dir.Token())
	if err != nil {
		d.logger.Warn("discovery token rejected", "error", err)
		return alexa.NewErrorResponse(dir, alexa.ErrorInvalidCredential, "bearer token is not valid")
	}

	eps, err := d.endpoints.ListByUser(ctx, userID)
	if err != nil {
		d.logger.Error("listing endpoints for discovery", "user_id", userID, "error", err)
		return alexa.NewErrorResponse(dir, alexa.ErrorInternal, "endpoint store unavailable")
	}

	payload := DiscoverPayload{Endpoints: make([]DiscoveredEndpoint, 0, len(eps))}
	for _, ep := range eps {
		payload.Endpoints = append(payload.Endpoints, DiscoveredEndpoint{
			EndpointID:        ep.EndpointID,
			ManufacturerName:  ep.ManufacturerName,
			FriendlyName:      ep.FriendlyName,
			Description:       ep.Description,
			DisplayCategories: ep.DisplayCategories,
			Capabilities:      ep.Capabilities,
			Cookie:            ep.Cookie,
		})
	}
	d.logger.Info("discovery", "user_id", userID, "endpoints", len(eps))

	resp := alexa.ReplyTo(dir, alexa.NamespaceDiscovery, alexa.NameDiscoverResponse)
	resp.SetPayload(payload)
	return resp
}
