package endpointcloud

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/nerrad567/endpoint-cloud/internal/endpoint"
)

// deleteAll in a delete request removes every endpoint.
const deleteAll = "*"

// handleGetEndpoints serves a point read (?endpointId=), a reverse-index
// list (?userId=) or a scan.
func (h *Handler) handleGetEndpoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	if id := firstOf(q.Get("endpointId"), q.Get("endpoint_id")); id != "" {
		ep, err := h.endpoints.Get(ctx, id)
		if err != nil {
			if errors.Is(err, endpoint.ErrEndpointNotFound) {
				writeNotFound(w, fmt.Sprintf("endpoint %s not found", id))
				return
			}
			h.logger.Error("reading endpoint", "endpoint_id", id, "error", err)
			writeInternalError(w, "endpoint store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, ep)
		return
	}

	var (
		eps []endpoint.Endpoint
		err error
	)
	if userID := firstOf(q.Get("userId"), q.Get("user_id")); userID != "" {
		eps, err = h.endpoints.ListByUser(ctx, userID)
	} else {
		eps, err = h.endpoints.List(ctx)
	}
	if err != nil && !errors.Is(err, endpoint.ErrEndpointNotFound) {
		h.logger.Error("listing endpoints", "error", err)
		writeInternalError(w, "endpoint store unavailable")
		return
	}
	if eps == nil {
		eps = []endpoint.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

// handlePostEndpoint creates or replaces an endpoint.
func (h *Handler) handlePostEndpoint(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	req, err := decodeEndpointRequest(body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ep, created, err := h.Provision(r.Context(), req)
	if err != nil {
		h.writeProvisionError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ep)
}

func (h *Handler) writeProvisionError(w http.ResponseWriter, err error) {
	var regErr *registryError
	switch {
	case errors.Is(err, endpoint.ErrInvalidEndpoint), errors.Is(err, errMissingUser):
		writeBadRequest(w, err.Error())
	case errors.As(err, &regErr):
		h.logger.Error("provisioning endpoint", "error", err)
		writeRegistryError(w, err.Error())
	default:
		h.logger.Error("provisioning endpoint", "error", err)
		writeInternalError(w, "endpoint store unavailable")
	}
}

// DeleteResult lists what a delete request removed.
type DeleteResult struct {
	Deleted []string `json:"deleted"`
	Missing []string `json:"missing"`
}

// handleDeleteEndpoints removes the endpoints named by the body or query.
// Ids that do not exist are reported, not fatal.
func (h *Handler) handleDeleteEndpoints(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	ids, err := decodeDeleteRequest(body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	q := r.URL.Query()
	if id := firstOf(q.Get("endpointId"), q.Get("endpoint_id")); id != "" {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		writeBadRequest(w, "no endpoint ids given")
		return
	}

	ctx := r.Context()
	if slices.Contains(ids, deleteAll) {
		all, err := h.endpoints.List(ctx)
		if err != nil {
			h.logger.Error("listing endpoints for delete", "error", err)
			writeInternalError(w, "endpoint store unavailable")
			return
		}
		ids = ids[:0]
		for _, ep := range all {
			ids = append(ids, ep.EndpointID)
		}
	}

	result := DeleteResult{Deleted: []string{}, Missing: []string{}}
	for _, id := range ids {
		err := h.Remove(ctx, id)
		var regErr *registryError
		switch {
		case err == nil:
			result.Deleted = append(result.Deleted, id)
		case errors.Is(err, endpoint.ErrEndpointNotFound):
			result.Missing = append(result.Missing, id)
		case errors.As(err, &regErr):
			h.logger.Error("deleting endpoint", "endpoint_id", id, "error", err)
			writeRegistryError(w, fmt.Sprintf("deleting %s failed: %v", id, err))
			return
		default:
			h.logger.Error("deleting endpoint", "endpoint_id", id, "error", err)
			writeInternalError(w, fmt.Sprintf("deleting %s failed", id))
			return
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeDeleteRequest accepts an id array, {"endpointId": id} or
// {"endpointIds": [ids]}. An empty body yields no ids.
func decodeDeleteRequest(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var ids []string
		if err := json.Unmarshal(body, &ids); err != nil {
			return nil, fmt.Errorf("invalid id list: %w", err)
		}
		return ids, nil
	}
	var obj struct {
		EndpointID  string   `json:"endpointId"`
		EndpointIDs []string `json:"endpointIds"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("invalid delete request: %w", err)
	}
	ids := obj.EndpointIDs
	if obj.EndpointID != "" {
		ids = append(ids, obj.EndpointID)
	}
	return ids, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
