package endpointcloud

import (
	"encoding/json"
	"net/http"
)

// Error is the JSON body of a failed request.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeForbidden  = "forbidden"
	ErrCodeInternal   = "internal_error"
	ErrCodeRegistry   = "registry_unavailable"
	ErrCodeTimeout    = "timeout"
)

// timeoutBody is sent by the timeout wrapper; it cannot be encoded per
// request.
const timeoutBody = `{"status":503,"code":"timeout","message":"request exceeded the function timeout"}`

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

func writeRegistryError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadGateway, ErrCodeRegistry, message)
}
