package alexa

import (
	"errors"
	"net/http"
)

var (
	// ErrEmptyBody is returned for a directive request with no body.
	ErrEmptyBody = errors.New("alexa: empty body")

	// ErrMalformed is returned when an envelope cannot be decoded.
	ErrMalformed = errors.New("alexa: malformed message")
)

// ErrorType is the type field of an ErrorResponse payload.
type ErrorType string

// Error types used by the endpoint handler.
const (
	ErrorInternal            ErrorType = "INTERNAL_ERROR"
	ErrorInvalidDirective    ErrorType = "INVALID_DIRECTIVE"
	ErrorInvalidValue        ErrorType = "INVALID_VALUE"
	ErrorNoSuchEndpoint      ErrorType = "NO_SUCH_ENDPOINT"
	ErrorInvalidCredential   ErrorType = "INVALID_AUTHORIZATION_CREDENTIAL"
	ErrorEndpointUnreachable ErrorType = "ENDPOINT_UNREACHABLE"
	ErrorAcceptGrantFailed   ErrorType = "ACCEPT_GRANT_FAILED"
)

// HTTPStatus is the status code an ErrorResponse of this type is sent with.
func (t ErrorType) HTTPStatus() int {
	switch t {
	case ErrorInvalidDirective, ErrorInvalidValue:
		return http.StatusBadRequest
	case ErrorInvalidCredential:
		return http.StatusForbidden
	case ErrorNoSuchEndpoint:
		return http.StatusNotFound
	case ErrorEndpointUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorPayload is the payload of an ErrorResponse event.
type ErrorPayload struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}
