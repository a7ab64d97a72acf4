package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Type is the machine-readable error class returned to clients in the
// "type" field of the error body.
type Type string

const (
	TypeUnauthorized    Type = "authentication_error"
	TypeValidation      Type = "invalid_request_error"
	TypeModelNotFound   Type = "model_not_found_error"
	TypePayloadTooLarge Type = "payload_too_large_error"
	TypeUpstreamTimeout Type = "upstream_timeout_error"
	TypeUpstreamServer  Type = "upstream_error"
	TypeRateLimited     Type = "rate_limit_error"
	TypeBadResponse     Type = "upstream_bad_response_error"
	TypeInternal        Type = "internal_error"
)

// TimeoutPhase distinguishes the three independent upstream timeout
// phases. Only set on TypeUpstreamTimeout errors.
type TimeoutPhase string

const (
	PhaseConnect   TimeoutPhase = "connect"
	PhaseFirstByte TimeoutPhase = "first_byte"
	PhaseIdle      TimeoutPhase = "idle"
)

// Error is the single error value exchanged between gateway components.
// Status is the HTTP status returned to the client; UpstreamStatus, when
// non-zero, records the last status observed from the provider.
type Error struct {
	Status         int
	Type           Type
	Message        string
	Phase          TimeoutPhase
	UpstreamStatus int
	wrapped        error
}

func (e *Error) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Phase, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

func Unauthorized(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Type: TypeUnauthorized, Message: message}
}

func Validation(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Type: TypeValidation, Message: message}
}

func ModelNotFound(publicID string) *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Type:    TypeModelNotFound,
		Message: fmt.Sprintf("model %q does not exist; see /v1/models for available models", publicID),
	}
}

func PayloadTooLarge(limit int64) *Error {
	return &Error{
		Status:  http.StatusRequestEntityTooLarge,
		Type:    TypePayloadTooLarge,
		Message: fmt.Sprintf("payload exceeds the %d byte limit", limit),
	}
}

func Timeout(phase TimeoutPhase, err error) *Error {
	return &Error{
		Status:  http.StatusGatewayTimeout,
		Type:    TypeUpstreamTimeout,
		Message: fmt.Sprintf("upstream %s timeout", phase),
		Phase:   phase,
		wrapped: err,
	}
}

func RateLimited(message string) *Error {
	return &Error{Status: http.StatusTooManyRequests, Type: TypeRateLimited, Message: message, UpstreamStatus: http.StatusTooManyRequests}
}

// UpstreamServer reports a provider-side failure. The client receives
// 502; the provider status that triggered it is kept for logging and
// the error body.
func UpstreamServer(upstreamStatus int, message string) *Error {
	return &Error{
		Status:         http.StatusBadGateway,
		Type:           TypeUpstreamServer,
		Message:        message,
		UpstreamStatus: upstreamStatus,
	}
}

func BadResponse(message string, err error) *Error {
	return &Error{
		Status:  http.StatusBadGateway,
		Type:    TypeBadResponse,
		Message: message,
		wrapped: err,
	}
}

func Internal(err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Type:    TypeInternal,
		Message: "internal server error",
		wrapped: err,
	}
}

// FromStatus maps a non-2xx provider status to the taxonomy. Used when
// the connection phase ends with an HTTP error rather than a transport
// error.
func FromStatus(upstreamStatus int, message string) *Error {
	switch {
	case upstreamStatus == http.StatusTooManyRequests:
		return RateLimited(message)
	case upstreamStatus == http.StatusUnauthorized, upstreamStatus == http.StatusForbidden:
		e := Unauthorized(message)
		e.UpstreamStatus = upstreamStatus
		return e
	case upstreamStatus >= 500:
		return UpstreamServer(upstreamStatus, message)
	case upstreamStatus >= 400:
		e := Validation(message)
		e.Status = upstreamStatus
		e.UpstreamStatus = upstreamStatus
		return e
	default:
		return UpstreamServer(upstreamStatus, message)
	}
}

// From normalizes an arbitrary error into *Error. Unknown errors become
// InternalError so no detail leaks to the client.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    Type   `json:"type"`
	Code    int    `json:"code"`
}

// WriteJSON renders err as the OpenAI-style error body and sets the
// response status. Internal errors are reported without detail.
func WriteJSON(w http.ResponseWriter, err error) {
	e := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Message: e.Message,
			Type:    e.Type,
			Code:    e.Status,
		},
	})
}
