// Package core provides the canonical types, event vocabulary, and error
// taxonomy for the gateway.
package core

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorType represents the class of error that occurred.
type ErrorType string

const (
	// ErrorTypeModelNotConfigured indicates the model reference did not
	// resolve to a binding. No upstream call was made.
	ErrorTypeModelNotConfigured ErrorType = "model_not_configured"
	// ErrorTypeUpstreamTransport indicates a network or connect failure
	// reaching the backend.
	ErrorTypeUpstreamTransport ErrorType = "upstream_transport_error"
	// ErrorTypeUpstreamProtocol indicates the backend returned a well-formed
	// error envelope; its message is passed through.
	ErrorTypeUpstreamProtocol ErrorType = "upstream_protocol_error"
	// ErrorTypeMalformedChunk indicates one wire chunk failed to parse.
	// Never fatal to a stream; logged and skipped.
	ErrorTypeMalformedChunk ErrorType = "malformed_chunk"
	// ErrorTypeClientDisconnected indicates the downstream consumer went
	// away. Not a failure; triggers upstream cancellation.
	ErrorTypeClientDisconnected ErrorType = "client_disconnected"
	// ErrorTypeInvalidRequest indicates a malformed inbound request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
)

// GatewayError is the base error type for all gateway errors.
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Backend    string    `json:"backend,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Backend, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeModelNotConfigured:
		return http.StatusNotFound
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUpstreamTransport, ErrorTypeUpstreamProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map.
func (e *GatewayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewModelNotConfiguredError creates the terminal resolver-miss error.
func NewModelNotConfiguredError(ref string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeModelNotConfigured,
		Message:    fmt.Sprintf("no binding configured for model reference %q", ref),
		StatusCode: http.StatusNotFound,
	}
}

// NewUpstreamTransportError creates a network-level failure error.
func NewUpstreamTransportError(backend, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUpstreamTransport,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Backend:    backend,
		Err:        err,
	}
}

// NewUpstreamProtocolError creates an error for a backend error envelope.
func NewUpstreamProtocolError(backend string, statusCode int, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUpstreamProtocol,
		Message:    message,
		StatusCode: statusCode,
		Backend:    backend,
	}
}

// NewInvalidRequestError creates a new invalid request error (400).
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// ParseUpstreamError parses an error response body from a backend and returns
// an appropriate GatewayError. Backends that return a well-formed error
// envelope have their message passed through verbatim.
func ParseUpstreamError(backend string, statusCode int, body []byte) *GatewayError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	return NewUpstreamProtocolError(backend, statusCode, message)
}

// IsModelNotConfigured reports whether err is a resolver miss.
func IsModelNotConfigured(err error) bool {
	ge, ok := err.(*GatewayError)
	return ok && ge.Type == ErrorTypeModelNotConfigured
}
