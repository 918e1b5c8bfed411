// Package perr defines the proxy-wide error shape used to translate internal
// and upstream failures into the Anthropic-compatible error envelope.
package perr

import "fmt"

// Type is the top-level discriminator in the Anthropic-compatible error envelope.
type Type string

const (
	// TypeAPI wraps an error surfaced by the upstream model provider.
	TypeAPI Type = "api_error"
	// TypeProxy indicates a failure internal to the proxy itself.
	TypeProxy Type = "proxy_error"
	// TypeTimeout indicates the proxy gave up waiting on an upstream.
	TypeTimeout Type = "proxy_timeout"
)

// ProxyError is the error type every component returns to its HTTP layer.
// StatusCode is the code the proxy will echo to the client; it is capped to
// 502 for errors that never reached the upstream in a meaningful way.
type ProxyError struct {
	Kind       Type
	Message    string
	StatusCode int
	Cause      error
}

func (e *ProxyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProxyError) Unwrap() error { return e.Cause }

// New builds a ProxyError with no underlying cause.
func New(kind Type, statusCode int, message string) *ProxyError {
	return &ProxyError{Kind: kind, Message: message, StatusCode: statusCode}
}

// Wrap builds a ProxyError around an underlying cause.
func Wrap(kind Type, statusCode int, message string, cause error) *ProxyError {
	return &ProxyError{Kind: kind, Message: message, StatusCode: statusCode, Cause: cause}
}

// Envelope is the JSON body shape defined in spec §6: always sent when
// response headers have not yet been flushed to the client.
type Envelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ToEnvelope renders a ProxyError as the wire envelope.
func (e *ProxyError) ToEnvelope() Envelope {
	var env Envelope
	env.Type = "error"
	env.Error.Type = string(e.Kind)
	env.Error.Message = e.Message
	return env
}

// AnthropicErrorType maps an upstream HTTP status to the Anthropic error
// "type" field an error body should carry when re-expressed in Anthropic
// shape. Grounded on the envoyproxy/ai-gateway translator's identical switch.
func AnthropicErrorType(statusCode int) string {
	switch statusCode {
	case 400:
		return "invalid_request_error"
	case 401:
		return "authentication_error"
	case 403:
		return "permission_error"
	case 404:
		return "not_found_error"
	case 413:
		return "request_too_large"
	case 429:
		return "rate_limit_error"
	case 500:
		return "internal_server_error"
	case 503:
		return "service_unavailable_error"
	case 529:
		return "overloaded_error"
	default:
		return "internal_server_error"
	}
}
