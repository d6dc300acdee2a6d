// Package errors defines the gateway's canonical error taxonomy and the typed
// GatewayError value that flows, unwrapped, from any pipeline stage up to the
// ingress edge where it is rendered once as the canonical JSON error document.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Kind is the gateway's internal error taxonomy; each kind maps to exactly one
// HTTP status code.
type Kind string

const (
	KindBadRequest         Kind = "BadRequest"
	KindUnauthorized       Kind = "Unauthorized"
	KindForbidden          Kind = "Forbidden"
	KindNotFound           Kind = "NotFound"
	KindPayloadTooLarge    Kind = "PayloadTooLarge"
	KindTooManyRequests    Kind = "TooManyRequests"
	KindBadGateway         Kind = "BadGateway"
	KindServiceUnavailable Kind = "ServiceUnavailable"
	KindGatewayTimeout     Kind = "GatewayTimeout"
	KindInternal           Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindBadRequest:         http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindPayloadTooLarge:    http.StatusRequestEntityTooLarge,
	KindTooManyRequests:    http.StatusTooManyRequests,
	KindBadGateway:         http.StatusBadGateway,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindGatewayTimeout:     http.StatusGatewayTimeout,
	KindInternal:           http.StatusInternalServerError,
}

// GatewayError is the canonical error document returned to clients.
type GatewayError struct {
	StatusCode    int    `json:"statusCode"`
	ErrorType     Kind   `json:"errorType"`
	Message       string `json:"message"`
	Details       string `json:"details,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	Path          string `json:"path,omitempty"`
	Method        string `json:"method,omitempty"`

	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// clone returns a shallow copy so the With* helpers never mutate a shared sentinel.
func (e *GatewayError) clone() *GatewayError {
	c := *e
	return &c
}

// WithDetails attaches a human-readable detail string.
func (e *GatewayError) WithDetails(details string) *GatewayError {
	c := e.clone()
	c.Details = details
	return c
}

// WithErrorCode attaches a machine-readable error code.
func (e *GatewayError) WithErrorCode(code string) *GatewayError {
	c := e.clone()
	c.ErrorCode = code
	return c
}

// WithCorrelationID stamps the request's correlation id onto the error.
func (e *GatewayError) WithCorrelationID(id string) *GatewayError {
	c := e.clone()
	c.CorrelationID = id
	return c
}

// WithRequest stamps the request method and path onto the error.
func (e *GatewayError) WithRequest(method, path string) *GatewayError {
	c := e.clone()
	c.Method = method
	c.Path = path
	return c
}

// WriteJSON renders the canonical error document to w, stamping the timestamp
// at write time.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	c := e.clone()
	c.Timestamp = time.Now().UTC().Format(time.RFC3339)

	w.Header().Set("Content-Type", "application/json")
	if c.CorrelationID != "" {
		w.Header().Set("X-Correlation-ID", c.CorrelationID)
	}
	w.WriteHeader(c.StatusCode)
	json.NewEncoder(w).Encode(c)
}

// New creates a GatewayError of the given kind.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{
		StatusCode: statusByKind[kind],
		ErrorType:  kind,
		Message:    message,
	}
}

// Wrap creates a GatewayError of the given kind wrapping an underlying error.
func Wrap(err error, kind Kind, message string) *GatewayError {
	return &GatewayError{
		StatusCode: statusByKind[kind],
		ErrorType:  kind,
		Message:    message,
		underlying: err,
	}
}

// AsGatewayError reports whether err is a *GatewayError.
func AsGatewayError(err error) (*GatewayError, bool) {
	ge, ok := err.(*GatewayError)
	return ge, ok
}

// Sentinel errors mirroring the taxonomy table in spec §7. Callers wrap these
// with WithDetails/WithCorrelationID/WithRequest rather than mutating them.
var (
	ErrBadRequest         = New(KindBadRequest, "Bad Request")
	ErrUnauthorized       = New(KindUnauthorized, "Unauthorized")
	ErrForbidden          = New(KindForbidden, "Forbidden")
	ErrNotFound           = New(KindNotFound, "Not Found")
	ErrPayloadTooLarge    = New(KindPayloadTooLarge, "Payload Too Large")
	ErrTooManyRequests    = New(KindTooManyRequests, "Too Many Requests")
	ErrBadGateway         = New(KindBadGateway, "Bad Gateway")
	ErrServiceUnavailable = New(KindServiceUnavailable, "Service Unavailable")
	ErrGatewayTimeout     = New(KindGatewayTimeout, "Gateway Timeout")
	ErrInternal           = New(KindInternal, "Internal Server Error")
)
