package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is the JSON error body returned by the admin API.
type APIError struct {
	Code       int      `json:"code"`
	Message    string   `json:"error"`
	Details    string   `json:"details,omitempty"`
	Violations []string `json:"violations,omitempty"`
	RequestID  string   `json:"request_id,omitempty"`
	underlying error
}

func (e *APIError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
// For base errors (no details/violations/requestID), uses pre-serialized JSON.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if e.RequestID != "" {
		w.Header().Set("X-Request-ID", e.RequestID)
	}
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrBadRequest = &APIError{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
	}

	ErrNotFound = &APIError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrMethodNotAllowed = &APIError{
		Code:    http.StatusMethodNotAllowed,
		Message: "Method Not Allowed",
	}

	ErrUnprocessable = &APIError{
		Code:    http.StatusUnprocessableEntity,
		Message: "Invalid configuration",
	}

	ErrInternalServer = &APIError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}

	ErrBadGateway = &APIError{
		Code:    http.StatusBadGateway,
		Message: "Bad Gateway",
	}

	ErrServiceUnavailable = &APIError{
		Code:    http.StatusServiceUnavailable,
		Message: "Service Unavailable",
	}
)

var preSerialized map[*APIError][]byte

func init() {
	bases := []*APIError{
		ErrBadRequest, ErrNotFound, ErrMethodNotAllowed, ErrUnprocessable,
		ErrInternalServer, ErrBadGateway, ErrServiceUnavailable,
	}
	preSerialized = make(map[*APIError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new APIError
func New(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code int, message string) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

func (e *APIError) clone() *APIError {
	c := *e
	return &c
}

// WithDetails adds details to the error
func (e *APIError) WithDetails(details string) *APIError {
	c := e.clone()
	c.Details = details
	return c
}

// WithViolations attaches validation findings to the error.
func (e *APIError) WithViolations(violations []string) *APIError {
	c := e.clone()
	c.Violations = violations
	return c
}

// WithRequestID adds a request ID to the error
func (e *APIError) WithRequestID(requestID string) *APIError {
	c := e.clone()
	c.RequestID = requestID
	return c
}
