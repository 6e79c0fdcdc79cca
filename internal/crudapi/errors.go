package crudapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnexpectedResponse is returned when the service answers with something
// that is neither a success payload nor a declared rejection.
var ErrUnexpectedResponse = errors.New("crudapi: unexpected response")

// APIError is a rejection declared by the service: a numeric code from its
// error vocabulary plus a message. The original payload is kept so the error
// re-serializes with the exact shape the service sent.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Status is the HTTP status the service answered with, 0 if unknown.
	Status int `json:"-"`

	payload json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crudapi: code %d: %s", e.Code, e.Message)
}

// MarshalJSON returns the service's payload when known.
func (e *APIError) MarshalJSON() ([]byte, error) {
	if len(e.payload) > 0 {
		return e.payload, nil
	}
	type plain APIError
	return json.Marshal((*plain)(e))
}

// NewAPIError builds an APIError without a service payload.
func NewAPIError(code int, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// statusByCode maps the service's error codes to the HTTP status it emits
// for them.
var statusByCode = map[int]int{
	1001: http.StatusNotFound,            // record not found
	1002: http.StatusUnprocessableEntity, // argument count mismatch
	1003: http.StatusNotFound,            // table not found
	1004: http.StatusUnprocessableEntity, // argument count mismatch
	1005: http.StatusMethodNotAllowed,    // read-only
	1006: http.StatusNotFound,            // table already exists
	1007: http.StatusNotFound,            // column not found
	1008: http.StatusUnprocessableEntity, // cannot read
	1009: http.StatusConflict,            // duplicate key
	1010: http.StatusConflict,            // data integrity violation
	1011: http.StatusUnauthorized,        // authentication required
	1012: http.StatusForbidden,           // authentication failed
	1013: http.StatusUnprocessableEntity, // input validation failed
	1014: http.StatusForbidden,           // authorization required
	1015: http.StatusNotFound,            // route not found
	1016: http.StatusMethodNotAllowed,    // operation not supported
	1017: http.StatusNotFound,            // column already exists
	1018: http.StatusUnprocessableEntity, // http message not readable
	1019: http.StatusForbidden,           // pagination forbidden
	1020: http.StatusConflict,            // user already exists
	1021: http.StatusUnprocessableEntity, // password too short
	1022: http.StatusUnprocessableEntity, // origin not allowed
	1023: http.StatusNotFound,            // primary key not found
	9999: http.StatusInternalServerError,
}

// StatusForCode returns the HTTP status for a service error code. Unknown
// codes map to 500.
func StatusForCode(code int) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// decodeAPIError reads a rejection payload. It reports false when the body
// carries no numeric code.
func decodeAPIError(status int, body []byte) (*APIError, bool) {
	var probe struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Code == nil {
		return nil, false
	}
	var compact json.RawMessage
	if err := json.Unmarshal(body, &compact); err != nil {
		return nil, false
	}
	return &APIError{Code: *probe.Code, Message: probe.Message, Status: status, payload: compact}, true
}
