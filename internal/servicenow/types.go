package servicenow

import (
	"encoding/json"
	"fmt"
)

// Record represents a single ServiceNow table record as a map of field names to values.
type Record map[string]interface{}

// TableResponse represents the JSON response from the ServiceNow Table API.
type TableResponse struct {
	Result []Record `json:"result"`
}

// ErrorResponse represents a ServiceNow API error response body.
//
//	{"error":{"message":"No Record found","detail":"Record doesn't exist ..."},"status":"failure"}
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
	Status string `json:"status"`
}

// APIError is returned for any non-2xx Table API response that the client
// does not recover from. Callers classify it by StatusCode.
type APIError struct {
	StatusCode int
	Method     string
	Table      string
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("servicenow %s %s: status %d: %s", e.Method, e.Table, e.StatusCode, msg)
}

// newAPIError builds an APIError from a response body, preferring the
// structured ServiceNow error envelope and falling back to the raw body.
func newAPIError(status int, method, table string, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Method: method, Table: table}

	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		apiErr.Message = er.Error.Message
		apiErr.Detail = er.Error.Detail
		return apiErr
	}
	apiErr.Message = truncateBody(body)
	return apiErr
}
