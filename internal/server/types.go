// Package server provides the HTTP surface of the watermark service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest            = "BAD_REQUEST"
	CodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	CodeEngineFailure         = "ENGINE_FAILURE"
	CodeIOFailure             = "IO_FAILURE"
	CodeInternal              = "INTERNAL_ERROR"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
