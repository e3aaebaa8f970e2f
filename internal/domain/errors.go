package domain

import (
	"errors"
	"fmt"
)

// Planning error codes surfaced to callers.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNoBookings         = "NO_BOOKINGS"
	CodeNoVehicles         = "NO_VEHICLES"
	CodeFetchFailed        = "FETCH_FAILED"
	CodeOptimizationFailed = "OPTIMIZATION_FAILED"
)

// Routing provider error codes.
const (
	ProviderInvalidRequest       = "INVALID_REQUEST"
	ProviderRequestDenied        = "REQUEST_DENIED"
	ProviderZeroResults          = "ZERO_RESULTS"
	ProviderQuotaExceeded        = "QUOTA_EXCEEDED"
	ProviderAPIError             = "API_ERROR"
	ProviderTimeout              = "TIMEOUT"
	ProviderNetworkError         = "NETWORK_ERROR"
	ProviderMissingAPIKey        = "MISSING_API_KEY"
	ProviderInvalidWaypoint      = "INVALID_WAYPOINT"
	ProviderMaxWaypointsExceeded = "MAX_WAYPOINTS_EXCEEDED"
)

var (
	ErrInvalidInput = &PlanningError{Code: CodeInvalidInput}
	ErrNoBookings   = &PlanningError{Code: CodeNoBookings}
	ErrNoVehicles   = &PlanningError{Code: CodeNoVehicles}
)

// PlanningError is returned for input and feasibility failures. Two planning
// errors match under errors.Is when their codes are equal.
type PlanningError struct {
	Code    string
	Message string
	Err     error
}

func NewPlanningError(code, msg string, err error) *PlanningError {
	return &PlanningError{Code: code, Message: msg, Err: err}
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PlanningError) Unwrap() error { return e.Err }

func (e *PlanningError) Is(target error) bool {
	var t *PlanningError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ProviderError is a classified failure from the external routing provider.
type ProviderError struct {
	Code       string
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderCode extracts the provider code from err, or "" if err did not
// originate from the provider.
func ProviderCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
