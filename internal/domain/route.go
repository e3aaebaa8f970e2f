package domain

import (
	"fmt"
	"time"
)

const (
	RouteStatusPlanned       = "planned"
	OptimizationTypeBalanced = "balanced"
	BookingStatusScheduled   = "scheduled"
	BookingStatusConfirmed   = "confirmed"
)

type RouteGeometry struct {
	EncodedPolyline string     `json:"encodedPolyline,omitempty"`
	Legs            []RouteLeg `json:"legs"`
}

// Represents a persisted, dispatchable route for one vehicle on one day.
// A Route is created from an OptimizedRouteBatch on commit; StopSequence
// lists booking ids in visit order.
type Route struct {
	ID                   string
	RouteCode            string
	RouteName            string
	VehicleID            string
	ServiceID            string
	RouteDate            time.Time
	PlannedStartTime     string
	PlannedEndTime       string
	TotalDistanceKm      float64
	TotalDurationMinutes int
	TotalServiceMinutes  int
	TotalTravelMinutes   int
	TotalStops           int
	OptimizationType     string
	Status               string
	StopSequence         []string
	Geometry             RouteGeometry
	CreatedAt            time.Time
}

// Write-back for a booking placed on a route.
type BookingAssignment struct {
	BookingID          string
	RouteID            string
	VehicleID          string
	StopOrder          int
	ScheduledStartTime string
	ScheduledEndTime   string
}

// RouteCode formats the human facing route code, e.g. RT-20260105-003.
func RouteCode(date time.Time, seq int) string {
	return fmt.Sprintf("RT-%s-%03d", date.Format("20060102"), seq)
}
