package domain

// UnassignReason classifies why a booking could not be placed on a route.
type UnassignReason string

const (
	ReasonOutOfServiceArea   UnassignReason = "out_of_service_area"
	ReasonNoVehicleAvailable UnassignReason = "no_vehicle_available"
	ReasonCapacityExceeded   UnassignReason = "capacity_exceeded"
	ReasonNoCoordinates      UnassignReason = "no_coordinates"
	ReasonNoMatchingService  UnassignReason = "no_matching_service"

	// Set by the planner after clustering.
	ReasonOptimizationFailed UnassignReason = "optimization_failed"
	ReasonPersistFailed      UnassignReason = "persist_failed"
)

// Successful clustering outcome for one booking.
type DepotAssignment struct {
	Booking         *Booking
	DepotLocationID string
	DistanceMiles   float64
}

type UnassignedBooking struct {
	Booking *Booking
	Reason  UnassignReason
	Details string
}

// Bookings sharing one vehicle and service, optimized by a single provider call.
type BookingBatch struct {
	VehicleID string
	ServiceID string
	Bookings  []*Booking
}

// RouteLeg is the provider's leg between two consecutive waypoints.
type RouteLeg struct {
	DistanceMeters  int    `json:"distanceMeters"`
	DurationSeconds int    `json:"durationSeconds"`
	EncodedPolyline string `json:"encodedPolyline,omitempty"`
}

// Optimized and timed result for one BookingBatch.
// Bookings are in final visit order.
type OptimizedRouteBatch struct {
	VehicleID            string
	ServiceID            string
	Bookings             []*Booking
	TotalDistanceMeters  int
	TotalDurationSeconds int
	PlannedStartTime     string
	PlannedEndTime       string
	Legs                 []RouteLeg
	EncodedPolyline      string
	Warnings             []string
}

// ClusteringConfig is fixed for the duration of one run.
type ClusteringConfig struct {
	MaxRadiusMiles     float64
	MaxStopsPerVehicle int
}

// PlanningParams drive the time-aware default allocation and stop scheduling.
type PlanningParams struct {
	MaxDailyMinutes         float64
	AvgTravelSpeedKmph      float64
	TrafficBufferMultiplier float64
	DayStartTime            string
}

func DefaultPlanningParams() PlanningParams {
	return PlanningParams{
		MaxDailyMinutes:         540,
		AvgTravelSpeedKmph:      40,
		TrafficBufferMultiplier: 1.2,
		DayStartTime:            "08:00:00",
	}
}

// VehicleAllocation pins a number of bookings to a vehicle, optionally
// overriding where its routes start and end.
type VehicleAllocation struct {
	VehicleID       string `json:"vehicleId"`
	BookingCount    int    `json:"bookingCount"`
	StartLocationID string `json:"startLocationId,omitempty"`
	EndLocationID   string `json:"endLocationId,omitempty"`
}
