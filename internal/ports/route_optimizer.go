package ports

import (
	"context"
	"field-route-planner/internal/domain"
)

const (
	TravelModeDrive = "DRIVE"

	RoutingTrafficUnaware = "TRAFFIC_UNAWARE"
	RoutingTrafficAware   = "TRAFFIC_AWARE"
)

// One route computation with optional waypoint order optimization.
type ComputeRoutesRequest struct {
	Origin                domain.Coordinates
	Destination           domain.Coordinates
	Intermediates         []domain.Coordinates
	TravelMode            string
	RoutingPreference     string
	OptimizeWaypointOrder bool
}

// A route candidate returned by the provider.
// Duration is the provider's "<seconds>s" string.
type ComputedRoute struct {
	DistanceMeters                     int
	Duration                           string
	Legs                               []ComputedLeg
	OptimizedIntermediateWaypointIndex []int
	EncodedPolyline                    string
	Warnings                           []string
}

type ComputedLeg struct {
	DistanceMeters  int
	Duration        string
	EncodedPolyline string
}

// Contract for the external route optimization service.
type RouteOptimizer interface {
	// Return route candidates, best first.
	ComputeRoutes(ctx context.Context, req ComputeRoutesRequest) ([]ComputedRoute, error)
}
