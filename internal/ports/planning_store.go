package ports

import (
	"context"
	"errors"
	"field-route-planner/internal/domain"
	"time"
)

var ErrNotFound = errors.New("not found")

// Filters applied when listing vehicles for a planning run.
type VehicleFilter struct {
	Status    string
	ServiceID string
}

// RouteWriter persists a route together with its booking write-backs.
type RouteWriter interface {
	// Store a route and return its id.
	PersistRoute(ctx context.Context, route *domain.Route) (string, error)
	// Record a booking's route, vehicle and stop order.
	UpdateBookingAssignment(ctx context.Context, a domain.BookingAssignment) error
}

// Port: boundary for the booking, vehicle and route data used by planning.
type PlanningStore interface {
	RouteWriter

	// Bookings scheduled on date with no route yet; serviceID "" means any.
	FetchUnscheduledBookings(ctx context.Context, date time.Time, serviceID string) ([]*domain.Booking, error)
	FetchVehicles(ctx context.Context, filter VehicleFilter) ([]*domain.Vehicle, error)
	// Resolve depot locations by id; unknown ids are omitted from the map.
	FetchDepotLocations(ctx context.Context, ids []string) (map[string]domain.DepotLocation, error)
	FetchBaseLocations(ctx context.Context) ([]domain.DepotLocation, error)
	FetchClusteringConfig(ctx context.Context) (domain.ClusteringConfig, error)
	FetchPlanningParams(ctx context.Context) (domain.PlanningParams, error)
	// Next free route code sequence number for date, starting at 1.
	NextRouteSequence(ctx context.Context, date time.Time) (int, error)
	ListRoutes(ctx context.Context, date time.Time) ([]*domain.Route, error)

	// Run fn atomically: either every write made through w is kept or none is.
	InTx(ctx context.Context, fn func(w RouteWriter) error) error
}
