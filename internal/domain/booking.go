package domain

import "time"

// DefaultServiceDurationMinutes is used when a booking carries no estimate.
const DefaultServiceDurationMinutes = 30

// Represents a single service appointment at a customer location.
// Bookings are owned by the booking store; planning only reads them and,
// on commit, writes back the route/vehicle assignment and stop order.
type Booking struct {
	ID                       string
	ServiceID                string
	RouteID                  string
	VehicleID                string
	ScheduledDate            time.Time
	ScheduledStartTime       string
	ScheduledEndTime         string
	EstimatedDurationMinutes int
	Location                 *Coordinates
	LocationName             string
	LocationCity             string
	Status                   string
	StopOrder                int
}

// ServiceDuration returns the estimated on-site time, defaulting to 30 minutes.
func (b *Booking) ServiceDuration() time.Duration {
	if b.EstimatedDurationMinutes <= 0 {
		return DefaultServiceDurationMinutes * time.Minute
	}
	return time.Duration(b.EstimatedDurationMinutes) * time.Minute
}

// HasLocation reports whether the booking has usable coordinates.
func (b *Booking) HasLocation() bool {
	return b.Location != nil && b.Location.Valid()
}
