package dto

import (
	"field-route-planner/internal/domain"
	"time"
)

const DateLayout = "2006-01-02"

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinates) Domain() domain.Coordinates {
	return domain.Coordinates{Lat: c.Latitude, Lon: c.Longitude}
}

func FromCoordinates(c *domain.Coordinates) *Coordinates {
	if c == nil {
		return nil
	}
	return &Coordinates{Latitude: c.Lat, Longitude: c.Lon}
}

type BookingResponse struct {
	ID                       string       `json:"id"`
	ServiceID                string       `json:"serviceId"`
	ScheduledDate            string       `json:"scheduledDate"`
	ScheduledStartTime       string       `json:"scheduledStartTime,omitempty"`
	ScheduledEndTime         string       `json:"scheduledEndTime,omitempty"`
	EstimatedDurationMinutes int          `json:"estimatedDurationMinutes"`
	Location                 *Coordinates `json:"location"`
	LocationName             string       `json:"locationName,omitempty"`
	LocationCity             string       `json:"locationCity,omitempty"`
	Status                   string       `json:"status"`
}

func FromBooking(b *domain.Booking) BookingResponse {
	return BookingResponse{
		ID:                       b.ID,
		ServiceID:                b.ServiceID,
		ScheduledDate:            formatDate(b.ScheduledDate),
		ScheduledStartTime:       b.ScheduledStartTime,
		ScheduledEndTime:         b.ScheduledEndTime,
		EstimatedDurationMinutes: int(b.ServiceDuration().Minutes()),
		Location:                 FromCoordinates(b.Location),
		LocationName:             b.LocationName,
		LocationCity:             b.LocationCity,
		Status:                   b.Status,
	}
}

func FromBookings(bs []*domain.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, FromBooking(b))
	}
	return out
}

type UnassignedBookingResponse struct {
	BookingID string `json:"bookingId"`
	ServiceID string `json:"serviceId"`
	Reason    string `json:"reason"`
	Details   string `json:"details,omitempty"`
}

func FromUnassigned(list []domain.UnassignedBooking) []UnassignedBookingResponse {
	out := make([]UnassignedBookingResponse, 0, len(list))
	for _, u := range list {
		out = append(out, UnassignedBookingResponse{
			BookingID: u.Booking.ID,
			ServiceID: u.Booking.ServiceID,
			Reason:    string(u.Reason),
			Details:   u.Details,
		})
	}
	return out
}

type VehicleResponse struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	HomeLocationIDs  []string `json:"homeLocationIds"`
	ServiceTypes     []string `json:"serviceTypes"`
	MaxStopsPerRoute int      `json:"maxStopsPerRoute,omitempty"`
	Status           string   `json:"status"`
}

func FromVehicles(vs []*domain.Vehicle) []VehicleResponse {
	out := make([]VehicleResponse, 0, len(vs))
	for _, v := range vs {
		out = append(out, VehicleResponse{
			ID:               v.ID,
			Name:             v.Name,
			HomeLocationIDs:  nonNil(v.HomeLocationIDs),
			ServiceTypes:     nonNil(v.ServiceTypes),
			MaxStopsPerRoute: v.MaxStopsPerRoute,
			Status:           v.Status,
		})
	}
	return out
}

type LocationResponse struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	City        string      `json:"city,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
}

func FromLocations(ls []domain.DepotLocation) []LocationResponse {
	out := make([]LocationResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, LocationResponse{
			ID:          l.ID,
			Name:        l.Name,
			City:        l.City,
			Coordinates: Coordinates{Latitude: l.Coordinates.Lat, Longitude: l.Coordinates.Lon},
		})
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
