package dto

import (
	"errors"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/services"
	"slices"
	"strings"
	"time"
)

type PlanRequest struct {
	RouteDate          string                     `json:"routeDate"`
	ServiceID          string                     `json:"serviceId"`
	MaxStopsPerRoute   int                        `json:"maxStopsPerRoute"`
	DepartureLocation  *Coordinates               `json:"departureLocation"`
	ReturnToStart      *bool                      `json:"returnToStart"`
	RoutingPreference  string                     `json:"routingPreference"`
	VehicleAllocations []domain.VehicleAllocation `json:"vehicleAllocations"`
}

// ParseDate parses a YYYY-MM-DD day in UTC.
func ParseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New(field + " is required")
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.New(field + " must be YYYY-MM-DD")
	}
	return d, nil
}

func (r PlanRequest) Input() (services.PlanRoutesInput, error) {
	date, err := ParseDate("routeDate", r.RouteDate)
	if err != nil {
		return services.PlanRoutesInput{}, err
	}

	in := services.PlanRoutesInput{
		RouteDate:          date,
		ServiceID:          strings.TrimSpace(r.ServiceID),
		MaxStopsPerRoute:   r.MaxStopsPerRoute,
		ReturnToStart:      r.ReturnToStart,
		RoutingPreference:  strings.TrimSpace(r.RoutingPreference),
		VehicleAllocations: r.VehicleAllocations,
	}
	if r.DepartureLocation != nil {
		c := r.DepartureLocation.Domain()
		in.DepartureLocation = &c
	}
	return in, nil
}

type ClusterRequest struct {
	Date               string `json:"date"`
	ServiceID          string `json:"serviceId"`
	MaxStopsPerVehicle int    `json:"maxStopsPerVehicle"`
}

type RouteResponse struct {
	ID                   string               `json:"id"`
	RouteCode            string               `json:"routeCode"`
	RouteName            string               `json:"routeName"`
	VehicleID            string               `json:"vehicleId"`
	ServiceID            string               `json:"serviceId"`
	RouteDate            string               `json:"routeDate"`
	PlannedStartTime     string               `json:"plannedStartTime"`
	PlannedEndTime       string               `json:"plannedEndTime"`
	TotalDistanceKm      float64              `json:"totalDistanceKm"`
	TotalDurationMinutes int                  `json:"totalDurationMinutes"`
	TotalServiceMinutes  int                  `json:"totalServiceMinutes"`
	TotalTravelMinutes   int                  `json:"totalTravelMinutes"`
	TotalStops           int                  `json:"totalStops"`
	OptimizationType     string               `json:"optimizationType"`
	Status               string               `json:"status"`
	StopSequence         []string             `json:"stopSequence"`
	Geometry             domain.RouteGeometry `json:"geometry"`
}

func FromRoutes(rs []*domain.Route) []RouteResponse {
	out := make([]RouteResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, RouteResponse{
			ID:                   r.ID,
			RouteCode:            r.RouteCode,
			RouteName:            r.RouteName,
			VehicleID:            r.VehicleID,
			ServiceID:            r.ServiceID,
			RouteDate:            formatDate(r.RouteDate),
			PlannedStartTime:     r.PlannedStartTime,
			PlannedEndTime:       r.PlannedEndTime,
			TotalDistanceKm:      r.TotalDistanceKm,
			TotalDurationMinutes: r.TotalDurationMinutes,
			TotalServiceMinutes:  r.TotalServiceMinutes,
			TotalTravelMinutes:   r.TotalTravelMinutes,
			TotalStops:           r.TotalStops,
			OptimizationType:     r.OptimizationType,
			Status:               r.Status,
			StopSequence:         nonNil(r.StopSequence),
			Geometry:             r.Geometry,
		})
	}
	return out
}

type ListRoutesResponse struct {
	Routes []RouteResponse `json:"routes"`
}

type BatchErrorResponse struct {
	BatchIndex int    `json:"batchIndex"`
	VehicleID  string `json:"vehicleId"`
	ServiceID  string `json:"serviceId"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error"`
}

type PlanResponse struct {
	Routes             []RouteResponse             `json:"routes"`
	UnassignedBookings []UnassignedBookingResponse `json:"unassignedBookings"`
	Errors             []BatchErrorResponse        `json:"errors"`
	Warnings           []string                    `json:"warnings"`
	Summary            services.PlanSummary        `json:"summary"`
}

func FromPlan(resp *services.PlanRoutesResponse) PlanResponse {
	out := PlanResponse{
		Routes:             FromRoutes(resp.Routes),
		UnassignedBookings: FromUnassigned(resp.UnassignedBookings),
		Errors:             make([]BatchErrorResponse, 0, len(resp.Errors)),
		Warnings:           nonNil(resp.Warnings),
		Summary:            resp.Summary,
	}
	for _, e := range resp.Errors {
		out.Errors = append(out.Errors, BatchErrorResponse{
			BatchIndex: e.BatchIndex,
			VehicleID:  e.VehicleID,
			ServiceID:  e.ServiceID,
			Code:       domain.ProviderCode(e.Err),
			Error:      e.Err.Error(),
		})
	}
	return out
}

type PreviewResponse struct {
	RouteDate              string                       `json:"routeDate"`
	Bookings               []BookingResponse            `json:"bookings"`
	Vehicles               []VehicleResponse            `json:"vehicles"`
	DefaultAllocation      []services.AllocationPreview `json:"defaultAllocation"`
	UnassignableBookings   []UnassignedBookingResponse  `json:"unassignableBookings"`
	Warnings               []string                     `json:"warnings"`
	AvailableBaseLocations []LocationResponse           `json:"availableBaseLocations"`
}

func FromPreview(p *services.RoutePlanPreview) PreviewResponse {
	alloc := p.DefaultAllocation
	if alloc == nil {
		alloc = []services.AllocationPreview{}
	}
	return PreviewResponse{
		RouteDate:              formatDate(p.RouteDate),
		Bookings:               FromBookings(p.Bookings),
		Vehicles:               FromVehicles(p.Vehicles),
		DefaultAllocation:      alloc,
		UnassignableBookings:   FromUnassigned(p.UnassignableBookings),
		Warnings:               nonNil(p.Warnings),
		AvailableBaseLocations: FromLocations(p.AvailableBaseLocations),
	}
}

type ClusterBookingResponse struct {
	BookingID     string  `json:"bookingId"`
	ServiceID     string  `json:"serviceId"`
	DistanceMiles float64 `json:"distanceMiles"`
}

type DepotClusterResponse struct {
	DepotLocationID string                   `json:"depotLocationId"`
	DepotName       string                   `json:"depotName"`
	VehicleCount    int                      `json:"vehicleCount"`
	Bookings        []ClusterBookingResponse `json:"bookings"`
}

type ClusterResponse struct {
	Clusters   []DepotClusterResponse      `json:"clusters"`
	Unassigned []UnassignedBookingResponse `json:"unassigned"`
	Stats      services.ClusteringStats    `json:"stats"`
}

// FromClustering lists clusters in depot id order.
func FromClustering(res services.ClusteringResult) ClusterResponse {
	ids := make([]string, 0, len(res.DepotClusters))
	for id := range res.DepotClusters {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := ClusterResponse{
		Clusters:   make([]DepotClusterResponse, 0, len(ids)),
		Unassigned: FromUnassigned(res.Unassigned),
		Stats:      res.Stats,
	}
	for _, id := range ids {
		c := DepotClusterResponse{DepotLocationID: id}
		if d := res.Depots[id]; d != nil {
			c.DepotName = d.Name
			c.VehicleCount = len(d.Vehicles)
		}
		for _, a := range res.DepotClusters[id] {
			c.Bookings = append(c.Bookings, ClusterBookingResponse{
				BookingID:     a.Booking.ID,
				ServiceID:     a.Booking.ServiceID,
				DistanceMiles: a.DistanceMiles,
			})
		}
		out.Clusters = append(out.Clusters, c)
	}
	return out
}
