package routes

import (
	"field-route-planner/internal/domain"
	"field-route-planner/internal/ports"
)

// Google Routes API v2 computeRoutes payloads. Only the fields requested
// through the field mask are modelled.

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type wireLocation struct {
	LatLng latLng `json:"latLng"`
}

type waypoint struct {
	Location        wireLocation `json:"location"`
	VehicleStopover bool         `json:"vehicleStopover,omitempty"`
}

type computeRoutesRequest struct {
	Origin                   waypoint   `json:"origin"`
	Destination              waypoint   `json:"destination"`
	Intermediates            []waypoint `json:"intermediates,omitempty"`
	TravelMode               string     `json:"travelMode"`
	RoutingPreference        string     `json:"routingPreference,omitempty"`
	OptimizeWaypointOrder    bool       `json:"optimizeWaypointOrder,omitempty"`
	PolylineQuality          string     `json:"polylineQuality,omitempty"`
	ComputeAlternativeRoutes bool       `json:"computeAlternativeRoutes"`
}

type polyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}

type routeLeg struct {
	DistanceMeters int       `json:"distanceMeters"`
	Duration       string    `json:"duration"`
	Polyline       *polyline `json:"polyline,omitempty"`
}

type route struct {
	DistanceMeters                     int        `json:"distanceMeters"`
	Duration                           string     `json:"duration"`
	Polyline                           *polyline  `json:"polyline,omitempty"`
	Legs                               []routeLeg `json:"legs"`
	OptimizedIntermediateWaypointIndex []int      `json:"optimizedIntermediateWaypointIndex"`
	Warnings                           []string   `json:"warnings"`
}

type computeRoutesResponse struct {
	Routes []route `json:"routes"`
}

func toWaypoint(c domain.Coordinates, stopover bool) waypoint {
	return waypoint{
		Location:        wireLocation{LatLng: latLng{Latitude: c.Lat, Longitude: c.Lon}},
		VehicleStopover: stopover,
	}
}

func toWireRequest(req ports.ComputeRoutesRequest) computeRoutesRequest {
	out := computeRoutesRequest{
		Origin:                   toWaypoint(req.Origin, false),
		Destination:              toWaypoint(req.Destination, false),
		TravelMode:               req.TravelMode,
		RoutingPreference:        req.RoutingPreference,
		OptimizeWaypointOrder:    req.OptimizeWaypointOrder && len(req.Intermediates) > 1,
		PolylineQuality:          "HIGH_QUALITY",
		ComputeAlternativeRoutes: false,
	}
	if out.TravelMode == "" {
		out.TravelMode = ports.TravelModeDrive
	}
	if out.RoutingPreference == "" {
		out.RoutingPreference = ports.RoutingTrafficUnaware
	}
	for _, c := range req.Intermediates {
		out.Intermediates = append(out.Intermediates, toWaypoint(c, true))
	}
	return out
}

func fromWireResponse(resp computeRoutesResponse) []ports.ComputedRoute {
	out := make([]ports.ComputedRoute, 0, len(resp.Routes))
	for _, r := range resp.Routes {
		cr := ports.ComputedRoute{
			DistanceMeters:                     r.DistanceMeters,
			Duration:                           r.Duration,
			OptimizedIntermediateWaypointIndex: r.OptimizedIntermediateWaypointIndex,
			Warnings:                           r.Warnings,
		}
		if r.Polyline != nil {
			cr.EncodedPolyline = r.Polyline.EncodedPolyline
		}
		for _, l := range r.Legs {
			leg := ports.ComputedLeg{DistanceMeters: l.DistanceMeters, Duration: l.Duration}
			if l.Polyline != nil {
				leg.EncodedPolyline = l.Polyline.EncodedPolyline
			}
			cr.Legs = append(cr.Legs, leg)
		}
		out = append(out, cr)
	}
	return out
}
