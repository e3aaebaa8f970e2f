package services

import (
	"field-route-planner/internal/domain"
	"fmt"
	"math"
	"slices"
)

// Outcome of one clustering run.
type ClusteringResult struct {
	DepotClusters map[string][]domain.DepotAssignment
	Unassigned    []domain.UnassignedBooking
	Stats         ClusteringStats
	// Depots derived for this run, keyed by location id.
	Depots map[string]*domain.Depot
}

type ClusteringStats struct {
	TotalBookings      int `json:"totalBookings"`
	AssignedBookings   int `json:"assignedBookings"`
	UnassignedBookings int `json:"unassignedBookings"`
	DepotCount         int `json:"depotCount"`
}

// BuildDepots groups vehicles under their primary home location.
// Vehicles whose primary location is missing from locations are left out.
func BuildDepots(vehicles []*domain.Vehicle, locations map[string]domain.DepotLocation) map[string]*domain.Depot {
	depots := make(map[string]*domain.Depot)
	for _, v := range vehicles {
		locID := v.PrimaryLocationID()
		loc, ok := locations[locID]
		if !ok {
			continue
		}

		d, ok := depots[locID]
		if !ok {
			d = &domain.Depot{
				LocationID:  locID,
				Name:        loc.Name,
				City:        loc.City,
				Coordinates: loc.Coordinates,
			}
			depots[locID] = d
		}
		d.Vehicles = append(d.Vehicles, v)
	}
	return depots
}

// ClusterBookingsByDepot assigns each booking to its nearest depot or records
// why it cannot be served.
//
// Bookings are examined in input order. A booking is placed at the nearest
// depot when that depot is within cfg.MaxRadiusMiles and at least one of its
// vehicles handles the booking's service. Each depot then keeps at most
// MaxStopsPerVehicle bookings per eligible vehicle; the farthest bookings are
// dropped first as capacity_exceeded.
//
// The result depends only on the inputs, so repeated runs are identical.
func ClusterBookingsByDepot(
	bookings []*domain.Booking,
	vehicles []*domain.Vehicle,
	locations map[string]domain.DepotLocation,
	cfg domain.ClusteringConfig,
) ClusteringResult {
	depots := BuildDepots(vehicles, locations)

	result := ClusteringResult{
		DepotClusters: make(map[string][]domain.DepotAssignment),
		Unassigned:    []domain.UnassignedBooking{},
		Depots:        depots,
	}
	result.Stats.TotalBookings = len(bookings)
	result.Stats.DepotCount = len(depots)

	// Sorted ids keep nearest-depot ties deterministic.
	depotIDs := make([]string, 0, len(depots))
	for id := range depots {
		depotIDs = append(depotIDs, id)
	}
	slices.Sort(depotIDs)

	unassign := func(b *domain.Booking, reason domain.UnassignReason, details string) {
		result.Unassigned = append(result.Unassigned, domain.UnassignedBooking{
			Booking: b,
			Reason:  reason,
			Details: details,
		})
	}

	for _, b := range bookings {
		if !b.HasLocation() {
			unassign(b, domain.ReasonNoCoordinates, "booking has no usable coordinates")
			continue
		}

		if len(depotIDs) == 0 {
			unassign(b, domain.ReasonNoVehicleAvailable, "no depots with vehicles")
			continue
		}

		nearestID := ""
		nearest := math.Inf(1)
		for _, id := range depotIDs {
			d := domain.DistanceMiles(*b.Location, depots[id].Coordinates)
			if d < nearest {
				nearest = d
				nearestID = id
			}
		}

		if nearest > cfg.MaxRadiusMiles {
			unassign(b, domain.ReasonOutOfServiceArea, fmt.Sprintf(
				"nearest depot %s is %.1f mi away (max %.1f mi)", nearestID, nearest, cfg.MaxRadiusMiles,
			))
			continue
		}

		depot := depots[nearestID]
		if len(depot.Vehicles) == 0 {
			unassign(b, domain.ReasonNoVehicleAvailable, fmt.Sprintf("depot %s has no vehicles", nearestID))
			continue
		}
		if !depot.HasVehicleFor(b.ServiceID) {
			unassign(b, domain.ReasonNoMatchingService, fmt.Sprintf(
				"no vehicle at depot %s handles service %q", nearestID, b.ServiceID,
			))
			continue
		}

		result.DepotClusters[nearestID] = append(result.DepotClusters[nearestID], domain.DepotAssignment{
			Booking:         b,
			DepotLocationID: nearestID,
			DistanceMiles:   nearest,
		})
	}

	for _, id := range depotIDs {
		cluster, ok := result.DepotClusters[id]
		if !ok {
			continue
		}

		limit := cfg.MaxStopsPerVehicle * len(depots[id].EligibleVehicles(clusterServices(cluster)))
		if len(cluster) <= limit {
			continue
		}

		kept, dropped := trimFarthest(cluster, limit)
		result.DepotClusters[id] = kept
		for _, a := range dropped {
			unassign(a.Booking, domain.ReasonCapacityExceeded, fmt.Sprintf(
				"depot %s is at capacity (%d stops)", id, limit,
			))
		}
	}

	for id, cluster := range result.DepotClusters {
		if len(cluster) == 0 {
			delete(result.DepotClusters, id)
			continue
		}
		result.Stats.AssignedBookings += len(cluster)
	}
	result.Stats.UnassignedBookings = len(result.Unassigned)

	return result
}

func clusterServices(cluster []domain.DepotAssignment) []string {
	var out []string
	for _, a := range cluster {
		if !slices.Contains(out, a.Booking.ServiceID) {
			out = append(out, a.Booking.ServiceID)
		}
	}
	return out
}

// trimFarthest keeps limit assignments in input order and returns the rest,
// farthest first. Equal distances drop the later booking first.
func trimFarthest(cluster []domain.DepotAssignment, limit int) (kept, dropped []domain.DepotAssignment) {
	if limit < 0 {
		limit = 0
	}

	order := make([]int, len(cluster))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		da, db := cluster[a].DistanceMiles, cluster[b].DistanceMiles
		switch {
		case da > db:
			return -1
		case da < db:
			return 1
		default:
			return b - a
		}
	})

	drop := make(map[int]bool, len(cluster)-limit)
	for _, idx := range order[:len(cluster)-limit] {
		drop[idx] = true
		dropped = append(dropped, cluster[idx])
	}
	for i, a := range cluster {
		if !drop[i] {
			kept = append(kept, a)
		}
	}
	return kept, dropped
}

// ClusteredBookings flattens the clusters in depot id order, keeping input
// order inside each depot.
func (r ClusteringResult) ClusteredBookings() []*domain.Booking {
	ids := make([]string, 0, len(r.DepotClusters))
	for id := range r.DepotClusters {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []*domain.Booking
	for _, id := range ids {
		for _, a := range r.DepotClusters[id] {
			out = append(out, a.Booking)
		}
	}
	return out
}
