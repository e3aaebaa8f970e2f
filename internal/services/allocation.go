package services

import (
	"field-route-planner/internal/domain"
	"fmt"
	"math"
	"slices"
)

// Bookings placed on one vehicle, in visit-planning order.
type VehicleAssignment struct {
	Vehicle         *domain.Vehicle
	StartLocationID string
	EndLocationID   string
	Bookings        []*domain.Booking
}

type AllocationResult struct {
	Assignments []VehicleAssignment
	Dropped     []domain.UnassignedBooking
	Warnings    []string
}

// Allocations summarizes the result as per-vehicle booking counts.
func (r AllocationResult) Allocations() []domain.VehicleAllocation {
	out := make([]domain.VehicleAllocation, 0, len(r.Assignments))
	for _, a := range r.Assignments {
		out = append(out, domain.VehicleAllocation{
			VehicleID:       a.Vehicle.ID,
			BookingCount:    len(a.Bookings),
			StartLocationID: a.StartLocationID,
			EndLocationID:   a.EndLocationID,
		})
	}
	return out
}

// OrderedBookings lists the allocated bookings vehicle by vehicle.
func (r AllocationResult) OrderedBookings() []*domain.Booking {
	var out []*domain.Booking
	for _, a := range r.Assignments {
		out = append(out, a.Bookings...)
	}
	return out
}

// EstimateTravelMinutes converts straight-line distance to drive minutes.
func EstimateTravelMinutes(a, b domain.Coordinates, params domain.PlanningParams) float64 {
	if params.AvgTravelSpeedKmph <= 0 {
		return 0
	}
	return domain.DistanceKm(a, b) / params.AvgTravelSpeedKmph * 60 * params.TrafficBufferMultiplier
}

type vehicleState struct {
	vehicle  *domain.Vehicle
	position domain.Coordinates
	used     float64
	limit    int
	assigned []*domain.Booking
}

// AllocateByTime builds the default allocation for a clustering result.
//
// Within each depot cluster, vehicles take turns picking the nearest
// remaining booking they can service, starting from the depot. A pick is
// accepted when the vehicle's working day (travel plus service minutes) stays
// within params.MaxDailyMinutes and the vehicle is below its stop limit.
// Rounds continue until no vehicle can take anything; bookings left over are
// dropped as capacity_exceeded.
func AllocateByTime(
	clusters ClusteringResult,
	params domain.PlanningParams,
	maxStops int,
) AllocationResult {
	var result AllocationResult

	depotIDs := make([]string, 0, len(clusters.DepotClusters))
	for id := range clusters.DepotClusters {
		depotIDs = append(depotIDs, id)
	}
	slices.Sort(depotIDs)

	for _, id := range depotIDs {
		depot := clusters.Depots[id]
		if depot == nil {
			continue
		}

		remaining := make([]*domain.Booking, 0, len(clusters.DepotClusters[id]))
		for _, a := range clusters.DepotClusters[id] {
			remaining = append(remaining, a.Booking)
		}

		states := make([]*vehicleState, 0, len(depot.Vehicles))
		for _, v := range depot.Vehicles {
			states = append(states, &vehicleState{
				vehicle:  v,
				position: depot.Coordinates,
				limit:    v.StopLimit(maxStops),
			})
		}

		for progress := true; progress && len(remaining) > 0; {
			progress = false
			for _, st := range states {
				if len(remaining) == 0 {
					break
				}
				if st.used >= params.MaxDailyMinutes || (st.limit > 0 && len(st.assigned) >= st.limit) {
					continue
				}

				idx := nearestCompatible(st, remaining)
				if idx < 0 {
					continue
				}

				b := remaining[idx]
				cost := EstimateTravelMinutes(st.position, *b.Location, params) + b.ServiceDuration().Minutes()
				if st.used+cost > params.MaxDailyMinutes {
					continue
				}

				st.assigned = append(st.assigned, b)
				st.used += cost
				st.position = *b.Location
				remaining = slices.Delete(remaining, idx, idx+1)
				progress = true
			}
		}

		for _, st := range states {
			if len(st.assigned) == 0 {
				continue
			}
			result.Assignments = append(result.Assignments, VehicleAssignment{
				Vehicle:         st.vehicle,
				StartLocationID: id,
				Bookings:        st.assigned,
			})
		}

		for _, b := range remaining {
			details := "exceeds vehicle working day"
			if stopLimitReached(states, b) {
				details = "exceeds vehicle stop limit"
			}
			result.Dropped = append(result.Dropped, domain.UnassignedBooking{
				Booking: b,
				Reason:  domain.ReasonCapacityExceeded,
				Details: details,
			})
		}
	}

	if n := len(result.Dropped); n > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d booking(s) could not be fit into vehicle working days or stop limits", n))
	}

	return result
}

// stopLimitReached reports whether every vehicle able to serve b is full.
func stopLimitReached(states []*vehicleState, b *domain.Booking) bool {
	compatible := false
	for _, st := range states {
		if !st.vehicle.CanService(b.ServiceID) {
			continue
		}
		compatible = true
		if st.limit <= 0 || len(st.assigned) < st.limit {
			return false
		}
	}
	return compatible
}

func nearestCompatible(st *vehicleState, bookings []*domain.Booking) int {
	best := -1
	bestDist := math.Inf(1)
	for i, b := range bookings {
		if !st.vehicle.CanService(b.ServiceID) || !b.HasLocation() {
			continue
		}
		if d := domain.DistanceKm(st.position, *b.Location); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// AllocateManually applies caller supplied per-vehicle counts. Bookings are
// taken in order, each allocation claiming up to BookingCount bookings its
// vehicle can service. Unknown vehicles are skipped with a warning.
func AllocateManually(
	bookings []*domain.Booking,
	vehicles []*domain.Vehicle,
	allocations []domain.VehicleAllocation,
) AllocationResult {
	var result AllocationResult

	byID := make(map[string]*domain.Vehicle, len(vehicles))
	for _, v := range vehicles {
		byID[v.ID] = v
	}

	remaining := slices.Clone(bookings)
	for _, alloc := range allocations {
		if alloc.BookingCount == 0 {
			continue
		}

		v, ok := byID[alloc.VehicleID]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("vehicle %s not found or not available", alloc.VehicleID))
			continue
		}

		var taken []*domain.Booking
		kept := remaining[:0:0]
		for _, b := range remaining {
			if len(taken) < alloc.BookingCount && v.CanService(b.ServiceID) {
				taken = append(taken, b)
				continue
			}
			kept = append(kept, b)
		}
		remaining = kept

		if len(taken) < alloc.BookingCount {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"vehicle %s was allocated %d booking(s) but only %d matched its services",
				v.ID, alloc.BookingCount, len(taken),
			))
		}
		if len(taken) == 0 {
			continue
		}

		result.Assignments = append(result.Assignments, VehicleAssignment{
			Vehicle:         v,
			StartLocationID: alloc.StartLocationID,
			EndLocationID:   alloc.EndLocationID,
			Bookings:        taken,
		})
	}

	for _, b := range remaining {
		result.Dropped = append(result.Dropped, domain.UnassignedBooking{
			Booking: b,
			Reason:  domain.ReasonCapacityExceeded,
			Details: "not covered by vehicle allocations",
		})
	}
	if n := len(remaining); n > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d booking(s) not covered by vehicle allocations", n))
	}

	return result
}

func chunkBookings(bookings []*domain.Booking, size int) [][]*domain.Booking {
	if size <= 0 {
		size = len(bookings)
	}
	var chunks [][]*domain.Booking
	for start := 0; start < len(bookings); start += size {
		chunks = append(chunks, bookings[start:min(start+size, len(bookings))])
	}
	return chunks
}

// splitByService groups bookings by service, keeping first-seen order.
func splitByService(bookings []*domain.Booking) [][]*domain.Booking {
	index := map[string]int{}
	var groups [][]*domain.Booking
	for _, b := range bookings {
		i, ok := index[b.ServiceID]
		if !ok {
			i = len(groups)
			index[b.ServiceID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], b)
	}
	return groups
}
