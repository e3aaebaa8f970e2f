package services

import (
	"field-route-planner/internal/domain"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func booking(id, service string, lat, lon float64) *domain.Booking {
	return &domain.Booking{
		ID:        id,
		ServiceID: service,
		Location:  &domain.Coordinates{Lat: lat, Lon: lon},
		Status:    domain.BookingStatusConfirmed,
	}
}

func vehicle(id string, home string, services ...string) *domain.Vehicle {
	return &domain.Vehicle{
		ID:              id,
		Name:            "Vehicle " + id,
		HomeLocationIDs: []string{home},
		ServiceTypes:    services,
		Status:          domain.VehicleStatusAvailable,
	}
}

func depotAt(id string, lat, lon float64) domain.DepotLocation {
	return domain.DepotLocation{ID: id, Name: "Depot " + id, Coordinates: domain.Coordinates{Lat: lat, Lon: lon}}
}

func reasons(list []domain.UnassignedBooking) map[string]domain.UnassignReason {
	out := make(map[string]domain.UnassignReason, len(list))
	for _, u := range list {
		out[u.Booking.ID] = u.Reason
	}
	return out
}

func clusterIDs(cluster []domain.DepotAssignment) []string {
	ids := make([]string, 0, len(cluster))
	for _, a := range cluster {
		ids = append(ids, a.Booking.ID)
	}
	return ids
}

func TestClusterSingleBookingNearDepot(t *testing.T) {
	res := ClusterBookingsByDepot(
		[]*domain.Booking{booking("b1", "hvac", 40.0, -74.0)},
		[]*domain.Vehicle{vehicle("v1", "d1")},
		map[string]domain.DepotLocation{"d1": depotAt("d1", 40.01, -74.01)},
		domain.ClusteringConfig{MaxRadiusMiles: 10, MaxStopsPerVehicle: 5},
	)

	require.Empty(t, res.Unassigned)
	require.Len(t, res.DepotClusters["d1"], 1)
	require.Equal(t, "b1", res.DepotClusters["d1"][0].Booking.ID)
	require.InDelta(t, 0.87, res.DepotClusters["d1"][0].DistanceMiles, 0.01)
	require.Equal(t, ClusteringStats{TotalBookings: 1, AssignedBookings: 1, DepotCount: 1}, res.Stats)
}

func TestClusterBookingWithoutCoordinates(t *testing.T) {
	b := &domain.Booking{ID: "b1", ServiceID: "hvac"}
	res := ClusterBookingsByDepot(
		[]*domain.Booking{b},
		[]*domain.Vehicle{vehicle("v1", "d1")},
		map[string]domain.DepotLocation{"d1": depotAt("d1", 40.01, -74.01)},
		domain.ClusteringConfig{MaxRadiusMiles: 10, MaxStopsPerVehicle: 5},
	)

	require.Empty(t, res.DepotClusters)
	require.Len(t, res.Unassigned, 1)
	require.Equal(t, domain.ReasonNoCoordinates, res.Unassigned[0].Reason)
	require.Equal(t, 1, res.Stats.UnassignedBookings)
}

func TestClusterCapacityDropsFarthest(t *testing.T) {
	v := vehicle("v1", "d1")
	res := ClusterBookingsByDepot(
		[]*domain.Booking{
			booking("near", "hvac", 40.01, -74.0),
			booking("far", "hvac", 40.05, -74.0),
			booking("mid", "hvac", 40.02, -74.0),
		},
		[]*domain.Vehicle{v},
		map[string]domain.DepotLocation{"d1": depotAt("d1", 40.0, -74.0)},
		domain.ClusteringConfig{MaxRadiusMiles: 10, MaxStopsPerVehicle: 2},
	)

	require.Equal(t, []string{"near", "mid"}, clusterIDs(res.DepotClusters["d1"]))
	require.Len(t, res.Unassigned, 1)
	require.Equal(t, "far", res.Unassigned[0].Booking.ID)
	require.Equal(t, domain.ReasonCapacityExceeded, res.Unassigned[0].Reason)
	require.Equal(t, 2, res.Stats.AssignedBookings)
}

func TestClusterCapacityTieDropsLaterBooking(t *testing.T) {
	res := ClusterBookingsByDepot(
		[]*domain.Booking{
			booking("first", "hvac", 40.01, -74.0),
			booking("second", "hvac", 40.01, -74.0),
		},
		[]*domain.Vehicle{vehicle("v1", "d1")},
		map[string]domain.DepotLocation{"d1": depotAt("d1", 40.0, -74.0)},
		domain.ClusteringConfig{MaxRadiusMiles: 10, MaxStopsPerVehicle: 1},
	)

	require.Equal(t, []string{"first"}, clusterIDs(res.DepotClusters["d1"]))
	require.Equal(t, "second", res.Unassigned[0].Booking.ID)
}

func TestClusterUnassignReasons(t *testing.T) {
	locations := map[string]domain.DepotLocation{
		"north": depotAt("north", 41.0, -74.0),
		"south": depotAt("south", 40.0, -74.0),
	}
	vehicles := []*domain.Vehicle{
		vehicle("v1", "north", "plumbing"),
		vehicle("v2", "south", "hvac"),
		vehicle("ghost", "nowhere"),
	}
	bookings := []*domain.Booking{
		booking("in-north", "plumbing", 41.01, -74.0),
		booking("wrong-service", "hvac", 41.02, -74.0),
		booking("in-south", "hvac", 40.01, -74.0),
		booking("far", "hvac", 45.0, -74.0),
		{ID: "no-pin", ServiceID: "hvac"},
		{ID: "bad-pin", ServiceID: "hvac", Location: &domain.Coordinates{Lat: 123, Lon: 0}},
	}

	res := ClusterBookingsByDepot(bookings, vehicles, locations, domain.ClusteringConfig{MaxRadiusMiles: 25, MaxStopsPerVehicle: 10})

	require.Equal(t, []string{"in-north"}, clusterIDs(res.DepotClusters["north"]))
	require.Equal(t, []string{"in-south"}, clusterIDs(res.DepotClusters["south"]))
	require.Equal(t, map[string]domain.UnassignReason{
		"wrong-service": domain.ReasonNoMatchingService,
		"far":           domain.ReasonOutOfServiceArea,
		"no-pin":        domain.ReasonNoCoordinates,
		"bad-pin":       domain.ReasonNoCoordinates,
	}, reasons(res.Unassigned))
	require.Equal(t, 2, res.Stats.DepotCount)
	require.NotContains(t, res.Depots, "nowhere")
}

func TestClusterWithoutDepots(t *testing.T) {
	bookings := []*domain.Booking{
		booking("b1", "hvac", 40.0, -74.0),
		booking("b2", "hvac", 40.1, -74.0),
		{ID: "b3", ServiceID: "hvac"},
	}

	res := ClusterBookingsByDepot(bookings, nil, nil, domain.ClusteringConfig{MaxRadiusMiles: 10, MaxStopsPerVehicle: 5})

	require.Empty(t, res.DepotClusters)
	require.Equal(t, map[string]domain.UnassignReason{
		"b1": domain.ReasonNoVehicleAvailable,
		"b2": domain.ReasonNoVehicleAvailable,
		"b3": domain.ReasonNoCoordinates,
	}, reasons(res.Unassigned))
	require.Zero(t, res.Stats.DepotCount)
}

func TestClusterEmptyInput(t *testing.T) {
	res := ClusterBookingsByDepot(nil, nil, nil, domain.ClusteringConfig{})

	require.Empty(t, res.DepotClusters)
	require.Empty(t, res.Unassigned)
	require.Equal(t, ClusteringStats{}, res.Stats)
}

func TestClusterEligibleVehiclesOnlyCountTowardsCapacity(t *testing.T) {
	// Only the hvac vehicle can serve the cluster, so the depot holds 2 stops.
	res := ClusterBookingsByDepot(
		[]*domain.Booking{
			booking("b1", "hvac", 40.01, -74.0),
			booking("b2", "hvac", 40.02, -74.0),
			booking("b3", "hvac", 40.03, -74.0),
		},
		[]*domain.Vehicle{vehicle("v1", "d1", "hvac"), vehicle("v2", "d1", "plumbing")},
		map[string]domain.DepotLocation{"d1": depotAt("d1", 40.0, -74.0)},
		domain.ClusteringConfig{MaxRadiusMiles: 10, MaxStopsPerVehicle: 2},
	)

	require.Len(t, res.DepotClusters["d1"], 2)
	require.Equal(t, "b3", res.Unassigned[0].Booking.ID)
}

func TestClusterPartitionsEveryBooking(t *testing.T) {
	locations := map[string]domain.DepotLocation{
		"a": depotAt("a", 40.0, -74.0),
		"b": depotAt("b", 40.3, -74.3),
		"c": depotAt("c", 40.6, -73.8),
	}
	vehicles := []*domain.Vehicle{
		vehicle("v1", "a"),
		vehicle("v2", "a"),
		vehicle("v3", "b", "plumbing"),
		vehicle("v4", "c", "hvac", "plumbing"),
	}

	var bookings []*domain.Booking
	services := []string{"hvac", "plumbing", "electrical"}
	for i := range 60 {
		lat := 39.8 + float64(i%10)*0.09
		lon := -74.4 + float64(i/10)*0.12
		b := booking(fmt.Sprintf("b%02d", i), services[i%3], lat, lon)
		if i%13 == 0 {
			b.Location = nil
		}
		bookings = append(bookings, b)
	}
	cfg := domain.ClusteringConfig{MaxRadiusMiles: 15, MaxStopsPerVehicle: 4}

	res := ClusterBookingsByDepot(bookings, vehicles, locations, cfg)

	seen := map[string]int{}
	for id, cluster := range res.DepotClusters {
		depot := res.Depots[id]
		var svc []string
		for _, a := range cluster {
			seen[a.Booking.ID]++
			svc = append(svc, a.Booking.ServiceID)
			require.LessOrEqual(t, a.DistanceMiles, cfg.MaxRadiusMiles)
		}
		require.LessOrEqual(t, len(cluster), cfg.MaxStopsPerVehicle*len(depot.EligibleVehicles(svc)))
	}
	for _, u := range res.Unassigned {
		seen[u.Booking.ID]++
	}
	for _, b := range bookings {
		require.Equal(t, 1, seen[b.ID], "booking %s must be accounted for exactly once", b.ID)
	}
	require.Equal(t, len(bookings), res.Stats.AssignedBookings+res.Stats.UnassignedBookings)

	again := ClusterBookingsByDepot(bookings, vehicles, locations, cfg)
	require.Equal(t, res.DepotClusters, again.DepotClusters)
	require.Equal(t, res.Unassigned, again.Unassigned)
}

func TestClusteredBookingsOrder(t *testing.T) {
	res := ClusteringResult{DepotClusters: map[string][]domain.DepotAssignment{
		"z": {{Booking: &domain.Booking{ID: "z1"}}},
		"a": {{Booking: &domain.Booking{ID: "a1"}}, {Booking: &domain.Booking{ID: "a2"}}},
	}}

	var ids []string
	for _, b := range res.ClusteredBookings() {
		ids = append(ids, b.ID)
	}
	require.Equal(t, []string{"a1", "a2", "z1"}, ids)
}
