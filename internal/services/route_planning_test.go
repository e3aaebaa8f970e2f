package services

import (
	"context"
	"errors"
	"field-route-planner/internal/adapters/repositories"
	"field-route-planner/internal/adapters/routes"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/ports"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var planDay = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func timedBooking(id, service, start string, lat, lon float64) *domain.Booking {
	b := booking(id, service, lat, lon)
	b.ScheduledDate = planDay
	b.ScheduledStartTime = start
	return b
}

// seededStore holds two depots 14 miles apart, three vehicles and six
// bookings: four routable, one without coordinates and one out of range.
func seededStore() *repositories.MemoryPlanningStore {
	store := repositories.NewMemoryPlanningStore()
	store.AddLocation(domain.DepotLocation{ID: "depot-a", Name: "Alpha", Coordinates: domain.Coordinates{Lat: 33.45, Lon: -112.07}})
	store.AddLocation(domain.DepotLocation{ID: "depot-b", Name: "Beta", Coordinates: domain.Coordinates{Lat: 33.41, Lon: -111.83}})

	store.AddVehicle(vehicle("v1", "depot-a", "hvac"))
	store.AddVehicle(vehicle("v2", "depot-a", "plumbing"))
	store.AddVehicle(vehicle("v3", "depot-b"))

	store.AddBooking(timedBooking("b1", "hvac", "09:00", 33.46, -112.06))
	store.AddBooking(timedBooking("b2", "plumbing", "09:30", 33.44, -112.08))
	store.AddBooking(timedBooking("b3", "hvac", "10:00", 33.47, -112.05))
	store.AddBooking(timedBooking("b4", "electrical", "11:00", 33.42, -111.82))
	store.AddBooking(&domain.Booking{ID: "b5", ServiceID: "hvac", ScheduledDate: planDay, ScheduledStartTime: "12:00", Status: domain.BookingStatusConfirmed})
	store.AddBooking(timedBooking("b6", "hvac", "13:00", 35.2, -111.65))

	return store
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestPlanner(store ports.PlanningStore, opt Optimizer, opts ...PlannerOption) *Planner {
	opts = append([]PlannerOption{WithBatchRunOptions(BatchRunOptions{Concurrency: 5, Sleep: noSleep})}, opts...)
	return NewPlanner(store, opt, opts...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	codes  []string
	failOn string
}

func (p *recordingPublisher) PublishRoutePlanned(_ context.Context, r *domain.Route) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.RouteCode == p.failOn {
		return errors.New("broker unavailable")
	}
	p.codes = append(p.codes, r.RouteCode)
	return nil
}

// failingFor wraps an optimizer and fails batches of one vehicle.
type failingFor struct {
	Optimizer
	vehicleID string
}

func (f failingFor) OptimizeBatch(ctx context.Context, b domain.BookingBatch, o BatchOptions) (*domain.OptimizedRouteBatch, error) {
	if b.VehicleID == f.vehicleID {
		return nil, domain.NewPlanningError(domain.CodeOptimizationFailed, "optimize batch",
			&domain.ProviderError{Code: domain.ProviderTimeout, Message: "deadline exceeded", Retryable: true})
	}
	return f.Optimizer.OptimizeBatch(ctx, b, o)
}

func routeByVehicle(routes []*domain.Route) map[string]*domain.Route {
	out := map[string]*domain.Route{}
	for _, r := range routes {
		out[r.VehicleID] = r
	}
	return out
}

func TestPlanRoutesCreatesRoutes(t *testing.T) {
	store := seededStore()
	provider := routes.NewHaversineOptimizer(40)
	pub := &recordingPublisher{}
	var states []PlanState
	planner := newTestPlanner(store, NewBatchOptimizer(provider),
		WithPublisher(pub),
		WithStateHook(func(s PlanState) { states = append(states, s) }),
	)

	resp, err := planner.PlanRoutes(context.Background(), PlanRoutesInput{RouteDate: planDay})
	require.NoError(t, err)

	require.Equal(t, []PlanState{
		StateIdle, StateFetching, StateClustering, StateOptimizing, StatePersisting, StateReporting, StateReported,
	}, states)

	require.Equal(t, PlanSummary{TotalBookings: 6, AssignedBookings: 4, RoutesCreated: 3, VehiclesUsed: 3}, resp.Summary)
	require.Empty(t, resp.Errors)
	require.Equal(t, map[string]domain.UnassignReason{
		"b5": domain.ReasonNoCoordinates,
		"b6": domain.ReasonOutOfServiceArea,
	}, reasons(resp.UnassignedBookings))
	require.Equal(t, 3, provider.Calls())

	codes := []string{resp.Routes[0].RouteCode, resp.Routes[1].RouteCode, resp.Routes[2].RouteCode}
	require.Equal(t, []string{"RT-20260105-001", "RT-20260105-002", "RT-20260105-003"}, codes)
	require.Equal(t, codes, pub.codes)
	require.Equal(t, "Route 1 - 2026-01-05", resp.Routes[0].RouteName)

	byVehicle := routeByVehicle(resp.Routes)
	v1 := byVehicle["v1"]
	require.Equal(t, []string{"b1", "b3"}, v1.StopSequence)
	require.Equal(t, 2, v1.TotalStops)
	require.Equal(t, "hvac", v1.ServiceID)
	require.Equal(t, domain.RouteStatusPlanned, v1.Status)
	require.Equal(t, domain.OptimizationTypeBalanced, v1.OptimizationType)
	// Leaves the depot, two stops, returns to the depot.
	require.Len(t, v1.Geometry.Legs, 3)
	require.Greater(t, v1.TotalDistanceKm, 0.0)
	require.Equal(t, 60, v1.TotalServiceMinutes)
	require.Equal(t, v1.TotalTravelMinutes+v1.TotalServiceMinutes, v1.TotalDurationMinutes)
	require.Equal(t, []string{"b2"}, byVehicle["v2"].StopSequence)
	require.Equal(t, []string{"b4"}, byVehicle["v3"].StopSequence)

	b1, _ := store.Booking("b1")
	b3, _ := store.Booking("b3")
	require.Equal(t, v1.ID, b1.RouteID)
	require.Equal(t, "v1", b1.VehicleID)
	require.Equal(t, 1, b1.StopOrder)
	require.Equal(t, 2, b3.StopOrder)
	require.Equal(t, domain.BookingStatusScheduled, b1.Status)
	require.Regexp(t, `^\d{2}:(00|15|30|45):00$`, b1.ScheduledStartTime)
	require.LessOrEqual(t, b1.ScheduledEndTime, b3.ScheduledStartTime)

	b5, _ := store.Booking("b5")
	require.Empty(t, b5.RouteID)

	// Routed bookings are not planned again.
	_, err = planner.PlanRoutes(context.Background(), PlanRoutesInput{RouteDate: planDay, ServiceID: "electrical"})
	require.ErrorIs(t, err, domain.ErrNoBookings)
}

func TestPlanRoutesBatchFailureIsIsolated(t *testing.T) {
	store := seededStore()
	planner := newTestPlanner(store, failingFor{Optimizer: NewBatchOptimizer(routes.NewHaversineOptimizer(40)), vehicleID: "v2"})

	resp, err := planner.PlanRoutes(context.Background(), PlanRoutesInput{RouteDate: planDay})
	require.NoError(t, err)

	require.Equal(t, 2, resp.Summary.RoutesCreated)
	require.Equal(t, 3, resp.Summary.AssignedBookings)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, "v2", resp.Errors[0].VehicleID)
	require.Equal(t, "plumbing", resp.Errors[0].ServiceID)
	require.Equal(t, domain.ProviderTimeout, domain.ProviderCode(resp.Errors[0].Err))
	require.Equal(t, domain.ReasonOptimizationFailed, reasons(resp.UnassignedBookings)["b2"])
	require.NotEmpty(t, resp.Warnings)

	b2, _ := store.Booking("b2")
	require.Empty(t, b2.RouteID)
}

func TestPlanRoutesPersistFailureIsIsolated(t *testing.T) {
	store := seededStore()
	store.FailWhen(func(op, id string) error {
		if op == repositories.OpUpdateBookingAssign && id == "b4" {
			return errors.New("constraint violation")
		}
		return nil
	})
	pub := &recordingPublisher{}
	planner := newTestPlanner(store, NewBatchOptimizer(routes.NewHaversineOptimizer(40)), WithPublisher(pub))

	resp, err := planner.PlanRoutes(context.Background(), PlanRoutesInput{RouteDate: planDay})
	require.NoError(t, err)

	require.Equal(t, 2, resp.Summary.RoutesCreated)
	require.Equal(t, 2, resp.Summary.VehiclesUsed)
	require.Equal(t, domain.ReasonPersistFailed, reasons(resp.UnassignedBookings)["b4"])
	require.NotContains(t, routeByVehicle(resp.Routes), "v3")
	require.Len(t, pub.codes, 2)

	stored, err := store.ListRoutes(context.Background(), planDay)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	b4, _ := store.Booking("b4")
	require.Empty(t, b4.RouteID)
}

func TestPlanRoutesPublishFailureIsWarning(t *testing.T) {
	store := seededStore()
	pub := &recordingPublisher{failOn: "RT-20260105-002"}
	planner := newTestPlanner(store, NewBatchOptimizer(routes.NewHaversineOptimizer(40)), WithPublisher(pub))

	resp, err := planner.PlanRoutes(context.Background(), PlanRoutesInput{RouteDate: planDay})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Summary.RoutesCreated)
	require.Contains(t, resp.Warnings, "failed to publish route RT-20260105-002: broker unavailable")
}

func TestPlanRoutesManualAllocation(t *testing.T) {
	store := seededStore()
	provider := &scriptedOptimizer{routes: []ports.ComputedRoute{{DistanceMeters: 5000, Duration: "900s"}}}
	planner := newTestPlanner(store, NewBatchOptimizer(provider))
	noReturn := false

	resp, err := planner.PlanRoutes(context.Background(), PlanRoutesInput{
		RouteDate:     planDay,
		ReturnToStart: &noReturn,
		VehicleAllocations: []domain.VehicleAllocation{
			{VehicleID: "ghost", BookingCount: 2},
			{VehicleID: "v1", BookingCount: 1, StartLocationID: "depot-b", EndLocationID: "depot-a"},
		},
	})
	require.NoError(t, err)

	require.Equal(t, 1, resp.Summary.RoutesCreated)
	require.Equal(t, []string{"b1"}, resp.Routes[0].StopSequence)
	require.Contains(t, resp.Warnings, "vehicle ghost not found or not available")

	unassigned := reasons(resp.UnassignedBookings)
	for _, id := range []string{"b2", "b3", "b4"} {
		require.Equal(t, domain.ReasonCapacityExceeded, unassigned[id], id)
	}

	req := provider.last()
	require.Equal(t, domain.Coordinates{Lat: 33.41, Lon: -111.83}, req.Origin)
	require.Equal(t, domain.Coordinates{Lat: 33.45, Lon: -112.07}, req.Destination)
	require.Len(t, req.Intermediates, 1)
}

func TestPlanRoutesDepartureOverridesDepot(t *testing.T) {
	store := seededStore()
	provider := &scriptedOptimizer{routes: []ports.ComputedRoute{{Duration: "600s"}}}
	planner := newTestPlanner(store, NewBatchOptimizer(provider))
	start := domain.Coordinates{Lat: 33.5, Lon: -112.0}

	_, err := planner.PlanRoutes(context.Background(), PlanRoutesInput{
		RouteDate:         planDay,
		ServiceID:         "plumbing",
		DepartureLocation: &start,
		RoutingPreference: ports.RoutingTrafficAware,
	})
	require.NoError(t, err)

	req := provider.last()
	require.Equal(t, start, req.Origin)
	require.Equal(t, start, req.Destination)
	require.Equal(t, ports.RoutingTrafficAware, req.RoutingPreference)
}

func TestPlanRoutesFailsFast(t *testing.T) {
	bad := domain.Coordinates{Lat: 100, Lon: 0}
	boom := errors.New("connection refused")

	tests := []struct {
		name  string
		store func() *repositories.MemoryPlanningStore
		input PlanRoutesInput
		want  string
	}{
		{name: "missing date", store: seededStore, input: PlanRoutesInput{}, want: domain.CodeInvalidInput},
		{name: "negative max stops", store: seededStore, input: PlanRoutesInput{RouteDate: planDay, MaxStopsPerRoute: -1}, want: domain.CodeInvalidInput},
		{name: "bad departure", store: seededStore, input: PlanRoutesInput{RouteDate: planDay, DepartureLocation: &bad}, want: domain.CodeInvalidInput},
		{name: "bad preference", store: seededStore, input: PlanRoutesInput{RouteDate: planDay, RoutingPreference: "FASTEST"}, want: domain.CodeInvalidInput},
		{
			name:  "negative allocation",
			store: seededStore,
			input: PlanRoutesInput{RouteDate: planDay, VehicleAllocations: []domain.VehicleAllocation{{VehicleID: "v1", BookingCount: -1}}},
			want:  domain.CodeInvalidInput,
		},
		{name: "no bookings", store: repositories.NewMemoryPlanningStore, input: PlanRoutesInput{RouteDate: planDay}, want: domain.CodeNoBookings},
		{
			name: "no vehicles",
			store: func() *repositories.MemoryPlanningStore {
				s := repositories.NewMemoryPlanningStore()
				s.AddBooking(timedBooking("b1", "hvac", "09:00", 33.46, -112.06))
				return s
			},
			input: PlanRoutesInput{RouteDate: planDay},
			want:  domain.CodeNoVehicles,
		},
		{
			name: "store down",
			store: func() *repositories.MemoryPlanningStore {
				s := seededStore()
				s.FailOn(repositories.OpFetchBookings, boom)
				return s
			},
			input: PlanRoutesInput{RouteDate: planDay},
			want:  domain.CodeFetchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := routes.NewHaversineOptimizer(40)
			var last PlanState
			planner := newTestPlanner(tt.store(), NewBatchOptimizer(provider), WithStateHook(func(s PlanState) { last = s }))

			_, err := planner.PlanRoutes(context.Background(), tt.input)

			var pe *domain.PlanningError
			require.True(t, errors.As(err, &pe), "got %v", err)
			require.Equal(t, tt.want, pe.Code)
			require.Equal(t, StateFailed, last)
			require.Zero(t, provider.Calls())
		})
	}
}

func TestPreviewRoutePlan(t *testing.T) {
	store := seededStore()
	provider := routes.NewHaversineOptimizer(40)
	planner := newTestPlanner(store, NewBatchOptimizer(provider))

	preview, err := planner.PreviewRoutePlan(context.Background(), PlanRoutesInput{RouteDate: planDay})
	require.NoError(t, err)

	require.Equal(t, []string{"b1", "b3", "b2", "b4"}, bookingIDs(preview.Bookings))
	require.Len(t, preview.Vehicles, 3)
	require.Len(t, preview.DefaultAllocation, 3)
	require.Equal(t, AllocationPreview{
		VehicleID:          "v1",
		VehicleName:        "Vehicle v1",
		BookingCount:       2,
		HomeLocationID:     "depot-a",
		HomeLocationName:   "Alpha",
		AvailableLocations: []domain.DepotLocation{store.Locations["depot-a"]},
	}, preview.DefaultAllocation[0])
	require.Len(t, preview.UnassignableBookings, 2)
	require.Len(t, preview.AvailableBaseLocations, 2)

	require.Zero(t, provider.Calls())
	stored, err := store.ListRoutes(context.Background(), planDay)
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestClusterForDate(t *testing.T) {
	planner := newTestPlanner(seededStore(), NewBatchOptimizer(routes.NewHaversineOptimizer(40)))

	res, err := planner.ClusterForDate(context.Background(), planDay, "", 1)
	require.NoError(t, err)
	require.Equal(t, 6, res.Stats.TotalBookings)
	require.Equal(t, 2, res.Stats.DepotCount)
	// One stop per vehicle: depot-a has two eligible vehicles for three bookings.
	require.Equal(t, 3, res.Stats.AssignedBookings)
	require.Equal(t, domain.ReasonCapacityExceeded, reasons(res.Unassigned)["b3"])

	_, err = planner.ClusterForDate(context.Background(), time.Time{}, "", 0)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBuildRouteStopSchedule(t *testing.T) {
	a := booking("a", "hvac", 40, -74)
	a.EstimatedDurationMinutes = 60
	b := booking("b", "hvac", 40, -74)

	res := &domain.OptimizedRouteBatch{
		VehicleID:            "v1",
		ServiceID:            "hvac",
		Bookings:             []*domain.Booking{a, b},
		TotalDistanceMeters:  25500,
		TotalDurationSeconds: 2700,
		PlannedStartTime:     "08:50:00",
		Legs: []domain.RouteLeg{
			{DurationSeconds: 600},
			{DurationSeconds: 900},
			{DurationSeconds: 1200},
		},
	}
	depot := domain.Coordinates{Lat: 40, Lon: -74}

	route, assignments := buildRoute(res, BatchOptions{DepartureLocation: &depot}, planDay, 7, 2, domain.DefaultPlanningParams())

	require.Equal(t, "RT-20260105-007", route.RouteCode)
	require.Equal(t, "Route 2 - 2026-01-05", route.RouteName)
	require.Equal(t, "08:50:00", route.PlannedStartTime)
	// 45 travel minutes plus 90 service minutes.
	require.Equal(t, "11:05:00", route.PlannedEndTime)
	require.Equal(t, 45, route.TotalTravelMinutes)
	require.Equal(t, 90, route.TotalServiceMinutes)
	require.Equal(t, 135, route.TotalDurationMinutes)
	require.InDelta(t, 25.5, route.TotalDistanceKm, 1e-9)

	require.Equal(t, []domain.BookingAssignment{
		{BookingID: "a", VehicleID: "v1", StopOrder: 1, ScheduledStartTime: "09:00:00", ScheduledEndTime: "10:00:00"},
		{BookingID: "b", VehicleID: "v1", StopOrder: 2, ScheduledStartTime: "10:15:00", ScheduledEndTime: "10:45:00"},
	}, assignments)

	// Without a departure the first stop is the origin and starts at once.
	res.PlannedStartTime = ""
	res.PlannedEndTime = "12:00:00"
	route, assignments = buildRoute(res, BatchOptions{}, planDay, 1, 1, domain.DefaultPlanningParams())
	require.Equal(t, "08:00:00", route.PlannedStartTime)
	require.Equal(t, "12:00:00", route.PlannedEndTime)
	require.Equal(t, "08:00:00", assignments[0].ScheduledStartTime)
	require.Equal(t, "09:00:00", assignments[0].ScheduledEndTime)
	require.Equal(t, "09:15:00", assignments[1].ScheduledStartTime)
}

func TestRoundUpQuarter(t *testing.T) {
	require.Equal(t, 0, roundUpQuarter(0))
	require.Equal(t, 900, roundUpQuarter(1))
	require.Equal(t, 900, roundUpQuarter(900))
	require.Equal(t, 1800, roundUpQuarter(901))
}

func TestIsInputError(t *testing.T) {
	require.True(t, IsInputError(domain.NewPlanningError(domain.CodeInvalidInput, "routeDate is required", nil)))
	require.True(t, IsInputError(fmt.Errorf("plan: %w", domain.NewPlanningError(domain.CodeNoBookings, "none", nil))))
	require.True(t, IsInputError(domain.NewPlanningError(domain.CodeNoVehicles, "none", nil)))
	require.False(t, IsInputError(domain.NewPlanningError(domain.CodeFetchFailed, "fetch vehicles", errors.New("reset"))))
	require.False(t, IsInputError(errors.New("plain")))
}
