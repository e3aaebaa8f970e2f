package services

import (
	"context"
	"errors"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/platform/metrics"
	"field-route-planner/internal/platform/obs"
	"field-route-planner/internal/ports"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultMaxStopsPerRoute = 15

// PlanState is a stage of a planning run.
type PlanState string

const (
	StateIdle       PlanState = "idle"
	StateFetching   PlanState = "fetching"
	StateClustering PlanState = "clustering"
	StateOptimizing PlanState = "optimizing"
	StatePersisting PlanState = "persisting"
	StateReporting  PlanState = "reporting"
	StateReported   PlanState = "reported"
	StateFailed     PlanState = "failed"
)

type PlanRoutesInput struct {
	RouteDate         time.Time
	ServiceID         string
	MaxStopsPerRoute  int
	DepartureLocation *domain.Coordinates
	// Nil means true.
	ReturnToStart      *bool
	RoutingPreference  string
	VehicleAllocations []domain.VehicleAllocation
}

func (in PlanRoutesInput) returnToStart() bool {
	return in.ReturnToStart == nil || *in.ReturnToStart
}

// Preview of a vehicle's default allocation.
type AllocationPreview struct {
	VehicleID          string                 `json:"vehicleId"`
	VehicleName        string                 `json:"vehicleName"`
	BookingCount       int                    `json:"bookingCount"`
	HomeLocationID     string                 `json:"homeLocationId,omitempty"`
	HomeLocationName   string                 `json:"homeLocationName,omitempty"`
	AvailableLocations []domain.DepotLocation `json:"availableLocations"`
}

type RoutePlanPreview struct {
	RouteDate              time.Time
	Bookings               []*domain.Booking
	Vehicles               []*domain.Vehicle
	DefaultAllocation      []AllocationPreview
	UnassignableBookings   []domain.UnassignedBooking
	Warnings               []string
	AvailableBaseLocations []domain.DepotLocation
}

type PlanSummary struct {
	TotalBookings    int `json:"totalBookings"`
	AssignedBookings int `json:"assignedBookings"`
	RoutesCreated    int `json:"routesCreated"`
	VehiclesUsed     int `json:"vehiclesUsed"`
}

type PlanRoutesResponse struct {
	Routes             []*domain.Route
	UnassignedBookings []domain.UnassignedBooking
	Errors             []BatchError
	Warnings           []string
	Summary            PlanSummary
}

// Planner runs the daily routing pipeline against a PlanningStore.
type Planner struct {
	store     ports.PlanningStore
	optimizer Optimizer
	publisher ports.RoutePublisher
	runOpts   BatchRunOptions
	onState   func(PlanState)
}

type PlannerOption func(*Planner)

// WithPublisher announces committed routes.
func WithPublisher(p ports.RoutePublisher) PlannerOption {
	return func(pl *Planner) { pl.publisher = p }
}

func WithBatchRunOptions(o BatchRunOptions) PlannerOption {
	return func(pl *Planner) { pl.runOpts = o }
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(PlanState)) PlannerOption {
	return func(pl *Planner) { pl.onState = fn }
}

func NewPlanner(store ports.PlanningStore, optimizer Optimizer, opts ...PlannerOption) *Planner {
	p := &Planner{
		store:     store,
		optimizer: optimizer,
		runOpts: BatchRunOptions{
			Concurrency:     DefaultBatchConcurrency,
			InterChunkDelay: DefaultInterChunkDelay,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// run tracks the state of one planning call.
type run struct {
	p     *Planner
	ctx   context.Context
	mode  string
	state PlanState
	start time.Time
}

func (p *Planner) newRun(ctx context.Context, mode string) *run {
	r := &run{p: p, ctx: ctx, mode: mode, state: StateIdle, start: time.Now()}
	if p.onState != nil {
		p.onState(StateIdle)
	}
	return r
}

func (r *run) to(s PlanState) {
	log.Debug().
		Str("req_id", obs.RequestID(r.ctx)).
		Str("mode", r.mode).
		Str("from", string(r.state)).
		Str("to", string(s)).
		Msg("plan state")
	r.state = s
	if r.p.onState != nil {
		r.p.onState(s)
	}
}

func (r *run) fail(err error) error {
	r.to(StateFailed)
	metrics.PlanDuration.WithLabelValues(r.mode, string(StateFailed)).Observe(time.Since(r.start).Seconds())
	return err
}

func (r *run) done() {
	r.to(StateReported)
	metrics.PlanDuration.WithLabelValues(r.mode, string(StateReported)).Observe(time.Since(r.start).Seconds())
}

func validateInput(in PlanRoutesInput) error {
	if in.RouteDate.IsZero() {
		return domain.NewPlanningError(domain.CodeInvalidInput, "routeDate is required", nil)
	}
	if in.MaxStopsPerRoute < 0 {
		return domain.NewPlanningError(domain.CodeInvalidInput, "maxStopsPerRoute must be positive", nil)
	}
	if in.DepartureLocation != nil && !in.DepartureLocation.Valid() {
		return domain.NewPlanningError(domain.CodeInvalidInput,
			fmt.Sprintf("departureLocation %s is out of range", in.DepartureLocation), nil)
	}
	switch in.RoutingPreference {
	case "", ports.RoutingTrafficUnaware, ports.RoutingTrafficAware:
	default:
		return domain.NewPlanningError(domain.CodeInvalidInput,
			fmt.Sprintf("unknown routingPreference %q", in.RoutingPreference), nil)
	}
	for i, a := range in.VehicleAllocations {
		if a.VehicleID == "" {
			return domain.NewPlanningError(domain.CodeInvalidInput,
				fmt.Sprintf("vehicleAllocations[%d]: vehicleId is required", i), nil)
		}
		if a.BookingCount < 0 {
			return domain.NewPlanningError(domain.CodeInvalidInput,
				fmt.Sprintf("vehicleAllocations[%d]: bookingCount must not be negative", i), nil)
		}
	}
	return nil
}

// planData is everything fetched and derived before optimization.
type planData struct {
	bookings   []*domain.Booking
	vehicles   []*domain.Vehicle
	locations  map[string]domain.DepotLocation
	params     domain.PlanningParams
	maxStops   int
	clustering ClusteringResult
	allocation AllocationResult
}

func fetchFailed(what string, err error) error {
	return domain.NewPlanningError(domain.CodeFetchFailed, "fetch "+what, err)
}

// prepare runs the fetching and clustering stages shared by preview and
// commit, and leaves the run in the optimizing state after allocation.
func (r *run) prepare(in PlanRoutesInput) (*planData, error) {
	ctx := r.ctx
	store := r.p.store

	if err := validateInput(in); err != nil {
		return nil, err
	}

	r.to(StateFetching)

	cfg, err := store.FetchClusteringConfig(ctx)
	if err != nil {
		return nil, fetchFailed("clustering config", err)
	}
	params, err := store.FetchPlanningParams(ctx)
	if err != nil {
		return nil, fetchFailed("planning params", err)
	}

	bookings, err := store.FetchUnscheduledBookings(ctx, in.RouteDate, in.ServiceID)
	if err != nil {
		return nil, fetchFailed("unscheduled bookings", err)
	}
	if len(bookings) == 0 {
		return nil, domain.NewPlanningError(domain.CodeNoBookings,
			fmt.Sprintf("no unscheduled bookings on %s", in.RouteDate.Format("2006-01-02")), nil)
	}

	vehicles, err := store.FetchVehicles(ctx, ports.VehicleFilter{
		Status:    domain.VehicleStatusAvailable,
		ServiceID: in.ServiceID,
	})
	if err != nil {
		return nil, fetchFailed("vehicles", err)
	}
	if len(vehicles) == 0 {
		return nil, domain.NewPlanningError(domain.CodeNoVehicles, "no available vehicles", nil)
	}

	locationIDs := make([]string, 0, len(vehicles)+2*len(in.VehicleAllocations))
	for _, v := range vehicles {
		locationIDs = append(locationIDs, v.HomeLocationIDs...)
	}
	for _, a := range in.VehicleAllocations {
		locationIDs = append(locationIDs, a.StartLocationID, a.EndLocationID)
	}
	locations, err := store.FetchDepotLocations(ctx, compactIDs(locationIDs))
	if err != nil {
		return nil, fetchFailed("depot locations", err)
	}

	maxStops := in.MaxStopsPerRoute
	if maxStops == 0 {
		maxStops = cfg.MaxStopsPerVehicle
	}
	if maxStops <= 0 {
		maxStops = DefaultMaxStopsPerRoute
	}
	cfg.MaxStopsPerVehicle = maxStops

	r.to(StateClustering)
	clustering := ClusterBookingsByDepot(bookings, vehicles, locations, cfg)

	r.to(StateOptimizing)
	var allocation AllocationResult
	if len(in.VehicleAllocations) > 0 {
		allocation = AllocateManually(clustering.ClusteredBookings(), vehicles, in.VehicleAllocations)
	} else {
		allocation = AllocateByTime(clustering, params, maxStops)
	}

	return &planData{
		bookings:   bookings,
		vehicles:   vehicles,
		locations:  locations,
		params:     params,
		maxStops:   maxStops,
		clustering: clustering,
		allocation: allocation,
	}, nil
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// PreviewRoutePlan fetches and clusters the day's bookings and proposes a
// default allocation. It makes no provider calls and writes nothing.
func (p *Planner) PreviewRoutePlan(ctx context.Context, in PlanRoutesInput) (_ *RoutePlanPreview, err error) {
	defer obs.Time(ctx, "planner.PreviewRoutePlan")(&err)

	r := p.newRun(ctx, "preview")
	data, err := r.prepare(in)
	if err != nil {
		return nil, r.fail(err)
	}

	r.to(StateReporting)

	base, err := p.store.FetchBaseLocations(ctx)
	if err != nil {
		return nil, r.fail(fetchFailed("base locations", err))
	}

	// The preview always proposes the default allocation.
	allocation := data.allocation
	if len(in.VehicleAllocations) > 0 {
		allocation = AllocateByTime(data.clustering, data.params, data.maxStops)
	}

	preview := &RoutePlanPreview{
		RouteDate:              in.RouteDate,
		Bookings:               allocation.OrderedBookings(),
		UnassignableBookings:   slices.Concat(data.clustering.Unassigned, allocation.Dropped),
		Warnings:               slices.Clone(allocation.Warnings),
		AvailableBaseLocations: base,
	}

	for _, v := range data.vehicles {
		if _, ok := data.clustering.Depots[v.PrimaryLocationID()]; ok {
			preview.Vehicles = append(preview.Vehicles, v)
		}
	}
	if n := len(data.vehicles) - len(preview.Vehicles); n > 0 {
		preview.Warnings = append(preview.Warnings, fmt.Sprintf("%d vehicle(s) have no resolvable home location", n))
	}

	for _, a := range allocation.Assignments {
		ap := AllocationPreview{
			VehicleID:      a.Vehicle.ID,
			VehicleName:    a.Vehicle.Name,
			BookingCount:   len(a.Bookings),
			HomeLocationID: a.Vehicle.PrimaryLocationID(),
		}
		if loc, ok := data.locations[ap.HomeLocationID]; ok {
			ap.HomeLocationName = loc.Name
		}
		for _, id := range a.Vehicle.HomeLocationIDs {
			if loc, ok := data.locations[id]; ok {
				ap.AvailableLocations = append(ap.AvailableLocations, loc)
			}
		}
		if len(ap.AvailableLocations) == 0 {
			ap.AvailableLocations = base
		}
		preview.DefaultAllocation = append(preview.DefaultAllocation, ap)
	}

	countUnassigned(preview.UnassignableBookings)
	r.done()
	return preview, nil
}

// ClusterForDate clusters the stored unscheduled bookings of a day without
// allocating or optimizing them.
func (p *Planner) ClusterForDate(
	ctx context.Context,
	date time.Time,
	serviceID string,
	maxStops int,
) (_ ClusteringResult, err error) {
	defer obs.Time(ctx, "planner.ClusterForDate")(&err)

	if date.IsZero() {
		return ClusteringResult{}, domain.NewPlanningError(domain.CodeInvalidInput, "date is required", nil)
	}
	if maxStops < 0 {
		return ClusteringResult{}, domain.NewPlanningError(domain.CodeInvalidInput, "maxStops must be positive", nil)
	}

	cfg, err := p.store.FetchClusteringConfig(ctx)
	if err != nil {
		return ClusteringResult{}, fetchFailed("clustering config", err)
	}
	if maxStops > 0 {
		cfg.MaxStopsPerVehicle = maxStops
	}

	bookings, err := p.store.FetchUnscheduledBookings(ctx, date, serviceID)
	if err != nil {
		return ClusteringResult{}, fetchFailed("unscheduled bookings", err)
	}
	vehicles, err := p.store.FetchVehicles(ctx, ports.VehicleFilter{Status: domain.VehicleStatusAvailable, ServiceID: serviceID})
	if err != nil {
		return ClusteringResult{}, fetchFailed("vehicles", err)
	}

	ids := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		ids = append(ids, v.PrimaryLocationID())
	}
	locations, err := p.store.FetchDepotLocations(ctx, compactIDs(ids))
	if err != nil {
		return ClusteringResult{}, fetchFailed("depot locations", err)
	}

	return ClusterBookingsByDepot(bookings, vehicles, locations, cfg), nil
}

// Routes lists the persisted routes of a day.
func (p *Planner) Routes(ctx context.Context, date time.Time) ([]*domain.Route, error) {
	routes, err := p.store.ListRoutes(ctx, date)
	if err != nil {
		return nil, fetchFailed("routes", err)
	}
	return routes, nil
}

// PlanRoutes runs the full pipeline for one day and commits the result.
//
// Bookings are clustered by depot, allocated to vehicles (by the caller's
// VehicleAllocations when given, otherwise by working-day capacity) and split
// into one batch per vehicle and service of at most MaxStopsPerRoute stops.
// Each batch is optimized independently; each optimized batch is stored as a
// route together with its booking assignments in one transaction. Failed
// batches and failed writes only affect their own bookings, which are
// reported as unassigned with a warning.
func (p *Planner) PlanRoutes(ctx context.Context, in PlanRoutesInput) (_ *PlanRoutesResponse, err error) {
	defer obs.Time(ctx, "planner.PlanRoutes")(&err)

	r := p.newRun(ctx, "commit")
	data, err := r.prepare(in)
	if err != nil {
		return nil, r.fail(err)
	}

	resp := &PlanRoutesResponse{
		Routes:             []*domain.Route{},
		UnassignedBookings: slices.Concat(data.clustering.Unassigned, data.allocation.Dropped),
		Warnings:           slices.Clone(data.allocation.Warnings),
		Summary:            PlanSummary{TotalBookings: len(data.bookings)},
	}

	jobs, warnings := buildJobs(data, in)
	resp.Warnings = append(resp.Warnings, warnings...)

	results, failures := OptimizeBatches(ctx, p.optimizer, jobs, p.runOpts)
	resp.Errors = failures
	for _, f := range failures {
		resp.Warnings = append(resp.Warnings, fmt.Sprintf(
			"failed to optimize route for vehicle %s service %s: %v", f.VehicleID, f.ServiceID, f.Err,
		))
		for _, b := range jobs[f.BatchIndex].Batch.Bookings {
			resp.UnassignedBookings = append(resp.UnassignedBookings, domain.UnassignedBooking{
				Booking: b,
				Reason:  domain.ReasonOptimizationFailed,
				Details: f.Err.Error(),
			})
		}
	}

	r.to(StatePersisting)
	seq, err := p.store.NextRouteSequence(ctx, in.RouteDate)
	if err != nil {
		// Later inserts fail on the unique route code if the guess collides.
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("could not read route sequence, starting at 1: %v", err))
		seq = 1
	}

	vehiclesUsed := map[string]struct{}{}
	for i, res := range results {
		if res == nil {
			continue
		}

		route, assignments := buildRoute(res, jobs[i].Options, in.RouteDate, seq, len(resp.Routes)+1, data.params)
		seq++

		err := p.store.InTx(ctx, func(w ports.RouteWriter) error {
			id, err := w.PersistRoute(ctx, route)
			if err != nil {
				return fmt.Errorf("persist route: %w", err)
			}
			for _, a := range assignments {
				a.RouteID = id
				if err := w.UpdateBookingAssignment(ctx, a); err != nil {
					return fmt.Errorf("assign booking %s: %w", a.BookingID, err)
				}
			}
			return nil
		})
		if err != nil {
			log.Error().
				Err(err).
				Str("req_id", obs.RequestID(ctx)).
				Str("route_code", route.RouteCode).
				Str("vehicle_id", route.VehicleID).
				Msg("failed to store route")
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("failed to store route %s: %v", route.RouteCode, err))
			for _, b := range res.Bookings {
				resp.UnassignedBookings = append(resp.UnassignedBookings, domain.UnassignedBooking{
					Booking: b,
					Reason:  domain.ReasonPersistFailed,
					Details: err.Error(),
				})
			}
			continue
		}

		resp.Routes = append(resp.Routes, route)
		resp.Summary.AssignedBookings += len(res.Bookings)
		vehiclesUsed[route.VehicleID] = struct{}{}

		log.Info().
			Str("req_id", obs.RequestID(ctx)).
			Str("route_id", route.ID).
			Str("route_code", route.RouteCode).
			Str("vehicle_id", route.VehicleID).
			Int("stops", route.TotalStops).
			Msg("created route")
	}

	r.to(StateReporting)
	if p.publisher != nil {
		for _, route := range resp.Routes {
			if err := p.publisher.PublishRoutePlanned(ctx, route); err != nil {
				resp.Warnings = append(resp.Warnings, fmt.Sprintf("failed to publish route %s: %v", route.RouteCode, err))
			}
		}
	}

	resp.Summary.RoutesCreated = len(resp.Routes)
	resp.Summary.VehiclesUsed = len(vehiclesUsed)
	countUnassigned(resp.UnassignedBookings)

	log.Info().
		Str("req_id", obs.RequestID(ctx)).
		Int("total_bookings", resp.Summary.TotalBookings).
		Int("assigned_bookings", resp.Summary.AssignedBookings).
		Int("routes_created", resp.Summary.RoutesCreated).
		Int("vehicles_used", resp.Summary.VehiclesUsed).
		Msg("route planning completed")

	r.done()
	return resp, nil
}

func countUnassigned(list []domain.UnassignedBooking) {
	for _, u := range list {
		metrics.UnassignedBookings.WithLabelValues(string(u.Reason)).Inc()
	}
}

// buildJobs turns vehicle assignments into optimization jobs.
// The departure is the caller's location, else the allocation's start
// location, else the vehicle's primary depot.
func buildJobs(data *planData, in PlanRoutesInput) ([]BatchJob, []string) {
	var jobs []BatchJob
	var warnings []string

	lookup := func(id string) *domain.Coordinates {
		if id == "" {
			return nil
		}
		loc, ok := data.locations[id]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("location %s not found", id))
			return nil
		}
		c := loc.Coordinates
		return &c
	}

	for _, a := range data.allocation.Assignments {
		opts := BatchOptions{
			ReturnToStart:     in.returnToStart(),
			RoutingPreference: in.RoutingPreference,
			DepartureTime:     data.params.DayStartTime,
		}

		switch {
		case in.DepartureLocation != nil:
			c := *in.DepartureLocation
			opts.DepartureLocation = &c
		default:
			opts.DepartureLocation = lookup(a.StartLocationID)
			if opts.DepartureLocation == nil {
				opts.DepartureLocation = lookup(a.Vehicle.PrimaryLocationID())
			}
		}

		if a.EndLocationID != "" {
			opts.ReturnToStart = false
			opts.DestinationLocation = lookup(a.EndLocationID)
		}

		for _, group := range splitByService(a.Bookings) {
			for _, chunk := range chunkBookings(group, a.Vehicle.StopLimit(data.maxStops)) {
				jobs = append(jobs, BatchJob{
					Batch: domain.BookingBatch{
						VehicleID: a.Vehicle.ID,
						ServiceID: chunk[0].ServiceID,
						Bookings:  chunk,
					},
					Options: opts,
				})
			}
		}
	}

	return jobs, warnings
}

const quarterHour = 15 * 60

func roundUpQuarter(secs int) int {
	if rem := secs % quarterHour; rem != 0 {
		return secs + quarterHour - rem
	}
	return secs
}

// buildRoute converts an optimized batch into a route and its per-stop
// assignments. Stop times walk the legs from the route start, rounding each
// arrival and departure up to the next quarter hour.
func buildRoute(
	res *domain.OptimizedRouteBatch,
	opts BatchOptions,
	date time.Time,
	seq, index int,
	params domain.PlanningParams,
) (*domain.Route, []domain.BookingAssignment) {
	start := res.PlannedStartTime
	if start == "" {
		start = params.DayStartTime
	}
	startSecs, err := domain.ParseClock(start)
	if err != nil {
		startSecs = 8 * 3600
		start = domain.FormatClock(startSecs)
	}

	serviceMinutes := 0
	assignments := make([]domain.BookingAssignment, 0, len(res.Bookings))
	clock := startSecs
	leg := 0
	for i, b := range res.Bookings {
		// Without a departure the first booking is the origin.
		if opts.DepartureLocation != nil || i > 0 {
			if leg < len(res.Legs) {
				clock += res.Legs[leg].DurationSeconds
				leg++
			}
		}
		clock = roundUpQuarter(clock)
		stopStart := clock

		mins := int(b.ServiceDuration().Minutes())
		serviceMinutes += mins
		clock = roundUpQuarter(clock + mins*60)

		assignments = append(assignments, domain.BookingAssignment{
			BookingID:          b.ID,
			VehicleID:          res.VehicleID,
			StopOrder:          i + 1,
			ScheduledStartTime: domain.FormatClock(stopStart),
			ScheduledEndTime:   domain.FormatClock(clock),
		})
	}

	travelMinutes := int(math.Ceil(float64(res.TotalDurationSeconds) / 60))

	end := res.PlannedEndTime
	if end == "" {
		end = domain.FormatClock(startSecs + (travelMinutes+serviceMinutes)*60)
	}

	stops := make([]string, 0, len(res.Bookings))
	for _, b := range res.Bookings {
		stops = append(stops, b.ID)
	}

	route := &domain.Route{
		RouteCode:            domain.RouteCode(date, seq),
		RouteName:            fmt.Sprintf("Route %d - %s", index, date.Format("2006-01-02")),
		VehicleID:            res.VehicleID,
		ServiceID:            res.ServiceID,
		RouteDate:            date,
		PlannedStartTime:     start,
		PlannedEndTime:       end,
		TotalDistanceKm:      float64(res.TotalDistanceMeters) / 1000,
		TotalDurationMinutes: travelMinutes + serviceMinutes,
		TotalServiceMinutes:  serviceMinutes,
		TotalTravelMinutes:   travelMinutes,
		TotalStops:           len(res.Bookings),
		OptimizationType:     domain.OptimizationTypeBalanced,
		Status:               domain.RouteStatusPlanned,
		StopSequence:         stops,
		Geometry: domain.RouteGeometry{
			EncodedPolyline: res.EncodedPolyline,
			Legs:            res.Legs,
		},
	}

	return route, assignments
}

// IsInputError reports whether err should be shown to the caller as a
// request problem rather than a server failure.
func IsInputError(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrNoBookings) ||
		errors.Is(err, domain.ErrNoVehicles)
}
