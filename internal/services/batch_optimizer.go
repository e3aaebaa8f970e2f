package services

import (
	"context"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/ports"
	"fmt"
	"strconv"
	"strings"
)

// Options for a single batch optimization.
type BatchOptions struct {
	// Where the vehicle starts. Nil means the first booking is the origin.
	DepartureLocation *domain.Coordinates
	// Where the vehicle ends. Takes precedence over ReturnToStart.
	DestinationLocation *domain.Coordinates
	ReturnToStart       bool
	// Nil means true.
	OptimizeWaypointOrder *bool
	RoutingPreference     string
	// Fallback start (HH:MM:SS) used when no booking carries a start time.
	DepartureTime string
}

func (o BatchOptions) optimize() bool {
	return o.OptimizeWaypointOrder == nil || *o.OptimizeWaypointOrder
}

// BatchOptimizer turns a BookingBatch into an ordered, timed route using a
// RouteOptimizer.
type BatchOptimizer struct {
	optimizer ports.RouteOptimizer
}

func NewBatchOptimizer(optimizer ports.RouteOptimizer) *BatchOptimizer {
	return &BatchOptimizer{optimizer: optimizer}
}

// batchLayout records which bookings take the origin and destination slots
// and which slice of the batch is sent as intermediates.
type batchLayout struct {
	originBooking bool
	destBooking   bool
	start, end    int
	continues     bool
}

func layoutFor(n int, opts BatchOptions) batchLayout {
	l := batchLayout{
		originBooking: opts.DepartureLocation == nil,
		continues:     opts.DestinationLocation != nil || opts.ReturnToStart,
	}

	if l.originBooking {
		l.start = 1
	}
	l.end = n
	if !l.continues {
		l.end = n - 1
		// A single booking with no departure is both origin and destination.
		l.destBooking = n-1 >= l.start
	}
	if l.end < l.start {
		l.end = l.start
	}

	return l
}

// OptimizeBatch computes the visit order and planned times for one batch.
//
// The origin is the departure location when given, else the first booking.
// The destination is the explicit destination, else the origin when returning
// to start, else the last booking. Bookings between them are sent as
// intermediates in input order and the provider may reorder them.
func (o *BatchOptimizer) OptimizeBatch(
	ctx context.Context,
	batch domain.BookingBatch,
	opts BatchOptions,
) (*domain.OptimizedRouteBatch, error) {
	n := len(batch.Bookings)
	if n == 0 {
		return nil, domain.NewPlanningError(domain.CodeNoBookings, "batch has no bookings", nil)
	}

	for _, b := range batch.Bookings {
		if !b.HasLocation() {
			return nil, domain.NewPlanningError(
				domain.CodeOptimizationFailed,
				fmt.Sprintf("optimize batch vehicle=%s service=%s", batch.VehicleID, batch.ServiceID),
				&domain.ProviderError{
					Code:    domain.ProviderInvalidWaypoint,
					Message: fmt.Sprintf("booking %s has no coordinates", b.ID),
				},
			)
		}
	}

	layout := layoutFor(n, opts)

	var origin domain.Coordinates
	if opts.DepartureLocation != nil {
		origin = *opts.DepartureLocation
	} else {
		origin = *batch.Bookings[0].Location
	}

	var destination domain.Coordinates
	switch {
	case opts.DestinationLocation != nil:
		destination = *opts.DestinationLocation
	case opts.ReturnToStart:
		destination = origin
	default:
		destination = *batch.Bookings[n-1].Location
	}

	middle := batch.Bookings[layout.start:layout.end]
	intermediates := make([]domain.Coordinates, 0, len(middle))
	for _, b := range middle {
		intermediates = append(intermediates, *b.Location)
	}

	pref := opts.RoutingPreference
	if pref == "" {
		pref = ports.RoutingTrafficUnaware
	}

	routes, err := o.optimizer.ComputeRoutes(ctx, ports.ComputeRoutesRequest{
		Origin:                origin,
		Destination:           destination,
		Intermediates:         intermediates,
		TravelMode:            ports.TravelModeDrive,
		RoutingPreference:     pref,
		OptimizeWaypointOrder: opts.optimize(),
	})
	if err != nil {
		return nil, domain.NewPlanningError(
			domain.CodeOptimizationFailed,
			fmt.Sprintf("optimize batch vehicle=%s service=%s", batch.VehicleID, batch.ServiceID),
			err,
		)
	}
	if len(routes) == 0 {
		return nil, domain.NewPlanningError(
			domain.CodeOptimizationFailed,
			fmt.Sprintf("optimize batch vehicle=%s service=%s", batch.VehicleID, batch.ServiceID),
			&domain.ProviderError{Code: domain.ProviderZeroResults, Message: "provider returned no routes"},
		)
	}
	best := routes[0]

	out := &domain.OptimizedRouteBatch{
		VehicleID:            batch.VehicleID,
		ServiceID:            batch.ServiceID,
		TotalDistanceMeters:  best.DistanceMeters,
		TotalDurationSeconds: ParseDurationSeconds(best.Duration),
		EncodedPolyline:      best.EncodedPolyline,
		Warnings:             append([]string(nil), best.Warnings...),
	}

	order := best.OptimizedIntermediateWaypointIndex
	if !isPermutation(order, len(middle)) {
		if len(middle) > 1 && opts.optimize() {
			out.Warnings = append(out.Warnings, "provider returned no usable waypoint order; keeping input order")
		}
		order = identity(len(middle))
	}

	visited := make([]*domain.Booking, 0, n)
	if layout.originBooking {
		visited = append(visited, batch.Bookings[0])
	}
	for _, idx := range order {
		visited = append(visited, middle[idx])
	}
	if layout.destBooking {
		visited = append(visited, batch.Bookings[n-1])
	}
	out.Bookings = visited

	for _, leg := range best.Legs {
		out.Legs = append(out.Legs, domain.RouteLeg{
			DistanceMeters:  leg.DistanceMeters,
			DurationSeconds: ParseDurationSeconds(leg.Duration),
			EncodedPolyline: leg.EncodedPolyline,
		})
	}

	out.PlannedStartTime, out.PlannedEndTime = plannedTimes(visited, out.Legs, out.TotalDurationSeconds, layout, opts)

	return out, nil
}

// ParseDurationSeconds reads the leading integer of a "<n>s" duration.
// Anything unparsable yields 0.
func ParseDurationSeconds(s string) int {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0
	}
	return n
}

// plannedTimes derives the route's start from the first visited booking with
// a start time, less the first leg, and its end from the last visited booking:
// its start plus service, plus the final leg when the route continues past it.
// When the last booking has no start time the end is start plus the total
// duration. Without any start time the departure time, if set, is used.
func plannedTimes(
	visited []*domain.Booking,
	legs []domain.RouteLeg,
	totalSeconds int,
	layout batchLayout,
	opts BatchOptions,
) (start, end string) {
	legSeconds := func(i int) int {
		if i < 0 || i >= len(legs) {
			return 0
		}
		return legs[i].DurationSeconds
	}

	startSecs, ok := -1, false
	for _, b := range visited {
		if secs, err := domain.ParseClock(b.ScheduledStartTime); err == nil {
			startSecs, ok = secs-legSeconds(0), true
			break
		}
	}

	if !ok {
		if opts.DepartureTime == "" {
			return "", ""
		}
		secs, err := domain.ParseClock(opts.DepartureTime)
		if err != nil {
			return "", ""
		}
		return domain.FormatClock(secs), domain.FormatClock(secs + totalSeconds)
	}

	endSecs := max(startSecs, 0) + totalSeconds
	if len(visited) > 0 {
		last := visited[len(visited)-1]
		if secs, err := domain.ParseClock(last.ScheduledStartTime); err == nil {
			endSecs = secs + int(last.ServiceDuration().Seconds())
			if layout.continues {
				endSecs += legSeconds(len(legs) - 1)
			}
		}
	}

	return domain.FormatClock(startSecs), domain.FormatClock(endSecs)
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
