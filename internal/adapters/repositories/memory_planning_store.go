package repositories

import (
	"context"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/ports"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation names accepted by MemoryPlanningStore.FailOn.
const (
	OpFetchBookings       = "FetchUnscheduledBookings"
	OpFetchVehicles       = "FetchVehicles"
	OpFetchDepotLocations = "FetchDepotLocations"
	OpFetchClustering     = "FetchClusteringConfig"
	OpPersistRoute        = "PersistRoute"
	OpUpdateBookingAssign = "UpdateBookingAssignment"
	OpNextRouteSequence   = "NextRouteSequence"
	OpFetchPlanningParams = "FetchPlanningParams"
	OpFetchBaseLocations  = "FetchBaseLocations"
	OpListRoutes          = "ListRoutes"
)

// In-memory PlanningStore used for local runs and tests.
// Writes made inside InTx become visible only when fn succeeds.
type MemoryPlanningStore struct {
	mu sync.Mutex

	Bookings   []*domain.Booking
	Vehicles   []*domain.Vehicle
	Locations  map[string]domain.DepotLocation
	Clustering domain.ClusteringConfig
	Params     domain.PlanningParams
	Routes     []*domain.Route

	failOn map[string]error

	// failWhen lets a test fail a write for a specific route or booking.
	failWhen func(op, id string) error
}

func NewMemoryPlanningStore() *MemoryPlanningStore {
	return &MemoryPlanningStore{
		Locations: map[string]domain.DepotLocation{},
		Clustering: domain.ClusteringConfig{
			MaxRadiusMiles:     DefaultMaxRadiusMiles,
			MaxStopsPerVehicle: DefaultMaxStopsPerVehicle,
		},
		Params: domain.DefaultPlanningParams(),
		failOn: map[string]error{},
	}
}

// FailOn makes every call to op return err.
func (m *MemoryPlanningStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

// FailWhen installs a per-call fault hook for writes. id is the route code
// for PersistRoute and the booking id for UpdateBookingAssignment.
func (m *MemoryPlanningStore) FailWhen(fn func(op, id string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWhen = fn
}

func (m *MemoryPlanningStore) fault(op, id string) error {
	if err := m.failOn[op]; err != nil {
		return err
	}
	if m.failWhen != nil {
		return m.failWhen(op, id)
	}
	return nil
}

func (m *MemoryPlanningStore) AddLocation(l domain.DepotLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Locations[l.ID] = l
}

func (m *MemoryPlanningStore) AddVehicle(v *domain.Vehicle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Vehicles = append(m.Vehicles, v)
}

func (m *MemoryPlanningStore) AddBooking(b *domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bookings = append(m.Bookings, b)
}

// Booking returns a copy of the stored booking.
func (m *MemoryPlanningStore) Booking(id string) (domain.Booking, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.Bookings {
		if b.ID == id {
			return *b, true
		}
	}
	return domain.Booking{}, false
}

func (m *MemoryPlanningStore) FetchUnscheduledBookings(
	_ context.Context,
	date time.Time,
	serviceID string,
) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpFetchBookings, ""); err != nil {
		return nil, err
	}

	day := date.Format(dateLayout)
	var out []*domain.Booking
	for _, b := range m.Bookings {
		if b.ScheduledDate.Format(dateLayout) != day || b.RouteID != "" {
			continue
		}
		if b.Status != "" && b.Status != domain.BookingStatusConfirmed {
			continue
		}
		if serviceID != "" && b.ServiceID != serviceID {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}

	slices.SortStableFunc(out, func(a, b *domain.Booking) int {
		if c := strings.Compare(a.ScheduledStartTime, b.ScheduledStartTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return out, nil
}

func (m *MemoryPlanningStore) FetchVehicles(_ context.Context, filter ports.VehicleFilter) ([]*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpFetchVehicles, ""); err != nil {
		return nil, err
	}

	var out []*domain.Vehicle
	for _, v := range m.Vehicles {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.ServiceID != "" && !v.CanService(filter.ServiceID) {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryPlanningStore) FetchDepotLocations(_ context.Context, ids []string) (map[string]domain.DepotLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpFetchDepotLocations, ""); err != nil {
		return nil, err
	}

	out := make(map[string]domain.DepotLocation, len(ids))
	for _, id := range ids {
		if l, ok := m.Locations[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (m *MemoryPlanningStore) FetchBaseLocations(context.Context) ([]domain.DepotLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpFetchBaseLocations, ""); err != nil {
		return nil, err
	}

	out := make([]domain.DepotLocation, 0, len(m.Locations))
	for _, l := range m.Locations {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b domain.DepotLocation) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryPlanningStore) FetchClusteringConfig(context.Context) (domain.ClusteringConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpFetchClustering, ""); err != nil {
		return domain.ClusteringConfig{}, err
	}
	return m.Clustering, nil
}

func (m *MemoryPlanningStore) FetchPlanningParams(context.Context) (domain.PlanningParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpFetchPlanningParams, ""); err != nil {
		return domain.PlanningParams{}, err
	}
	return m.Params, nil
}

func (m *MemoryPlanningStore) NextRouteSequence(_ context.Context, date time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpNextRouteSequence, ""); err != nil {
		return 0, err
	}

	prefix := "RT-" + date.Format("20060102") + "-"
	maxSeq := 0
	for _, r := range m.Routes {
		suffix, ok := strings.CutPrefix(r.RouteCode, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > maxSeq {
			maxSeq = n
		}
	}
	return maxSeq + 1, nil
}

func (m *MemoryPlanningStore) ListRoutes(_ context.Context, date time.Time) ([]*domain.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpListRoutes, ""); err != nil {
		return nil, err
	}

	day := date.Format(dateLayout)
	var out []*domain.Route
	for _, r := range m.Routes {
		if r.RouteDate.Format(dateLayout) == day {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryPlanningStore) PersistRoute(ctx context.Context, route *domain.Route) (string, error) {
	var id string
	err := m.InTx(ctx, func(w ports.RouteWriter) error {
		var err error
		id, err = w.PersistRoute(ctx, route)
		return err
	})
	return id, err
}

func (m *MemoryPlanningStore) UpdateBookingAssignment(ctx context.Context, a domain.BookingAssignment) error {
	return m.InTx(ctx, func(w ports.RouteWriter) error {
		return w.UpdateBookingAssignment(ctx, a)
	})
}

// InTx stages writes and applies them only when fn returns nil.
func (m *MemoryPlanningStore) InTx(_ context.Context, fn func(w ports.RouteWriter) error) error {
	tx := &memoryTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Routes = append(m.Routes, tx.routes...)
	for _, a := range tx.assignments {
		for _, b := range m.Bookings {
			if b.ID != a.BookingID {
				continue
			}
			b.RouteID = a.RouteID
			b.VehicleID = a.VehicleID
			b.StopOrder = a.StopOrder
			b.ScheduledStartTime = a.ScheduledStartTime
			b.ScheduledEndTime = a.ScheduledEndTime
			b.Status = domain.BookingStatusScheduled
		}
	}
	return nil
}

type memoryTx struct {
	store       *MemoryPlanningStore
	routes      []*domain.Route
	assignments []domain.BookingAssignment
}

func (t *memoryTx) PersistRoute(_ context.Context, route *domain.Route) (string, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if err := t.store.fault(OpPersistRoute, route.RouteCode); err != nil {
		return "", err
	}
	if route.ID == "" {
		route.ID = uuid.NewString()
	}
	cp := *route
	t.routes = append(t.routes, &cp)
	return route.ID, nil
}

func (t *memoryTx) UpdateBookingAssignment(_ context.Context, a domain.BookingAssignment) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if err := t.store.fault(OpUpdateBookingAssign, a.BookingID); err != nil {
		return err
	}

	found := false
	for _, b := range t.store.Bookings {
		if b.ID == a.BookingID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("update booking assignment booking_id=%s: %w", a.BookingID, ports.ErrNotFound)
	}

	t.assignments = append(t.assignments, a)
	return nil
}
