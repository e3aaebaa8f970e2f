package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/platform/db"
	"field-route-planner/internal/platform/obs"
	"field-route-planner/internal/ports"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// Defaults applied when the settings table has no value.
const (
	DefaultMaxRadiusMiles     = 50.0
	DefaultMaxStopsPerVehicle = 15
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQL-backed implementation of the PlanningStore port for sqlite and postgres.
type SQLPlanningStore struct {
	DB     *sql.DB
	Driver string
	now    func() time.Time
}

func NewSQLPlanningStore(conn *sql.DB, driver string) *SQLPlanningStore {
	return &SQLPlanningStore{DB: conn, Driver: driver, now: time.Now}
}

func (s *SQLPlanningStore) bind(q string) string { return db.Rebind(s.Driver, q) }

// Return confirmed bookings on date that are not yet on a route.
func (s *SQLPlanningStore) FetchUnscheduledBookings(
	ctx context.Context,
	date time.Time,
	serviceID string,
) (_ []*domain.Booking, err error) {
	defer obs.Time(ctx, "store.FetchUnscheduledBookings")(&err)

	if s.DB == nil {
		return nil, errors.New("sql planning store: DB is nil")
	}

	query := `
	SELECT
		id, service_id, COALESCE(route_id, ''), COALESCE(vehicle_id, ''),
		scheduled_date, COALESCE(scheduled_start_time, ''), COALESCE(scheduled_end_time, ''),
		estimated_duration_minutes, latitude, longitude,
		location_name, location_city, status, COALESCE(stop_order, 0)
	FROM bookings
	WHERE scheduled_date = ?
		AND status = ?
		AND (route_id IS NULL OR route_id = '')
	`
	args := []any{date.Format(dateLayout), domain.BookingStatusConfirmed}
	if serviceID != "" {
		query += " AND service_id = ?"
		args = append(args, serviceID)
	}
	query += " ORDER BY COALESCE(scheduled_start_time, ''), id;"

	rows, err := s.DB.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch unscheduled bookings: query bookings table: %w", err)
	}
	defer rows.Close()

	bookings := make([]*domain.Booking, 0, 64)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("fetch unscheduled bookings: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch unscheduled bookings: row iteration: %w", err)
	}

	return bookings, nil
}

func scanBooking(rows *sql.Rows) (*domain.Booking, error) {
	var b domain.Booking
	var date string
	var lat, lon sql.NullFloat64
	err := rows.Scan(
		&b.ID, &b.ServiceID, &b.RouteID, &b.VehicleID,
		&date, &b.ScheduledStartTime, &b.ScheduledEndTime,
		&b.EstimatedDurationMinutes, &lat, &lon,
		&b.LocationName, &b.LocationCity, &b.Status, &b.StopOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("scan booking row: %w", err)
	}

	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("booking %s: parse scheduled_date %q: %w", b.ID, date, err)
	}
	b.ScheduledDate = d

	if lat.Valid && lon.Valid {
		b.Location = &domain.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}

	return &b, nil
}

// Return vehicles matching filter with their home locations, primary first.
func (s *SQLPlanningStore) FetchVehicles(
	ctx context.Context,
	filter ports.VehicleFilter,
) (_ []*domain.Vehicle, err error) {
	defer obs.Time(ctx, "store.FetchVehicles")(&err)

	if s.DB == nil {
		return nil, errors.New("sql planning store: DB is nil")
	}

	query := `
	SELECT id, name, status, service_types, max_stops_per_route
	FROM vehicles
	`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY id;"

	rows, err := s.DB.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch vehicles: query vehicles table: %w", err)
	}
	defer rows.Close()

	vehicles := make([]*domain.Vehicle, 0, 16)
	byID := make(map[string]*domain.Vehicle)
	for rows.Next() {
		var v domain.Vehicle
		var serviceTypes string
		if err := rows.Scan(&v.ID, &v.Name, &v.Status, &serviceTypes, &v.MaxStopsPerRoute); err != nil {
			return nil, fmt.Errorf("fetch vehicles: scan row: %w", err)
		}
		v.ServiceTypes = splitCSV(serviceTypes)
		if filter.ServiceID != "" && !v.CanService(filter.ServiceID) {
			continue
		}
		vehicles = append(vehicles, &v)
		byID[v.ID] = &v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch vehicles: row iteration: %w", err)
	}
	rows.Close()

	locRows, err := s.DB.QueryContext(ctx, `
	SELECT vehicle_id, location_id
	FROM vehicle_locations
	ORDER BY vehicle_id, is_primary DESC, location_id;
	`)
	if err != nil {
		return nil, fmt.Errorf("fetch vehicles: query vehicle_locations table: %w", err)
	}
	defer locRows.Close()

	for locRows.Next() {
		var vehicleID, locationID string
		if err := locRows.Scan(&vehicleID, &locationID); err != nil {
			return nil, fmt.Errorf("fetch vehicles: scan location row: %w", err)
		}
		if v, ok := byID[vehicleID]; ok {
			v.HomeLocationIDs = append(v.HomeLocationIDs, locationID)
		}
	}
	if err := locRows.Err(); err != nil {
		return nil, fmt.Errorf("fetch vehicles: location row iteration: %w", err)
	}

	return vehicles, nil
}

func (s *SQLPlanningStore) FetchDepotLocations(
	ctx context.Context,
	ids []string,
) (_ map[string]domain.DepotLocation, err error) {
	defer obs.Time(ctx, "store.FetchDepotLocations")(&err)

	out := make(map[string]domain.DepotLocation, len(ids))

	seen := map[string]struct{}{}
	uniq := make([]any, 0, len(ids))
	ph := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
		ph = append(ph, "?")
	}
	if len(uniq) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`
	SELECT id, name, city, latitude, longitude
	FROM locations
	WHERE id IN (%s);
	`, strings.Join(ph, ","))

	locs, err := s.queryLocations(ctx, s.bind(query), uniq...)
	if err != nil {
		return nil, fmt.Errorf("fetch depot locations: %w", err)
	}
	for _, l := range locs {
		out[l.ID] = l
	}

	return out, nil
}

func (s *SQLPlanningStore) FetchBaseLocations(ctx context.Context) ([]domain.DepotLocation, error) {
	locs, err := s.queryLocations(ctx, `
	SELECT id, name, city, latitude, longitude
	FROM locations
	ORDER BY name, id;
	`)
	if err != nil {
		return nil, fmt.Errorf("fetch base locations: %w", err)
	}
	return locs, nil
}

func (s *SQLPlanningStore) queryLocations(ctx context.Context, query string, args ...any) ([]domain.DepotLocation, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query locations table: %w", err)
	}
	defer rows.Close()

	var out []domain.DepotLocation
	for rows.Next() {
		var l domain.DepotLocation
		if err := rows.Scan(&l.ID, &l.Name, &l.City, &l.Coordinates.Lat, &l.Coordinates.Lon); err != nil {
			return nil, fmt.Errorf("scan location row: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("location row iteration: %w", err)
	}

	return out, nil
}

func (s *SQLPlanningStore) settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM settings;`)
	if err != nil {
		return nil, fmt.Errorf("query settings table: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan settings row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SQLPlanningStore) FetchClusteringConfig(ctx context.Context) (domain.ClusteringConfig, error) {
	kv, err := s.settings(ctx)
	if err != nil {
		return domain.ClusteringConfig{}, fmt.Errorf("fetch clustering config: %w", err)
	}

	return domain.ClusteringConfig{
		MaxRadiusMiles:     floatSetting(kv, SettingMaxRadiusMiles, DefaultMaxRadiusMiles),
		MaxStopsPerVehicle: int(floatSetting(kv, SettingMaxStopsPerVehicle, DefaultMaxStopsPerVehicle)),
	}, nil
}

func (s *SQLPlanningStore) FetchPlanningParams(ctx context.Context) (domain.PlanningParams, error) {
	kv, err := s.settings(ctx)
	if err != nil {
		return domain.PlanningParams{}, fmt.Errorf("fetch planning params: %w", err)
	}

	return paramsFromSettings(kv), nil
}

var routeCodeSeq = regexp.MustCompile(`^RT-\d{8}-(\d{3,})$`)

func (s *SQLPlanningStore) NextRouteSequence(ctx context.Context, date time.Time) (int, error) {
	prefix := "RT-" + date.Format("20060102") + "-"
	rows, err := s.DB.QueryContext(ctx, s.bind(`SELECT route_code FROM routes WHERE route_code LIKE ?;`), prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("next route sequence: query routes table: %w", err)
	}
	defer rows.Close()

	maxSeq := 0
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return 0, fmt.Errorf("next route sequence: scan row: %w", err)
		}
		if m := routeCodeSeq.FindStringSubmatch(code); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > maxSeq {
				maxSeq = n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("next route sequence: row iteration: %w", err)
	}

	return maxSeq + 1, nil
}

func (s *SQLPlanningStore) ListRoutes(ctx context.Context, date time.Time) (_ []*domain.Route, err error) {
	defer obs.Time(ctx, "store.ListRoutes")(&err)

	rows, err := s.DB.QueryContext(ctx, s.bind(`
	SELECT
		id, route_code, route_name, vehicle_id, service_id, route_date,
		planned_start_time, planned_end_time, total_distance_km,
		total_duration_minutes, total_service_minutes, total_travel_minutes,
		total_stops, optimization_type, status, stop_sequence, geometry, created_at
	FROM routes
	WHERE route_date = ?
	ORDER BY route_code;
	`), date.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list routes: query routes table: %w", err)
	}
	defer rows.Close()

	var out []*domain.Route
	for rows.Next() {
		var r domain.Route
		var routeDate, stops, geometry, createdAt string
		err := rows.Scan(
			&r.ID, &r.RouteCode, &r.RouteName, &r.VehicleID, &r.ServiceID, &routeDate,
			&r.PlannedStartTime, &r.PlannedEndTime, &r.TotalDistanceKm,
			&r.TotalDurationMinutes, &r.TotalServiceMinutes, &r.TotalTravelMinutes,
			&r.TotalStops, &r.OptimizationType, &r.Status, &stops, &geometry, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("list routes: scan row: %w", err)
		}
		r.RouteDate, _ = time.Parse(dateLayout, routeDate)
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if err := json.Unmarshal([]byte(stops), &r.StopSequence); err != nil {
			return nil, fmt.Errorf("list routes: route %s stop_sequence: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(geometry), &r.Geometry); err != nil {
			return nil, fmt.Errorf("list routes: route %s geometry: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list routes: row iteration: %w", err)
	}

	return out, nil
}

func (s *SQLPlanningStore) PersistRoute(ctx context.Context, route *domain.Route) (string, error) {
	return s.writer(s.DB).PersistRoute(ctx, route)
}

func (s *SQLPlanningStore) UpdateBookingAssignment(ctx context.Context, a domain.BookingAssignment) error {
	return s.writer(s.DB).UpdateBookingAssignment(ctx, a)
}

// InTx runs fn inside one database transaction.
func (s *SQLPlanningStore) InTx(ctx context.Context, fn func(w ports.RouteWriter) error) (err error) {
	defer obs.Time(ctx, "store.InTx")(&err)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("in tx: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(s.writer(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("in tx: commit: %w", err)
	}

	return nil
}

func (s *SQLPlanningStore) writer(q querier) *sqlRouteWriter {
	return &sqlRouteWriter{q: q, bind: s.bind, now: s.now}
}

type sqlRouteWriter struct {
	q    querier
	bind func(string) string
	now  func() time.Time
}

func (w *sqlRouteWriter) PersistRoute(ctx context.Context, route *domain.Route) (string, error) {
	if route == nil {
		return "", errors.New("persist route: route is nil")
	}
	if route.ID == "" {
		route.ID = uuid.NewString()
	}
	if route.CreatedAt.IsZero() {
		route.CreatedAt = w.now().UTC()
	}

	stops, err := json.Marshal(route.StopSequence)
	if err != nil {
		return "", fmt.Errorf("persist route: marshal stop sequence: %w", err)
	}
	geometry, err := json.Marshal(route.Geometry)
	if err != nil {
		return "", fmt.Errorf("persist route: marshal geometry: %w", err)
	}

	_, err = w.q.ExecContext(ctx, w.bind(`
	INSERT INTO routes (
		id, route_code, route_name, vehicle_id, service_id, route_date,
		planned_start_time, planned_end_time, total_distance_km,
		total_duration_minutes, total_service_minutes, total_travel_minutes,
		total_stops, optimization_type, status, stop_sequence, geometry, created_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`),
		route.ID, route.RouteCode, route.RouteName, route.VehicleID, route.ServiceID,
		route.RouteDate.Format(dateLayout), route.PlannedStartTime, route.PlannedEndTime,
		route.TotalDistanceKm, route.TotalDurationMinutes, route.TotalServiceMinutes,
		route.TotalTravelMinutes, route.TotalStops, route.OptimizationType, route.Status,
		string(stops), string(geometry), route.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("persist route code=%s: %w", route.RouteCode, err)
	}

	return route.ID, nil
}

func (w *sqlRouteWriter) UpdateBookingAssignment(ctx context.Context, a domain.BookingAssignment) error {
	res, err := w.q.ExecContext(ctx, w.bind(`
	UPDATE bookings
	SET route_id = ?,
		vehicle_id = ?,
		stop_order = ?,
		scheduled_start_time = ?,
		scheduled_end_time = ?,
		status = ?
	WHERE id = ?;
	`),
		a.RouteID, a.VehicleID, a.StopOrder,
		nullIfEmpty(a.ScheduledStartTime), nullIfEmpty(a.ScheduledEndTime),
		domain.BookingStatusScheduled, a.BookingID,
	)
	if err != nil {
		return fmt.Errorf("update booking assignment booking_id=%s: %w", a.BookingID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update booking assignment booking_id=%s: rows affected: %w", a.BookingID, err)
	}
	if n == 0 {
		return fmt.Errorf("update booking assignment booking_id=%s: %w", a.BookingID, ports.ErrNotFound)
	}

	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
