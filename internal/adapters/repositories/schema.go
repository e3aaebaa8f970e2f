package repositories

import (
	"database/sql"
	"errors"
	"fmt"
)

// Initialize the planning schema. The DDL is portable between sqlite and
// postgres.
func InitSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createLocationsQuery := `
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		location_type TEXT NOT NULL DEFAULT 'depot',
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL
	);
	`

	createVehiclesQuery := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'available',
		service_types TEXT NOT NULL DEFAULT '',
		max_stops_per_route INTEGER NOT NULL DEFAULT 0
	);
	`

	createVehicleLocationsQuery := `
	CREATE TABLE IF NOT EXISTS vehicle_locations (
		vehicle_id TEXT NOT NULL REFERENCES vehicles(id),
		location_id TEXT NOT NULL REFERENCES locations(id),
		is_primary INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (vehicle_id, location_id)
	);
	`

	createBookingsQuery := `
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		service_id TEXT NOT NULL,
		route_id TEXT,
		vehicle_id TEXT,
		scheduled_date TEXT NOT NULL,
		scheduled_start_time TEXT,
		scheduled_end_time TEXT,
		estimated_duration_minutes INTEGER NOT NULL DEFAULT 0,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		location_name TEXT NOT NULL DEFAULT '',
		location_city TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'confirmed',
		stop_order INTEGER
	);
	`

	createRoutesQuery := `
	CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		route_code TEXT NOT NULL UNIQUE,
		route_name TEXT NOT NULL,
		vehicle_id TEXT NOT NULL,
		service_id TEXT NOT NULL DEFAULT '',
		route_date TEXT NOT NULL,
		planned_start_time TEXT NOT NULL,
		planned_end_time TEXT NOT NULL,
		total_distance_km DOUBLE PRECISION NOT NULL,
		total_duration_minutes INTEGER NOT NULL,
		total_service_minutes INTEGER NOT NULL,
		total_travel_minutes INTEGER NOT NULL,
		total_stops INTEGER NOT NULL,
		optimization_type TEXT NOT NULL,
		status TEXT NOT NULL,
		stop_sequence TEXT NOT NULL,
		geometry TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	createSettingsQuery := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	createRouteCacheQuery := `
	CREATE TABLE IF NOT EXISTS route_cache (
		cache_key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0
	);
	`

	createIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_bookings_scheduled_date
	ON bookings(scheduled_date, route_id);
	`

	statements := []string{
		createLocationsQuery,
		createVehiclesQuery,
		createVehicleLocationsQuery,
		createBookingsQuery,
		createRoutesQuery,
		createSettingsQuery,
		createRouteCacheQuery,
		createIndexQuery,
	}

	for i, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}
