package repositories

import (
	"database/sql"
	"errors"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/platform/db"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fleet fixture loaded by SeedFromYAML.
type FleetSeed struct {
	Settings  map[string]string `yaml:"settings"`
	Locations []LocationSeed    `yaml:"locations"`
	Vehicles  []VehicleSeed     `yaml:"vehicles"`
	Bookings  []BookingSeed     `yaml:"bookings"`
}

type LocationSeed struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	City string  `yaml:"city"`
	Type string  `yaml:"type"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

// The first home location is the vehicle's primary depot.
type VehicleSeed struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Status           string   `yaml:"status"`
	ServiceTypes     []string `yaml:"serviceTypes"`
	MaxStopsPerRoute int      `yaml:"maxStopsPerRoute"`
	HomeLocations    []string `yaml:"homeLocations"`
}

type BookingSeed struct {
	ID              string   `yaml:"id"`
	ServiceID       string   `yaml:"serviceId"`
	Date            string   `yaml:"date"`
	StartTime       string   `yaml:"startTime"`
	EndTime         string   `yaml:"endTime"`
	DurationMinutes int      `yaml:"durationMinutes"`
	Lat             *float64 `yaml:"lat"`
	Lon             *float64 `yaml:"lon"`
	LocationName    string   `yaml:"locationName"`
	LocationCity    string   `yaml:"locationCity"`
	Status          string   `yaml:"status"`
}

// SeedFromYAML reads a fleet fixture from path and upserts it.
func SeedFromYAML(conn *sql.DB, driver, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed fleet: read %q: %w", path, err)
	}

	var seed FleetSeed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("seed fleet: parse yaml: %w", err)
	}

	return Seed(conn, driver, seed)
}

// Seed validates and writes a fleet fixture in one transaction.
func Seed(conn *sql.DB, driver string, seed FleetSeed) error {
	if conn == nil {
		return errors.New("seed fleet: DB is nil")
	}
	if err := validateSeed(seed); err != nil {
		return fmt.Errorf("seed fleet: %w", err)
	}

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("seed fleet: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exec := func(query string, args ...any) error {
		_, err := tx.Exec(db.Rebind(driver, query), args...)
		return err
	}

	for k, v := range seed.Settings {
		err := exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value;
		`, k, v)
		if err != nil {
			return fmt.Errorf("seed fleet: insert setting %q: %w", k, err)
		}
	}

	for _, l := range seed.Locations {
		locType := l.Type
		if locType == "" {
			locType = "depot"
		}
		err := exec(`
		INSERT INTO locations (id, name, city, location_type, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			city = excluded.city,
			location_type = excluded.location_type,
			latitude = excluded.latitude,
			longitude = excluded.longitude;
		`, l.ID, l.Name, l.City, locType, l.Lat, l.Lon)
		if err != nil {
			return fmt.Errorf("seed fleet: insert location id=%s: %w", l.ID, err)
		}
	}

	for _, v := range seed.Vehicles {
		status := v.Status
		if status == "" {
			status = domain.VehicleStatusAvailable
		}
		err := exec(`
		INSERT INTO vehicles (id, name, status, service_types, max_stops_per_route)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			service_types = excluded.service_types,
			max_stops_per_route = excluded.max_stops_per_route;
		`, v.ID, v.Name, status, strings.Join(v.ServiceTypes, ","), v.MaxStopsPerRoute)
		if err != nil {
			return fmt.Errorf("seed fleet: insert vehicle id=%s: %w", v.ID, err)
		}

		for i, locID := range v.HomeLocations {
			primary := 0
			if i == 0 {
				primary = 1
			}
			err := exec(`
			INSERT INTO vehicle_locations (vehicle_id, location_id, is_primary)
			VALUES (?, ?, ?)
			ON CONFLICT (vehicle_id, location_id) DO UPDATE SET is_primary = excluded.is_primary;
			`, v.ID, locID, primary)
			if err != nil {
				return fmt.Errorf("seed fleet: link vehicle id=%s to location id=%s: %w", v.ID, locID, err)
			}
		}
	}

	for _, b := range seed.Bookings {
		status := b.Status
		if status == "" {
			status = domain.BookingStatusConfirmed
		}
		// Existing bookings keep their route assignment across reseeds.
		err := exec(`
		INSERT INTO bookings (
			id, service_id, scheduled_date, scheduled_start_time, scheduled_end_time,
			estimated_duration_minutes, latitude, longitude, location_name, location_city, status
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING;
		`,
			b.ID, b.ServiceID, b.Date, nullIfEmpty(b.StartTime), nullIfEmpty(b.EndTime),
			b.DurationMinutes, nullFloat(b.Lat), nullFloat(b.Lon),
			b.LocationName, b.LocationCity, status,
		)
		if err != nil {
			return fmt.Errorf("seed fleet: insert booking id=%s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed fleet: commit tx: %w", err)
	}

	return nil
}

func validateSeed(seed FleetSeed) error {
	locations := make(map[string]struct{}, len(seed.Locations))
	for i, l := range seed.Locations {
		if strings.TrimSpace(l.ID) == "" {
			return fmt.Errorf("location at index %d: id cannot be empty", i+1)
		}
		c := domain.Coordinates{Lat: l.Lat, Lon: l.Lon}
		if !c.Valid() {
			return fmt.Errorf("location id=%s: invalid coordinates %s", l.ID, c)
		}
		locations[l.ID] = struct{}{}
	}

	for i, v := range seed.Vehicles {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("vehicle at index %d: id cannot be empty", i+1)
		}
		for _, locID := range v.HomeLocations {
			if _, ok := locations[locID]; !ok {
				return fmt.Errorf("vehicle id=%s: unknown home location %q", v.ID, locID)
			}
		}
	}

	for i, b := range seed.Bookings {
		if strings.TrimSpace(b.ID) == "" {
			return fmt.Errorf("booking at index %d: id cannot be empty", i+1)
		}
		if _, err := time.Parse(dateLayout, b.Date); err != nil {
			return fmt.Errorf("booking id=%s: invalid date %q", b.ID, b.Date)
		}
		for _, t := range []string{b.StartTime, b.EndTime} {
			if t == "" {
				continue
			}
			if _, err := domain.ParseClock(t); err != nil {
				return fmt.Errorf("booking id=%s: %w", b.ID, err)
			}
		}
		if (b.Lat == nil) != (b.Lon == nil) {
			return fmt.Errorf("booking id=%s: lat and lon must be set together", b.ID)
		}
	}

	return nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
