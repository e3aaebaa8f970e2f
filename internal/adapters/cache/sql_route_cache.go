package cache

import (
	"context"
	"database/sql"
	"errors"
	"field-route-planner/internal/platform/db"
	"field-route-planner/internal/platform/obs"
	"fmt"
	"strings"
	"time"
)

// SQLRouteCache is a SQL-backed cache for routing provider responses.
// It works against both sqlite and postgres through the route_cache table.
type SQLRouteCache struct {
	DB     *sql.DB
	Driver string
	now    func() time.Time
}

func NewSQLRouteCache(conn *sql.DB, driver string) *SQLRouteCache {
	return &SQLRouteCache{DB: conn, Driver: driver, now: time.Now}
}

// Fetch a cached payload. Expired rows count as a miss.
func (s *SQLRouteCache) Get(ctx context.Context, key string) (_ []byte, _ bool, err error) {
	defer obs.Time(ctx, "route.cache.Get")(&err)

	if s.DB == nil {
		return nil, false, errors.New("route cache: db is nil")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("get route cache: key must not be empty")
	}

	q := db.Rebind(s.Driver, `
	SELECT payload, expires_at
	FROM route_cache
	WHERE cache_key = ?;
	`)

	var payload string
	var expiresAt int64
	err = s.DB.QueryRowContext(ctx, q, key).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get route cache: query route_cache table: %w", err)
	}

	if expiresAt > 0 && s.now().Unix() >= expiresAt {
		return nil, false, nil
	}

	return []byte(payload), true, nil
}

// Store a payload under key; ttl <= 0 keeps it forever.
func (s *SQLRouteCache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) (err error) {
	defer obs.Time(ctx, "route.cache.Put")(&err)

	if s.DB == nil {
		return errors.New("route cache: db is nil")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("insert route cache: key must not be empty")
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}

	q := db.Rebind(s.Driver, `
	INSERT INTO route_cache (cache_key, payload, expires_at)
	VALUES (?, ?, ?)
	ON CONFLICT (cache_key) DO UPDATE
	SET payload = EXCLUDED.payload,
		expires_at = EXCLUDED.expires_at;
	`)

	if _, err := s.DB.ExecContext(ctx, q, key, string(payload), expiresAt); err != nil {
		return fmt.Errorf("insert route cache key=%q: %w", key, err)
	}

	return nil
}

// Purge removes expired rows and reports how many were deleted.
func (s *SQLRouteCache) Purge(ctx context.Context) (int64, error) {
	q := db.Rebind(s.Driver, `DELETE FROM route_cache WHERE expires_at > 0 AND expires_at <= ?;`)
	res, err := s.DB.ExecContext(ctx, q, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge route cache: %w", err)
	}
	return res.RowsAffected()
}
