package routes

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/platform/metrics"
	"field-route-planner/internal/platform/obs"
	"field-route-planner/internal/ports"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "https://routes.googleapis.com"

	// MaxIntermediates is the provider's cap on intermediate waypoints.
	MaxIntermediates = 25

	computeRoutesPath = "/directions/v2:computeRoutes"

	fieldMask = "routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline," +
		"routes.legs.duration,routes.legs.distanceMeters,routes.legs.polyline.encodedPolyline," +
		"routes.optimizedIntermediateWaypointIndex,routes.warnings"
)

// GoogleRoutesProvider implements RouteOptimizer using the Google Routes API.
//
// It coordinates:
//   - Request validation and encoding
//   - Optional response caching keyed by request fingerprint
//   - External API calls through the retrying Executor
//
// The provider is safe for concurrent use.
type GoogleRoutesProvider struct {
	exec     *Executor
	apiKey   string
	baseURL  string
	cache    ports.RouteCache
	cacheTTL time.Duration
}

type ProviderOption func(*GoogleRoutesProvider)

func WithBaseURL(u string) ProviderOption {
	return func(p *GoogleRoutesProvider) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			p.baseURL = u
		}
	}
}

// WithCache stores successful responses in c for ttl.
func WithCache(c ports.RouteCache, ttl time.Duration) ProviderOption {
	return func(p *GoogleRoutesProvider) {
		p.cache = c
		p.cacheTTL = ttl
	}
}

func NewGoogleRoutesProvider(apiKey string, exec *Executor, opts ...ProviderOption) (*GoogleRoutesProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &domain.ProviderError{
			Code:    domain.ProviderMissingAPIKey,
			Message: "google routes api key is empty",
		}
	}
	if exec == nil {
		exec = NewExecutor(DefaultRetryPolicy())
	}

	p := &GoogleRoutesProvider{
		exec:    exec,
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

func (p *GoogleRoutesProvider) ComputeRoutes(
	ctx context.Context,
	req ports.ComputeRoutesRequest,
) (_ []ports.ComputedRoute, err error) {
	defer obs.Time(ctx, "routes.ComputeRoutes")(&err)

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal compute routes request: %w", err)
	}

	key := cacheKey(payload)
	if routes, ok := p.fromCache(ctx, key); ok {
		return routes, nil
	}

	endpoint := p.baseURL + computeRoutesPath
	raw, err := p.exec.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return p.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return nil, fmt.Errorf("compute routes: %w", err)
	}

	var resp computeRoutesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &domain.ProviderError{
			Code:    domain.ProviderAPIError,
			Message: fmt.Sprintf("decode compute routes response: %v", err),
			Err:     err,
		}
	}

	if p.cache != nil && len(resp.Routes) > 0 {
		if err := p.cache.Put(ctx, key, raw, p.cacheTTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("route cache put failed")
		}
	}

	return fromWireResponse(resp), nil
}

func (p *GoogleRoutesProvider) newRequest(
	ctx context.Context,
	method string,
	url string,
	body io.Reader,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Goog-Api-Key", p.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (p *GoogleRoutesProvider) fromCache(ctx context.Context, key string) ([]ports.ComputedRoute, bool) {
	if p.cache == nil {
		return nil, false
	}

	raw, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("route cache get failed")
		metrics.RouteCacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		metrics.RouteCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	var resp computeRoutesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		metrics.RouteCacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	metrics.RouteCacheLookups.WithLabelValues("hit").Inc()

	return fromWireResponse(resp), true
}

func validateRequest(req ports.ComputeRoutesRequest) error {
	if len(req.Intermediates) > MaxIntermediates {
		return &domain.ProviderError{
			Code:    domain.ProviderMaxWaypointsExceeded,
			Message: fmt.Sprintf("%d intermediates exceeds the limit of %d", len(req.Intermediates), MaxIntermediates),
		}
	}

	if !req.Origin.Valid() {
		return invalidWaypoint("origin", req.Origin)
	}
	if !req.Destination.Valid() {
		return invalidWaypoint("destination", req.Destination)
	}
	for i, c := range req.Intermediates {
		if !c.Valid() {
			return invalidWaypoint(fmt.Sprintf("intermediate %d", i), c)
		}
	}

	return nil
}

func invalidWaypoint(which string, c domain.Coordinates) error {
	return &domain.ProviderError{
		Code:    domain.ProviderInvalidWaypoint,
		Message: fmt.Sprintf("%s has out of range coordinates %s", which, c),
	}
}

func cacheKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "routes:" + hex.EncodeToString(sum[:])
}
