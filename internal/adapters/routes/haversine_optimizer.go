package routes

import (
	"context"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/ports"
	"fmt"
	"math"
	"sync"
)

// HaversineOptimizer is an offline RouteOptimizer. It orders intermediates
// with a greedy nearest-neighbour walk from the origin and estimates legs
// from straight-line distance at a fixed speed. It is used when no provider
// API key is configured and in tests.
type HaversineOptimizer struct {
	SpeedKmph  float64
	RoadFactor float64

	mu    sync.Mutex
	calls int
}

func NewHaversineOptimizer(speedKmph float64) *HaversineOptimizer {
	if speedKmph <= 0 {
		speedKmph = 40
	}
	return &HaversineOptimizer{SpeedKmph: speedKmph, RoadFactor: 1.3}
}

func (h *HaversineOptimizer) ComputeRoutes(
	ctx context.Context,
	req ports.ComputeRoutesRequest,
) ([]ports.ComputedRoute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()

	order := make([]int, len(req.Intermediates))
	for i := range order {
		order[i] = i
	}
	if req.OptimizeWaypointOrder {
		order = nearestNeighbourOrder(req.Origin, req.Intermediates)
	}

	points := make([]domain.Coordinates, 0, len(req.Intermediates)+2)
	points = append(points, req.Origin)
	for _, idx := range order {
		points = append(points, req.Intermediates[idx])
	}
	points = append(points, req.Destination)

	route := ports.ComputedRoute{OptimizedIntermediateWaypointIndex: order}
	totalSeconds := 0
	for i := 1; i < len(points); i++ {
		meters, seconds := h.estimate(points[i-1], points[i])
		route.Legs = append(route.Legs, ports.ComputedLeg{
			DistanceMeters: meters,
			Duration:       fmt.Sprintf("%ds", seconds),
		})
		route.DistanceMeters += meters
		totalSeconds += seconds
	}
	route.Duration = fmt.Sprintf("%ds", totalSeconds)

	return []ports.ComputedRoute{route}, nil
}

func (h *HaversineOptimizer) estimate(a, b domain.Coordinates) (meters, seconds int) {
	km := domain.DistanceKm(a, b) * h.RoadFactor
	meters = int(math.Round(km * 1000))
	seconds = int(math.Round(km / h.SpeedKmph * 3600))
	return meters, seconds
}

// nearestNeighbourOrder returns indices into points visited greedily from
// start. Ties keep the lower index so the order is deterministic.
func nearestNeighbourOrder(start domain.Coordinates, points []domain.Coordinates) []int {
	visited := make([]bool, len(points))
	order := make([]int, 0, len(points))
	current := start

	for len(order) < len(points) {
		best := -1
		bestDist := math.MaxFloat64
		for i, p := range points {
			if visited[i] {
				continue
			}
			if d := domain.DistanceKm(current, p); d < bestDist {
				best, bestDist = i, d
			}
		}
		visited[best] = true
		order = append(order, best)
		current = points[best]
	}

	return order
}

// Calls returns how many route computations were served.
func (h *HaversineOptimizer) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}
