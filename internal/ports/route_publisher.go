package ports

import (
	"context"
	"field-route-planner/internal/domain"
)

// Notifies the dispatch subsystem about committed routes.
type RoutePublisher interface {
	PublishRoutePlanned(ctx context.Context, route *domain.Route) error
}
