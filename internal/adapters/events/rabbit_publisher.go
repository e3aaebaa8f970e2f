package events

import (
	"context"
	"encoding/json"
	"errors"
	"field-route-planner/internal/domain"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	DefaultExchange = "route_topic"
	RoutePlannedKey = "route.planned"

	publishTimeout = 5 * time.Second
)

// routePlannedMessage is the body of a route.planned event.
type routePlannedMessage struct {
	RouteID          string   `json:"routeId"`
	RouteCode        string   `json:"routeCode"`
	RouteName        string   `json:"routeName"`
	VehicleID        string   `json:"vehicleId"`
	ServiceID        string   `json:"serviceId"`
	RouteDate        string   `json:"routeDate"`
	PlannedStartTime string   `json:"plannedStartTime,omitempty"`
	PlannedEndTime   string   `json:"plannedEndTime,omitempty"`
	TotalStops       int      `json:"totalStops"`
	TotalDistanceKm  float64  `json:"totalDistanceKm"`
	StopSequence     []string `json:"stopSequence"`
	PlannedAt        string   `json:"plannedAt"`
}

func newRoutePlannedMessage(r *domain.Route, now time.Time) routePlannedMessage {
	stops := r.StopSequence
	if stops == nil {
		stops = []string{}
	}
	return routePlannedMessage{
		RouteID:          r.ID,
		RouteCode:        r.RouteCode,
		RouteName:        r.RouteName,
		VehicleID:        r.VehicleID,
		ServiceID:        r.ServiceID,
		RouteDate:        r.RouteDate.Format("2006-01-02"),
		PlannedStartTime: r.PlannedStartTime,
		PlannedEndTime:   r.PlannedEndTime,
		TotalStops:       r.TotalStops,
		TotalDistanceKm:  r.TotalDistanceKm,
		StopSequence:     stops,
		PlannedAt:        now.UTC().Format(time.RFC3339),
	}
}

// RabbitPublisher announces committed routes on a topic exchange.
type RabbitPublisher struct {
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	now  func() time.Time
}

// NewRabbitPublisher dials url and declares the durable topic exchange.
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit publisher: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit publisher: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit publisher: declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("connected to rabbitmq")

	return &RabbitPublisher{exchange: exchange, conn: conn, ch: ch, now: time.Now}, nil
}

func (p *RabbitPublisher) PublishRoutePlanned(ctx context.Context, route *domain.Route) error {
	body, err := json.Marshal(newRoutePlannedMessage(route, p.now()))
	if err != nil {
		return fmt.Errorf("publish route %s: marshal: %w", route.RouteCode, err)
	}

	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch == nil {
		return errors.New("publish: rabbitmq channel closed")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx, p.exchange, RoutePlannedKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    route.ID,
		Timestamp:    p.now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish route %s: %w", route.RouteCode, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
		p.ch = nil
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
		p.conn = nil
	}
	return errors.Join(errs...)
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishRoutePlanned(ctx context.Context, route *domain.Route) error {
	log.Debug().Str("route_code", route.RouteCode).Msg("route planned event skipped, no broker configured")
	return nil
}
