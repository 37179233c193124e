// Package events publishes order lifecycle events to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Event types, also used as routing keys.
const (
	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderUpdated       = "order.updated"
)

const exchangeName = "comanda.orders"

type Event struct {
	Type        string    `json:"type"`
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber int32     `json:"order_number"`
	Status      string    `json:"status"`
	Total       string    `json:"total"`
	At          time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Rabbit publishes events as persistent JSON messages on a topic exchange.
type Rabbit struct {
	ch *amqp.Channel
}

// NewRabbit declares the exchange once at startup.
func NewRabbit(ch *amqp.Channel) (*Rabbit, error) {
	if err := ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Rabbit{ch: ch}, nil
}

func (p *Rabbit) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, exchangeName, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*Rabbit)(nil)
)
