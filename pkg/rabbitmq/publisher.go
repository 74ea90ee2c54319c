package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"helmet-recorder/config"
	"helmet-recorder/dto"
)

// EventRoutingKey is artifact.<state>, so listeners can bind e.g.
// artifact.uploaded only.
func EventRoutingKey(event dto.ArtifactEvent) string {
	return "artifact." + event.State.String()
}

type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.Kind, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch, exchange: cfg.ExchangeName}, nil
}

func (p *Publisher) Publish(ctx context.Context, event dto.ArtifactEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.publish(ctx, EventRoutingKey(event), uuid.NewString(), event.At, body)
}

// SendCommand queues msg for one device. The message id doubles as the
// idempotency key on the receiving side.
func (p *Publisher) SendCommand(ctx context.Context, deviceID string, msg dto.CommandMessage) error {
	if msg.MessageId == uuid.Nil {
		msg.MessageId = uuid.New()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.publish(ctx, CommandRoutingKey(deviceID), msg.MessageId.String(), time.Now(), body)
}

func (p *Publisher) publish(ctx context.Context, routingKey, id string, at time.Time, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    id,
		Timestamp:    at,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
