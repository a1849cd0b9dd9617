package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dingdong-ecommerce/api/internal/services"
)

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPOrderEventPublisher publishes order events to a RabbitMQ topic exchange
// using the event type as routing key.
type AMQPOrderEventPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

// DialAMQPOrderEventPublisher connects to url and declares a durable topic exchange.
func DialAMQPOrderEventPublisher(url, exchange string) (*AMQPOrderEventPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("amqp order publisher: url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp order publisher: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp order publisher: open channel: %w", err)
	}
	publisher, err := newAMQPOrderEventPublisher(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

func newAMQPOrderEventPublisher(ch amqpChannel, exchange string) (*AMQPOrderEventPublisher, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, errors.New("amqp order publisher: exchange is required")
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("amqp order publisher: declare exchange %s: %w", exchange, err)
	}
	return &AMQPOrderEventPublisher{channel: ch, exchange: exchange}, nil
}

// PublishOrderEvent sends the event as a persistent JSON message.
func (p *AMQPOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.channel == nil {
		return errors.New("amqp order publisher: not initialised")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.OrderID + ":" + event.Type,
		Timestamp:    event.OccurredAt,
		Type:         event.Type,
		Body:         body,
		Headers: amqp.Table{
			"orderId":     event.OrderID,
			"orderNumber": event.OrderNumber,
		},
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close releases the channel and the connection.
func (p *AMQPOrderEventPublisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
