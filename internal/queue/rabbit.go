package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/franzego/salon-reminders/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the subset of *amqp.Channel the client uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMqClient struct {
	Conn    *amqp.Connection
	Channel amqpChannel
	Config  config.RabbitMQConfig
}

func NewRabbitMqService(cfg config.RabbitMQConfig) (*RabbitMqClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("there was an error connecting to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not create a channel: %w", err)
	}
	client := &RabbitMqClient{
		Conn:    conn,
		Channel: channel,
		Config:  cfg,
	}
	if err := client.SetUpExchangeAndQueue(); err != nil {
		client.CloseConnection()
		return nil, err
	}
	return client, nil
}

func (r *RabbitMqClient) CloseConnection() {
	r.Channel.Close()
	if r.Conn != nil {
		r.Conn.Close()
	}
}

func (r *RabbitMqClient) IsConnected() bool {
	return r.Conn != nil && !r.Conn.IsClosed()
}

// set up our exchange
func (r *RabbitMqClient) SetUpExchangeAndQueue() error {
	if err := r.Channel.ExchangeDeclare(
		r.Config.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("error in declaring exchange %s: %w", r.Config.Exchange, err)
	}
	if _, err := r.Channel.QueueDeclare(
		r.Config.AuditQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("error declaring queue %s: %w", r.Config.AuditQueue, err)
	}
	if err := r.Channel.QueueBind(
		r.Config.AuditQueue,
		r.Config.AuditQueue,
		r.Config.Exchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", r.Config.AuditQueue, err)
	}
	return nil
}

func (r *RabbitMqClient) Publish(ctx context.Context, routingKey string, message interface{}) error {
	by, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	err = r.Channel.PublishWithContext(
		ctx,
		r.Config.Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         by,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishAudit fans a notification record out to the audit queue.
func (r *RabbitMqClient) PublishAudit(ctx context.Context, message interface{}) error {
	return r.Publish(ctx, r.Config.AuditQueue, message)
}
