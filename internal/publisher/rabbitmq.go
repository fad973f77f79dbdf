package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"activity_ingest/internal/domain"
)

type RabbitMQ struct {
	conn            *amqp.Connection
	channel         *amqp.Channel
	exchange        string
	routingKey      string
	alertRoutingKey string
	logger          *slog.Logger
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	bindings := map[string]string{cfg.QueueName: cfg.RoutingKey}
	if cfg.AlertQueueName != "" {
		bindings[cfg.AlertQueueName] = cfg.AlertRoutingKey
	}
	for queue, key := range bindings {
		if err := declareAndBind(ch, cfg.Exchange, queue, key); err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
		"alert_routing_key", cfg.AlertRoutingKey,
	)

	return &RabbitMQ{
		conn:            conn,
		channel:         ch,
		exchange:        cfg.Exchange,
		routingKey:      cfg.RoutingKey,
		alertRoutingKey: cfg.AlertRoutingKey,
		logger:          logger,
	}, nil
}

func declareAndBind(ch *amqp.Channel, exchange, queue, routingKey string) error {
	q, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	err = ch.QueueBind(
		q.Name,
		routingKey,
		exchange,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return nil
}

func (r *RabbitMQ) Publish(ctx context.Context, event *domain.Event, action domain.ChangeAction) error {
	msg := EventMessage{
		Action:    action,
		Event:     *event,
		Timestamp: time.Now().UTC(),
	}
	if err := r.publish(ctx, r.routingKey, msg); err != nil {
		return err
	}

	r.logger.Debug("published event change",
		"event_id", event.ID,
		"source_id", event.SourceID,
		"action", action,
	)
	return nil
}

func (r *RabbitMQ) Alert(ctx context.Context, alert Alert) error {
	if r.alertRoutingKey == "" {
		r.logger.Error("job alert", "kind", alert.Kind, "service", alert.Service,
			"integration_id", alert.IntegrationID, "job_id", alert.JobID, "error", alert.Error)
		return nil
	}
	return r.publish(ctx, r.alertRoutingKey, alert)
}

func (r *RabbitMQ) publish(ctx context.Context, routingKey string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
