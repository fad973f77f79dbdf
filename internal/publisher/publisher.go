package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/jobs"
)

type Config struct {
	URL             string
	Exchange        string
	RoutingKey      string
	QueueName       string
	AlertRoutingKey string
	AlertQueueName  string
	Topic           string
	AlertTopic      string
}

// Publisher fans canonical changes and operator alerts out to a broker.
type Publisher interface {
	Publish(ctx context.Context, event *domain.Event, action domain.ChangeAction) error
	Alert(ctx context.Context, alert Alert) error
	Close() error
}

type EventMessage struct {
	Action    domain.ChangeAction `json:"action"`
	Event     domain.Event        `json:"event"`
	Timestamp time.Time           `json:"timestamp"`
}

// Alert reports a job that gave up with data still unprocessed.
type Alert struct {
	Kind          string    `json:"kind"`
	Service       string    `json:"service"`
	IntegrationID string    `json:"integration_id"`
	JobID         string    `json:"job_id"`
	Error         string    `json:"error"`
	Timestamp     time.Time `json:"timestamp"`
}

// New picks the backend from the URL scheme. An empty URL disables publishing and
// returns nil.
func New(cfg Config, logger *slog.Logger) (Publisher, error) {
	switch {
	case cfg.URL == "":
		return nil, nil
	case strings.HasPrefix(cfg.URL, "amqp://"), strings.HasPrefix(cfg.URL, "amqps://"):
		rmq, err := NewRabbitMQ(cfg, logger)
		if err != nil {
			return nil, err
		}
		return rmq, nil
	case strings.HasPrefix(cfg.URL, "kafka://"):
		return NewKafka(cfg, logger), nil
	}
	return nil, fmt.Errorf("unsupported publisher url scheme: %s", strings.SplitN(cfg.URL, ":", 2)[0])
}

// JobAlerts turns final job failures into alerts.
func JobAlerts(p Publisher) jobs.AlertFunc {
	return func(ctx context.Context, env *jobs.Envelope, err error) error {
		return p.Alert(ctx, Alert{
			Kind:          string(env.Kind),
			Service:       env.Service,
			IntegrationID: env.IntegrationID,
			JobID:         env.ID,
			Error:         err.Error(),
			Timestamp:     time.Now().UTC(),
		})
	}
}
