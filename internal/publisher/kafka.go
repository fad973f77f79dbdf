package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"activity_ingest/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes event changes and alerts to topics, keyed by integration id.
type Kafka struct {
	writer     messageWriter
	topic      string
	alertTopic string
	logger     *slog.Logger
}

// NewKafka connects lazily; brokers come from a kafka://host:port[,host:port] URL.
func NewKafka(cfg Config, logger *slog.Logger) *Kafka {
	brokers := strings.Split(strings.TrimPrefix(cfg.URL, "kafka://"), ",")
	logger.Info("publishing to kafka", "brokers", brokers, "topic", cfg.Topic, "alert_topic", cfg.AlertTopic)
	return newKafka(newTopicWriters(brokers), cfg, logger)
}

func newKafka(writer messageWriter, cfg Config, logger *slog.Logger) *Kafka {
	return &Kafka{
		writer:     writer,
		topic:      cfg.Topic,
		alertTopic: cfg.AlertTopic,
		logger:     logger,
	}
}

func (k *Kafka) Publish(ctx context.Context, event *domain.Event, action domain.ChangeAction) error {
	msg := EventMessage{
		Action:    action,
		Event:     *event,
		Timestamp: time.Now().UTC(),
	}
	if err := k.write(ctx, k.topic, event.IntegrationID, msg); err != nil {
		return err
	}
	k.logger.Debug("published event change", "event_id", event.ID, "action", action)
	return nil
}

func (k *Kafka) Alert(ctx context.Context, alert Alert) error {
	if k.alertTopic == "" {
		k.logger.Error("job alert", "kind", alert.Kind, "service", alert.Service,
			"integration_id", alert.IntegrationID, "job_id", alert.JobID, "error", alert.Error)
		return nil
	}
	return k.write(ctx, k.alertTopic, alert.IntegrationID, alert)
}

func (k *Kafka) write(ctx context.Context, topic, key string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	}
	if err := k.writer.WriteMessages(ctx, topic, record); err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// topicWriters lazily manages one writer per topic.
type topicWriters struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func newTopicWriters(brokers []string) *topicWriters {
	return &topicWriters{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

func (p *topicWriters) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writerFor(topic).WriteMessages(ctx, msgs...)
}

func (p *topicWriters) writerFor(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	p.writers[topic] = writer
	return writer
}

func (p *topicWriters) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
